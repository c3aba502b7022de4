package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/edvin/cutover/internal/api/request"
	"github.com/edvin/cutover/internal/api/response"
	"github.com/edvin/cutover/internal/core"
)

// Deployment handles deployment lifecycle endpoints.
type Deployment struct {
	svc *core.DeploymentService
}

// NewDeployment creates a new Deployment handler.
func NewDeployment(svc *core.DeploymentService) *Deployment {
	return &Deployment{svc: svc}
}

// List godoc
//
//	@Summary		List deployments
//	@Description	Returns a paginated list of deployment runs, newest first. Supports filtering by status and searching on group names.
//	@Tags			Deployments
//	@Security		ApiKeyAuth
//	@Param			limit	query		int		false	"Page size"					default(50)
//	@Param			cursor	query		string	false	"Pagination cursor"
//	@Param			search	query		string	false	"Search on group names"
//	@Param			status	query		string	false	"Filter by status"
//	@Param			sort	query		string	false	"Sort field"				default(started_at)
//	@Param			order	query		string	false	"Sort order (asc or desc)"	default(desc)
//	@Success		200		{object}	response.PaginatedResponse{items=[]model.Deployment}
//	@Failure		500		{object}	response.ErrorResponse
//	@Router			/deployments [get]
func (h *Deployment) List(w http.ResponseWriter, r *http.Request) {
	params := request.ParseListParams(r, "started_at")

	deployments, hasMore, err := h.svc.List(r.Context(), params)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(deployments) > 0 {
		nextCursor = deployments[len(deployments)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, deployments, nextCursor, hasMore)
}

// Start godoc
//
//	@Summary		Start a deployment
//	@Description	Starts a blue/green deployment that rolls the standby group onto the given image and shifts production traffic to it after synthetic validation. Returns 202 with the recorded run; the workflow drives every phase asynchronously. At most one run per group pair may be in flight.
//	@Tags			Deployments
//	@Security		ApiKeyAuth
//	@Param			body	body		request.StartDeployment	true	"Deployment plan"
//	@Success		202		{object}	model.Deployment
//	@Failure		400		{object}	response.ErrorResponse
//	@Failure		409		{object}	response.ErrorResponse
//	@Failure		500		{object}	response.ErrorResponse
//	@Router			/deployments [post]
func (h *Deployment) Start(w http.ResponseWriter, r *http.Request) {
	var req request.StartDeployment
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := req.Plan()
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	deployment, err := h.svc.Start(r.Context(), plan)
	if err != nil {
		if errors.Is(err, core.ErrDeploymentInProgress) {
			response.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusAccepted, deployment)
}

// Get godoc
//
//	@Summary		Get a deployment
//	@Description	Returns a single deployment run with its current phase and status.
//	@Tags			Deployments
//	@Security		ApiKeyAuth
//	@Param			id	path		string	true	"Deployment ID"
//	@Success		200	{object}	model.Deployment
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Router			/deployments/{id} [get]
func (h *Deployment) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	deployment, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, deployment)
}

// ListEvents godoc
//
//	@Summary		List deployment events
//	@Description	Returns the deployment's phase transitions oldest first, forming the audit trail of the run.
//	@Tags			Deployments
//	@Security		ApiKeyAuth
//	@Param			id	path		string	true	"Deployment ID"
//	@Success		200	{object}	[]model.DeploymentEvent
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Failure		500	{object}	response.ErrorResponse
//	@Router			/deployments/{id}/events [get]
func (h *Deployment) ListEvents(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.svc.GetByID(r.Context(), id); err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	events, err := h.svc.ListEvents(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, events)
}

// Rollback godoc
//
//	@Summary		Force a rollback
//	@Description	Signals a running deployment to abandon its validation window and roll traffic back to the previously active group immediately. The optional reason is recorded in the audit trail. Returns 409 when the deployment already finished.
//	@Tags			Deployments
//	@Security		ApiKeyAuth
//	@Param			id		path	string						true	"Deployment ID"
//	@Param			body	body	request.RollbackDeployment	false	"Rollback reason"
//	@Success		202
//	@Failure		400	{object}	response.ErrorResponse
//	@Failure		404	{object}	response.ErrorResponse
//	@Failure		409	{object}	response.ErrorResponse
//	@Router			/deployments/{id}/rollback [post]
func (h *Deployment) Rollback(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.RollbackDeployment
	if r.ContentLength > 0 {
		if err := request.Decode(r, &req); err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.svc.ForceRollback(r.Context(), id, req.Reason); err != nil {
		switch {
		case errors.Is(err, core.ErrDeploymentNotRunning):
			response.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, pgx.ErrNoRows):
			response.WriteError(w, http.StatusNotFound, err.Error())
		default:
			response.WriteError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
