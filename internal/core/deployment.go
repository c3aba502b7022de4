package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/cutover/internal/api/request"
	"github.com/edvin/cutover/internal/model"
	"github.com/edvin/cutover/internal/platform"
)

const taskQueue = "cutover-tasks"

// ErrDeploymentInProgress is returned by Start when the group pair already
// has a run in flight. The workflow ID doubles as the deployment lease, so
// the check is atomic at the workflow service.
var ErrDeploymentInProgress = errors.New("deployment already in progress for this group pair")

// ErrDeploymentNotRunning is returned by ForceRollback when the deployment
// has already reached a terminal status.
var ErrDeploymentNotRunning = errors.New("deployment is not running")

type DeploymentService struct {
	db DB
	tc temporalclient.Client
}

func NewDeploymentService(db DB, tc temporalclient.Client) *DeploymentService {
	return &DeploymentService{db: db, tc: tc}
}

// Start launches the workflow that drives one blue/green deployment and
// records the run. The workflow is started before the row is inserted: the
// workflow ID is derived from the group pair, so Temporal rejecting a
// duplicate start is what enforces the one-run-per-pair lease. The insert
// tolerates a conflict because a fast worker may have recorded the run
// through the audit activity already.
func (s *DeploymentService) Start(ctx context.Context, plan model.DeploymentPlan) (*model.Deployment, error) {
	deployment := &model.Deployment{
		ID:           platform.NewID(),
		WorkflowID:   plan.LeaseID(),
		ActiveGroup:  plan.ActiveGroup,
		StandbyGroup: plan.StandbyGroup,
		ImageID:      plan.ImageID,
		Phase:        model.PhaseInit,
		Status:       model.StatusRunning,
		StartedAt:    time.Now(),
	}

	_, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        deployment.WorkflowID,
		TaskQueue: taskQueue,
	}, "BlueGreenDeployWorkflow", model.DeployParams{
		DeploymentID: deployment.ID,
		Plan:         plan,
	})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return nil, ErrDeploymentInProgress
		}
		return nil, fmt.Errorf("start BlueGreenDeployWorkflow: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO deployments (id, workflow_id, active_group, standby_group, image_id, phase, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		deployment.ID, deployment.WorkflowID, deployment.ActiveGroup, deployment.StandbyGroup,
		deployment.ImageID, deployment.Phase, deployment.Status, deployment.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert deployment: %w", err)
	}

	return deployment, nil
}

func (s *DeploymentService) GetByID(ctx context.Context, id string) (*model.Deployment, error) {
	var d model.Deployment
	err := s.db.QueryRow(ctx,
		`SELECT id, workflow_id, active_group, standby_group, image_id, phase, status,
		        failure_reason, last_transition_at, started_at, finished_at
		 FROM deployments WHERE id = $1`, id,
	).Scan(&d.ID, &d.WorkflowID, &d.ActiveGroup, &d.StandbyGroup, &d.ImageID, &d.Phase,
		&d.Status, &d.FailureReason, &d.LastTransitionAt, &d.StartedAt, &d.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", id, err)
	}
	return &d, nil
}

func (s *DeploymentService) List(ctx context.Context, params request.ListParams) ([]model.Deployment, bool, error) {
	query := `SELECT id, workflow_id, active_group, standby_group, image_id, phase, status,
	                 failure_reason, last_transition_at, started_at, finished_at
	          FROM deployments WHERE 1=1`
	var args []any
	argIdx := 1

	if params.Search != "" {
		query += fmt.Sprintf(` AND (active_group ILIKE $%d OR standby_group ILIKE $%d)`, argIdx, argIdx)
		args = append(args, "%"+params.Search+"%")
		argIdx++
	}
	if params.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, params.Status)
		argIdx++
	}
	if params.Cursor != "" {
		query += fmt.Sprintf(` AND id > $%d`, argIdx)
		args = append(args, params.Cursor)
		argIdx++
	}

	sortCol := "started_at"
	switch params.Sort {
	case "phase":
		sortCol = "phase"
	case "status":
		sortCol = "status"
	case "started_at":
		sortCol = "started_at"
	}
	order := "DESC"
	if params.Order == "asc" {
		order = "ASC"
	}
	query += fmt.Sprintf(` ORDER BY %s %s`, sortCol, order)
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, params.Limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []model.Deployment
	for rows.Next() {
		var d model.Deployment
		if err := rows.Scan(&d.ID, &d.WorkflowID, &d.ActiveGroup, &d.StandbyGroup, &d.ImageID,
			&d.Phase, &d.Status, &d.FailureReason, &d.LastTransitionAt, &d.StartedAt, &d.FinishedAt); err != nil {
			return nil, false, fmt.Errorf("scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate deployments: %w", err)
	}

	hasMore := len(deployments) > params.Limit
	if hasMore {
		deployments = deployments[:params.Limit]
	}
	return deployments, hasMore, nil
}

// ListEvents returns the deployment's phase transitions oldest first. A run
// produces a bounded handful of events, so the list is not paginated.
func (s *DeploymentService) ListEvents(ctx context.Context, deploymentID string) ([]model.DeploymentEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, deployment_id, phase, detail, created_at
		 FROM deployment_events WHERE deployment_id = $1 ORDER BY created_at, id`, deploymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events for deployment %s: %w", deploymentID, err)
	}
	defer rows.Close()

	var events []model.DeploymentEvent
	for rows.Next() {
		var e model.DeploymentEvent
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.Phase, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deployment event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployment events: %w", err)
	}
	return events, nil
}

// ForceRollback signals a running deployment to abandon its validation
// window and roll back immediately. Detail is recorded in the audit trail as
// the operator's reason.
func (s *DeploymentService) ForceRollback(ctx context.Context, id, detail string) error {
	var workflowID, status string
	err := s.db.QueryRow(ctx,
		`SELECT workflow_id, status FROM deployments WHERE id = $1`, id,
	).Scan(&workflowID, &status)
	if err != nil {
		return fmt.Errorf("get deployment %s: %w", id, err)
	}
	if status != model.StatusRunning {
		return fmt.Errorf("deployment %s: %w", id, ErrDeploymentNotRunning)
	}

	if err := s.tc.SignalWorkflow(ctx, workflowID, "", model.ForceRollbackSignalName, detail); err != nil {
		return fmt.Errorf("signal %s: %w", model.ForceRollbackSignalName, err)
	}
	return nil
}
