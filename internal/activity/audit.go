package activity

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/cutover/internal/metrics"
	"github.com/edvin/cutover/internal/model"
	"github.com/edvin/cutover/internal/platform"
)

// DB defines the database operations used by activity structs.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Audit contains activities that record deployment progress in the core
// database. The workflow calls them around every phase transition, so the
// audit trail survives worker crashes and carries the linear history of the
// run.
type Audit struct {
	db DB
}

// NewAudit creates a new Audit activity struct.
func NewAudit(db DB) *Audit {
	return &Audit{db: db}
}

// RecordDeploymentStarted upserts the deployment row for this run. The row
// normally exists already, created when the run was accepted over the API;
// the upsert covers runs started directly against the workflow service.
func (a *Audit) RecordDeploymentStarted(ctx context.Context, params RecordStartParams) error {
	_, err := a.db.Exec(ctx,
		`INSERT INTO deployments (id, workflow_id, active_group, standby_group, image_id, phase, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (id) DO UPDATE SET workflow_id = EXCLUDED.workflow_id, status = EXCLUDED.status`,
		params.DeploymentID, params.WorkflowID, params.Plan.ActiveGroup, params.Plan.StandbyGroup,
		params.Plan.ImageID, model.PhaseInit, model.StatusRunning,
	)
	return err
}

// RecordPhase moves the deployment to a new phase and appends the matching
// audit event.
func (a *Audit) RecordPhase(ctx context.Context, params RecordPhaseParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE deployments SET phase = $1, last_transition_at = now() WHERE id = $2`,
		params.Phase, params.DeploymentID,
	)
	if err != nil {
		return err
	}

	_, err = a.db.Exec(ctx,
		`INSERT INTO deployment_events (id, deployment_id, phase, detail, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		platform.NewID(), params.DeploymentID, params.Phase, params.Detail,
	)
	if err != nil {
		return err
	}

	metrics.PhaseTransitions.WithLabelValues(params.Phase.String()).Inc()
	return nil
}

// RecordDeploymentFinished flips the deployment to its final status. The
// terminal phase itself is recorded through RecordPhase; this only closes
// the run.
func (a *Audit) RecordDeploymentFinished(ctx context.Context, params RecordFinishParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE deployments
		 SET phase = $1, status = $2, failure_reason = NULLIF($3, ''), finished_at = now(), last_transition_at = now()
		 WHERE id = $4`,
		params.Phase, params.Status, params.FailureReason, params.DeploymentID,
	)
	if err != nil {
		return err
	}

	metrics.DeploymentsFinished.WithLabelValues(params.Status).Inc()
	return nil
}
