// Package store persists the document catalog, worker registry, and
// submission plans behind a backend-agnostic interface.
package store

import (
	"context"
	"time"

	"github.com/ribera-group/coordina-cli/internal/model"
)

// PlanFilter specifies criteria for listing submission plans.
type PlanFilter struct {
	Platform string             `json:"platform,omitempty"`
	Company  string             `json:"company,omitempty"`
	Decision model.PlanDecision `json:"decision,omitempty"`
	Limit    int                `json:"limit,omitempty"`
	Offset   int                `json:"offset,omitempty"`
}

// PlanBinding records the execution job attached to a plan. A plan is
// bound at most once; replays of ExecutePlan resolve through it.
type PlanBinding struct {
	JobID string `json:"job_id"`
	RunID string `json:"run_id"`
}

// Store defines the persistence interface for the reconciliation pipeline.
// People and documents are scoped per (platform, coordinated company);
// plans additionally carry their confirmation token and job binding.
type Store interface {
	// Worker registry
	UpsertPeople(ctx context.Context, coord model.CoordContext, people []model.PersonIdentity) (int, error)
	ListPeople(ctx context.Context, coord model.CoordContext) ([]model.PersonIdentity, error)

	// Document catalog
	UpsertDocuments(ctx context.Context, coord model.CoordContext, docs []model.DocumentRecord) (int, error)
	ListDocuments(ctx context.Context, coord model.CoordContext) ([]model.DocumentRecord, error)

	// Plans
	SavePlan(ctx context.Context, coord model.CoordContext, plan *model.SubmissionPlan) error
	GetPlan(ctx context.Context, planID string) (*model.SubmissionPlan, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]model.SubmissionPlan, error)

	// RedeemPlanToken consumes the confirmation token of a plan. Plans
	// created at or before cutoff no longer redeem. A replay with the
	// token that already redeemed the plan reports already=true instead
	// of an error so callers can return the original outcome.
	RedeemPlanToken(ctx context.Context, planID, token string, cutoff time.Time) (already bool, err error)

	// BindPlanJob attaches an execution job to a plan. Binding a plan
	// that already has a job fails.
	BindPlanJob(ctx context.Context, planID, jobID, runID string) error
	// GetPlanJob returns the job bound to a plan, or nil when none is.
	GetPlanJob(ctx context.Context, planID string) (*PlanBinding, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// requireCoord rejects writes that are not pinned to an active
// coordination context, so rows from one coordinated company can never
// land under another.
func requireCoord(coord model.CoordContext) error {
	if !coord.Active() {
		return model.NewStructured(model.CodeMissingCoordinationContext,
			"no coordination context selected").
			WithHint("select the platform and coordinated company before loading data or building plans")
	}
	return nil
}
