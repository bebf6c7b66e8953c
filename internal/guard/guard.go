// Package guard implements the pre-flight checklist that stands between
// an accepted execution request and the first upload. Checks run in a
// fixed order and short-circuit at the first failure; a failed check
// means zero uploads happen.
package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/ribera-group/coordina-cli/internal/confirm"
	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/portal"
)

// Confirmer redeems a plan's confirmation challenge. Satisfied by
// *confirm.Gate.
type Confirmer interface {
	Confirm(ctx context.Context, planID, token, typed string) (confirm.Redemption, error)
}

// Limits carries the caller-supplied execution constraints. All three
// fail closed: a zero MaxUploads or an empty allowlist admits nothing,
// so callers must pass their configured values explicitly.
type Limits struct {
	MaxUploads       int      `json:"max_uploads"`
	AllowlistTypeIDs []string `json:"allowlist_type_ids"`
	MinConfidence    float64  `json:"min_confidence"`
}

// Confirmation is the human challenge material accompanying a real
// execution request.
type Confirmation struct {
	Token     string `json:"confirm_token"`
	HumanText string `json:"human_text"`
}

// Request is everything the pre-flight needs to decide whether a plan
// may execute.
type Request struct {
	Plan          *model.SubmissionPlan
	Platform      string
	DryRun        bool
	RealRequested bool
	Confirmation  Confirmation
	Limits        Limits
}

// Result is a passed pre-flight. Replayed means the confirmation token
// had already been redeemed with the same challenge; the caller must
// return the outcome of the original execution instead of starting a
// new one, and Items is left empty.
type Result struct {
	Items    []model.Decision
	Replayed bool
}

// Checker evaluates the pre-flight checklist.
type Checker struct {
	sessions portal.SessionProbe
	gate     Confirmer
}

func NewChecker(sessions portal.SessionProbe, gate Confirmer) *Checker {
	return &Checker{sessions: sessions, gate: gate}
}

// PreFlight runs the checklist in order:
//  1. real mode explicitly requested
//  2. valid session artifact for the platform
//  3. confirmation challenge redeemed for this plan
//  4. item count within the upload limit
//  5. every item's type allowlisted
//  6. every item's confidence at or above the threshold
//
// Dry runs skip 1-3: they touch neither the portal nor the single-use
// token, so a later real execution can still redeem it. 4-6 validate
// the plan content itself and apply in both modes.
func (c *Checker) PreFlight(ctx context.Context, req Request) (Result, error) {
	items := req.Plan.Uploadable()

	if !req.DryRun {
		if !req.RealRequested {
			return Result{}, model.NewStructured(model.CodeRealExecutionNotRequested,
				"real execution was not requested").
				WithHint("pass --real (X-Real-Execution: yes over the API) to upload, or --dry-run to simulate")
		}

		if err := c.sessions.HasValidSession(req.Platform); err != nil {
			return Result{}, model.NewStructured(model.CodeMissingSessionState,
				fmt.Sprintf("no valid session for platform %s", req.Platform)).
				WithHint("log in to the portal so a fresh session artifact exists, then retry").
				WithCause(err)
		}

		if strings.TrimSpace(req.Confirmation.Token) == "" || strings.TrimSpace(req.Confirmation.HumanText) == "" {
			return Result{}, model.NewStructured(model.CodeMissingConfirmation,
				"plan execution has not been confirmed").
				WithHint(fmt.Sprintf("type %q and supply the plan's confirm token",
					confirm.ChallengePhrase(req.Plan.PlanID)))
		}

		red, err := c.gate.Confirm(ctx, req.Plan.PlanID, req.Confirmation.Token, req.Confirmation.HumanText)
		if err != nil {
			return Result{}, err
		}
		if red.Already {
			return Result{Replayed: true}, nil
		}
	}

	if len(items) > req.Limits.MaxUploads {
		return Result{}, model.NewStructured(model.CodeUploadLimitExceeded,
			fmt.Sprintf("plan has %d uploadable items, limit is %d", len(items), req.Limits.MaxUploads)).
			WithHint("raise execution.max_uploads or split the plan")
	}

	allowed := make(map[string]bool, len(req.Limits.AllowlistTypeIDs))
	for _, id := range req.Limits.AllowlistTypeIDs {
		allowed[id] = true
	}
	for _, item := range items {
		if !allowed[item.TypeID] {
			return Result{}, model.NewStructured(model.CodeTypeNotAllowlisted,
				fmt.Sprintf("document type %q is not allowlisted for unattended upload", item.TypeID))
		}
	}

	for _, item := range items {
		if item.Confidence < req.Limits.MinConfidence {
			return Result{}, model.NewStructured(model.CodeConfidenceBelowThreshold,
				fmt.Sprintf("item %s matched at confidence %.2f, below the %.2f threshold",
					item.PendingItemKey, item.Confidence, req.Limits.MinConfidence))
		}
	}

	return Result{Items: items}, nil
}
