package model

import "time"

// DecisionKind is the per-item outcome of the matching stage.
type DecisionKind string

const (
	DecisionAutoUpload     DecisionKind = "AUTO_UPLOAD"
	DecisionReviewRequired DecisionKind = "REVIEW_REQUIRED"
	DecisionNoMatch        DecisionKind = "NO_MATCH"
)

// PlanDecision is the aggregate verdict over a whole plan.
type PlanDecision string

const (
	PlanReady             PlanDecision = "READY"
	PlanNeedsConfirmation PlanDecision = "NEEDS_CONFIRMATION"
	PlanBlocked           PlanDecision = "BLOCKED"
)

// Decision ties one pending item to its resolved outcome. Candidate is
// nil for NO_MATCH items. TypeID is the catalog document type the portal
// label resolved to, empty when the label was not recognized.
type Decision struct {
	PendingItemKey string          `json:"pending_item_key"`
	Item           PendingItem     `json:"item"`
	Decision       DecisionKind    `json:"decision"`
	ReasonCode     string          `json:"reason_code"`
	Reason         string          `json:"reason"`
	Confidence     float64         `json:"confidence"`
	Candidate      *MatchCandidate `json:"candidate,omitempty"`
	TypeID         string          `json:"type_id,omitempty"`
}

// PlanSummary counts decisions by kind.
type PlanSummary struct {
	Total          int `json:"total"`
	AutoUpload     int `json:"auto_upload"`
	ReviewRequired int `json:"review_required"`
	NoMatch        int `json:"no_match"`
}

// PlanDiagnostics captures how the snapshot read went and what the
// planner filtered, so an empty or partial plan is explainable.
type PlanDiagnostics struct {
	Reason               string `json:"reason,omitempty"`
	PagesProcessed       int    `json:"pages_processed"`
	Truncated            bool   `json:"truncated"`
	RowsSeen             int    `json:"rows_seen"`
	DuplicatesDropped    int    `json:"duplicates_dropped"`
	QuarantinedRows      int    `json:"quarantined_rows"`
	ExpiredExcluded      int    `json:"expired_excluded"`
	SkippedOtherSubjects int    `json:"skipped_other_subjects"`
}

// SubmissionPlan is the reviewable unit of work: every pending item with
// its decision, plus the confirmation token execution will demand. Plans
// are immutable snapshots; re-planning produces a new plan_id.
type SubmissionPlan struct {
	PlanID        string          `json:"plan_id"`
	ConfirmToken  string          `json:"confirm_token"`
	Platform      string          `json:"platform"`
	Coord         CoordContext    `json:"coordination"`
	Decision      PlanDecision    `json:"decision"`
	Decisions     []Decision      `json:"decisions"`
	Summary       PlanSummary     `json:"summary"`
	Diagnostics   PlanDiagnostics `json:"diagnostics"`
	MinConfidence float64         `json:"min_confidence"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Uploadable returns the AUTO_UPLOAD decisions in plan order.
func (p *SubmissionPlan) Uploadable() []Decision {
	out := make([]Decision, 0, p.Summary.AutoUpload)
	for _, d := range p.Decisions {
		if d.Decision == DecisionAutoUpload {
			out = append(out, d)
		}
	}
	return out
}

// Summarize recomputes the summary counts and the aggregate decision
// from the per-item decisions.
func (p *SubmissionPlan) Summarize() {
	var s PlanSummary
	s.Total = len(p.Decisions)
	for _, d := range p.Decisions {
		switch d.Decision {
		case DecisionAutoUpload:
			s.AutoUpload++
		case DecisionReviewRequired:
			s.ReviewRequired++
		case DecisionNoMatch:
			s.NoMatch++
		}
	}
	p.Summary = s
	switch {
	case s.Total == 0 || s.NoMatch == s.Total:
		p.Decision = PlanBlocked
	case s.AutoUpload == s.Total:
		p.Decision = PlanReady
	default:
		p.Decision = PlanNeedsConfirmation
	}
}
