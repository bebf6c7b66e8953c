package model

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingItemKeyStable(t *testing.T) {
	t.Parallel()

	k1 := PendingItemKey("RNT", "GARCIA LOPEZ, MARIA", "2025-07")
	k2 := PendingItemKey("RNT", "GARCIA LOPEZ, MARIA", "2025-07")
	assert.Equal(t, k1, k2)
	assert.True(t, len(k1) > 3)
	assert.Equal(t, "pi_", k1[:3])
}

func TestPendingItemKeyDistinguishesFields(t *testing.T) {
	t.Parallel()

	base := PendingItemKey("RNT", "GARCIA LOPEZ, MARIA", "2025-07")
	assert.NotEqual(t, base, PendingItemKey("RLC", "GARCIA LOPEZ, MARIA", "2025-07"))
	assert.NotEqual(t, base, PendingItemKey("RNT", "RUIZ SANZ, OSCAR", "2025-07"))
	assert.NotEqual(t, base, PendingItemKey("RNT", "GARCIA LOPEZ, MARIA", "2025-08"))
	// Field boundaries matter: moving text across the separator changes the key.
	assert.NotEqual(t, PendingItemKey("A B", "C", ""), PendingItemKey("A", "B C", ""))
}

func TestSummarizeAggregateDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		kinds []DecisionKind
		want  PlanDecision
	}{
		{"empty", nil, PlanBlocked},
		{"all_no_match", []DecisionKind{DecisionNoMatch, DecisionNoMatch}, PlanBlocked},
		{"all_auto", []DecisionKind{DecisionAutoUpload, DecisionAutoUpload}, PlanReady},
		{"auto_plus_no_match", []DecisionKind{DecisionAutoUpload, DecisionNoMatch}, PlanNeedsConfirmation},
		{"all_review", []DecisionKind{DecisionReviewRequired}, PlanNeedsConfirmation},
		{"mixed", []DecisionKind{DecisionAutoUpload, DecisionReviewRequired, DecisionNoMatch}, PlanNeedsConfirmation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			plan := &SubmissionPlan{}
			for i, k := range tt.kinds {
				plan.Decisions = append(plan.Decisions, Decision{
					PendingItemKey: PendingItemKey("RNT", "subject", string(rune('a'+i))),
					Decision:       k,
				})
			}
			plan.Summarize()

			assert.Equal(t, tt.want, plan.Decision)
			assert.Equal(t, len(tt.kinds), plan.Summary.Total)
			sum := plan.Summary.AutoUpload + plan.Summary.ReviewRequired + plan.Summary.NoMatch
			assert.Equal(t, plan.Summary.Total, sum)
		})
	}
}

func TestUploadableKeepsPlanOrder(t *testing.T) {
	t.Parallel()

	plan := &SubmissionPlan{Decisions: []Decision{
		{PendingItemKey: "pi_1", Decision: DecisionAutoUpload},
		{PendingItemKey: "pi_2", Decision: DecisionNoMatch},
		{PendingItemKey: "pi_3", Decision: DecisionAutoUpload},
	}}
	plan.Summarize()

	ups := plan.Uploadable()
	require.Len(t, ups, 2)
	assert.Equal(t, "pi_1", ups[0].PendingItemKey)
	assert.Equal(t, "pi_3", ups[1].PendingItemKey)
}

func TestProgressPercent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		processed, total, want int
	}{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{0, 0, 100},
		{1, 2, 50},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ProgressPercent(tt.processed, tt.total),
			"processed=%d total=%d", tt.processed, tt.total)
	}
}

func TestDocumentExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	past := now.AddDate(0, -1, 0)
	future := now.AddDate(0, 1, 0)

	assert.False(t, DocumentRecord{}.Expired(now))
	assert.False(t, DocumentRecord{ValidUntil: &future}.Expired(now))
	assert.True(t, DocumentRecord{ValidUntil: &past}.Expired(now))
}

func TestCoordContextActive(t *testing.T) {
	t.Parallel()

	full := CoordContext{OwnCompany: "ribera", Platform: "ecoordina", CoordinatedCompany: "acme"}
	assert.True(t, full.Active())

	assert.False(t, CoordContext{}.Active())
	assert.False(t, CoordContext{OwnCompany: "ribera", Platform: "ecoordina"}.Active())
	assert.False(t, CoordContext{OwnCompany: " ", Platform: "ecoordina", CoordinatedCompany: "acme"}.Active())
}

func TestStructuredErrorCodeSurvivesWrapping(t *testing.T) {
	t.Parallel()

	base := NewStructured(CodeSnapshotReadFailed, "grid fetch failed").
		WithHint("check the portal session and retry")
	wrapped := eris.Wrap(base, "snapshot: read page 2")

	assert.Equal(t, CodeSnapshotReadFailed, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeSnapshotReadFailed))
	assert.False(t, IsCode(wrapped, CodeInvalidChallenge))

	se, ok := AsStructured(wrapped)
	require.True(t, ok)
	assert.Equal(t, "check the portal session and retry", se.Hint)
	assert.Equal(t, "", string(CodeOf(eris.New("plain"))))
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.True(t, JobSuccess.Terminal())
	assert.True(t, JobFailed.Terminal())
}
