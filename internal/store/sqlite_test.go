package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ribera-group/coordina-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testCoord() model.CoordContext {
	return model.CoordContext{
		OwnCompany:         "Ribera Montajes SL",
		Platform:           "coordinaplus",
		CoordinatedCompany: "Acme Obras SA",
	}
}

func testPlan(coord model.CoordContext) *model.SubmissionPlan {
	return &model.SubmissionPlan{
		PlanID:       uuid.New().String(),
		ConfirmToken: uuid.New().String(),
		Platform:     coord.Platform,
		Coord:        coord,
		Decision:     model.PlanReady,
		Decisions: []model.Decision{
			{
				PendingItemKey: "pi_0011223344556677",
				Decision:       model.DecisionAutoUpload,
				ReasonCode:     "exact_match",
				Confidence:     1.0,
				TypeID:         "rnt",
			},
		},
		Summary:       model.PlanSummary{Total: 1, AutoUpload: 1},
		MinConfidence: 0.8,
		CreatedAt:     time.Now().UTC(),
	}
}

// --- People ---

func TestSQLite_People_UpsertAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()

	n, err := st.UpsertPeople(ctx, coord, []model.PersonIdentity{
		{WorkerID: "w2", FullName: "Luis", Surname1: "Perez", DNI: "12345678Z"},
		{WorkerID: "w1", FullName: "Ana", Surname1: "Garcia", Surname2: "Lopez"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	people, err := st.ListPeople(ctx, coord)
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, "w1", people[0].WorkerID)
	assert.Equal(t, "w2", people[1].WorkerID)
	assert.Equal(t, "12345678Z", people[1].DNI)
}

func TestSQLite_People_UpsertOverwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()

	_, err := st.UpsertPeople(ctx, coord, []model.PersonIdentity{
		{WorkerID: "w1", FullName: "Ana", Surname1: "Garcia"},
	})
	require.NoError(t, err)

	_, err = st.UpsertPeople(ctx, coord, []model.PersonIdentity{
		{WorkerID: "w1", FullName: "Ana Maria", Surname1: "Garcia", DNI: "00000000T"},
	})
	require.NoError(t, err)

	people, err := st.ListPeople(ctx, coord)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "Ana Maria", people[0].FullName)
	assert.Equal(t, "00000000T", people[0].DNI)
}

func TestSQLite_People_ScopedByCompany(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()
	other := coord
	other.CoordinatedCompany = "Otra Obra SL"

	_, err := st.UpsertPeople(ctx, coord, []model.PersonIdentity{{WorkerID: "w1", FullName: "Ana"}})
	require.NoError(t, err)
	_, err = st.UpsertPeople(ctx, other, []model.PersonIdentity{{WorkerID: "w9", FullName: "Luis"}})
	require.NoError(t, err)

	people, err := st.ListPeople(ctx, coord)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.Equal(t, "w1", people[0].WorkerID)
}

func TestSQLite_People_RequiresCoordContext(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.UpsertPeople(context.Background(), model.CoordContext{}, []model.PersonIdentity{
		{WorkerID: "w1", FullName: "Ana"},
	})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeMissingCoordinationContext))
}

func TestSQLite_People_MissingWorkerID(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.UpsertPeople(context.Background(), testCoord(), []model.PersonIdentity{
		{FullName: "Sin Identificador"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no worker id")
}

// --- Documents ---

func TestSQLite_Documents_UpsertAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()

	until := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	n, err := st.UpsertDocuments(ctx, coord, []model.DocumentRecord{
		{DocID: "d1", TypeID: "rnt", SubjectKey: "w1", PeriodKey: "2025-06", ValidUntil: &until},
		{DocID: "d2", TypeID: "seguro_rc", SubjectKey: "acme obras"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	docs, err := st.ListDocuments(ctx, coord)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].DocID)
	require.NotNil(t, docs[0].ValidUntil)
	assert.Equal(t, until, docs[0].ValidUntil.UTC())
	assert.Nil(t, docs[1].ValidUntil)
	assert.Empty(t, docs[1].PeriodKey)
}

func TestSQLite_Documents_RequiresCoordContext(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.UpsertDocuments(context.Background(), model.CoordContext{}, []model.DocumentRecord{
		{DocID: "d1", TypeID: "rnt", SubjectKey: "w1"},
	})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeMissingCoordinationContext))
}

// --- Plans ---

func TestSQLite_Plan_SaveAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()
	plan := testPlan(coord)

	require.NoError(t, st.SavePlan(ctx, coord, plan))

	got, err := st.GetPlan(ctx, plan.PlanID)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanID, got.PlanID)
	assert.Equal(t, plan.ConfirmToken, got.ConfirmToken)
	assert.Equal(t, model.PlanReady, got.Decision)
	require.Len(t, got.Decisions, 1)
	assert.Equal(t, model.DecisionAutoUpload, got.Decisions[0].Decision)
}

func TestSQLite_Plan_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetPlan(context.Background(), "nonexistent-plan")
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodePlanNotFound))
}

func TestSQLite_Plan_List(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()

	first := testPlan(coord)
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	second := testPlan(coord)
	second.Decision = model.PlanBlocked
	require.NoError(t, st.SavePlan(ctx, coord, first))
	require.NoError(t, st.SavePlan(ctx, coord, second))

	plans, err := st.ListPlans(ctx, PlanFilter{Platform: coord.Platform, Company: coord.CoordinatedCompany})
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, second.PlanID, plans[0].PlanID)

	blocked, err := st.ListPlans(ctx, PlanFilter{Decision: model.PlanBlocked})
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, second.PlanID, blocked[0].PlanID)
}

// --- Token redemption ---

func TestSQLite_Redeem_FreshToken(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()
	plan := testPlan(coord)
	require.NoError(t, st.SavePlan(ctx, coord, plan))

	cutoff := time.Now().UTC().Add(-time.Hour)
	already, err := st.RedeemPlanToken(ctx, plan.PlanID, plan.ConfirmToken, cutoff)
	require.NoError(t, err)
	assert.False(t, already)
}

func TestSQLite_Redeem_ReplayIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()
	plan := testPlan(coord)
	require.NoError(t, st.SavePlan(ctx, coord, plan))

	cutoff := time.Now().UTC().Add(-time.Hour)
	already, err := st.RedeemPlanToken(ctx, plan.PlanID, plan.ConfirmToken, cutoff)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = st.RedeemPlanToken(ctx, plan.PlanID, plan.ConfirmToken, cutoff)
	require.NoError(t, err)
	assert.True(t, already)
}

func TestSQLite_Redeem_WrongToken(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()
	plan := testPlan(coord)
	require.NoError(t, st.SavePlan(ctx, coord, plan))

	cutoff := time.Now().UTC().Add(-time.Hour)
	_, err := st.RedeemPlanToken(ctx, plan.PlanID, "token-from-another-plan", cutoff)
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeInvalidChallenge))

	// The wrong token must not consume the real one.
	already, err := st.RedeemPlanToken(ctx, plan.PlanID, plan.ConfirmToken, cutoff)
	require.NoError(t, err)
	assert.False(t, already)
}

func TestSQLite_Redeem_MissingPlan(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.RedeemPlanToken(context.Background(), "no-such-plan", "tok", time.Now().Add(-time.Hour))
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodePlanNotFound))
}

func TestSQLite_Redeem_ExpiredToken(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()
	plan := testPlan(coord)
	plan.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, st.SavePlan(ctx, coord, plan))

	cutoff := time.Now().UTC().Add(-time.Hour)
	_, err := st.RedeemPlanToken(ctx, plan.PlanID, plan.ConfirmToken, cutoff)
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeInvalidChallenge))
}

func TestSQLite_Redeem_ReplayIgnoresExpiry(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()
	plan := testPlan(coord)
	require.NoError(t, st.SavePlan(ctx, coord, plan))

	already, err := st.RedeemPlanToken(ctx, plan.PlanID, plan.ConfirmToken, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, already)

	// Even after the token window has passed, a replay of the redeemed
	// token still resolves to the original outcome.
	already, err = st.RedeemPlanToken(ctx, plan.PlanID, plan.ConfirmToken, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, already)
}

// --- Job binding ---

func TestSQLite_BindPlanJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()
	plan := testPlan(coord)
	require.NoError(t, st.SavePlan(ctx, coord, plan))

	binding, err := st.GetPlanJob(ctx, plan.PlanID)
	require.NoError(t, err)
	assert.Nil(t, binding)

	require.NoError(t, st.BindPlanJob(ctx, plan.PlanID, "job-1", "run-1"))

	binding, err = st.GetPlanJob(ctx, plan.PlanID)
	require.NoError(t, err)
	require.NotNil(t, binding)
	assert.Equal(t, "job-1", binding.JobID)
	assert.Equal(t, "run-1", binding.RunID)
}

func TestSQLite_BindPlanJob_AlreadyBound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	coord := testCoord()
	plan := testPlan(coord)
	require.NoError(t, st.SavePlan(ctx, coord, plan))

	require.NoError(t, st.BindPlanJob(ctx, plan.PlanID, "job-1", "run-1"))
	err := st.BindPlanJob(ctx, plan.PlanID, "job-2", "run-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already bound")
}

func TestSQLite_BindPlanJob_MissingPlan(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.BindPlanJob(context.Background(), "no-such-plan", "job-1", "run-1")
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodePlanNotFound))
}
