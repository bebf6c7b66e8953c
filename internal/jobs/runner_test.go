package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ribera-group/coordina-cli/internal/artifacts"
	"github.com/ribera-group/coordina-cli/internal/guard"
	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/portal"
	"github.com/ribera-group/coordina-cli/internal/resilience"
	"github.com/ribera-group/coordina-cli/internal/store"
)

type mockPlanStore struct {
	mock.Mock
}

func (m *mockPlanStore) GetPlan(ctx context.Context, planID string) (*model.SubmissionPlan, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SubmissionPlan), args.Error(1)
}

func (m *mockPlanStore) GetPlanJob(ctx context.Context, planID string) (*store.PlanBinding, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.PlanBinding), args.Error(1)
}

func (m *mockPlanStore) BindPlanJob(ctx context.Context, planID, jobID, runID string) error {
	args := m.Called(ctx, planID, jobID, runID)
	return args.Error(0)
}

type mockPreFlighter struct {
	mock.Mock
}

func (m *mockPreFlighter) PreFlight(ctx context.Context, req guard.Request) (guard.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(guard.Result), args.Error(1)
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, req portal.UploadRequest) (*portal.UploadResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*portal.UploadResult), args.Error(1)
}

func execCoord() model.CoordContext {
	return model.CoordContext{
		OwnCompany:         "Ribera Montajes SL",
		Platform:           "coordinaplus",
		CoordinatedCompany: "Acme Obras SA",
	}
}

func execPlan() *model.SubmissionPlan {
	auto := func(key, docID string) model.Decision {
		return model.Decision{
			PendingItemKey: key,
			Decision:       model.DecisionAutoUpload,
			ReasonCode:     "confident_match",
			Confidence:     0.95,
			Candidate: &model.MatchCandidate{
				PendingItemKey: key,
				DocID:          docID,
				Confidence:     0.95,
				MatchBasis:     model.MatchBasisDNI,
			},
			TypeID: "apto_medico",
		}
	}
	plan := &model.SubmissionPlan{
		PlanID:       uuid.New().String(),
		ConfirmToken: uuid.New().String(),
		Platform:     "coordinaplus",
		Coord:        execCoord(),
		Decisions: []model.Decision{
			auto("pi_a", "d-a"),
			auto("pi_b", "d-b"),
			auto("pi_c", "d-c"),
		},
		MinConfidence: 0.8,
		CreatedAt:     time.Now().UTC(),
	}
	plan.Summarize()
	return plan
}

func realRequest(planID string) Request {
	return Request{
		Coord:         execCoord(),
		PlanID:        planID,
		RealRequested: true,
		Confirmation:  guard.Confirmation{Token: "tok", HumanText: "EXECUTE " + planID},
		Limits: guard.Limits{
			MaxUploads:       10,
			AllowlistTypeIDs: []string{"apto_medico"},
			MinConfidence:    0.8,
		},
	}
}

func fastRetry() Option {
	return WithRetryConfig(resilience.RetryConfig{Attempts: 1, BaseDelay: time.Millisecond})
}

func uploadFor(key string) any {
	return mock.MatchedBy(func(req portal.UploadRequest) bool {
		return req.PendingItemKey == key
	})
}

func TestExecuteRequiresCoordContext(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	r := NewRunner(st, checker, up, artifacts.NewDir(t.TempDir()), fastRetry())

	req := realRequest("plan-1")
	req.Coord = model.CoordContext{}

	_, err := r.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeMissingCoordinationContext))
	st.AssertNotCalled(t, "GetPlan")
}

func TestExecutePlanNotFoundPassesThrough(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	r := NewRunner(st, checker, up, artifacts.NewDir(t.TempDir()), fastRetry())

	st.On("GetPlan", mock.Anything, "plan-x").
		Return(nil, model.NewStructured(model.CodePlanNotFound, "plan plan-x does not exist"))

	_, err := r.Execute(context.Background(), realRequest("plan-x"))
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodePlanNotFound))
}

func TestExecuteRejectsForeignContext(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	r := NewRunner(st, checker, up, artifacts.NewDir(t.TempDir()), fastRetry())

	plan := execPlan()
	plan.Coord.CoordinatedCompany = "Otra Empresa SL"
	st.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)

	_, err := r.Execute(context.Background(), realRequest(plan.PlanID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was built for")
	checker.AssertNotCalled(t, "PreFlight")
}

func TestExecuteNothingToExecute(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	r := NewRunner(st, checker, up, artifacts.NewDir(t.TempDir()), fastRetry())

	plan := execPlan()
	for i := range plan.Decisions {
		plan.Decisions[i].Decision = model.DecisionReviewRequired
	}
	plan.Summarize()
	st.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)

	_, err := r.Execute(context.Background(), realRequest(plan.PlanID))
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeNothingToExecute))

	// The confirmation gate was never reached, so the token stays fresh.
	checker.AssertNotCalled(t, "PreFlight")
}

func TestExecuteGuardrailFailureCreatesNoJob(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	r := NewRunner(st, checker, up, artifacts.NewDir(t.TempDir()), fastRetry())

	plan := execPlan()
	st.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)
	checker.On("PreFlight", mock.Anything, mock.Anything).
		Return(guard.Result{}, model.NewStructured(model.CodeRealExecutionNotRequested, "real execution was not requested"))

	_, err := r.Execute(context.Background(), realRequest(plan.PlanID))
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeRealExecutionNotRequested))
	st.AssertNotCalled(t, "BindPlanJob")
	up.AssertNotCalled(t, "Upload")
}

func TestExecuteRunsToSuccess(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	art := artifacts.NewDir(t.TempDir())
	r := NewRunner(st, checker, up, art, fastRetry())

	plan := execPlan()
	st.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)
	st.On("BindPlanJob", mock.Anything, plan.PlanID, mock.Anything, mock.Anything).Return(nil)
	checker.On("PreFlight", mock.Anything, mock.Anything).
		Return(guard.Result{Items: plan.Uploadable()}, nil)
	up.On("Upload", mock.Anything, mock.Anything).
		Return(&portal.UploadResult{Success: true}, nil)

	job, err := r.Execute(context.Background(), realRequest(plan.PlanID))
	require.NoError(t, err)
	require.NotNil(t, job)
	r.Wait()

	got, err := r.JobStatus(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.Len(t, got.Results, 3)
	for _, res := range got.Results {
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.Attempts)
		assert.NotNil(t, res.UploadedAt)
	}

	// Items go out strictly in plan order.
	var keys []string
	for _, call := range up.Calls {
		keys = append(keys, call.Arguments[1].(portal.UploadRequest).PendingItemKey)
	}
	assert.Equal(t, []string{"pi_a", "pi_b", "pi_c"}, keys)

	summary, err := art.ReadRunSummary(job.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{Total: 3, Success: 3}, summary.Counts)
	assert.Equal(t, plan.PlanID, summary.Execution.PlanID)
	assert.Equal(t, job.JobID, summary.Execution.JobID)
	assert.Equal(t, "coordinaplus", summary.Platform)

	listed, err := r.ListRunSummaries("coordinaplus", 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, job.RunID, listed[0].RunID)
}

func TestExecuteStopOnFirstErrorKeepsPartialResults(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	art := artifacts.NewDir(t.TempDir())
	r := NewRunner(st, checker, up, art, fastRetry())

	plan := execPlan()
	st.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)
	st.On("BindPlanJob", mock.Anything, plan.PlanID, mock.Anything, mock.Anything).Return(nil)
	checker.On("PreFlight", mock.Anything, mock.Anything).
		Return(guard.Result{Items: plan.Uploadable()}, nil)
	up.On("Upload", mock.Anything, uploadFor("pi_a")).
		Return(&portal.UploadResult{Success: true}, nil).Once()
	up.On("Upload", mock.Anything, uploadFor("pi_b")).
		Return(nil, eris.New("bridge exploded")).Once()
	up.On("Upload", mock.Anything, mock.Anything).
		Return(&portal.UploadResult{Success: true}, nil).Maybe()

	req := realRequest(plan.PlanID)
	req.StopOnFirstError = true

	job, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	r.Wait()

	got, err := r.JobStatus(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	require.Len(t, got.Results, 2)
	assert.True(t, got.Results[0].Success)
	assert.False(t, got.Results[1].Success)
	assert.Contains(t, got.Results[1].Reason, "bridge exploded")
	assert.Equal(t, 67, got.Progress)

	up.AssertNumberOfCalls(t, "Upload", 2)

	summary, err := art.ReadRunSummary(job.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{Total: 3, Success: 1, Failed: 1, Skipped: 1}, summary.Counts)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "pi_b")
}

func TestExecuteFailedWithoutStopAttemptsEverything(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	art := artifacts.NewDir(t.TempDir())
	r := NewRunner(st, checker, up, art, fastRetry())

	plan := execPlan()
	st.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)
	st.On("BindPlanJob", mock.Anything, plan.PlanID, mock.Anything, mock.Anything).Return(nil)
	checker.On("PreFlight", mock.Anything, mock.Anything).
		Return(guard.Result{Items: plan.Uploadable()}, nil)
	up.On("Upload", mock.Anything, uploadFor("pi_b")).
		Return(&portal.UploadResult{Success: false, Message: "type rejected"}, nil)
	up.On("Upload", mock.Anything, mock.Anything).
		Return(&portal.UploadResult{Success: true}, nil)

	job, err := r.Execute(context.Background(), realRequest(plan.PlanID))
	require.NoError(t, err)
	r.Wait()

	got, err := r.JobStatus(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.Len(t, got.Results, 3)
	assert.False(t, got.Results[1].Success)
	assert.Contains(t, got.Results[1].Reason, "type rejected")

	summary, err := art.ReadRunSummary(job.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCounts{Total: 3, Success: 2, Failed: 1}, summary.Counts)
}

func TestExecuteDryRunSimulatesWithoutBinding(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	art := artifacts.NewDir(t.TempDir())
	r := NewRunner(st, checker, up, art, fastRetry())

	plan := execPlan()
	st.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)
	checker.On("PreFlight", mock.Anything, mock.MatchedBy(func(req guard.Request) bool {
		return req.DryRun
	})).Return(guard.Result{Items: plan.Uploadable()}, nil)

	req := realRequest(plan.PlanID)
	req.DryRun = true
	req.RealRequested = false
	req.Confirmation = guard.Confirmation{}

	job, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	r.Wait()

	got, err := r.JobStatus(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.Len(t, got.Results, 3)
	for _, res := range got.Results {
		assert.True(t, res.Success)
		assert.Equal(t, "simulated", res.Reason)
		assert.Zero(t, res.Attempts)
	}

	st.AssertNotCalled(t, "BindPlanJob")
	up.AssertNotCalled(t, "Upload")

	summary, err := art.ReadRunSummary(job.RunID)
	require.NoError(t, err)
	assert.True(t, summary.Execution.DryRun)
	assert.Equal(t, model.RunCounts{Total: 3, Skipped: 3}, summary.Counts)
}

func TestExecuteReplayReturnsOriginalJob(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	r := NewRunner(st, checker, up, artifacts.NewDir(t.TempDir()), fastRetry())

	plan := execPlan()
	st.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)
	st.On("BindPlanJob", mock.Anything, plan.PlanID, mock.Anything, mock.Anything).Return(nil)
	checker.On("PreFlight", mock.Anything, mock.Anything).
		Return(guard.Result{Items: plan.Uploadable()}, nil).Once()
	checker.On("PreFlight", mock.Anything, mock.Anything).
		Return(guard.Result{Replayed: true}, nil).Once()
	up.On("Upload", mock.Anything, mock.Anything).
		Return(&portal.UploadResult{Success: true}, nil)

	first, err := r.Execute(context.Background(), realRequest(plan.PlanID))
	require.NoError(t, err)
	r.Wait()

	st.On("GetPlanJob", mock.Anything, plan.PlanID).
		Return(&store.PlanBinding{JobID: first.JobID, RunID: first.RunID}, nil)

	second, err := r.Execute(context.Background(), realRequest(plan.PlanID))
	require.NoError(t, err)
	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, model.JobSuccess, second.Status)

	// The replay started nothing; the three uploads are the originals.
	up.AssertNumberOfCalls(t, "Upload", 3)
}

func TestExecuteReplayAfterRestartRebuildsFromArtifacts(t *testing.T) {
	base := t.TempDir()
	plan := execPlan()

	st1 := new(mockPlanStore)
	checker1 := new(mockPreFlighter)
	up1 := new(mockUploader)
	r1 := NewRunner(st1, checker1, up1, artifacts.NewDir(base), fastRetry())

	st1.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)
	st1.On("BindPlanJob", mock.Anything, plan.PlanID, mock.Anything, mock.Anything).Return(nil)
	checker1.On("PreFlight", mock.Anything, mock.Anything).
		Return(guard.Result{Items: plan.Uploadable()}, nil)
	up1.On("Upload", mock.Anything, mock.Anything).
		Return(&portal.UploadResult{Success: true}, nil)

	first, err := r1.Execute(context.Background(), realRequest(plan.PlanID))
	require.NoError(t, err)
	r1.Wait()

	st2 := new(mockPlanStore)
	checker2 := new(mockPreFlighter)
	up2 := new(mockUploader)
	r2 := NewRunner(st2, checker2, up2, artifacts.NewDir(base), fastRetry())

	st2.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)
	checker2.On("PreFlight", mock.Anything, mock.Anything).
		Return(guard.Result{Replayed: true}, nil)
	st2.On("GetPlanJob", mock.Anything, plan.PlanID).
		Return(&store.PlanBinding{JobID: first.JobID, RunID: first.RunID}, nil)

	got, err := r2.Execute(context.Background(), realRequest(plan.PlanID))
	require.NoError(t, err)
	assert.Equal(t, first.JobID, got.JobID)
	assert.Equal(t, first.RunID, got.RunID)
	assert.Equal(t, model.JobSuccess, got.Status)
	assert.Equal(t, 100, got.Progress)
	up2.AssertNotCalled(t, "Upload")
}

func TestExecuteReplayWithoutBindingErrors(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	r := NewRunner(st, checker, up, artifacts.NewDir(t.TempDir()), fastRetry())

	plan := execPlan()
	st.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)
	checker.On("PreFlight", mock.Anything, mock.Anything).
		Return(guard.Result{Replayed: true}, nil)
	st.On("GetPlanJob", mock.Anything, plan.PlanID).Return(nil, nil)

	_, err := r.Execute(context.Background(), realRequest(plan.PlanID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no execution is bound")
}

func TestExecuteRetriesTransientUploadFailures(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	art := artifacts.NewDir(t.TempDir())
	r := NewRunner(st, checker, up, art,
		WithRetryConfig(resilience.RetryConfig{Attempts: 3, BaseDelay: time.Millisecond}))

	plan := execPlan()
	plan.Decisions = plan.Decisions[:1]
	plan.Summarize()
	st.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)
	st.On("BindPlanJob", mock.Anything, plan.PlanID, mock.Anything, mock.Anything).Return(nil)
	checker.On("PreFlight", mock.Anything, mock.Anything).
		Return(guard.Result{Items: plan.Uploadable()}, nil)
	up.On("Upload", mock.Anything, mock.Anything).
		Return(nil, resilience.Transient(eris.New("bridge hiccup"))).Once()
	up.On("Upload", mock.Anything, mock.Anything).
		Return(&portal.UploadResult{Success: true}, nil).Once()

	job, err := r.Execute(context.Background(), realRequest(plan.PlanID))
	require.NoError(t, err)
	r.Wait()

	got, err := r.JobStatus(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, got.Status)
	require.Len(t, got.Results, 1)
	assert.True(t, got.Results[0].Success)
	assert.Equal(t, 2, got.Results[0].Attempts)
}

func TestExecuteBindErrorAborts(t *testing.T) {
	st := new(mockPlanStore)
	checker := new(mockPreFlighter)
	up := new(mockUploader)
	r := NewRunner(st, checker, up, artifacts.NewDir(t.TempDir()), fastRetry())

	plan := execPlan()
	st.On("GetPlan", mock.Anything, plan.PlanID).Return(plan, nil)
	checker.On("PreFlight", mock.Anything, mock.Anything).
		Return(guard.Result{Items: plan.Uploadable()}, nil)
	st.On("BindPlanJob", mock.Anything, plan.PlanID, mock.Anything, mock.Anything).
		Return(eris.Errorf("store: plan %s is already bound to job other", plan.PlanID))

	_, err := r.Execute(context.Background(), realRequest(plan.PlanID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already bound")
	up.AssertNotCalled(t, "Upload")
}
