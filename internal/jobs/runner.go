package jobs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ribera-group/coordina-cli/internal/artifacts"
	"github.com/ribera-group/coordina-cli/internal/guard"
	"github.com/ribera-group/coordina-cli/internal/model"
	"github.com/ribera-group/coordina-cli/internal/portal"
	"github.com/ribera-group/coordina-cli/internal/resilience"
	"github.com/ribera-group/coordina-cli/internal/store"
)

// PlanStore is the slice of the persistence layer execution needs.
// Satisfied by store.Store.
type PlanStore interface {
	GetPlan(ctx context.Context, planID string) (*model.SubmissionPlan, error)
	GetPlanJob(ctx context.Context, planID string) (*store.PlanBinding, error)
	BindPlanJob(ctx context.Context, planID, jobID, runID string) error
}

// PreFlighter runs the guardrail checklist. Satisfied by *guard.Checker.
type PreFlighter interface {
	PreFlight(ctx context.Context, req guard.Request) (guard.Result, error)
}

// Notifier is told when a run reaches its terminal state. Failures are
// logged, never propagated; notification is best effort.
type Notifier interface {
	RunFinished(ctx context.Context, summary *model.RunSummary) error
}

// Request asks for one plan execution.
type Request struct {
	Coord            model.CoordContext `json:"coordination"`
	PlanID           string             `json:"plan_id"`
	DryRun           bool               `json:"dry_run"`
	RealRequested    bool               `json:"real_requested"`
	Confirmation     guard.Confirmation `json:"confirmation"`
	Limits           guard.Limits       `json:"limits"`
	StopOnFirstError bool               `json:"stop_on_first_error"`
	RateLimitSeconds int                `json:"rate_limit_seconds"`
}

// Runner accepts execution requests, spawns one worker goroutine per
// accepted run, and answers status polls from the in-memory registry.
type Runner struct {
	store    PlanStore
	checker  PreFlighter
	uploader portal.Uploader
	art      *artifacts.Dir
	registry *Registry

	retry    resilience.RetryConfig
	notifier Notifier
	now      func() time.Time

	wg sync.WaitGroup
}

// Option customizes a Runner.
type Option func(*Runner)

// WithRetryConfig overrides the per-upload retry settings.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(r *Runner) { r.retry = cfg }
}

// WithNotifier registers a terminal-state notification target.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(planStore PlanStore, checker PreFlighter, uploader portal.Uploader, art *artifacts.Dir, opts ...Option) *Runner {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.LogRetries("portal upload")
	r := &Runner{
		store:    planStore,
		checker:  checker,
		uploader: uploader,
		art:      art,
		registry: NewRegistry(),
		retry:    retry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute validates req against the plan's guardrails and, when they
// pass, accepts the execution as a background job and returns its
// initial record. A request whose confirmation token was already
// redeemed returns the original job instead of starting a new one.
// No job is created when any check fails.
func (r *Runner) Execute(ctx context.Context, req Request) (*model.ExecutionJob, error) {
	if !req.Coord.Active() {
		return nil, model.NewStructured(model.CodeMissingCoordinationContext,
			"no coordination context selected").
			WithHint("select the platform and coordinated company before executing")
	}

	plan, err := r.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Coord != req.Coord {
		return nil, eris.Errorf("jobs: plan %s was built for %s/%s, not the active coordination context",
			plan.PlanID, plan.Platform, plan.Coord.CoordinatedCompany)
	}

	// Checked before the confirmation gate so an empty plan never
	// consumes its single-use token.
	if len(plan.Uploadable()) == 0 {
		return nil, model.NewStructured(model.CodeNothingToExecute,
			fmt.Sprintf("plan %s has no AUTO_UPLOAD items", plan.PlanID)).
			WithHint("resolve the REVIEW_REQUIRED items or rebuild the plan; the confirmation token was not consumed")
	}

	res, err := r.checker.PreFlight(ctx, guard.Request{
		Plan:          plan,
		Platform:      plan.Platform,
		DryRun:        req.DryRun,
		RealRequested: req.RealRequested,
		Confirmation:  req.Confirmation,
		Limits:        req.Limits,
	})
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		return r.originalOutcome(ctx, plan.PlanID)
	}

	job := &model.ExecutionJob{
		RunID:  uuid.New().String(),
		JobID:  uuid.New().String(),
		PlanID: plan.PlanID,
		Status: model.JobQueued,
	}

	// Dry runs are repeatable, so only real executions claim the
	// plan's one job binding.
	if !req.DryRun {
		if err := r.store.BindPlanJob(ctx, plan.PlanID, job.JobID, job.RunID); err != nil {
			return nil, err
		}
	}
	if err := r.art.WritePlanSnapshot(job.RunID, plan); err != nil {
		return nil, err
	}
	if err := r.art.WriteDecisions(job.RunID, plan.Decisions); err != nil {
		return nil, err
	}

	r.registry.add(job)

	log := zap.L().With(
		zap.String("job_id", job.JobID),
		zap.String("run_id", job.RunID),
		zap.String("plan_id", plan.PlanID),
	)
	log.Info("execution accepted",
		zap.Int("items", len(res.Items)),
		zap.Bool("dry_run", req.DryRun),
	)

	t := runTask{
		jobID: job.JobID,
		runID: job.RunID,
		plan:  plan,
		items: res.Items,
		req:   req,
		log:   log,
	}
	r.wg.Add(1)
	go r.run(context.WithoutCancel(ctx), t)

	return r.registry.Get(job.JobID)
}

// JobStatus answers a poll for one job.
func (r *Runner) JobStatus(jobID string) (*model.ExecutionJob, error) {
	return r.registry.Get(jobID)
}

// ListRunSummaries returns terminal run records, newest first.
func (r *Runner) ListRunSummaries(platform string, limit int) ([]model.RunSummary, error) {
	return r.art.ListRunSummaries(platform, limit)
}

// Wait blocks until every accepted job has reached a terminal state.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// originalOutcome resolves a replayed confirmation to the job it
// originally started: from the registry while this process still
// tracks it, otherwise rebuilt from the run summary on disk.
func (r *Runner) originalOutcome(ctx context.Context, planID string) (*model.ExecutionJob, error) {
	binding, err := r.store.GetPlanJob(ctx, planID)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		return nil, eris.Errorf("jobs: plan %s is already confirmed but no execution is bound to it", planID)
	}
	if job, err := r.registry.Get(binding.JobID); err == nil {
		return job, nil
	}

	summary, err := r.art.ReadRunSummary(binding.RunID)
	if err != nil {
		if os.IsNotExist(eris.Cause(err)) {
			return nil, model.NewStructured(model.CodeJobNotFound,
				fmt.Sprintf("job %s did not reach a terminal state", binding.JobID)).
				WithHint(fmt.Sprintf("inspect the run directory for run %s", binding.RunID))
		}
		return nil, err
	}
	return jobFromSummary(binding, summary), nil
}

// jobFromSummary reconstructs a terminal job view from its durable run
// record. Per-item results live in the run's decisions and summary
// artifacts, so the rebuilt record carries only status and progress.
func jobFromSummary(binding *store.PlanBinding, summary *model.RunSummary) *model.ExecutionJob {
	status := model.JobSuccess
	if summary.Counts.Failed > 0 {
		status = model.JobFailed
	}
	processed := summary.Counts.Success + summary.Counts.Failed
	return &model.ExecutionJob{
		RunID:      summary.RunID,
		JobID:      binding.JobID,
		PlanID:     summary.Execution.PlanID,
		Status:     status,
		Progress:   model.ProgressPercent(processed, summary.Counts.Total),
		StartedAt:  summary.Execution.StartedAt,
		FinishedAt: summary.Execution.FinishedAt,
	}
}

type runTask struct {
	jobID string
	runID string
	plan  *model.SubmissionPlan
	items []model.Decision
	req   Request
	log   *zap.Logger
}

// run is the per-job worker. Items execute strictly in plan order with
// the configured pacing between uploads; the job reaches exactly one
// terminal state and the run summary is written exactly once.
func (r *Runner) run(ctx context.Context, t runTask) {
	defer r.wg.Done()

	start := r.now().UTC()
	r.registry.markRunning(t.jobID, start)
	t.log.Info("job running", zap.Int("items", len(t.items)))

	var limiter *rate.Limiter
	if t.req.RateLimitSeconds > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(t.req.RateLimitSeconds)*time.Second), 1)
	}

	counts := model.RunCounts{Total: len(t.items)}
	var errs []string
	processed := 0
	stopped := false

	for _, item := range t.items {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				errs = append(errs, fmt.Sprintf("upload pacing aborted: %v", err))
				break
			}
		}

		res := r.uploadOne(ctx, t, item)
		processed++
		r.registry.appendResult(t.jobID, res, processed, len(t.items))

		switch {
		case t.req.DryRun:
			counts.Skipped++
		case res.Success:
			counts.Success++
		default:
			counts.Failed++
			errs = append(errs, fmt.Sprintf("item %s: %s", res.PendingItemKey, res.Reason))
		}

		if !res.Success && t.req.StopOnFirstError {
			stopped = true
			break
		}
	}
	counts.Skipped += counts.Total - processed

	status := model.JobSuccess
	if counts.Failed > 0 {
		status = model.JobFailed
	}
	finished := r.now().UTC()
	r.registry.finish(t.jobID, status, finished)

	summary := &model.RunSummary{
		RunID:    t.runID,
		Platform: t.plan.Platform,
		Counts:   counts,
		Execution: model.ExecutionMeta{
			PlanID:           t.plan.PlanID,
			JobID:            t.jobID,
			DryRun:           t.req.DryRun,
			StopOnFirstError: t.req.StopOnFirstError,
			RateLimitSeconds: t.req.RateLimitSeconds,
			StartedAt:        &start,
			FinishedAt:       &finished,
		},
		Errors:    errs,
		CreatedAt: finished,
	}
	if err := r.art.WriteRunSummary(summary); err != nil {
		t.log.Error("write run summary", zap.Error(err))
	}
	if r.notifier != nil {
		if err := r.notifier.RunFinished(ctx, summary); err != nil {
			t.log.Warn("notify run finished", zap.Error(err))
		}
	}

	t.log.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("success", counts.Success),
		zap.Int("failed", counts.Failed),
		zap.Int("skipped", counts.Skipped),
		zap.Bool("stopped_early", stopped),
	)
}

// uploadOne attempts one item, retrying transient transport failures.
// A portal answer that reports failure is permanent and never retried.
func (r *Runner) uploadOne(ctx context.Context, t runTask, item model.Decision) model.ItemResult {
	res := model.ItemResult{PendingItemKey: item.PendingItemKey}
	if item.Candidate != nil {
		res.DocID = item.Candidate.DocID
	}

	if t.req.DryRun {
		res.Success = true
		res.Reason = "simulated"
		return res
	}

	attempts := 0
	err := resilience.Do(ctx, r.retry, func(ctx context.Context) error {
		attempts++
		out, err := r.uploader.Upload(ctx, portal.UploadRequest{
			Coord:          t.req.Coord,
			PendingItemKey: item.PendingItemKey,
			DocID:          res.DocID,
			TypeID:         item.TypeID,
		})
		if err != nil {
			return err
		}
		if !out.Success {
			return eris.Errorf("portal rejected upload: %s", out.Message)
		}
		return nil
	})
	res.Attempts = attempts
	if err != nil {
		res.Reason = err.Error()
		t.log.Warn("upload failed",
			zap.String("pending_item_key", item.PendingItemKey),
			zap.String("doc_id", res.DocID),
			zap.Int("attempts", attempts),
			zap.String("class", resilience.ClassifyError(err)),
			zap.Error(err),
		)
		return res
	}

	res.Success = true
	at := r.now().UTC()
	res.UploadedAt = &at
	return res
}
