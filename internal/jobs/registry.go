// Package jobs accepts confirmed execution requests, runs them as
// background jobs against the portal uploader, and answers status
// polls. Each accepted request gets its own run_id and a single worker
// goroutine; job records live in memory while run artifacts persist the
// durable outcome.
package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/ribera-group/coordina-cli/internal/model"
)

// Registry tracks the jobs accepted by this process. All reads return
// snapshots, so callers can never mutate a live job record, and all
// mutations go through the worker-side methods which enforce the
// QUEUED -> RUNNING -> terminal lifecycle and monotonic progress.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*model.ExecutionJob
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*model.ExecutionJob)}
}

// Get returns a snapshot of one job, or JobNotFound when this process
// has never accepted it.
func (r *Registry) Get(jobID string) (*model.ExecutionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, model.NewStructured(model.CodeJobNotFound,
			fmt.Sprintf("job %s is not tracked by this process", jobID)).
			WithHint("finished runs remain listable from their run artifacts")
	}
	return cloneJob(j), nil
}

func (r *Registry) add(job *model.ExecutionJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.JobID] = cloneJob(job)
}

func (r *Registry) markRunning(jobID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok || j.Status != model.JobQueued {
		return
	}
	j.Status = model.JobRunning
	j.StartedAt = &at
}

// appendResult records one item outcome and raises progress to
// processed/total. Progress never moves backward and terminal jobs are
// never touched.
func (r *Registry) appendResult(jobID string, res model.ItemResult, processed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok || j.Status.Terminal() {
		return
	}
	j.Results = append(j.Results, res)
	if p := model.ProgressPercent(processed, total); p > j.Progress {
		j.Progress = p
	}
}

// finish moves a job to its terminal status. Progress is left where the
// last item put it, so a stopped job keeps the frozen value.
func (r *Registry) finish(jobID string, status model.JobStatus, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok || j.Status.Terminal() {
		return
	}
	j.Status = status
	j.FinishedAt = &at
}

func cloneJob(j *model.ExecutionJob) *model.ExecutionJob {
	out := *j
	if len(j.Results) > 0 {
		out.Results = append([]model.ItemResult(nil), j.Results...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
