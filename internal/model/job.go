package model

import (
	"math"
	"time"
)

// JobStatus is the lifecycle state of an execution job. SUCCESS and
// FAILED are terminal.
type JobStatus string

const (
	JobQueued  JobStatus = "QUEUED"
	JobRunning JobStatus = "RUNNING"
	JobSuccess JobStatus = "SUCCESS"
	JobFailed  JobStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobFailed
}

// ItemResult records the outcome of one upload attempt within a job.
type ItemResult struct {
	PendingItemKey string     `json:"pending_item_key"`
	DocID          string     `json:"doc_id"`
	Success        bool       `json:"success"`
	Reason         string     `json:"reason,omitempty"`
	Attempts       int        `json:"attempts"`
	UploadedAt     *time.Time `json:"uploaded_at,omitempty"`
}

// ExecutionJob tracks one asynchronous execution of a plan. Progress is
// an integer percentage that only moves forward; once terminal the job
// is never mutated again.
type ExecutionJob struct {
	RunID      string       `json:"run_id"`
	JobID      string       `json:"job_id"`
	PlanID     string       `json:"plan_id"`
	Status     JobStatus    `json:"status"`
	Progress   int          `json:"progress"`
	Results    []ItemResult `json:"results"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// ProgressPercent converts a processed/total pair into the 0-100 integer
// progress value. A zero total reports as fully processed.
func ProgressPercent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(100 * float64(processed) / float64(total)))
}

// RunCounts aggregates item outcomes for a run.
type RunCounts struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ExecutionMeta captures how a run was invoked.
type ExecutionMeta struct {
	PlanID           string     `json:"plan_id"`
	JobID            string     `json:"job_id"`
	DryRun           bool       `json:"dry_run"`
	StopOnFirstError bool       `json:"stop_on_first_error"`
	RateLimitSeconds int        `json:"rate_limit_seconds"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// RunSummary is the durable record of one execution run. It is written
// exactly once when the job reaches a terminal state.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	Platform  string        `json:"platform"`
	Counts    RunCounts     `json:"counts"`
	Execution ExecutionMeta `json:"execution"`
	Errors    []string      `json:"errors,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
