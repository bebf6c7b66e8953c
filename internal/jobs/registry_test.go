package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ribera-group/coordina-cli/internal/model"
)

func seedJob(r *Registry) *model.ExecutionJob {
	job := &model.ExecutionJob{
		RunID:  "run-1",
		JobID:  "job-1",
		PlanID: "plan-1",
		Status: model.JobQueued,
	}
	r.add(job)
	return job
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nope")
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeJobNotFound))
}

func TestRegistryProgressNeverDecreases(t *testing.T) {
	r := NewRegistry()
	job := seedJob(r)

	r.appendResult(job.JobID, model.ItemResult{PendingItemKey: "pi_a", Success: true}, 2, 3)
	got, err := r.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 67, got.Progress)

	r.appendResult(job.JobID, model.ItemResult{PendingItemKey: "pi_b", Success: true}, 1, 3)
	got, err = r.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 67, got.Progress)
	assert.Len(t, got.Results, 2)
}

func TestRegistryTerminalJobsAreFrozen(t *testing.T) {
	r := NewRegistry()
	job := seedJob(r)

	r.appendResult(job.JobID, model.ItemResult{PendingItemKey: "pi_a", Success: true}, 1, 2)
	r.finish(job.JobID, model.JobFailed, time.Now().UTC())

	r.appendResult(job.JobID, model.ItemResult{PendingItemKey: "pi_b", Success: true}, 2, 2)
	r.finish(job.JobID, model.JobSuccess, time.Now().UTC())
	r.markRunning(job.JobID, time.Now().UTC())

	got, err := r.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
	assert.Equal(t, 50, got.Progress)
	assert.Len(t, got.Results, 1)
	assert.Nil(t, got.StartedAt)
}

func TestRegistryGetReturnsSnapshot(t *testing.T) {
	r := NewRegistry()
	job := seedJob(r)
	r.appendResult(job.JobID, model.ItemResult{PendingItemKey: "pi_a", Success: true}, 1, 1)

	got, err := r.Get(job.JobID)
	require.NoError(t, err)
	got.Results[0].PendingItemKey = "mutated"
	got.Status = model.JobFailed

	again, err := r.Get(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "pi_a", again.Results[0].PendingItemKey)
	assert.Equal(t, model.JobQueued, again.Status)
}
