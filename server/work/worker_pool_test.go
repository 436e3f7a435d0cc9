package work

import (
	"fmt"
	"testing"
	"time"

	"github.com/Daskott/safeline/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerPool(t *testing.T) {
	tests := []struct {
		name        string
		concurrency int
		wantErr     bool
	}{
		{"zero workers", 0, true},
		{"too many workers", MAX_CONCURRENCY + 1, true},
		{"single worker", 1, false},
		{"max workers", MAX_CONCURRENCY, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := newWorkerPool(tt.concurrency)
			if tt.wantErr {
				assert.NotNil(t, err)
				return
			}

			assert.Nil(t, err)
			assert.Len(t, pool.workers, tt.concurrency)
			assert.Len(t, pool.requeuers, 2)
		})
	}
}

func TestRegisterHandler(t *testing.T) {
	pool, err := newWorkerPool(2)
	require.Nil(t, err)

	noop := func(map[string]interface{}) error { return nil }

	assert.Nil(t, pool.registerHandler("noop", noop))
	assert.ErrorIs(t, pool.registerHandler("noop", noop), ErrDuplicateHandler)

	for _, w := range pool.workers {
		assert.Contains(t, w.handlers, "noop", "every worker should get the handler")
	}
}

func TestEnqueue(t *testing.T) {
	models.InitializeTestDb()

	pool, err := newWorkerPool(1)
	require.Nil(t, err)

	t.Run("job without handler should fail", func(t *testing.T) {
		err := pool.enqueue(JobParams{Name: "nameless"})
		assert.NotNil(t, err)
	})

	t.Run("unique job should only be queued once", func(t *testing.T) {
		job := JobParams{Name: "sweep", Handler: "sweep", Unique: true}
		assert.Nil(t, pool.enqueue(job))
		assert.ErrorIs(t, pool.enqueue(job), models.ErrDuplicateJob)
	})
}

func TestEnqueueIn(t *testing.T) {
	models.InitializeTestDb()

	workerPool, err := newWorkerPool(1)
	assert.Nil(t, err)

	err = workerPool.enqueueIn(1, JobParams{
		Name:    "countdown",
		Handler: "triggerSosCountdown",
		Args: map[string]interface{}{
			"alert_id": 7,
		},
	})
	assert.Nil(t, err)

	_, err = models.FirstScheduledJobToBeQueued()
	assert.NotNil(t, err, "job should not be due yet")

	// At some point we need to be able to
	// mock the current time, instead of stopping the
	// process. For now, keep it simple
	time.Sleep(1100 * time.Millisecond)

	// Make sure the correct job is created & scheduled to be run
	job, err := models.FirstScheduledJobToBeQueued()
	assert.Nil(t, err)
	assert.Equal(t, "countdown", job.Name, "The job name should match the expected job name")
	assert.Contains(t, job.Args, "alert_id", "Should contain the correct arg values")
	assert.Equal(t, models.SCHEDULED_JOB, job.JobStatus.Name, "The job should be in scheduled queue")
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		fails    int
		expected time.Duration
	}{
		{1, RetryBackoff},
		{2, 4 * RetryBackoff},
		{3, 9 * RetryBackoff},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v fails", tt.fails), func(t *testing.T) {
			assert.Equal(t, tt.expected, retryDelay(tt.fails))
		})
	}
}

func TestFailedJobFate(t *testing.T) {
	models.InitializeTestDb()

	w := newWorker(defaultSleepBackoffsInSeconds, make(chan struct{}))
	attempts := 0
	require.Nil(t, w.registerHandler("flaky", func(map[string]interface{}) error {
		attempts++
		panic("boom")
	}))

	job, err := models.CreateJob("flaky", "flaky", "{}", false)
	require.Nil(t, err)

	for i := 0; i < MAX_FAILS; i++ {
		claimed, err := models.ClaimJob(job.ID)
		require.Nil(t, err)
		require.True(t, claimed)

		current, err := models.FindJob(job.ID)
		require.Nil(t, err)
		startedAt := time.Now().UTC()
		w.processJob(current)

		if i == MAX_FAILS-1 {
			break
		}

		retry, err := models.FindJob(job.ID)
		require.Nil(t, err)
		assert.Equal(t, models.SCHEDULED_JOB, retry.JobStatus.Name, "failed job should wait in the scheduled queue")
		assert.False(t, retry.Claimed)
		require.NotNil(t, retry.RunAt)
		assert.True(t, retry.RunAt.After(startedAt.Add(retryDelay(i+1)-time.Second)), "retry should run after its backoff")

		_, err = models.FirstScheduledJobToBeQueued()
		assert.NotNil(t, err, "retry should not be due yet")
	}

	found, err := models.FindJob(job.ID)
	assert.Nil(t, err)
	assert.Equal(t, MAX_FAILS, attempts)
	assert.Equal(t, MAX_FAILS, found.Fails)
	assert.Equal(t, models.DEAD_JOB, found.JobStatus.Name, "job should be dead after max fails")
	assert.Contains(t, found.LastError, "boom")
}
