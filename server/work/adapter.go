package work

import (
	"errors"
	"fmt"
	"time"

	"github.com/Daskott/safeline/server/cron"
	"github.com/Daskott/safeline/server/models"
	"github.com/go-co-op/gocron"
)

// WorkerPoolAdapter combines the db backed job queue with a cron scheduler for
// periodic jobs
type WorkerPoolAdapter struct {
	cronScheduler *gocron.Scheduler
	pool          *WorkerPool
}

func NewWorkerAdapter(timeZone string, concurrency int) (*WorkerPoolAdapter, error) {
	pool, err := newWorkerPool(concurrency)
	if err != nil {
		return nil, err
	}

	return &WorkerPoolAdapter{
		cronScheduler: cron.NewCronScheduler(timeZone),
		pool:          pool,
	}, nil
}

// Start starts the cron scheduler & worker pool
func (adapter *WorkerPoolAdapter) Start() error {
	logg.Info("Starting cron scheduler & worker pool")
	adapter.cronScheduler.StartAsync()
	adapter.pool.start()

	return nil
}

// Stop stops the cron scheduler & worker pool
func (adapter *WorkerPoolAdapter) Stop() error {
	logg.Info("Stopping cron scheduler & worker pool")
	adapter.cronScheduler.Stop()
	adapter.pool.stop()

	return nil
}

// Register binds a name to a handler.
func (adapter *WorkerPoolAdapter) Register(name string, handler Handler) error {
	return adapter.pool.registerHandler(name, handler)
}

// Perform sends a new job to the queue, now - to be executed as soon as a worker is available
func (adapter *WorkerPoolAdapter) Perform(job JobParams) error {
	logg.Infof("Enqueuing job: %v", job.Name)

	err := adapter.pool.enqueue(job)
	if errors.Is(err, models.ErrDuplicateJob) {
		logg.Warnf("Duplicate job already in queue for: %v", job.Name)
		return nil
	}

	if err != nil {
		return fmt.Errorf("error enqueuing job: %v, %v", job.Name, err)
	}

	return nil
}

// PerformIn sends a new job to the queue, to be executed in 'seconds'
func (adapter *WorkerPoolAdapter) PerformIn(seconds int64, job JobParams) error {
	return adapter.PerformAt(time.Now().Add(time.Duration(seconds)*time.Second), job)
}

// PerformAt sends a new job to the queue, to be executed at runAt
func (adapter *WorkerPoolAdapter) PerformAt(runAt time.Time, job JobParams) error {
	logg.Infof("Scheduling job: %v at %v", job.Name, runAt.UTC().Format(time.RFC3339))

	err := adapter.pool.enqueueAt(runAt, job)
	if errors.Is(err, models.ErrDuplicateJob) {
		logg.Warnf("Duplicate job already scheduled for: %v", job.Name)
		return nil
	}

	if err != nil {
		return fmt.Errorf("error scheduling job: %v, %v", job.Name, err)
	}

	return nil
}

// PeriodicallyPerform adds a job to the queue (to be executed)
// periodically, based on the 'cronExpression' expression provided
func (adapter *WorkerPoolAdapter) PeriodicallyPerform(cronExpression string, job JobParams) error {
	_, err := adapter.cronScheduler.Cron(cronExpression).Tag(job.Name).Do(adapter.performFromCron, job)
	return err
}

// PeriodicallyPerformEvery adds a job to the queue every 'interval' e.g "5m"
func (adapter *WorkerPoolAdapter) PeriodicallyPerformEvery(interval string, job JobParams) error {
	_, err := adapter.cronScheduler.Every(interval).Tag(job.Name).Do(adapter.performFromCron, job)
	return err
}

func (adapter *WorkerPoolAdapter) RemovePeriodicJob(jobName string) error {
	return adapter.cronScheduler.RemoveByTag(jobName)
}

func (adapter *WorkerPoolAdapter) performFromCron(job JobParams) {
	// Periodic jobs shouldn't pile up, if the last run is still queued skip this one
	job.Unique = true

	err := adapter.Perform(job)
	if err != nil {
		logg.Error(err)
	}
}
