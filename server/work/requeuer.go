package work

import (
	"errors"
	"fmt"
	"time"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/server/models"
	"gorm.io/gorm"
)

// StuckJobTimeout is how long a job can stay in-progress before it's requeued
var StuckJobTimeout = 10 * time.Minute

var supportedQueues = map[string]bool{models.IN_PROGRESS_JOB: true, models.SCHEDULED_JOB: true}

type requeuer struct {
	fromQueue string
	stopChan  chan struct{}
	onRequeue func()
}

func newRequeuer(fromQueue string, onRequeue func()) (*requeuer, error) {
	if !supportedQueues[fromQueue] {
		return nil, fmt.Errorf("%v is not a supported queue, must be in %v", fromQueue, supportedQueues)
	}

	return &requeuer{
		fromQueue: fromQueue,
		stopChan:  make(chan struct{}),
		onRequeue: onRequeue,
	}, nil
}

// start starts the requeuer loop that moves jobs from 'fromQueue' back to the
// queue. i.e jobs stuck in-progress, or scheduled jobs that are due.
func (r *requeuer) start() {
	go r.loop()
}

func (r *requeuer) stop() {
	r.stopChan <- struct{}{}
}

func (r *requeuer) loop() {
	// Scheduled jobs back SOS countdowns, so they are checked every second
	sleepBackOff := time.Second
	if r.fromQueue == models.IN_PROGRESS_JOB {
		sleepBackOff = 30 * time.Second
	}

	rateLimiter := time.NewTicker(DefaultTickerDuration)
	defer rateLimiter.Stop()

	logg.Infof("Starting %s job requeuer", r.fromQueue)
	for {
		select {
		case <-r.stopChan:
			logg.Infof("Stopping %s job requeuer", r.fromQueue)
			return
		case <-rateLimiter.C:
			job, err := r.nextJob()

			// If no job found, sleep for 'sleepBackOff'
			if errors.Is(err, gorm.ErrRecordNotFound) {
				rateLimiter.Reset(sleepBackOff)
				continue
			}

			if err != nil {
				r.logError(err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			r.requeue(job)
			rateLimiter.Reset(DefaultTickerDuration)
		}
	}
}

func (r *requeuer) nextJob() (*models.Job, error) {
	if r.fromQueue == models.IN_PROGRESS_JOB {
		return models.LastJobLastUpdated(StuckJobTimeout, models.IN_PROGRESS_JOB)
	}
	return models.FirstScheduledJobToBeQueued()
}

func (r *requeuer) requeue(job *models.Job) {
	jobStatus, err := models.FindJobStatus(models.ENQUEUED_JOB)
	if err != nil {
		r.logError(err)
		return
	}

	update := make(map[string]interface{})
	update["claimed"] = false
	update["job_status_id"] = jobStatus.ID
	update["enqueued_at"] = time.Now().UTC()

	err = job.Update(update)
	if err != nil {
		r.logError(err)
		return
	}

	r.logInfof("job with id=%v requeued", job.ID)
	if r.onRequeue != nil {
		r.onRequeue()
	}
}

func (r *requeuer) logInfof(template string, args ...interface{}) {
	logg.Infof(colors.Prefix(fmt.Sprintf("%s job requeuer", r.fromQueue), colors.Yellow)+template, args...)
}

func (r *requeuer) logError(args ...interface{}) {
	logg.Error(append([]interface{}{colors.Prefix(fmt.Sprintf("%s job requeuer", r.fromQueue), colors.Red)}, args...)...)
}
