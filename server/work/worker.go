package work

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/server/logger"
	"github.com/Daskott/safeline/server/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const MAX_FAILS = 4

var (
	DefaultTickerDuration = 5 * time.Millisecond
	TickerDurationOnError = 10 * time.Millisecond

	// RetryBackoff scales the wait before a failed job runs again, fails² * RetryBackoff
	RetryBackoff = 15 * time.Second

	ErrDuplicateHandler = errors.New("handler with provided name already mapped")
	ErrMissingHandler   = errors.New("no handler registered for job")

	logg = logger.NewLogger()
)

type JobParams struct {
	Name    string
	Handler string
	Unique  bool
	Args    map[string]interface{}
}

type Handler func(map[string]interface{}) error

type worker struct {
	id                     string
	handlers               map[string]Handler
	stopChan               chan struct{}
	wakeChan               <-chan struct{}
	sleepBackoffsInSeconds []int64
}

func newWorker(sleepBackoffsInSeconds []int64, wakeChan <-chan struct{}) *worker {
	return &worker{
		id:                     makeIdentifier(),
		handlers:               make(map[string]Handler),
		stopChan:               make(chan struct{}),
		wakeChan:               wakeChan,
		sleepBackoffsInSeconds: sleepBackoffsInSeconds,
	}
}

// registerHandler binds a name to a job handler.
func (w *worker) registerHandler(name string, handler Handler) error {
	if _, ok := w.handlers[name]; ok {
		return ErrDuplicateHandler
	}

	w.handlers[name] = handler

	return nil
}

// start starts the worker loop that pulls jobs from the queue & process them
func (w *worker) start() {
	go w.loop()
}

func (w *worker) stop() {
	w.stopChan <- struct{}{}
}

func (w *worker) loop() {
	var consecutiveNoJobs int64

	sleepBackoffs := w.sleepBackoffsInSeconds
	rateLimiter := time.NewTicker(DefaultTickerDuration)
	defer rateLimiter.Stop()

	logg.Infof("Starting worker %s", w.id)
	for {
		select {
		case <-w.stopChan:
			logg.Infof("Stopping worker %s", w.id)
			return
		case <-w.wakeChan:
			// A job was just enqueued, skip whatever backoff is left
			consecutiveNoJobs = 0
			rateLimiter.Reset(DefaultTickerDuration)
		case <-rateLimiter.C:
			currentJob, err := models.FirstJob(models.ENQUEUED_JOB, false)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					// If no job found, slowly increase the wait time between each job fetch
					// using 'sleepBackoffsInSeconds'. To reduce db hit when it's not necessary.
					consecutiveNoJobs++
					idx := consecutiveNoJobs
					if idx >= int64(len(sleepBackoffs)) {
						idx = int64(len(sleepBackoffs)) - 1
					}
					rateLimiter.Reset(backoffDuration(sleepBackoffs[idx]))
					continue
				}

				w.logError(err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			claimed, err := models.ClaimJob(currentJob.ID)
			if err != nil {
				w.logError(err)
				rateLimiter.Reset(TickerDurationOnError)
				continue
			}

			if !claimed {
				rateLimiter.Reset(DefaultTickerDuration)
				continue
			}

			w.logInfof("claimed job with id=%v, name=%v", currentJob.ID, currentJob.Name)

			w.processJob(currentJob)
			rateLimiter.Reset(DefaultTickerDuration)
			consecutiveNoJobs = 0
		}
	}
}

func (w *worker) processJob(job *models.Job) {
	handler, ok := w.handlers[job.Handler]
	if !ok {
		w.markJobAsDead(job, fmt.Errorf("%w: %v", ErrMissingHandler, job.Handler))
		return
	}

	args := make(map[string]interface{})
	err := json.Unmarshal([]byte(job.Args), &args)
	if err != nil {
		w.markJobAsDead(job, err)
		return
	}

	err = w.run(handler, args)
	if err != nil {
		w.logError(err)
		w.determineFailedJobFate(job, err)
		return
	}
	w.markJobAsSuccessful(job)
}

// run calls handler, turning a panic into an error so one bad job can't take
// the worker down
func (w *worker) run(handler Handler, args map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()

	return handler(args)
}

func (w *worker) determineFailedJobFate(job *models.Job, runError error) {
	job.Fails++

	update := map[string]interface{}{
		"fails":      job.Fails,
		"last_error": runError.Error(),
	}

	// For job with Fails >= MAX_FAILS mark as DEAD else schedule a retry, the
	// scheduled requeuer puts it back in the queue once it's due
	statusName := models.SCHEDULED_JOB
	if job.Fails >= MAX_FAILS {
		statusName = models.DEAD_JOB
	} else {
		update["run_at"] = time.Now().UTC().Add(retryDelay(job.Fails))
	}

	w.finishJob(job, statusName, update)
}

func (w *worker) markJobAsDead(job *models.Job, runError error) {
	w.logError(runError)
	w.finishJob(job, models.DEAD_JOB, map[string]interface{}{
		"fails":      job.Fails + 1,
		"last_error": runError.Error(),
	})
}

func (w *worker) markJobAsSuccessful(job *models.Job) {
	w.finishJob(job, models.SUCCESSFUL_JOB, map[string]interface{}{})
}

// finishJob unclaims job and moves it to statusName
func (w *worker) finishJob(job *models.Job, statusName string, update map[string]interface{}) {
	jobStatus, err := models.FindJobStatus(statusName)
	if err != nil {
		w.logError(err)
		return
	}

	update["claimed"] = false
	update["job_status_id"] = jobStatus.ID

	err = models.UpdateJob(job.ID, update)
	if err != nil {
		w.logError(err)
		return
	}
	w.logInfof("job with id=%v completed with status=%v", job.ID, jobStatus.Name)
}

func (w *worker) logInfof(template string, args ...interface{}) {
	logg.Infof(colors.Prefix(fmt.Sprintf("worker %v", w.id), colors.Yellow)+template, args...)
}

func (w *worker) logError(args ...interface{}) {
	logg.Error(append([]interface{}{colors.Prefix(fmt.Sprintf("worker %v", w.id), colors.Red)}, args...)...)
}

func backoffDuration(seconds int64) time.Duration {
	if seconds <= 0 {
		return DefaultTickerDuration
	}
	return time.Duration(seconds) * time.Second
}

func retryDelay(fails int) time.Duration {
	return time.Duration(fails*fails) * RetryBackoff
}

func makeIdentifier() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "safeline"
	}

	return fmt.Sprintf("%v-%v", hostname, uuid.NewString()[:8])
}
