package work

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Daskott/safeline/server/models"
	"github.com/pkg/errors"
)

const MAX_CONCURRENCY = 25

// Seconds to wait before polling an empty queue, kept short since the wake
// channel covers jobs enqueued by this process
var defaultSleepBackoffsInSeconds = []int64{0, 1, 2, 5}

type WorkerPool struct {
	handlers    map[string]Handler
	workers     []*worker
	requeuers   []*requeuer
	wakeChan    chan struct{}
	concurrency int
	started     bool
	mu          sync.Mutex
}

func newWorkerPool(concurrency int) (*WorkerPool, error) {
	if concurrency < 1 || concurrency > MAX_CONCURRENCY {
		return nil, fmt.Errorf("concurrency must be between 1 and %v", MAX_CONCURRENCY)
	}

	wp := WorkerPool{
		handlers:    make(map[string]Handler),
		wakeChan:    make(chan struct{}, concurrency),
		concurrency: concurrency,
	}

	for i := 0; i < concurrency; i++ {
		wp.workers = append(wp.workers, newWorker(defaultSleepBackoffsInSeconds, wp.wakeChan))
	}

	for _, queue := range []string{models.IN_PROGRESS_JOB, models.SCHEDULED_JOB} {
		r, err := newRequeuer(queue, wp.wake)
		if err != nil {
			return nil, err
		}
		wp.requeuers = append(wp.requeuers, r)
	}

	return &wp, nil
}

// registerHandler binds a name to a job handler for all workers in pool
func (wp *WorkerPool) registerHandler(name string, handler Handler) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("can't register handler %v in a started pool", name)
	}

	if _, ok := wp.handlers[name]; ok {
		return ErrDuplicateHandler
	}
	wp.handlers[name] = handler

	for _, worker := range wp.workers {
		err := worker.registerHandler(name, handler)

		// Only panic if we get an error that is unexpected i.e !ErrDuplicateHandler
		if err != nil && !errors.Is(err, ErrDuplicateHandler) {
			logg.Panic(err)
		}
	}
	return nil
}

// enqueue adds a job to the queue(to be executed) by creating a DB record based on 'JobParams' provided
func (wp *WorkerPool) enqueue(job JobParams) error {
	argsAsJson, err := validateAndMarshal(job)
	if err != nil {
		return err
	}

	_, err = models.CreateJob(job.Name, job.Handler, argsAsJson, job.Unique)
	if err != nil {
		return err
	}

	wp.wake()
	return nil
}

// enqueueIn schedules a job to be queued in 'seconds' from now
func (wp *WorkerPool) enqueueIn(seconds int64, job JobParams) error {
	return wp.enqueueAt(time.Now().Add(time.Duration(seconds)*time.Second), job)
}

// enqueueAt schedules a job to be queued at runAt
func (wp *WorkerPool) enqueueAt(runAt time.Time, job JobParams) error {
	argsAsJson, err := validateAndMarshal(job)
	if err != nil {
		return err
	}

	_, err = models.CreateScheduledJob(job.Name, job.Handler, argsAsJson, runAt, job.Unique)
	return err
}

// start starts all workers & requeuers in pool i.e the workers can start processing jobs
func (wp *WorkerPool) start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return
	}
	wp.started = true

	for _, worker := range wp.workers {
		worker.start()
	}

	for _, r := range wp.requeuers {
		r.start()
	}
}

// stop stops all workers & requeuers in pool i.e jobs will stop being processed.
// A job being processed is allowed to finish.
func (wp *WorkerPool) stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.started {
		return
	}

	wg := sync.WaitGroup{}
	for _, w := range wp.workers {
		wg.Add(1)
		go func(w *worker) {
			w.stop()
			wg.Done()
		}(w)
	}

	for _, r := range wp.requeuers {
		wg.Add(1)
		go func(r *requeuer) {
			r.stop()
			wg.Done()
		}(r)
	}
	wg.Wait()
	wp.started = false
}

// wake nudges idle workers, it never blocks
func (wp *WorkerPool) wake() {
	select {
	case wp.wakeChan <- struct{}{}:
	default:
	}
}

func validateAndMarshal(job JobParams) (string, error) {
	if strings.TrimSpace(job.Name) == "" || strings.TrimSpace(job.Handler) == "" {
		return "", fmt.Errorf("both a name & handler is required for a job")
	}

	if job.Args == nil {
		job.Args = map[string]interface{}{}
	}

	argsAsJson, err := json.Marshal(job.Args)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode job args")
	}

	return string(argsAsJson), nil
}
