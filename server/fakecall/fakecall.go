package fakecall

import (
	"fmt"
	"time"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/server/location"
	"github.com/Daskott/safeline/server/logger"
	"github.com/Daskott/safeline/server/models"
	"github.com/Daskott/safeline/server/work"
)

const DELIVER_FAKE_CALL_JOB = "deliverFakeCall"

var logg = logger.NewLogger()

type Notifier interface {
	NotifyUser(userID uint, event location.Event)
}

type Enqueuer interface {
	Perform(job work.JobParams) error
	PerformIn(seconds int64, job work.JobParams) error
}

type Registrar interface {
	Register(name string, handler work.Handler) error
}

// Scheduler rings the user's own devices after their configured delay
type Scheduler struct {
	notifier Notifier
	queue    Enqueuer
}

func NewScheduler(notifier Notifier, queue Enqueuer) *Scheduler {
	return &Scheduler{notifier: notifier, queue: queue}
}

func (s *Scheduler) RegisterJobs(registrar Registrar) error {
	return registrar.Register(DELIVER_FAKE_CALL_JOB, s.Deliver)
}

// Schedule queues a fake call for user and returns when it will ring. A negative
// delay uses the user's setting.
func (s *Scheduler) Schedule(userID uint, delayInSeconds int) (*models.FakeCallSetting, time.Time, error) {
	setting, err := models.FindOrCreateFakeCallSetting(userID)
	if err != nil {
		return nil, time.Time{}, err
	}

	if delayInSeconds < 0 {
		delayInSeconds = setting.DelayInSeconds
	}

	if delayInSeconds > models.MAX_FAKE_CALL_DELAY {
		return nil, time.Time{}, models.ErrInvalidFakeCallDelay
	}

	job := work.JobParams{
		// Not unique, the user may queue more than one call
		Name:    fmt.Sprintf("%v-%v", DELIVER_FAKE_CALL_JOB, userID),
		Handler: DELIVER_FAKE_CALL_JOB,
		Args:    map[string]interface{}{"user_id": userID},
	}

	if delayInSeconds == 0 {
		err = s.queue.Perform(job)
	} else {
		err = s.queue.PerformIn(int64(delayInSeconds), job)
	}
	if err != nil {
		return nil, time.Time{}, err
	}

	ringsAt := time.Now().UTC().Add(time.Duration(delayInSeconds) * time.Second)
	logg.Infof(colors.Prefix("fakecall", colors.Blue)+"fake call for user=%v in %vs", userID, delayInSeconds)

	return setting, ringsAt, nil
}

// Deliver is the job handler pushing the fake call to the user's connections.
// Settings are read when the call rings, so recent changes apply.
func (s *Scheduler) Deliver(args map[string]interface{}) error {
	userID, ok := args["user_id"].(float64)
	if !ok || userID <= 0 {
		return fmt.Errorf("job arg \"user_id\" is missing or invalid: %v", args["user_id"])
	}

	setting, err := models.FindOrCreateFakeCallSetting(uint(userID))
	if err != nil {
		return err
	}

	s.notifier.NotifyUser(uint(userID), location.NewEvent(location.EventFakeCall, location.FakeCallPayload{
		CallerName:   setting.CallerName,
		CallerNumber: setting.CallerNumber,
		Ringtone:     setting.Ringtone,
	}))

	return nil
}
