package sos

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/phone"
	"github.com/Daskott/safeline/server/location"
	"github.com/Daskott/safeline/server/logger"
	"github.com/Daskott/safeline/server/models"
	"github.com/Daskott/safeline/server/work"
	"github.com/Daskott/safeline/shared"
	"github.com/Daskott/safeline/utils"
	"gorm.io/gorm"
)

const (
	SEND_SOS_ALERT_JOB        = "sendSosAlert"
	TRIGGER_SOS_COUNTDOWN_JOB = "triggerSosCountdown"
	SEND_SOS_RESOLVED_JOB     = "sendSosResolved"

	DEFAULT_COUNTDOWN_IN_SECONDS     = 10
	DEFAULT_MAX_COUNTDOWN_IN_SECONDS = 120

	UNKNOWN_SENDER_REPLY = "This number isn't linked to a safeline account."
)

var (
	ErrInvalidCountdown = errors.New("countdown is out of the allowed range")
	ErrNoDelivery       = errors.New("sos alert could not be delivered to any contact")

	logg = logger.NewLogger()
)

type Messenger interface {
	SendMessage(to, body string) error
}

// Notifier pushes events to connected users
type Notifier interface {
	NotifyGuardians(userID uint, event location.Event) error
	NotifyUser(userID uint, event location.Event)
	Latest(userID uint) (*models.LiveLocation, error)
}

type Enqueuer interface {
	Perform(job work.JobParams) error
	PerformIn(seconds int64, job work.JobParams) error
}

type Registrar interface {
	Register(name string, handler work.Handler) error
}

// Dispatcher raises SOS alerts and delivers them to the user's contacts
type Dispatcher struct {
	messenger Messenger
	notifier  Notifier
	queue     Enqueuer

	countdown    int
	maxCountdown int
}

func NewDispatcher(messenger Messenger, notifier Notifier, queue Enqueuer, config shared.SosConfig) *Dispatcher {
	dispatcher := &Dispatcher{
		messenger:    messenger,
		notifier:     notifier,
		queue:        queue,
		countdown:    config.CountdownInSeconds,
		maxCountdown: config.MaxCountdownInSeconds,
	}

	if dispatcher.countdown <= 0 {
		dispatcher.countdown = DEFAULT_COUNTDOWN_IN_SECONDS
	}

	if dispatcher.maxCountdown < dispatcher.countdown {
		dispatcher.maxCountdown = DEFAULT_MAX_COUNTDOWN_IN_SECONDS
	}

	return dispatcher
}

// RegisterJobs binds the dispatcher's job handlers
func (d *Dispatcher) RegisterJobs(registrar Registrar) error {
	handlers := map[string]work.Handler{
		SEND_SOS_ALERT_JOB:        d.SendAlert,
		TRIGGER_SOS_COUNTDOWN_JOB: d.TriggerCountdown,
		SEND_SOS_RESOLVED_JOB:     d.SendResolved,
	}

	for name, handler := range handlers {
		if err := registrar.Register(name, handler); err != nil {
			return err
		}
	}
	return nil
}

// TriggerNow raises an active alert for user. If user already has an open alert,
// that alert is returned with created=false.
func (d *Dispatcher) TriggerNow(user *models.User, source, message string) (*models.SosAlert, bool, error) {
	if !models.SosSourceNameMap[source] {
		source = models.MANUAL_SOS_SOURCE
	}

	alert := &models.SosAlert{
		UserID:  user.ID,
		Status:  models.ACTIVE_SOS,
		Source:  source,
		Message: strings.TrimSpace(message),
	}
	alert.SetLocation(d.lastLocation(user.ID))

	alert, created, err := models.OpenSosAlert(alert)
	if err != nil || !created {
		return alert, created, err
	}

	err = d.dispatch(user, alert)
	if err != nil {
		d.discard(alert)
		return nil, false, err
	}

	d.logInfof("sos alert id=%v raised for user=%v from %v", alert.ID, user.ID, alert.Source)
	return alert, true, nil
}

// StartCountdown raises an alert which goes off after 'seconds' unless cancelled.
// Zero seconds means the configured default.
func (d *Dispatcher) StartCountdown(user *models.User, seconds int, message string) (*models.SosAlert, bool, error) {
	if seconds == 0 {
		seconds = d.countdown
	}

	if seconds < 0 || seconds > d.maxCountdown {
		return nil, false, fmt.Errorf("%w: must be between 1 and %v seconds", ErrInvalidCountdown, d.maxCountdown)
	}

	triggerAt := time.Now().UTC().Add(time.Duration(seconds) * time.Second)
	alert := &models.SosAlert{
		UserID:    user.ID,
		Status:    models.COUNTDOWN_SOS,
		Source:    models.COUNTDOWN_SOS_SOURCE,
		Message:   strings.TrimSpace(message),
		TriggerAt: &triggerAt,
	}

	alert, created, err := models.OpenSosAlert(alert)
	if err != nil || !created {
		return alert, created, err
	}

	err = d.queue.PerformIn(int64(seconds), work.JobParams{
		Name:    fmt.Sprintf("%v-%v", TRIGGER_SOS_COUNTDOWN_JOB, alert.ID),
		Handler: TRIGGER_SOS_COUNTDOWN_JOB,
		Unique:  true,
		Args:    map[string]interface{}{"alert_id": alert.ID},
	})
	if err != nil {
		d.discard(alert)
		return nil, false, err
	}

	d.logInfof("sos countdown of %vs started, alert id=%v user=%v", seconds, alert.ID, user.ID)
	return alert, true, nil
}

// Cancel stops user's alert while it's counting down
func (d *Dispatcher) Cancel(user *models.User, alertID interface{}) (*models.SosAlert, error) {
	err := models.CancelSosAlert(user.ID, alertID)
	if err != nil {
		return nil, err
	}

	return models.FindSosAlert(alertID)
}

// Resolve closes user's active alert and lets guardians & contacts know
func (d *Dispatcher) Resolve(user *models.User, alertID interface{}) (*models.SosAlert, error) {
	err := models.ResolveSosAlert(user.ID, alertID)
	if err != nil {
		return nil, err
	}

	alert, err := models.FindSosAlert(alertID)
	if err != nil {
		return nil, err
	}

	err = d.notifier.NotifyGuardians(user.ID, location.NewEvent(location.EventSosResolved, location.NewSosPayload(alert, user)))
	if err != nil {
		d.logError(err)
	}

	err = d.queue.Perform(work.JobParams{
		Name:    fmt.Sprintf("%v-%v", SEND_SOS_RESOLVED_JOB, alert.ID),
		Handler: SEND_SOS_RESOLVED_JOB,
		Unique:  true,
		Args:    map[string]interface{}{"alert_id": alert.ID},
	})
	return alert, err
}

// HandleSms handles a text sent to the service number and returns the reply.
// Contacts reply OK to acknowledge an alert, users text SAFE or SOS.
func (d *Dispatcher) HandleSms(from, body string) (string, error) {
	// Short codes and other numbers that fail to canonicalize belong to no one
	if _, err := phone.Canonicalize(from, models.DefaultCountryCode); err != nil {
		return UNKNOWN_SENDER_REPLY, nil
	}

	command := strings.ToUpper(strings.TrimSpace(body))

	switch command {
	case "OK":
		alert, err := models.AcknowledgeSosNotification(from)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "There is no active alert to acknowledge.", nil
		}
		if err != nil {
			return "", err
		}

		owner, err := models.FindUserBy("id", alert.UserID)
		if err != nil {
			return "", err
		}

		d.logInfof("sos alert id=%v acknowledged by %v", alert.ID, phone.Mask(from))
		return fmt.Sprintf("Thanks. %v's alert is marked as acknowledged.", owner.FullName()), nil

	case "SAFE":
		user, err := findSender(from)
		if err != nil {
			return "", err
		}
		if user == nil {
			return UNKNOWN_SENDER_REPLY, nil
		}

		alert, err := models.ActiveSosAlert(user.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "You have no active alert.", nil
		}
		if err != nil {
			return "", err
		}

		_, err = d.Resolve(user, alert.ID)
		if err != nil {
			return "", err
		}
		return "Glad you're safe. Your contacts will be told.", nil

	case "SOS":
		user, err := findSender(from)
		if err != nil {
			return "", err
		}
		if user == nil {
			return UNKNOWN_SENDER_REPLY, nil
		}

		_, created, err := d.TriggerNow(user, models.SMS_SOS_SOURCE, "")
		if err != nil {
			return "", err
		}

		if !created {
			return "You already have an open alert. Text SAFE once you're safe.", nil
		}
		return "Alert sent to your emergency contacts. Text SAFE once you're safe.", nil
	}

	return "Text SOS to alert your contacts or SAFE to close an alert. Contacts can reply OK to acknowledge.", nil
}

// ---------------------------------------------------------------------------------//
// Job handlers
// --------------------------------------------------------------------------------//

// TriggerCountdown runs when a countdown ends. A cancelled alert is left alone.
func (d *Dispatcher) TriggerCountdown(args map[string]interface{}) error {
	alertID, err := uintArg(args, "alert_id")
	if err != nil {
		return err
	}

	activated, err := models.ActivateSosCountdown(alertID)
	if err != nil {
		return err
	}

	if !activated {
		d.logInfof("sos alert id=%v is no longer counting down, skipping", alertID)
		return nil
	}

	alert, err := models.FindSosAlert(alertID)
	if err != nil {
		return err
	}

	user, err := models.FindUserBy("id", alert.UserID)
	if err != nil {
		return err
	}

	// Location at the time the countdown ends is more useful than when it started
	if last := d.lastLocation(user.ID); last != nil {
		alert.SetLocation(last)
		err = models.UpdateSosLocation(alert)
		if err != nil {
			d.logError(err)
		}
	}

	err = d.dispatch(user, alert)
	if err != nil {
		if restartErr := models.RestartSosCountdown(alert.ID); restartErr != nil {
			d.logError(restartErr)
		}
		return err
	}
	return nil
}

// SendAlert texts every contact of the alert's owner, primary first. Contacts
// which already got the alert are skipped, so a retry only covers failures.
func (d *Dispatcher) SendAlert(args map[string]interface{}) error {
	alertID, err := uintArg(args, "alert_id")
	if err != nil {
		return err
	}

	alert, err := models.FindSosAlert(alertID)
	if err != nil {
		return err
	}

	if alert.Status != models.ACTIVE_SOS {
		d.logInfof("sos alert id=%v is %v, not sending", alert.ID, alert.Status)
		return nil
	}

	user, err := models.FindUserBy("id", alert.UserID)
	if err != nil {
		return err
	}

	if err := user.LoadContacts(); err != nil {
		return err
	}

	if len(user.Contacts) == 0 {
		logg.Warnf(colors.Prefix("sos", colors.Yellow)+"user=%v has no contacts for alert id=%v", user.ID, alert.ID)
		return nil
	}

	delivered, err := models.DeliveredContactIDs(alert.ID)
	if err != nil {
		return err
	}

	message := AlertMessage(user, alert)
	attempted, failed := 0, 0
	var lastErr error

	for _, contact := range user.Contacts {
		if delivered[contact.ID] {
			continue
		}

		attempted++
		sendErr := d.messenger.SendMessage(contact.PhoneNumber, message)
		if sendErr != nil {
			failed++
			lastErr = sendErr
			d.logError(fmt.Sprintf("alert id=%v to contact id=%v failed: ", alert.ID, contact.ID), sendErr)
		}

		if err := models.RecordSosNotification(alert.ID, contact, sendErr); err != nil {
			d.logError(err)
		}
	}

	if attempted > 0 && failed == attempted {
		return fmt.Errorf("%w: %v", ErrNoDelivery, lastErr)
	}

	d.logInfof("sos alert id=%v sent to %v/%v pending contact(s)", alert.ID, attempted-failed, attempted)
	return nil
}

// SendResolved tells contacts who got the alert that the user is safe
func (d *Dispatcher) SendResolved(args map[string]interface{}) error {
	alertID, err := uintArg(args, "alert_id")
	if err != nil {
		return err
	}

	alert, err := models.FindSosAlert(alertID)
	if err != nil {
		return err
	}

	user, err := models.FindUserBy("id", alert.UserID)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("%v is safe now and closed their SOS alert.", user.FullName())
	for _, notification := range alert.Notifications {
		if !notification.Delivered {
			continue
		}

		if err := d.messenger.SendMessage(notification.PhoneNumber, message); err != nil {
			d.logError(err)
		}
	}

	return nil
}

// AlertMessage is the text contacts receive
func AlertMessage(user *models.User, alert *models.SosAlert) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("SOS from %v.", user.FullName()))

	if alert.Message != "" {
		builder.WriteString(fmt.Sprintf(" \"%v\".", alert.Message))
	}

	if alert.HasLocation() {
		builder.WriteString(" Last known location: ")
		builder.WriteString(utils.MapsLink(*alert.Latitude, *alert.Longitude))
		if alert.Address != "" {
			builder.WriteString(fmt.Sprintf(" (%v)", alert.Address))
		}
		builder.WriteString(".")
	}

	builder.WriteString(" Reply OK to let them know you got this.")
	return builder.String()
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// dispatch queues delivery of an active alert & pushes it to connected guardians
func (d *Dispatcher) dispatch(user *models.User, alert *models.SosAlert) error {
	err := d.queue.Perform(work.JobParams{
		Name:    fmt.Sprintf("%v-%v", SEND_SOS_ALERT_JOB, alert.ID),
		Handler: SEND_SOS_ALERT_JOB,
		Unique:  true,
		Args:    map[string]interface{}{"alert_id": alert.ID},
	})
	if err != nil {
		return err
	}

	err = d.notifier.NotifyGuardians(user.ID, location.NewEvent(location.EventSosTriggered, location.NewSosPayload(alert, user)))
	if err != nil {
		d.logError(err)
	}
	return nil
}

// discard drops an alert whose job could not be queued
func (d *Dispatcher) discard(alert *models.SosAlert) {
	if err := models.DiscardSosAlert(alert.ID); err != nil {
		d.logError(fmt.Sprintf("alert id=%v could not be discarded: ", alert.ID), err)
	}
}

func (d *Dispatcher) lastLocation(userID uint) *models.LiveLocation {
	latest, err := d.notifier.Latest(userID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			d.logError(err)
		}
		return nil
	}
	return latest
}

func (d *Dispatcher) logInfof(template string, args ...interface{}) {
	logg.Infof(colors.Prefix("sos", colors.Magenta)+template, args...)
}

func (d *Dispatcher) logError(args ...interface{}) {
	logg.Error(append([]interface{}{colors.Prefix("sos", colors.Red)}, args...)...)
}

// findSender returns the user texting from 'from'. A nil user with a nil error
// means the number isn't linked to anyone.
func findSender(from string) (*models.User, error) {
	user, err := models.FindUserByPhone(from)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return user, err
}

// uintArg reads an id from job args, numbers come back from json as float64
func uintArg(args map[string]interface{}, key string) (uint, error) {
	switch value := args[key].(type) {
	case float64:
		if value > 0 {
			return uint(value), nil
		}
	case uint:
		return value, nil
	case int:
		if value > 0 {
			return uint(value), nil
		}
	}

	return 0, fmt.Errorf("job arg %q is missing or invalid: %v", key, args[key])
}
