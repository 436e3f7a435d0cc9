package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	COUNTDOWN_SOS = "countdown"
	ACTIVE_SOS    = "active"
	CANCELLED_SOS = "cancelled"
	RESOLVED_SOS  = "resolved"

	MANUAL_SOS_SOURCE    = "manual"
	COUNTDOWN_SOS_SOURCE = "countdown"
	DEVICE_SOS_SOURCE    = "device"
	SMS_SOS_SOURCE       = "sms"
)

var (
	openSosStatuses = []string{COUNTDOWN_SOS, ACTIVE_SOS}

	SosSourceNameMap = map[string]bool{
		MANUAL_SOS_SOURCE:    true,
		COUNTDOWN_SOS_SOURCE: true,
		DEVICE_SOS_SOURCE:    true,
		SMS_SOS_SOURCE:       true,
	}
)

// SosAlert is an emergency raised by a user. An alert in 'countdown' becomes
// 'active' at TriggerAt unless the user cancels it first.
type SosAlert struct {
	BaseModel
	UserID        uint              `json:"user_id" gorm:"not null;index"`
	Status        string            `json:"status" gorm:"not null;index"`
	Source        string            `json:"source"`
	Message       string            `json:"message"`
	Latitude      *float64          `json:"latitude,omitempty"`
	Longitude     *float64          `json:"longitude,omitempty"`
	Address       string            `json:"address,omitempty"`
	TriggerAt     *time.Time        `json:"trigger_at,omitempty"`
	TriggeredAt   *time.Time        `json:"triggered_at,omitempty"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
	Notifications []SosNotification `json:"notifications,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// SosNotification records delivery of an alert to one emergency contact
type SosNotification struct {
	BaseModel
	SosAlertID     uint       `json:"sos_alert_id" gorm:"not null;uniqueIndex:idx_alert_contact"`
	ContactID      uint       `json:"contact_id" gorm:"not null;uniqueIndex:idx_alert_contact"`
	PhoneNumber    string     `json:"phone_number"`
	Delivered      bool       `json:"delivered" gorm:"default:false"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

func (alert *SosAlert) HasLocation() bool {
	return alert.Latitude != nil && alert.Longitude != nil
}

// SetLocation copies a location snapshot into the alert
func (alert *SosAlert) SetLocation(location *LiveLocation) {
	if location == nil {
		return
	}

	latitude, longitude := location.Latitude, location.Longitude
	alert.Latitude = &latitude
	alert.Longitude = &longitude
	alert.Address = location.Address
}

// OpenSosAlert creates alert for its user unless the user already has an alert in
// countdown or active, in which case the existing alert is returned with
// created=false
func OpenSosAlert(alert *SosAlert) (existing *SosAlert, created bool, err error) {
	if alert.Status != COUNTDOWN_SOS && alert.Status != ACTIVE_SOS {
		return nil, false, ErrInvalidAlertStatus
	}

	if alert.Status == ACTIVE_SOS && alert.TriggeredAt == nil {
		currentTime := now()
		alert.TriggeredAt = &currentTime
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		open := SosAlert{}
		err := tx.Where("user_id = ? AND status IN ?", alert.UserID, openSosStatuses).
			Order("id desc").First(&open).Error

		if err == nil {
			existing = &open
			return nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		created = true
		return tx.Create(alert).Error
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		return alert, true, nil
	}
	return existing, false, nil
}

// ActivateSosCountdown moves the alert from countdown to active. It reports false
// when the alert is no longer counting down (e.g. it was cancelled).
func ActivateSosCountdown(alertID interface{}) (bool, error) {
	currentTime := now()
	res := db.Model(&SosAlert{}).Where("id = ? AND status = ?", alertID, COUNTDOWN_SOS).
		Updates(map[string]interface{}{"status": ACTIVE_SOS, "triggered_at": currentTime})

	return res.RowsAffected > 0, res.Error
}

// DiscardSosAlert deletes an open alert whose delivery could not be queued, so
// it doesn't block the user's next trigger
func DiscardSosAlert(alertID interface{}) error {
	return db.Unscoped().Where("id = ? AND status IN ?", alertID, openSosStatuses).Delete(&SosAlert{}).Error
}

// RestartSosCountdown moves an active alert back to 'countdown' when delivery
// could not be queued, so the countdown job activates it again on retry
func RestartSosCountdown(alertID interface{}) error {
	return db.Model(&SosAlert{}).Where("id = ? AND status = ?", alertID, ACTIVE_SOS).
		Updates(map[string]interface{}{"status": COUNTDOWN_SOS, "triggered_at": nil}).Error
}

// CancelSosAlert cancels userID's alert while it's still counting down
func CancelSosAlert(userID uint, alertID interface{}) error {
	return changeSosStatus(userID, alertID, COUNTDOWN_SOS, CANCELLED_SOS, nil)
}

// ResolveSosAlert marks userID's active alert as resolved
func ResolveSosAlert(userID uint, alertID interface{}) error {
	currentTime := now()
	return changeSosStatus(userID, alertID, ACTIVE_SOS, RESOLVED_SOS, &currentTime)
}

func FindSosAlert(id interface{}) (*SosAlert, error) {
	alert := SosAlert{}
	err := db.Preload("Notifications").First(&alert, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &alert, nil
}

// ActiveSosAlert returns the user's latest active alert
func ActiveSosAlert(userID uint) (*SosAlert, error) {
	alert := SosAlert{}
	err := db.Where("user_id = ? AND status = ?", userID, ACTIVE_SOS).Order("id desc").First(&alert).Error
	if err != nil {
		return nil, err
	}

	return &alert, nil
}

func FetchSosAlerts(userID uint, page int) ([]SosAlert, *Paging, error) {
	var total int64
	alerts := []SosAlert{}

	err := db.Model(&SosAlert{}).Where("user_id = ?", userID).Count(&total).Error
	if err != nil {
		return nil, nil, err
	}

	err = db.Scopes(paginate(page, DEFAULT_PAGE_SIZE)).Preload("Notifications").
		Where("user_id = ?", userID).Order("id desc").Find(&alerts).Error
	if err != nil {
		return nil, nil, err
	}

	return alerts, newPaging(page, DEFAULT_PAGE_SIZE, total), nil
}

// DeliveredContactIDs returns the contacts that already received alertID
func DeliveredContactIDs(alertID uint) (map[uint]bool, error) {
	ids := []uint{}
	err := db.Model(&SosNotification{}).Where("sos_alert_id = ? AND delivered = ?", alertID, true).
		Pluck("contact_id", &ids).Error
	if err != nil {
		return nil, err
	}

	delivered := make(map[uint]bool, len(ids))
	for _, id := range ids {
		delivered[id] = true
	}
	return delivered, nil
}

// RecordSosNotification stores the outcome of one delivery attempt
func RecordSosNotification(alertID uint, contact EmergencyContact, deliveryErr error) error {
	return db.Transaction(func(tx *gorm.DB) error {
		notification := SosNotification{}
		err := tx.Where(SosNotification{SosAlertID: alertID, ContactID: contact.ID}).
			Attrs(SosNotification{PhoneNumber: contact.PhoneNumber}).
			FirstOrCreate(&notification).Error
		if err != nil {
			return err
		}

		update := map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"delivered":  deliveryErr == nil,
			"last_error": "",
		}
		if deliveryErr != nil {
			update["last_error"] = deliveryErr.Error()
		}

		return tx.Model(&notification).Updates(update).Error
	})
}

// AcknowledgeSosNotification marks the latest delivered, unacknowledged
// notification of an active alert sent to rawNumber as acknowledged. It returns
// the alert that was acknowledged.
func AcknowledgeSosNotification(rawNumber string) (*SosAlert, error) {
	contacts, err := FindContactsByPhone(rawNumber)
	if err != nil {
		return nil, err
	}

	if len(contacts) == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	contactIDs := []uint{}
	for _, contact := range contacts {
		contactIDs = append(contactIDs, contact.ID)
	}

	notification := SosNotification{}
	err = db.Joins("INNER JOIN sos_alerts ON sos_alerts.id = sos_notifications.sos_alert_id AND sos_alerts.status = ?", ACTIVE_SOS).
		Where("sos_notifications.contact_id IN ? AND sos_notifications.delivered = ? AND sos_notifications.acknowledged_at IS NULL",
			contactIDs, true).
		Order("sos_notifications.id desc").First(&notification).Error
	if err != nil {
		return nil, err
	}

	err = db.Model(&notification).Update("acknowledged_at", now()).Error
	if err != nil {
		return nil, err
	}

	return FindSosAlert(notification.SosAlertID)
}

// UpdateSosLocation saves the alert's location snapshot
func UpdateSosLocation(alert *SosAlert) error {
	return db.Model(&SosAlert{}).Where("id = ?", alert.ID).Updates(map[string]interface{}{
		"latitude":  alert.Latitude,
		"longitude": alert.Longitude,
		"address":   alert.Address,
	}).Error
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func changeSosStatus(userID uint, alertID interface{}, from, to string, resolvedAt *time.Time) error {
	update := map[string]interface{}{"status": to}
	if resolvedAt != nil {
		update["resolved_at"] = *resolvedAt
	}

	res := db.Model(&SosAlert{}).Where("id = ? AND user_id = ? AND status = ?", alertID, userID, from).Updates(update)
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected > 0 {
		return nil
	}

	// Tell a missing alert apart from one in the wrong state
	var count int64
	err := db.Model(&SosAlert{}).Where("id = ? AND user_id = ?", alertID, userID).Count(&count).Error
	if err != nil {
		return err
	}

	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return ErrInvalidAlertStatus
}
