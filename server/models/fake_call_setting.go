package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Daskott/safeline/phone"
	"gorm.io/gorm/clause"
)

const (
	DEFAULT_FAKE_CALLER_NAME = "Mom"
	DEFAULT_FAKE_CALL_DELAY  = 10
	MAX_FAKE_CALL_DELAY      = 60 * 60
)

var updatableFakeCallFields = map[string]bool{
	"caller_name":      true,
	"caller_number":    true,
	"delay_in_seconds": true,
	"ringtone":         true,
}

// FakeCallSetting controls who "calls" the user when a fake call is requested
type FakeCallSetting struct {
	BaseModel
	UserID         uint   `json:"user_id" gorm:"not null;unique"`
	CallerName     string `json:"caller_name" validate:"max=80" gorm:"not null"`
	CallerNumber   string `json:"caller_number,omitempty"`
	DelayInSeconds int    `json:"delay_in_seconds" validate:"min=0,max=3600" gorm:"default:10"`
	Ringtone       string `json:"ringtone,omitempty" validate:"max=80"`
}

// FindOrCreateFakeCallSetting returns the user's settings, creating the defaults
// for users that don't have any
func FindOrCreateFakeCallSetting(userID uint) (*FakeCallSetting, error) {
	setting := defaultFakeCallSetting()
	setting.UserID = userID

	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(setting).Error
	if err != nil {
		return nil, err
	}

	found := FakeCallSetting{}
	err = db.First(&found, "user_id = ?", userID).Error
	if err != nil {
		return nil, err
	}

	return &found, nil
}

func UpdateFakeCallSetting(userID uint, data map[string]interface{}) (*FakeCallSetting, error) {
	for field := range data {
		if !updatableFakeCallFields[field] {
			delete(data, field)
		}
	}

	if value, ok := data["caller_number"]; ok && value != nil && strings.TrimSpace(fmt.Sprintf("%v", value)) != "" {
		number, err := phone.Canonicalize(fmt.Sprintf("%v", value), DefaultCountryCode)
		if err != nil {
			return nil, err
		}
		data["caller_number"] = number
	}

	if value, ok := data["delay_in_seconds"]; ok {
		delay, err := parseFakeCallDelay(value)
		if err != nil {
			return nil, err
		}
		data["delay_in_seconds"] = delay
	}

	setting, err := FindOrCreateFakeCallSetting(userID)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return setting, nil
	}

	err = db.Model(setting).Updates(data).Error
	if err != nil {
		return nil, err
	}

	return FindOrCreateFakeCallSetting(userID)
}

// parseFakeCallDelay accepts whole, non-negative seconds and clamps them to
// MAX_FAKE_CALL_DELAY
func parseFakeCallDelay(value interface{}) (int, error) {
	var seconds float64
	switch v := value.(type) {
	case float64:
		seconds = v
	case int:
		seconds = float64(v)
	case int64:
		seconds = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, ErrInvalidFakeCallDelay
		}
		seconds = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, ErrInvalidFakeCallDelay
		}
		seconds = parsed
	default:
		return 0, ErrInvalidFakeCallDelay
	}

	if math.IsNaN(seconds) || seconds < 0 || seconds != math.Trunc(seconds) {
		return 0, ErrInvalidFakeCallDelay
	}

	if seconds > MAX_FAKE_CALL_DELAY {
		return MAX_FAKE_CALL_DELAY, nil
	}
	return int(seconds), nil
}

func defaultFakeCallSetting() *FakeCallSetting {
	return &FakeCallSetting{
		CallerName:     DEFAULT_FAKE_CALLER_NAME,
		DelayInSeconds: DEFAULT_FAKE_CALL_DELAY,
	}
}
