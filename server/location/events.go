package location

import (
	"encoding/json"
	"time"

	"github.com/Daskott/safeline/server/models"
	"github.com/Daskott/safeline/utils"
	"github.com/dustin/go-humanize"
)

type EventType string

const (
	EventSnapshot        EventType = "snapshot"
	EventLocationUpdate  EventType = "location_update"
	EventLocationStopped EventType = "location_stopped"
	EventSosTriggered    EventType = "sos_triggered"
	EventSosResolved     EventType = "sos_resolved"
	EventFakeCall        EventType = "fake_call"
)

// Event is the message written to websocket clients
type Event struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

type LocationPayload struct {
	UserID    uint      `json:"user_id"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Username  string    `json:"username,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Address   string    `json:"address,omitempty"`
	Status    string    `json:"status"`
	MapsLink  string    `json:"maps_link"`
	UpdatedAt time.Time `json:"updated_at"`
	LastSeen  string    `json:"last_seen"`
	Stale     bool      `json:"stale"`
}

type SosPayload struct {
	AlertID   uint     `json:"alert_id"`
	UserID    uint     `json:"user_id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Source    string   `json:"source"`
	Message   string   `json:"message,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	MapsLink  string   `json:"maps_link,omitempty"`
}

type FakeCallPayload struct {
	CallerName   string `json:"caller_name"`
	CallerNumber string `json:"caller_number,omitempty"`
	Ringtone     string `json:"ringtone,omitempty"`
}

func NewEvent(eventType EventType, payload interface{}) Event {
	return Event{Type: eventType, Payload: payload, Timestamp: time.Now().UTC()}
}

func (event Event) encode() ([]byte, error) {
	return json.Marshal(event)
}

// NewLocationPayload describes location for a guardian, staleAfter decides the
// 'stale' flag
func NewLocationPayload(location *models.LiveLocation, owner *models.User, staleAfter time.Duration) LocationPayload {
	payload := LocationPayload{
		UserID:    location.UserID,
		Latitude:  location.Latitude,
		Longitude: location.Longitude,
		Accuracy:  location.Accuracy,
		Address:   location.Address,
		Status:    location.Status,
		MapsLink:  utils.MapsLink(location.Latitude, location.Longitude),
		UpdatedAt: location.UpdatedAt,
		LastSeen:  humanize.Time(location.UpdatedAt),
		Stale:     location.IsStale(staleAfter),
	}

	if owner != nil {
		payload.FirstName = owner.FirstName
		payload.LastName = owner.LastName
		payload.Username = owner.Username
	}

	return payload
}

func NewSosPayload(alert *models.SosAlert, owner *models.User) SosPayload {
	payload := SosPayload{
		AlertID:   alert.ID,
		UserID:    alert.UserID,
		Status:    alert.Status,
		Source:    alert.Source,
		Message:   alert.Message,
		Latitude:  alert.Latitude,
		Longitude: alert.Longitude,
	}

	if owner != nil {
		payload.Name = owner.FullName()
	}

	if alert.HasLocation() {
		payload.MapsLink = utils.MapsLink(*alert.Latitude, *alert.Longitude)
	}

	return payload
}
