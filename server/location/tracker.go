package location

import (
	"context"
	"time"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/server/models"
)

var DefaultStaleAfter = 10 * time.Minute

// Tracker stores live locations & fans them out to guardians
type Tracker struct {
	hub        *Hub
	relay      *RedisRelay
	staleAfter time.Duration
}

// NewTracker returns a tracker delivering through hub. relay is optional, when
// set events go through redis so every instance can deliver them.
func NewTracker(hub *Hub, relay *RedisRelay, staleAfter time.Duration) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	return &Tracker{hub: hub, relay: relay, staleAfter: staleAfter}
}

func (tracker *Tracker) Hub() *Hub {
	return tracker.hub
}

func (tracker *Tracker) StaleAfter() time.Duration {
	return tracker.staleAfter
}

// Update stores location as user's live location & notifies their guardians
func (tracker *Tracker) Update(user *models.User, location *models.LiveLocation) (*LocationPayload, error) {
	location.UserID = user.ID

	err := models.UpsertLiveLocation(location)
	if err != nil {
		return nil, err
	}

	if tracker.relay != nil {
		if err := tracker.relay.CacheLocation(context.Background(), location); err != nil {
			tracker.logError("failed to cache location: ", err)
		}
	}

	payload := NewLocationPayload(location, user, tracker.staleAfter)
	err = tracker.NotifyGuardians(user.ID, NewEvent(EventLocationUpdate, payload))
	if err != nil {
		return nil, err
	}

	return &payload, nil
}

// Stop ends location sharing for user. stopped is false when user wasn't sharing.
func (tracker *Tracker) Stop(user *models.User) (stopped bool, err error) {
	stopped, err = models.DeactivateLiveLocation(user.ID)
	if err != nil || !stopped {
		return stopped, err
	}

	if tracker.relay != nil {
		if err := tracker.relay.ForgetLocation(context.Background(), user.ID); err != nil {
			tracker.logError("failed to clear cached location: ", err)
		}
	}

	return true, tracker.notifyStopped(user.ID)
}

// WatchList returns the locations of everyone guardianID is a guardian of
func (tracker *Tracker) WatchList(guardianID uint) ([]LocationPayload, error) {
	locations, err := models.WatchedLocations(guardianID)
	if err != nil {
		return nil, err
	}

	payloads := []LocationPayload{}
	for i := range locations {
		owner := &models.User{
			FirstName: locations[i].FirstName,
			LastName:  locations[i].LastName,
			Username:  locations[i].Username,
		}
		payloads = append(payloads, NewLocationPayload(&locations[i].LiveLocation, owner, tracker.staleAfter))
	}

	return payloads, nil
}

// Snapshot is the first event a new websocket connection gets
func (tracker *Tracker) Snapshot(guardianID uint) (Event, error) {
	watchList, err := tracker.WatchList(guardianID)
	if err != nil {
		return Event{}, err
	}

	return NewEvent(EventSnapshot, watchList), nil
}

// Latest returns the last known location of userID, from the cache when possible
func (tracker *Tracker) Latest(userID uint) (*models.LiveLocation, error) {
	if tracker.relay != nil {
		location, err := tracker.relay.CachedLocation(context.Background(), userID)
		if err == nil {
			return location, nil
		}
	}

	return models.FindLiveLocation(userID)
}

// SweepStale is the job handler deactivating locations which stopped updating
func (tracker *Tracker) SweepStale(_ map[string]interface{}) error {
	stale, err := models.StaleLiveLocations(tracker.staleAfter)
	if err != nil {
		return err
	}

	userIDs, err := models.DeactivateLiveLocations(stale, tracker.staleAfter)
	if err != nil {
		return err
	}

	for _, userID := range userIDs {
		if err := tracker.notifyStopped(userID); err != nil {
			tracker.logError(err)
		}
	}

	if len(userIDs) > 0 {
		tracker.logInfof("marked %v stale location(s) inactive", len(userIDs))
	}
	return nil
}

// NotifyGuardians sends event to every guardian of userID
func (tracker *Tracker) NotifyGuardians(userID uint, event Event) error {
	guardianIDs, err := models.GuardianIDs(userID)
	if err != nil {
		return err
	}

	if len(guardianIDs) == 0 {
		return nil
	}

	tracker.deliver(guardianIDs, event)
	return nil
}

// NotifyUser sends event to userID's own connections
func (tracker *Tracker) NotifyUser(userID uint, event Event) {
	tracker.deliver([]uint{userID}, event)
}

func (tracker *Tracker) notifyStopped(userID uint) error {
	location, err := models.FindLiveLocation(userID)
	if err != nil {
		return err
	}

	owner, err := models.FindUserBy("id", userID)
	if err != nil {
		return err
	}

	payload := NewLocationPayload(location, owner, tracker.staleAfter)
	return tracker.NotifyGuardians(userID, NewEvent(EventLocationStopped, payload))
}

// deliver goes through the relay when there is one, falling back to the local
// hub if publishing fails
func (tracker *Tracker) deliver(userIDs []uint, event Event) {
	if tracker.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		err := tracker.relay.Publish(ctx, userIDs, event)
		if err == nil {
			return
		}
		tracker.logError("relay publish failed, delivering locally: ", err)
	}

	tracker.hub.SendToUsers(userIDs, event)
}

func (tracker *Tracker) logInfof(template string, args ...interface{}) {
	logg.Infof(colors.Prefix("tracker", colors.Green)+template, args...)
}

func (tracker *Tracker) logError(args ...interface{}) {
	logg.Error(append([]interface{}{colors.Prefix("tracker", colors.Red)}, args...)...)
}
