package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOpenSosAlert(t *testing.T) {
	InitializeTestDb()

	user := createTestUser(t, "jane", "4165550101")

	countdown, created, err := OpenSosAlert(&SosAlert{UserID: user.ID, Status: COUNTDOWN_SOS, Source: COUNTDOWN_SOS_SOURCE})
	require.Nil(t, err)
	assert.True(t, created)

	t.Run("second alert while one is open should return the open alert", func(t *testing.T) {
		existing, created, err := OpenSosAlert(&SosAlert{UserID: user.ID, Status: ACTIVE_SOS, Source: MANUAL_SOS_SOURCE})
		assert.Nil(t, err)
		assert.False(t, created)
		assert.Equal(t, countdown.ID, existing.ID)
	})

	t.Run("resolve of an alert in countdown should fail", func(t *testing.T) {
		err := ResolveSosAlert(user.ID, countdown.ID)
		assert.ErrorIs(t, err, ErrInvalidAlertStatus)
	})

	t.Run("cancel of another user's alert should not be found", func(t *testing.T) {
		err := CancelSosAlert(user.ID+100, countdown.ID)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})

	t.Run("cancelled countdown should not activate", func(t *testing.T) {
		require.Nil(t, CancelSosAlert(user.ID, countdown.ID))

		activated, err := ActivateSosCountdown(countdown.ID)
		assert.Nil(t, err)
		assert.False(t, activated)
	})

	t.Run("new alert can be opened after cancel", func(t *testing.T) {
		alert, created, err := OpenSosAlert(&SosAlert{UserID: user.ID, Status: ACTIVE_SOS, Source: MANUAL_SOS_SOURCE})
		assert.Nil(t, err)
		assert.True(t, created)
		assert.NotNil(t, alert.TriggeredAt)

		require.Nil(t, ResolveSosAlert(user.ID, alert.ID))
		resolved, err := FindSosAlert(alert.ID)
		assert.Nil(t, err)
		assert.Equal(t, RESOLVED_SOS, resolved.Status)
		assert.NotNil(t, resolved.ResolvedAt)
	})

	t.Run("history should list all alerts", func(t *testing.T) {
		alerts, paging, err := FetchSosAlerts(user.ID, 1)
		assert.Nil(t, err)
		assert.Len(t, alerts, 2)
		assert.Equal(t, int64(2), paging.Total)
	})
}

func TestSosNotifications(t *testing.T) {
	InitializeTestDb()

	user := createTestUser(t, "jane", "4165550101")
	mom := &EmergencyContact{Name: "Mom", PhoneNumber: "4165550201"}
	dad := &EmergencyContact{Name: "Dad", PhoneNumber: "4165550202"}
	require.Nil(t, user.AddContact(mom))
	require.Nil(t, user.AddContact(dad))

	alert, _, err := OpenSosAlert(&SosAlert{UserID: user.ID, Status: ACTIVE_SOS, Source: MANUAL_SOS_SOURCE})
	require.Nil(t, err)

	require.Nil(t, RecordSosNotification(alert.ID, *mom, nil))
	require.Nil(t, RecordSosNotification(alert.ID, *dad, errors.New("carrier unavailable")))

	t.Run("only successful deliveries count as delivered", func(t *testing.T) {
		delivered, err := DeliveredContactIDs(alert.ID)
		assert.Nil(t, err)
		assert.True(t, delivered[mom.ID])
		assert.False(t, delivered[dad.ID])
	})

	t.Run("retry should update the same notification", func(t *testing.T) {
		require.Nil(t, RecordSosNotification(alert.ID, *dad, nil))

		found, err := FindSosAlert(alert.ID)
		assert.Nil(t, err)
		require.Len(t, found.Notifications, 2)
		for _, notification := range found.Notifications {
			assert.True(t, notification.Delivered)
			assert.Empty(t, notification.LastError)
			if notification.ContactID == dad.ID {
				assert.Equal(t, 2, notification.Attempts)
			}
		}
	})

	t.Run("reply from a contact should acknowledge the alert", func(t *testing.T) {
		acknowledged, err := AcknowledgeSosNotification("+1 416 555 0201")
		require.Nil(t, err)
		assert.Equal(t, alert.ID, acknowledged.ID)

		_, err = AcknowledgeSosNotification("+1 416 555 0201")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound, "nothing left to acknowledge")
	})

	t.Run("reply from an unknown number should not be found", func(t *testing.T) {
		_, err := AcknowledgeSosNotification("4165559999")
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}
