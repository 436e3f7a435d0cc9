package models

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestUser(t *testing.T, username, phoneNumber string) *User {
	user := &User{
		FirstName:   "Jane",
		LastName:    username,
		Username:    username,
		PhoneNumber: phoneNumber,
		Email:       fmt.Sprintf("%v@safeline.test", username),
		Password:    "Passw0rd!",
	}

	require.Nil(t, CreateUser(user))
	return user
}

func TestCreateUser(t *testing.T) {
	InitializeTestDb()

	first := createTestUser(t, "jane", "(416) 555-0101")
	second := createTestUser(t, "john", "416.555.0102")

	t.Run("first user should be admin", func(t *testing.T) {
		isAdmin, err := first.IsAdmin()
		assert.Nil(t, err)
		assert.True(t, isAdmin)
	})

	t.Run("other users should not be admin", func(t *testing.T) {
		isAdmin, err := second.IsAdmin()
		assert.Nil(t, err)
		assert.False(t, isAdmin)
	})

	t.Run("phone number should be stored canonical", func(t *testing.T) {
		user, err := FindUserByPhone("+1 416 555 0101")
		assert.Nil(t, err)
		assert.Equal(t, first.ID, user.ID)
		assert.Equal(t, "+14165550101", user.PhoneNumber)
	})

	t.Run("duplicate phone number should fail", func(t *testing.T) {
		err := CreateUser(&User{
			FirstName:   "Dup",
			LastName:    "Licate",
			Username:    "dup",
			PhoneNumber: "4165550101",
			Email:       "dup@safeline.test",
			Password:    "Passw0rd!",
		})
		assert.ErrorIs(t, err, ErrDuplicateUser)
	})

	t.Run("user should get default fake call setting", func(t *testing.T) {
		setting, err := FindOrCreateFakeCallSetting(first.ID)
		assert.Nil(t, err)
		assert.Equal(t, DEFAULT_FAKE_CALLER_NAME, setting.CallerName)
		assert.Equal(t, DEFAULT_FAKE_CALL_DELAY, setting.DelayInSeconds)
	})
}

func TestDeleteUser(t *testing.T) {
	InitializeTestDb()

	owner := createTestUser(t, "owner", "4165550111")
	guardian := createTestUser(t, "guardian", "4165550112")

	invitation, err := SendInvitation(owner, "", guardian.Username, "sister")
	require.Nil(t, err)
	_, err = RespondToInvitation(guardian.ID, invitation.ID, AcceptAction)
	require.Nil(t, err)

	require.Nil(t, DeleteUser(guardian.ID))

	require.Nil(t, owner.LoadContacts())
	assert.Len(t, owner.Contacts, 1, "owner should keep the contact")
	assert.Nil(t, owner.Contacts[0].GuardianID, "guardian link should be removed")

	ids, err := GuardianIDs(owner.ID)
	assert.Nil(t, err)
	assert.Empty(t, ids)
}

func TestPaging(t *testing.T) {
	tests := []struct {
		name     string
		page     int
		pageSize int
		total    int64
		expected Paging
	}{
		{"empty result has one page", 1, 20, 0, Paging{Total: 0, Page: 1, Pages: 1}},
		{"partial last page", 2, 20, 41, Paging{Total: 41, Page: 2, Pages: 3}},
		{"page below 1 is treated as 1", 0, 20, 10, Paging{Total: 10, Page: 1, Pages: 1}},
		{"page size is capped", 1, 1000, 250, Paging{Total: 250, Page: 1, Pages: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, *newPaging(tt.page, tt.pageSize, tt.total))
		})
	}
}

func TestUpdateFakeCallDelay(t *testing.T) {
	InitializeTestDb()
	user := createTestUser(t, "caller", "4165550121")

	tests := []struct {
		name    string
		value   interface{}
		want    int
		wantErr error
	}{
		{"whole seconds", float64(30), 30, nil},
		{"whole seconds as a json number", json.Number("45"), 45, nil},
		{"exponent beyond the max is clamped", float64(1e+06), MAX_FAKE_CALL_DELAY, nil},
		{"zero", float64(0), 0, nil},
		{"fractional seconds", float64(12.5), 0, ErrInvalidFakeCallDelay},
		{"fractional json number", json.Number("12.5"), 0, ErrInvalidFakeCallDelay},
		{"negative seconds", float64(-5), 0, ErrInvalidFakeCallDelay},
		{"not a number", "soon", 0, ErrInvalidFakeCallDelay},
		{"boolean", true, 0, ErrInvalidFakeCallDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setting, err := UpdateFakeCallSetting(user.ID, map[string]interface{}{"delay_in_seconds": tt.value})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.Nil(t, err)
			assert.Equal(t, tt.want, setting.DelayInSeconds)
		})
	}
}
