package server

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Daskott/safeline/phone"
	"github.com/Daskott/safeline/server/auth"
	"github.com/Daskott/safeline/server/auth/key"
	"github.com/Daskott/safeline/server/fakecall"
	"github.com/Daskott/safeline/server/location"
	"github.com/Daskott/safeline/server/models"
	"github.com/Daskott/safeline/server/sos"
	"github.com/Daskott/safeline/server/twilio"
	"github.com/Daskott/safeline/server/work"
	"github.com/Daskott/safeline/shared"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testPayload struct {
	Errors  []string        `json:"errors"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Paging  *models.Paging  `json:"paging"`
}

var testKeyPair *key.KeyPair

// setupTestServer points the server at a fresh db & in process dependencies.
// Jobs are queued but no worker runs them.
func setupTestServer(t *testing.T) http.Handler {
	models.InitializeTestDb()

	if testKeyPair == nil {
		var err error
		testKeyPair, err = key.GenerateKeyPair(1024)
		require.Nil(t, err)
	}
	authKeyPair = testKeyPair

	workerPool, err := work.NewWorkerAdapter("UTC", 1)
	require.Nil(t, err)

	twilioClient = twilio.NewClient(shared.TwilioConfig{}, "", true)
	tracker = location.NewTracker(location.NewHub(), nil, time.Minute)
	sosDispatcher = sos.NewDispatcher(twilioClient, tracker, workerPool, shared.SosConfig{})
	fakeCallScheduler = fakecall.NewScheduler(tracker, workerPool)

	require.Nil(t, registerJobHandlers(workerPool, nil))

	return newRouter()
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}, token string) (*httptest.ResponseRecorder, testPayload) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.Nil(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	payload := testPayload{}
	if strings.Contains(rec.Header().Get("Content-Type"), "json") && rec.Body.Len() > 0 {
		require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	}

	return rec, payload
}

// createTestUser stores a user straight in the db & returns a token for them
func createTestUser(t *testing.T, username, phoneNumber string) (*models.User, string) {
	user := &models.User{
		FirstName:   strings.ToUpper(username[:1]) + username[1:],
		LastName:    "Tester",
		Username:    username,
		Email:       username + "@safeline.app",
		Password:    "very-secure",
		PhoneNumber: phoneNumber,
	}
	require.Nil(t, models.CreateUser(user))

	isAdmin, err := user.IsAdmin()
	require.Nil(t, err)

	token, err := auth.EncodeJWT(
		auth.NewClaims(fmt.Sprintf("%v", user.ID), user.FirstName, user.LastName, user.Username, isAdmin),
		authKeyPair,
	)
	require.Nil(t, err)

	return user, token
}

// smsReply returns the message of a TwiML response
func smsReply(t *testing.T, rec *httptest.ResponseRecorder) string {
	response := struct {
		XMLName xml.Name `xml:"Response"`
		Message string   `xml:"Message"`
	}{}
	require.Nil(t, xml.Unmarshal(rec.Body.Bytes(), &response), rec.Body.String())
	return response.Message
}

func userPath(user *models.User, path string) string {
	return fmt.Sprintf("/v1/users/%v%v", user.ID, path)
}

func TestCreateUser(t *testing.T) {
	router := setupTestServer(t)

	newUser := map[string]interface{}{
		"first_name":   "Tony",
		"last_name":    "Stark",
		"username":     "ironman",
		"email":        "tony@avengers.com",
		"password":     "very-secure",
		"phone_number": "(647) 555-0100",
	}

	t.Run("first user should be created without a token", func(t *testing.T) {
		rec, payload := doRequest(t, router, "POST", "/v1/users", newUser, "")
		assert.Equal(t, http.StatusCreated, rec.Code, payload.Errors)

		admin, err := models.FindUserBy("username", "ironman")
		require.Nil(t, err)
		assert.Equal(t, "+16475550100", admin.PhoneNumber)

		isAdmin, err := admin.IsAdmin()
		assert.Nil(t, err)
		assert.True(t, isAdmin)
	})

	t.Run("second user should need an admin token", func(t *testing.T) {
		rec, _ := doRequest(t, router, "POST", "/v1/users", map[string]interface{}{
			"first_name":   "Peter",
			"last_name":    "Parker",
			"username":     "spidey",
			"email":        "peter@avengers.com",
			"password":     "very-secure",
			"phone_number": "6475550101",
		}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	_, basicToken := createTestUser(t, "hulk", "6475550102")
	admin, err := models.FindUserBy("username", "ironman")
	require.Nil(t, err)
	adminToken, err := auth.EncodeJWT(auth.NewClaims(fmt.Sprintf("%v", admin.ID), "", "", "", true), authKeyPair)
	require.Nil(t, err)

	tests := []struct {
		name       string
		user       map[string]interface{}
		token      string
		wantStatus int
	}{
		{
			name:       "basic user should not create users",
			user:       map[string]interface{}{"first_name": "a", "last_name": "b", "username": "abc", "email": "a@b.com", "password": "very-secure", "phone_number": "6475550103"},
			token:      basicToken,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "invalid phone number should be rejected",
			user:       map[string]interface{}{"first_name": "a", "last_name": "b", "username": "abc", "email": "a@b.com", "password": "very-secure", "phone_number": "555"},
			token:      adminToken,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "password with spaces should be rejected",
			user:       map[string]interface{}{"first_name": "a", "last_name": "b", "username": "abc", "email": "a@b.com", "password": "very secure", "phone_number": "6475550103"},
			token:      adminToken,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "duplicate email should conflict",
			user:       map[string]interface{}{"first_name": "a", "last_name": "b", "username": "abc", "email": "tony@avengers.com", "password": "very-secure", "phone_number": "6475550103"},
			token:      adminToken,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "admin should create users",
			user:       map[string]interface{}{"first_name": "a", "last_name": "b", "username": "abc", "email": "a@b.com", "password": "very-secure", "phone_number": "6475550103"},
			token:      adminToken,
			wantStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, payload := doRequest(t, router, "POST", "/v1/users", tt.user, tt.token)
			assert.Equal(t, tt.wantStatus, rec.Code, payload.Errors)
		})
	}
}

func TestLogIn(t *testing.T) {
	router := setupTestServer(t)
	user, _ := createTestUser(t, "natasha", "6475550110")

	tests := []struct {
		name       string
		body       map[string]string
		wantStatus int
	}{
		{"wrong password should be unauthorized", map[string]string{"email": user.Email, "password": "wrong-password"}, http.StatusUnauthorized},
		{"unknown email should be unauthorized", map[string]string{"email": "nobody@safeline.app", "password": "very-secure"}, http.StatusUnauthorized},
		{"missing email should be a bad request", map[string]string{"password": "very-secure"}, http.StatusBadRequest},
		{"valid credentials should log in", map[string]string{"email": strings.ToUpper(user.Email), "password": "very-secure"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := doRequest(t, router, "POST", "/v1/login", tt.body, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	t.Run("token from login should open the user's resources", func(t *testing.T) {
		_, payload := doRequest(t, router, "POST", "/v1/login", map[string]string{"email": user.Email, "password": "very-secure"}, "")

		data := map[string]string{}
		require.Nil(t, json.Unmarshal(payload.Data, &data))

		claims, err := auth.DecodeJWT(data["token"], authKeyPair)
		require.Nil(t, err)
		assert.Equal(t, fmt.Sprintf("%v", user.ID), claims.Subject)
		assert.True(t, claims.IsAdmin, "first user should be admin")

		rec, _ := doRequest(t, router, "GET", userPath(user, ""), nil, data["token"])
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("jwks should expose the signing key", func(t *testing.T) {
		rec, payload := doRequest(t, router, "GET", "/v1/jwks", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, string(payload.Data), authKeyPair.Kid)
	})
}

func TestUserAccess(t *testing.T) {
	router := setupTestServer(t)
	admin, adminToken := createTestUser(t, "fury", "6475550120")
	user, userToken := createTestUser(t, "clint", "6475550121")
	other, _ := createTestUser(t, "wanda", "6475550122")

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{"no token should be unauthorized", "GET", userPath(user, ""), "", http.StatusUnauthorized},
		{"garbage token should be unauthorized", "GET", userPath(user, ""), "not-a-jwt", http.StatusUnauthorized},
		{"user should read own record", "GET", userPath(user, ""), userToken, http.StatusOK},
		{"user should not read other users", "GET", userPath(other, ""), userToken, http.StatusForbidden},
		{"admin should read other users", "GET", userPath(user, ""), adminToken, http.StatusOK},
		{"admin should not read other users' contacts", "GET", userPath(user, "/contacts"), adminToken, http.StatusForbidden},
		{"admin should not update other users", "PUT", userPath(user, ""), adminToken, http.StatusForbidden},
		{"basic user should not list jobs", "GET", "/v1/jobs", userToken, http.StatusForbidden},
		{"admin should list jobs", "GET", "/v1/jobs", adminToken, http.StatusOK},
		{"admin should get job stats", "GET", "/v1/jobs/stats", adminToken, http.StatusOK},
		{"unknown job status should be a bad request", "GET", "/v1/jobs?status=lost", adminToken, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := doRequest(t, router, tt.method, tt.path, nil, tt.token)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	t.Run("password should never be returned", func(t *testing.T) {
		_, payload := doRequest(t, router, "GET", userPath(admin, ""), nil, adminToken)
		assert.NotContains(t, string(payload.Data), "very-secure")
		assert.NotContains(t, string(payload.Data), "\"password\":\"$")
	})
}

func TestUpdateAndDeleteUser(t *testing.T) {
	router := setupTestServer(t)
	user, token := createTestUser(t, "steve", "6475550130")
	_, _ = createTestUser(t, "bucky", "6475550131")

	tests := []struct {
		name       string
		body       map[string]interface{}
		wantStatus int
	}{
		{"unknown fields only should be a bad request", map[string]interface{}{"role_id": 1}, http.StatusBadRequest},
		{"empty first name should be a bad request", map[string]interface{}{"first_name": " "}, http.StatusBadRequest},
		{"invalid phone should be a bad request", map[string]interface{}{"phone_number": "12"}, http.StatusBadRequest},
		{"phone of another user should conflict", map[string]interface{}{"phone_number": "647-555-0131"}, http.StatusConflict},
		{"valid fields should update", map[string]interface{}{"first_name": "Cap", "phone_number": "647.555.0139"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, payload := doRequest(t, router, "PUT", userPath(user, ""), tt.body, token)
			assert.Equal(t, tt.wantStatus, rec.Code, payload.Errors)
		})
	}

	t.Run("update should be stored canonically", func(t *testing.T) {
		updated, err := models.FindUserBy("id", user.ID)
		require.Nil(t, err)
		assert.Equal(t, "Cap", updated.FirstName)
		assert.Equal(t, "+16475550139", updated.PhoneNumber)
	})

	t.Run("deleted user's token should stop working", func(t *testing.T) {
		rec, _ := doRequest(t, router, "DELETE", userPath(user, ""), nil, token)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec, _ = doRequest(t, router, "GET", userPath(user, ""), nil, token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestContactRoutes(t *testing.T) {
	router := setupTestServer(t)
	user, token := createTestUser(t, "thor", "6475550140")

	var firstID, secondID uint

	t.Run("first contact should become primary", func(t *testing.T) {
		rec, payload := doRequest(t, router, "POST", userPath(user, "/contacts"), map[string]interface{}{
			"name": "Odin", "phone_number": "416 555 0100", "relationship": "father",
		}, token)
		require.Equal(t, http.StatusCreated, rec.Code, payload.Errors)

		contact := models.EmergencyContact{}
		require.Nil(t, json.Unmarshal(payload.Data, &contact))
		assert.True(t, contact.IsPrimary)
		assert.Equal(t, "+14165550100", contact.PhoneNumber)
		firstID = contact.ID
	})

	t.Run("guardian id in the body should be ignored", func(t *testing.T) {
		rec, payload := doRequest(t, router, "POST", userPath(user, "/contacts"), map[string]interface{}{
			"name": "Loki", "phone_number": "4165550101", "guardian_id": 1,
		}, token)
		require.Equal(t, http.StatusCreated, rec.Code, payload.Errors)

		contact := models.EmergencyContact{}
		require.Nil(t, json.Unmarshal(payload.Data, &contact))
		assert.Nil(t, contact.GuardianID)
		assert.False(t, contact.IsPrimary)
		secondID = contact.ID
	})

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
	}{
		{"same number in another format should conflict", "POST", "/contacts", map[string]interface{}{"name": "Frigga", "phone_number": "+1 (416) 555-0100"}, http.StatusConflict},
		{"missing name should be a bad request", "POST", "/contacts", map[string]interface{}{"phone_number": "4165550109"}, http.StatusBadRequest},
		{"long relationship should be a bad request", "PUT", fmt.Sprintf("/contacts/%v", firstID), map[string]interface{}{"relationship": strings.Repeat("a", 41)}, http.StatusBadRequest},
		{"update of a missing contact should be not found", "PUT", "/contacts/9999", map[string]interface{}{"name": "Nobody"}, http.StatusNotFound},
		{"set primary should succeed", "PUT", fmt.Sprintf("/contacts/%v/primary", secondID), nil, http.StatusOK},
		{"delete of a missing contact should be not found", "DELETE", "/contacts/9999", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, payload := doRequest(t, router, tt.method, userPath(user, tt.path), tt.body, token)
			assert.Equal(t, tt.wantStatus, rec.Code, payload.Errors)
		})
	}

	t.Run("list should show the primary contact first", func(t *testing.T) {
		rec, payload := doRequest(t, router, "GET", userPath(user, "/contacts"), nil, token)
		require.Equal(t, http.StatusOK, rec.Code)

		contacts := []models.EmergencyContact{}
		require.Nil(t, json.Unmarshal(payload.Data, &contacts))
		require.Len(t, contacts, 2)
		assert.Equal(t, secondID, contacts[0].ID)
		assert.True(t, contacts[0].IsPrimary)
		assert.False(t, contacts[1].IsPrimary)
	})

	t.Run("deleting the primary contact should promote the other", func(t *testing.T) {
		rec, _ := doRequest(t, router, "DELETE", userPath(user, fmt.Sprintf("/contacts/%v", secondID)), nil, token)
		require.Equal(t, http.StatusOK, rec.Code)

		primary, err := user.PrimaryContact()
		require.Nil(t, err)
		assert.Equal(t, firstID, primary.ID)
	})
}

func TestInvitationRoutes(t *testing.T) {
	router := setupTestServer(t)
	sender, senderToken := createTestUser(t, "pepper", "6475550150")
	recipient, recipientToken := createTestUser(t, "happy", "6475550151")

	var invitation models.Invitation

	t.Run("send should text the recipient their code", func(t *testing.T) {
		rec, payload := doRequest(t, router, "POST", userPath(sender, "/invitations"), map[string]interface{}{
			"username": recipient.Username, "relationship": "friend",
		}, senderToken)
		require.Equal(t, http.StatusCreated, rec.Code, payload.Errors)
		require.Nil(t, json.Unmarshal(payload.Data, &invitation))

		assert.Equal(t, models.PENDING_INVITATION, invitation.Status)
		assert.Len(t, invitation.Code, models.INVITE_CODE_LENGTH)
		assert.Empty(t, invitation.Recipient.PhoneNumber, "recipient phone should not be exposed")

		messages := twilioClient.SentMessages()
		require.Len(t, messages, 1)
		assert.Equal(t, recipient.PhoneNumber, messages[0].To)
		assert.Contains(t, messages[0].Body, invitation.Code)
	})

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		token      string
		wantStatus int
	}{
		{"second open invitation should conflict", "POST", userPath(sender, "/invitations"), map[string]interface{}{"email": recipient.Email}, senderToken, http.StatusConflict},
		{"self invitation should be a bad request", "POST", userPath(sender, "/invitations"), map[string]interface{}{"email": sender.Email}, senderToken, http.StatusBadRequest},
		{"missing recipient should be a bad request", "POST", userPath(sender, "/invitations"), map[string]interface{}{}, senderToken, http.StatusBadRequest},
		{"unknown recipient should be not found", "POST", userPath(sender, "/invitations"), map[string]interface{}{"username": "ghost"}, senderToken, http.StatusNotFound},
		{"unknown status filter should be a bad request", "GET", userPath(sender, "/invitations?status=lost"), nil, senderToken, http.StatusBadRequest},
		{"unknown action should be a bad request", "PUT", userPath(recipient, fmt.Sprintf("/invitations/%v", invitation.ID)), map[string]string{"action": "snooze"}, recipientToken, http.StatusBadRequest},
		{"sender should not accept own invitation", "PUT", userPath(sender, fmt.Sprintf("/invitations/%v", invitation.ID)), map[string]string{"action": "accept"}, senderToken, http.StatusForbidden},
		{"recipient should not cancel", "PUT", userPath(recipient, fmt.Sprintf("/invitations/%v", invitation.ID)), map[string]string{"action": "cancel"}, recipientToken, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, payload := doRequest(t, router, tt.method, tt.path, tt.body, tt.token)
			assert.Equal(t, tt.wantStatus, rec.Code, payload.Errors)
		})
	}

	t.Run("recipient should see the invitation as received", func(t *testing.T) {
		rec, payload := doRequest(t, router, "GET", userPath(recipient, "/invitations?status=pending"), nil, recipientToken)
		require.Equal(t, http.StatusOK, rec.Code)

		invitations := []models.Invitation{}
		require.Nil(t, json.Unmarshal(payload.Data, &invitations))
		require.Len(t, invitations, 1)
		assert.Equal(t, invitation.ID, invitations[0].ID)
		assert.Equal(t, int64(1), payload.Paging.Total)
	})

	t.Run("resend should text a new code", func(t *testing.T) {
		rec, payload := doRequest(t, router, "PUT", userPath(sender, fmt.Sprintf("/invitations/%v", invitation.ID)),
			map[string]string{"action": "resend"}, senderToken)
		require.Equal(t, http.StatusOK, rec.Code, payload.Errors)

		resent := models.Invitation{}
		require.Nil(t, json.Unmarshal(payload.Data, &resent))
		assert.Equal(t, 1, resent.ResendCount)

		messages := twilioClient.SentMessages()
		require.Len(t, messages, 2)
		assert.Contains(t, messages[1].Body, resent.Code)
		invitation = resent
	})

	t.Run("redeeming the code should link the guardian", func(t *testing.T) {
		rec, payload := doRequest(t, router, "POST", userPath(recipient, "/invitations/redeem"),
			map[string]string{"code": strings.ToLower(invitation.Code)}, recipientToken)
		require.Equal(t, http.StatusOK, rec.Code, payload.Errors)

		isGuardian, err := models.IsGuardianOf(recipient.ID, sender.ID)
		assert.Nil(t, err)
		assert.True(t, isGuardian)
	})

	t.Run("accepting twice should conflict", func(t *testing.T) {
		rec, _ := doRequest(t, router, "PUT", userPath(recipient, fmt.Sprintf("/invitations/%v", invitation.ID)),
			map[string]string{"action": "accept"}, recipientToken)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("others should not see the invitation", func(t *testing.T) {
		outsider, outsiderToken := createTestUser(t, "rhodey", "6475550152")
		rec, _ := doRequest(t, router, "GET", userPath(outsider, fmt.Sprintf("/invitations/%v", invitation.ID)), nil, outsiderToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestLocationRoutes(t *testing.T) {
	router := setupTestServer(t)
	owner, ownerToken := createTestUser(t, "gamora", "6475550160")
	guardian, guardianToken := createTestUser(t, "nebula", "6475550161")

	guardianID := guardian.ID
	require.Nil(t, owner.AddContact(&models.EmergencyContact{Name: "Nebula", PhoneNumber: guardian.PhoneNumber, GuardianID: &guardianID}))

	tests := []struct {
		name       string
		body       map[string]interface{}
		wantStatus int
	}{
		{"missing longitude should be a bad request", map[string]interface{}{"latitude": 43.6}, http.StatusBadRequest},
		{"latitude out of range should be a bad request", map[string]interface{}{"latitude": 91.0, "longitude": -79.3}, http.StatusBadRequest},
		{"zero coordinates should be accepted", map[string]interface{}{"latitude": 0.0, "longitude": 0.0}, http.StatusOK},
		{"valid location should be accepted", map[string]interface{}{"latitude": 43.6532, "longitude": -79.3832, "address": "Toronto"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, payload := doRequest(t, router, "PUT", userPath(owner, "/location"), tt.body, ownerToken)
			assert.Equal(t, tt.wantStatus, rec.Code, payload.Errors)
		})
	}

	t.Run("guardian should see the owner in their watch list", func(t *testing.T) {
		rec, payload := doRequest(t, router, "GET", userPath(guardian, "/watching"), nil, guardianToken)
		require.Equal(t, http.StatusOK, rec.Code)

		watchList := []location.LocationPayload{}
		require.Nil(t, json.Unmarshal(payload.Data, &watchList))
		require.Len(t, watchList, 1)
		assert.Equal(t, owner.ID, watchList[0].UserID)
		assert.Equal(t, "Toronto", watchList[0].Address)
		assert.False(t, watchList[0].Stale)
	})

	t.Run("owner should read their latest location", func(t *testing.T) {
		rec, _ := doRequest(t, router, "GET", userPath(owner, "/location"), nil, ownerToken)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec, _ = doRequest(t, router, "GET", userPath(guardian, "/location"), nil, guardianToken)
		assert.Equal(t, http.StatusNotFound, rec.Code, "guardian never shared a location")
	})

	t.Run("stop should only report stopped once", func(t *testing.T) {
		_, payload := doRequest(t, router, "DELETE", userPath(owner, "/location"), nil, ownerToken)
		assert.JSONEq(t, `{"stopped": true}`, string(payload.Data))

		_, payload = doRequest(t, router, "DELETE", userPath(owner, "/location"), nil, ownerToken)
		assert.JSONEq(t, `{"stopped": false}`, string(payload.Data))
	})
}

func TestLiveConnection(t *testing.T) {
	router := setupTestServer(t)
	owner, ownerToken := createTestUser(t, "groot", "6475550170")
	guardian, guardianToken := createTestUser(t, "rocket", "6475550171")

	guardianID := guardian.ID
	require.Nil(t, owner.AddContact(&models.EmergencyContact{Name: "Rocket", PhoneNumber: guardian.PhoneNumber, GuardianID: &guardianID}))

	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + userPath(guardian, "/live") + "?access_token=" + url.QueryEscape(guardianToken)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Nil(t, err)
	defer conn.Close()

	readEvent := func() location.Event {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		event := location.Event{}
		require.Nil(t, conn.ReadJSON(&event))
		return event
	}

	t.Run("first event should be a snapshot", func(t *testing.T) {
		assert.Equal(t, location.EventSnapshot, readEvent().Type)
	})

	t.Run("owner's update should reach the guardian", func(t *testing.T) {
		rec, _ := doRequest(t, router, "PUT", userPath(owner, "/location"), map[string]interface{}{
			"latitude": 51.5, "longitude": -0.12,
		}, ownerToken)
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, location.EventLocationUpdate, readEvent().Type)
	})

	t.Run("owner's sos should reach the guardian", func(t *testing.T) {
		rec, _ := doRequest(t, router, "POST", userPath(owner, "/sos"), nil, ownerToken)
		require.Equal(t, http.StatusCreated, rec.Code)

		assert.Equal(t, location.EventSosTriggered, readEvent().Type)
	})

	t.Run("connection without a token should be refused", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+userPath(guardian, "/live"), nil)
		assert.NotNil(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestSosRoutes(t *testing.T) {
	router := setupTestServer(t)
	user, token := createTestUser(t, "carol", "6475550180")
	require.Nil(t, user.AddContact(&models.EmergencyContact{Name: "Maria", PhoneNumber: "4165550180"}))

	var alert models.SosAlert

	t.Run("trigger should raise an active alert & queue delivery", func(t *testing.T) {
		rec, payload := doRequest(t, router, "POST", userPath(user, "/sos"), map[string]string{"message": "help"}, token)
		require.Equal(t, http.StatusCreated, rec.Code, payload.Errors)
		require.Nil(t, json.Unmarshal(payload.Data, &alert))
		assert.Equal(t, models.ACTIVE_SOS, alert.Status)

		stats, err := models.CurrentJobsStats()
		require.Nil(t, err)
		assert.Equal(t, int64(1), stats.EnqueuedJobCount)
	})

	t.Run("second trigger should return the open alert", func(t *testing.T) {
		rec, payload := doRequest(t, router, "POST", userPath(user, "/sos"), nil, token)
		require.Equal(t, http.StatusOK, rec.Code)

		existing := models.SosAlert{}
		require.Nil(t, json.Unmarshal(payload.Data, &existing))
		assert.Equal(t, alert.ID, existing.ID)
	})

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
	}{
		{"cancel of an active alert should conflict", "PUT", fmt.Sprintf("/sos/%v/cancel", alert.ID), nil, http.StatusConflict},
		{"resolve of a missing alert should be not found", "PUT", "/sos/9999/resolve", nil, http.StatusNotFound},
		{"resolve should close the alert", "PUT", fmt.Sprintf("/sos/%v/resolve", alert.ID), nil, http.StatusOK},
		{"second resolve should conflict", "PUT", fmt.Sprintf("/sos/%v/resolve", alert.ID), nil, http.StatusConflict},
		{"countdown above the max should be a bad request", "POST", "/sos/countdown", map[string]int{"seconds": 500}, http.StatusBadRequest},
		{"negative countdown should be a bad request", "POST", "/sos/countdown", map[string]int{"seconds": -1}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, payload := doRequest(t, router, tt.method, userPath(user, tt.path), tt.body, token)
			assert.Equal(t, tt.wantStatus, rec.Code, payload.Errors)
		})
	}

	t.Run("countdown should be cancellable", func(t *testing.T) {
		rec, payload := doRequest(t, router, "POST", userPath(user, "/sos/countdown"), map[string]int{"seconds": 30}, token)
		require.Equal(t, http.StatusCreated, rec.Code, payload.Errors)

		countdown := models.SosAlert{}
		require.Nil(t, json.Unmarshal(payload.Data, &countdown))
		assert.Equal(t, models.COUNTDOWN_SOS, countdown.Status)
		require.NotNil(t, countdown.TriggerAt)

		rec, payload = doRequest(t, router, "PUT", userPath(user, fmt.Sprintf("/sos/%v/cancel", countdown.ID)), nil, token)
		require.Equal(t, http.StatusOK, rec.Code, payload.Errors)

		cancelled := models.SosAlert{}
		require.Nil(t, json.Unmarshal(payload.Data, &cancelled))
		assert.Equal(t, models.CANCELLED_SOS, cancelled.Status)
	})

	t.Run("history should list every alert", func(t *testing.T) {
		rec, payload := doRequest(t, router, "GET", userPath(user, "/sos"), nil, token)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(2), payload.Paging.Total)
	})

	t.Run("other users should not read the alert", func(t *testing.T) {
		other, otherToken := createTestUser(t, "monica", "6475550181")
		rec, _ := doRequest(t, router, "GET", userPath(other, fmt.Sprintf("/sos/%v", alert.ID)), nil, otherToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestSmsWebhook(t *testing.T) {
	router := setupTestServer(t)
	user, _ := createTestUser(t, "scott", "6475550190")

	sendSms := func(from, body string) *httptest.ResponseRecorder {
		form := url.Values{"From": {from}, "Body": {body}}
		req := httptest.NewRequest("POST", "/v1/sms", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	tests := []struct {
		name      string
		from      string
		body      string
		wantReply string
	}{
		{"unknown number should be told it isn't linked", "+442071838750", "SOS", sos.UNKNOWN_SENDER_REPLY},
		{"sos from the user should raise an alert", user.PhoneNumber, " sos ", "Alert sent"},
		{"second sos should mention the open alert", user.PhoneNumber, "SOS", "already have an open alert"},
		{"safe should resolve the alert", user.PhoneNumber, "Safe", "Glad you're safe"},
		{"anything else should get help", user.PhoneNumber, "hello?", "Text SOS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sendSms(tt.from, tt.body)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Header().Get("Content-Type"), "xml")
			assert.Contains(t, smsReply(t, rec), tt.wantReply)
		})
	}

	t.Run("sms alert should be recorded with its source", func(t *testing.T) {
		alerts, _, err := models.FetchSosAlerts(user.ID, 1)
		require.Nil(t, err)
		require.Len(t, alerts, 1)
		assert.Equal(t, models.SMS_SOS_SOURCE, alerts[0].Source)
		assert.Equal(t, models.RESOLVED_SOS, alerts[0].Status)
	})

	t.Run("missing sender should get the error reply", func(t *testing.T) {
		rec := sendSms("", "SOS")
		assert.Equal(t, SMS_APPLICATION_ERROR_REPLY, smsReply(t, rec))
	})

	t.Run("unsigned sms should be refused outside dev mode", func(t *testing.T) {
		devClient := twilioClient
		twilioClient = twilio.NewClient(shared.TwilioConfig{}, "", false)
		defer func() { twilioClient = devClient }()

		rec := sendSms(user.PhoneNumber, "SOS")
		assert.Equal(t, http.StatusForbidden, rec.Code)

		_, err := models.ActiveSosAlert(user.ID)
		assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	})
}

func TestFakeCallRoutes(t *testing.T) {
	router := setupTestServer(t)
	user, token := createTestUser(t, "bruce", "6475550200")

	t.Run("new user should get the default setting", func(t *testing.T) {
		rec, payload := doRequest(t, router, "GET", userPath(user, "/fake-call"), nil, token)
		require.Equal(t, http.StatusOK, rec.Code)

		setting := models.FakeCallSetting{}
		require.Nil(t, json.Unmarshal(payload.Data, &setting))
		assert.Equal(t, models.DEFAULT_FAKE_CALLER_NAME, setting.CallerName)
		assert.Equal(t, models.DEFAULT_FAKE_CALL_DELAY, setting.DelayInSeconds)
	})

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
	}{
		{"unknown fields only should be a bad request", "PUT", "/fake-call", map[string]interface{}{"user_id": 2}, http.StatusBadRequest},
		{"negative delay should be a bad request", "PUT", "/fake-call", map[string]interface{}{"delay_in_seconds": -5}, http.StatusBadRequest},
		{"valid update should succeed", "PUT", "/fake-call", map[string]interface{}{"caller_name": "Boss", "delay_in_seconds": 30}, http.StatusOK},
		{"schedule with the configured delay should be accepted", "POST", "/fake-call/schedule", nil, http.StatusAccepted},
		{"schedule right away should be accepted", "POST", "/fake-call/schedule", map[string]int{"delay_in_seconds": 0}, http.StatusAccepted},
		{"schedule past the max delay should be a bad request", "POST", "/fake-call/schedule", map[string]int{"delay_in_seconds": 4000}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, payload := doRequest(t, router, tt.method, userPath(user, tt.path), tt.body, token)
			assert.Equal(t, tt.wantStatus, rec.Code, payload.Errors)
		})
	}

	t.Run("scheduled calls should be queued", func(t *testing.T) {
		stats, err := models.CurrentJobsStats()
		require.Nil(t, err)
		assert.Equal(t, int64(1), stats.ScheduledJobCount)
		assert.Equal(t, int64(1), stats.EnqueuedJobCount)
	})
}

func TestStatusCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("lookup: %w", gorm.ErrRecordNotFound), http.StatusNotFound},
		{"forbidden", models.ErrForbidden, http.StatusForbidden},
		{"duplicate contact", models.ErrDuplicateContact, http.StatusConflict},
		{"invalid transition", models.ErrInvalidTransition, http.StatusConflict},
		{"invalid countdown", fmt.Errorf("%w: too long", sos.ErrInvalidCountdown), http.StatusBadRequest},
		{"phone in an unknown format", phone.ErrUnknownFormat, http.StatusBadRequest},
		{"invalid country code", phone.ErrInvalidCountryCode, http.StatusBadRequest},
		{"unknown error", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusCodeForError(tt.err))
		})
	}
}
