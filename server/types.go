package server

import (
	"github.com/Daskott/safeline/server/auth"
	"github.com/Daskott/safeline/server/models"
)

type RequestContextKey string

type ResponsePayload struct {
	Errors  []string       `json:"errors"`
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Paging  *models.Paging `json:"paging,omitempty"`
}

type DecodedJWT struct {
	ErrorMsg string
	Claims   *auth.SafelineTokenClaims
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type invitationRequest struct {
	Email        string `json:"email" validate:"omitempty,email"`
	Username     string `json:"username" validate:"omitempty,alphanum"`
	Relationship string `json:"relationship" validate:"max=40"`
}

type actionRequest struct {
	Action string `json:"action" validate:"required"`
}

type redeemRequest struct {
	Code string `json:"code" validate:"required,len=8,alphanum"`
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"required,min=-180,max=180"`
	Accuracy  float64  `json:"accuracy" validate:"min=0"`
	Address   string   `json:"address" validate:"max=255"`
}

type sosRequest struct {
	Message string `json:"message" validate:"max=280"`
}

type countdownRequest struct {
	Seconds int    `json:"seconds" validate:"min=0"`
	Message string `json:"message" validate:"max=280"`
}

type fakeCallRequest struct {
	// nil uses the user's configured delay
	DelayInSeconds *int `json:"delay_in_seconds" validate:"omitempty,min=0,max=3600"`
}

type fakeCallSchedule struct {
	Setting *models.FakeCallSetting `json:"setting"`
	RingsAt string                  `json:"rings_at"`
}
