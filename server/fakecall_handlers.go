package server

import (
	"net/http"
	"time"

	"github.com/Daskott/safeline/server/models"
)

func findFakeCallSetting(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	setting, err := models.FindOrCreateFakeCallSetting(user.ID)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: setting}, http.StatusOK)
}

func updateFakeCallSetting(rw http.ResponseWriter, r *http.Request) {
	data := make(map[string]interface{})

	err := decodeBody(r, &data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	removeUnknownFields(data, map[string]bool{"caller_name": true, "caller_number": true, "delay_in_seconds": true, "ringtone": true})
	if len(data) <= 0 {
		writeResponse(rw,
			ResponsePayload{Errors: []string{"valid fields required"}},
			http.StatusBadRequest,
		)
		return
	}

	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	setting, err := models.UpdateFakeCallSetting(user.ID, data)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: setting}, http.StatusOK)
}

// scheduleFakeCall rings the user's devices after delay_in_seconds, or after
// their configured delay when it's left out
func scheduleFakeCall(rw http.ResponseWriter, r *http.Request) {
	data := fakeCallRequest{}

	err := decodeBody(r, &data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(data)
	if errs != nil {
		writeValidationErrors(rw, errs)
		return
	}

	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	delay := -1
	if data.DelayInSeconds != nil {
		delay = *data.DelayInSeconds
	}

	setting, ringsAt, err := fakeCallScheduler.Schedule(user.ID, delay)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    fakeCallSchedule{Setting: setting, RingsAt: ringsAt.Format(time.RFC3339)},
	}, http.StatusAccepted)
}
