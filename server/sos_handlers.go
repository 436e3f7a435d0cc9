package server

import (
	"fmt"
	"net/http"

	"github.com/Daskott/safeline/server/models"
	"github.com/Daskott/safeline/server/twilio"
	"github.com/gorilla/mux"
)

// triggerSos raises an alert right away. When the user already has an open
// alert, that alert is returned instead with a 200.
func triggerSos(rw http.ResponseWriter, r *http.Request) {
	data := sosRequest{}

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

	alert, created, err := sosDispatcher.TriggerNow(user, models.MANUAL_SOS_SOURCE, data.Message)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: alert}, createdStatus(created))
}

func startSosCountdown(rw http.ResponseWriter, r *http.Request) {
	data := countdownRequest{}

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

	alert, created, err := sosDispatcher.StartCountdown(user, data.Seconds, data.Message)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: alert}, createdStatus(created))
}

func cancelSos(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	alert, err := sosDispatcher.Cancel(user, mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: alert}, http.StatusOK)
}

func resolveSos(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	alert, err := sosDispatcher.Resolve(user, mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: alert}, http.StatusOK)
}

func fetchSosAlerts(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	alerts, paging, err := models.FetchSosAlerts(user.ID, pageFromRequest(r))
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: alerts, Paging: paging}, http.StatusOK)
}

func findSosAlert(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	alert, err := models.FindSosAlert(mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, err)
		return
	}

	if alert.UserID != user.ID {
		writeError(rw, models.ErrForbidden)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: alert}, http.StatusOK)
}

// smsWebhook handles texts sent to the service number, replies are TwiML
func smsWebhook(rw http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		writeErrMsgForSmsWebhook(rw, err)
		return
	}

	if !twilioClient.ValidateRequest(r.URL.RequestURI(), r.PostForm, r.Header.Get("X-Twilio-Signature")) {
		logg.Info("sms webhook: invalid twilio signature")
		writeSmsWebHookResponse(rw, nil, http.StatusForbidden)
		return
	}

	from, body := r.PostForm.Get("From"), r.PostForm.Get("Body")
	if from == "" {
		writeErrMsgForSmsWebhook(rw, fmt.Errorf("sms webhook: request has no 'From'"))
		return
	}

	reply, err := sosDispatcher.HandleSms(from, body)
	if err != nil {
		writeErrMsgForSmsWebhook(rw, err)
		return
	}

	twiML, err := twilio.TwiML(reply)
	if err != nil {
		writeErrMsgForSmsWebhook(rw, err)
		return
	}

	writeSmsWebHookResponse(rw, twiML, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
