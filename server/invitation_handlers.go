package server

import (
	"fmt"
	"net/http"

	"github.com/Daskott/safeline/colors"
	"github.com/Daskott/safeline/server/models"
	"github.com/gorilla/mux"
)

var invitationStatusFilters = map[string]bool{
	models.PENDING_INVITATION:   true,
	models.ACCEPTED_INVITATION:  true,
	models.DECLINED_INVITATION:  true,
	models.IGNORED_INVITATION:   true,
	models.EXPIRED_INVITATION:   true,
	models.CANCELLED_INVITATION: true,
}

func sendInvitation(rw http.ResponseWriter, r *http.Request) {
	data := invitationRequest{}

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

	sender, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	invitation, err := models.SendInvitation(sender, data.Email, data.Username, data.Relationship)
	if err != nil {
		writeError(rw, err)
		return
	}

	notifyInvitationRecipient(sender, invitation)

	// The sender only gets to see the recipient's public profile
	invitation.Recipient = &models.User{
		BaseModel: models.BaseModel{ID: invitation.Recipient.ID},
		FirstName: invitation.Recipient.FirstName,
		LastName:  invitation.Recipient.LastName,
		Username:  invitation.Recipient.Username,
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: invitation}, http.StatusCreated)
}

// fetchInvitations lists received invitations, or sent ones with ?type=sent
func fetchInvitations(rw http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	status := query.Get("status")
	if status != "" && !invitationStatusFilters[status] {
		writeResponse(rw, ResponsePayload{Errors: []string{fmt.Sprintf("unknown invitation status '%v'", status)}}, http.StatusBadRequest)
		return
	}

	listType := query.Get("type")
	if listType != "" && listType != "sent" && listType != "received" {
		writeResponse(rw, ResponsePayload{Errors: []string{"type must be 'sent' or 'received'"}}, http.StatusBadRequest)
		return
	}

	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	invitations, paging, err := models.FetchInvitations(user.ID, listType == "sent", status, pageFromRequest(r))
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: invitations, Paging: paging}, http.StatusOK)
}

func findInvitation(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	invitation, err := models.FindInvitation(mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, err)
		return
	}

	if invitation.SenderID != user.ID && invitation.RecipientID != user.ID {
		writeError(rw, models.ErrForbidden)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: invitation}, http.StatusOK)
}

// updateInvitation applies an action to an invitation. Recipients accept, decline
// or ignore, senders cancel or resend.
func updateInvitation(rw http.ResponseWriter, r *http.Request) {
	data := actionRequest{}

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

	var invitation *models.Invitation
	invitationID := mux.Vars(r)["id"]

	switch data.Action {
	case models.AcceptAction, models.DeclineAction, models.IgnoreAction:
		invitation, err = models.RespondToInvitation(user.ID, invitationID, data.Action)
	case models.CancelAction, models.ResendAction:
		invitation, err = models.ManageInvitation(user.ID, invitationID, data.Action)
	default:
		writeResponse(rw, ResponsePayload{Errors: []string{fmt.Sprintf("unknown action '%v'", data.Action)}}, http.StatusBadRequest)
		return
	}

	if err != nil {
		writeError(rw, err)
		return
	}

	if data.Action == models.ResendAction {
		notifyInvitationRecipient(user, invitation)
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: invitation}, http.StatusOK)
}

func redeemInvitation(rw http.ResponseWriter, r *http.Request) {
	data := redeemRequest{}

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

	invitation, err := models.RedeemInvitationCode(user.ID, data.Code)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: invitation}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// notifyInvitationRecipient texts the recipient their invite code. A failure
// doesn't fail the request, the recipient still sees the invitation in the app.
func notifyInvitationRecipient(sender *models.User, invitation *models.Invitation) {
	recipient, err := models.FindUserBy("id", invitation.RecipientID)
	if err != nil {
		logg.Errorf(colors.Prefix("invitations", colors.Red)+"failed to load recipient of invitation id=%v: %v", invitation.ID, err)
		return
	}

	msg := fmt.Sprintf(
		"%v asked you to be one of their Safeline guardians. Use code %v in the app to accept before %v.",
		sender.FullName(),
		invitation.Code,
		invitation.ExpiresAt.Format("Jan 2, 2006"),
	)

	if err := twilioClient.SendMessage(recipient.PhoneNumber, msg); err != nil {
		logg.Errorf(colors.Prefix("invitations", colors.Red)+"failed to text invitation id=%v: %v", invitation.ID, err)
	}
}
