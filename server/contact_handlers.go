package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Daskott/safeline/server/models"
	"github.com/gorilla/mux"
)

func createContact(rw http.ResponseWriter, r *http.Request) {
	contact := models.EmergencyContact{}

	err := decodeBody(r, &contact)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(contact)
	if errs != nil {
		writeValidationErrors(rw, errs)
		return
	}

	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	// Guardian links only come from accepted invitations
	contact.GuardianID = nil

	err = user.AddContact(&contact)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: contact}, http.StatusCreated)
}

func fetchContacts(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	err = user.LoadContacts()
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: user.Contacts}, http.StatusOK)
}

func updateContact(rw http.ResponseWriter, r *http.Request) {
	var errs []string
	data := make(map[string]interface{})

	err := decodeBody(r, &data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	removeUnknownFields(data, map[string]bool{"name": true, "phone_number": true, "relationship": true})
	if len(data) <= 0 {
		writeResponse(rw,
			ResponsePayload{Errors: []string{"valid fields required"}},
			http.StatusBadRequest,
		)
		return
	}

	if data["name"] != nil && validate.Var(strings.TrimSpace(fmt.Sprintf("%v", data["name"])), "required,max=80") != nil {
		errs = append(errs, "name is required and must be at most 80 characters")
	}

	if data["phone_number"] != nil && validate.Var(fmt.Sprintf("%v", data["phone_number"]), "phone_number") != nil {
		errs = append(errs, "phone_number is invalid")
	}

	if data["relationship"] != nil && validate.Var(fmt.Sprintf("%v", data["relationship"]), "max=40") != nil {
		errs = append(errs, "relationship must be at most 40 characters")
	}

	if len(errs) > 0 {
		writeResponse(rw, ResponsePayload{Errors: errs}, http.StatusBadRequest)
		return
	}

	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	err = user.UpdateContact(mux.Vars(r)["id"], data)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func deleteContact(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	err = user.DeleteContact(mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func setPrimaryContact(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	err = user.SetPrimaryContact(mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}
