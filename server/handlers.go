package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Daskott/safeline/server/auth"
	"github.com/Daskott/safeline/server/auth/key"
	"github.com/Daskott/safeline/server/models"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

func createUser(rw http.ResponseWriter, r *http.Request) {
	data := models.User{}

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

	err = models.CreateUser(&data)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]interface{}{"id": data.ID}}, http.StatusCreated)
}

func findUser(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: user}, http.StatusOK)
}

func updateUser(rw http.ResponseWriter, r *http.Request) {
	var errs []string
	data := make(map[string]interface{})

	err := decodeBody(r, &data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	removeUnknownFields(data, map[string]bool{"first_name": true, "last_name": true, "phone_number": true, "password": true})
	if len(data) <= 0 {
		writeResponse(rw,
			ResponsePayload{Errors: []string{"valid fields required"}},
			http.StatusBadRequest,
		)
		return
	}

	if data["password"] != nil && validate.Var(fmt.Sprintf("%v", data["password"]), "password") != nil {
		errs = append(errs, "password must be at least 8 characters with no whitespace")
	}

	if data["phone_number"] != nil && validate.Var(fmt.Sprintf("%v", data["phone_number"]), "phone_number") != nil {
		errs = append(errs, "phone_number is invalid")
	}

	for _, field := range []string{"first_name", "last_name"} {
		if data[field] != nil && strings.TrimSpace(fmt.Sprintf("%v", data[field])) == "" {
			errs = append(errs, fmt.Sprintf("%v cannot be empty", field))
		}
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

	err = user.Update(data)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func deleteUser(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	err = models.DeleteUser(user.ID)
	if err != nil {
		writeError(rw, err)
		return
	}

	// Close the user's live connections, their token no longer works
	tracker.Hub().DisconnectUser(user.ID)

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func logIn(rw http.ResponseWriter, r *http.Request) {
	data := loginRequest{}
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

	passwordHash, err := models.FindUserPassword(data.Email)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(rw, err)
		return
	}

	if !auth.CheckPasswordHash(data.Password, passwordHash) {
		writeResponse(rw, ResponsePayload{Errors: []string{"email/password is invalid"}}, http.StatusUnauthorized)
		return
	}

	user, err := models.FindUserBy("email", strings.ToLower(data.Email))
	if err != nil {
		writeError(rw, err)
		return
	}

	isAdmin, err := user.IsAdmin()
	if err != nil {
		writeError(rw, err)
		return
	}

	token, err := auth.EncodeJWT(
		auth.NewClaims(fmt.Sprintf("%v", user.ID), user.FirstName, user.LastName, user.Username, isAdmin),
		authKeyPair,
	)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]string{"token": token}}, http.StatusOK)
}

func jwks(rw http.ResponseWriter, r *http.Request) {
	publicJWK, err := authKeyPair.JWK()
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: key.ExportJWKAsJWKS(publicJWK)}, http.StatusOK)
}

func fetchJobs(rw http.ResponseWriter, r *http.Request) {
	var jobs []models.Job
	var paging *models.Paging
	var err error

	status := r.URL.Query().Get("status")
	if status != "" && !models.JobStatusNameMap[status] {
		writeResponse(rw, ResponsePayload{Errors: []string{fmt.Sprintf("unknown job status '%v'", status)}}, http.StatusBadRequest)
		return
	}

	if status != "" {
		jobs, paging, err = models.FetchJobsByStatus(status, pageFromRequest(r))
	} else {
		jobs, paging, err = models.FetchJobs(pageFromRequest(r))
	}
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: jobs, Paging: paging}, http.StatusOK)
}

func findJob(rw http.ResponseWriter, r *http.Request) {
	job, err := models.FindJob(mux.Vars(r)["id"])
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: job}, http.StatusOK)
}

func jobsStats(rw http.ResponseWriter, r *http.Request) {
	stats, err := models.CurrentJobsStats()
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: stats}, http.StatusOK)
}
