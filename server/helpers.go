package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Daskott/safeline/phone"
	"github.com/Daskott/safeline/server/auth"
	"github.com/Daskott/safeline/server/models"
	"github.com/Daskott/safeline/server/sos"
	"github.com/Daskott/safeline/server/twilio"
	"github.com/Daskott/safeline/utils"
	"github.com/go-playground/validator"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

const SMS_APPLICATION_ERROR_REPLY = "Sorry an application error has occured.\nPlease try again later"

// errorStatusCodes maps domain errors to the status code returned for them
var errorStatusCodes = map[error]int{
	gorm.ErrRecordNotFound:         http.StatusNotFound,
	models.ErrForbidden:            http.StatusForbidden,
	models.ErrDuplicateContact:     http.StatusConflict,
	models.ErrDuplicateUser:        http.StatusConflict,
	models.ErrDuplicateInvitation:  http.StatusConflict,
	models.ErrAlreadyGuardian:      http.StatusConflict,
	models.ErrSelfInvitation:       http.StatusBadRequest,
	models.ErrInvalidTransition:    http.StatusConflict,
	models.ErrMaxResendsReached:    http.StatusConflict,
	models.ErrInvalidAlertStatus:   http.StatusConflict,
	models.ErrInvalidLocation:      http.StatusBadRequest,
	models.ErrRecipientNotProvided: http.StatusBadRequest,
	models.ErrInvalidFakeCallDelay: http.StatusBadRequest,
	sos.ErrInvalidCountdown:        http.StatusBadRequest,
	phone.ErrEmpty:                 http.StatusBadRequest,
	phone.ErrInvalidCharacters:     http.StatusBadRequest,
	phone.ErrTooShort:              http.StatusBadRequest,
	phone.ErrTooLong:               http.StatusBadRequest,
	phone.ErrUnknownFormat:         http.StatusBadRequest,
	phone.ErrInvalidCountryCode:    http.StatusBadRequest,
}

// ---------------------------------------------------------------------------------//
// Handler Helper functions
// --------------------------------------------------------------------------------//

func writeResponse(rw http.ResponseWriter, payLoad ResponsePayload, statusCode int) {
	if statusCode >= http.StatusInternalServerError {
		logg.Error(payLoad.Errors)
	} else if statusCode >= http.StatusBadRequest {
		logg.Info(payLoad.Errors)
	}

	if payLoad.Errors == nil {
		payLoad.Errors = []string{}
	}

	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(payLoad)
}

// writeError responds with the status code matching err
func writeError(rw http.ResponseWriter, err error) {
	writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, statusCodeForError(err))
}

func writeValidationErrors(rw http.ResponseWriter, err error) {
	writeResponse(rw, ResponsePayload{Errors: strings.Split(err.Error(), "\n")}, http.StatusBadRequest)
}

func statusCodeForError(err error) int {
	for target, statusCode := range errorStatusCodes {
		if errors.Is(err, target) {
			return statusCode
		}
	}
	return http.StatusInternalServerError
}

func writeSmsWebHookResponse(rw http.ResponseWriter, body []byte, status int) {
	rw.Header().Set("Content-Type", "text/xml")
	rw.WriteHeader(status)
	rw.Write(body)
}

func writeErrMsgForSmsWebhook(rw http.ResponseWriter, err error) {
	logg.Error(err)

	msgBytes, err := twilio.TwiML(SMS_APPLICATION_ERROR_REPLY)
	if err != nil {
		logg.Errorf("writeErrMsgForSmsWebhook: %v", err)
	}

	writeSmsWebHookResponse(rw, msgBytes, http.StatusOK)
}

// decodeBody decodes the JSON request body into value, an empty body is
// treated as an empty object
func decodeBody(r *http.Request, value interface{}) error {
	err := json.NewDecoder(r.Body).Decode(value)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func removeUnknownFields(args map[string]interface{}, validFields map[string]bool) {
	for key := range args {
		if !validFields[key] {
			delete(args, key)
		}
	}
}

// pageFromRequest reads the 'page' query param, defaulting to the first page
func pageFromRequest(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// requestUser loads the user owning the {uid} resource of the request
func requestUser(r *http.Request) (*models.User, error) {
	return models.FindUserBy("id", mux.Vars(r)["uid"])
}

func tokenClaims(r *http.Request) *auth.SafelineTokenClaims {
	decodedJWT, ok := r.Context().Value(RequestContextKey("decodedJWT")).(DecodedJWT)
	if !ok {
		return nil
	}
	return decodedJWT.Claims
}

func RegisterValidators(validate *validator.Validate) error {
	err := validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		// if whitespace in password return false
		err := validate.Var(fl.Field().String(), "contains= ")
		if err == nil {
			return false
		}
		return len(fl.Field().String()) >= 8
	})
	if err != nil {
		return err
	}

	return validate.RegisterValidation("phone_number", func(fl validator.FieldLevel) bool {
		_, err := phone.Canonicalize(fl.Field().String(), models.DefaultCountryCode)
		return err == nil
	})
}

// ---------------------------------------------------------------------------------//
// Middleware Helper functions
// --------------------------------------------------------------------------------//

func decodeAndVerifyAuthHeader(authHeaderValue string) DecodedJWT {
	authHeaderList := strings.Split(authHeaderValue, "Bearer ")
	if len(authHeaderList) < 2 {
		return DecodedJWT{ErrorMsg: "no token provided"}
	}

	tokenClaims, err := auth.DecodeJWT(authHeaderList[1], authKeyPair)
	if err != nil {
		return DecodedJWT{ErrorMsg: "invalid token provided"}
	}

	// validate that the user account still exists
	_, err = models.FindUserBy("id", tokenClaims.Subject)
	if err != nil {
		return DecodedJWT{ErrorMsg: "invalid token provided"}
	}

	return DecodedJWT{Claims: tokenClaims}
}

// client is only able to update/view their own record unless client is an admin
// who can GET/DELETE certain user resources
func canAccessUserResource(r *http.Request, userClaims *auth.SafelineTokenClaims) bool {
	allowedMethodsForAdmins := map[string]bool{"GET": true, "DELETE": true}
	deniedPathsForAdmin := []string{
		"/contacts", "/invitations", "/location", "/live", "/sos", "/fake-call",
	}

	if mux.Vars(r)["uid"] == userClaims.Subject {
		return true
	}

	if !userClaims.IsAdmin {
		return false
	}

	if !allowedMethodsForAdmins[r.Method] {
		return false
	}

	for _, deniedPath := range deniedPathsForAdmin {
		if strings.Contains(r.URL.Path, deniedPath) {
			return false
		}
	}

	return true
}

// ---------------------------------------------------------------------------------//
// Server Helper functions
// --------------------------------------------------------------------------------//

func serve(server *http.Server) {
	logg.Infof("Safeline server is listening on port%v", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Fatal(err)
	}
}

func cleanup(server *http.Server, shutdownFuncs ...func()) {
	// Stop producers first so nothing new is queued while shutting down
	for _, shutdown := range shutdownFuncs {
		shutdown()
	}

	ctxShutDown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutDown); err != nil {
		logg.Fatalf("Safeline server shutdown failed:%+s", err)
	}

	logg.Infof("Safeline server stopped properly")
}

// configDirectory retrieves the directory to store safeline data
// Or logs an error message and then calls os.Exit if it's unable to.
func configDirectory(devMode bool) string {
	// Use 'safeline' folder in home directory for prod
	configFolderName := "safeline"
	rootDir, err := os.UserHomeDir()
	fatalOnError(err)

	// Use 'dev' folder in current directory for dev mode
	if devMode {
		configFolderName = "dev"
		rootDir, err = os.Getwd()
		fatalOnError(err)
	}

	configDir := filepath.Join(rootDir, configFolderName)

	err = utils.CreateDirIfNotExist(configDir)
	fatalOnError(err)

	return configDir
}

func fatalOnError(err error) {
	if err != nil {
		logg.Fatal(err)
	}
}
