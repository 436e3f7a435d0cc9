package server

import (
	"net/http"

	"github.com/Daskott/safeline/server/location"
	"github.com/Daskott/safeline/server/models"
)

func updateLocation(rw http.ResponseWriter, r *http.Request) {
	data := locationRequest{}

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

	payload, err := tracker.Update(user, &models.LiveLocation{
		Latitude:  *data.Latitude,
		Longitude: *data.Longitude,
		Accuracy:  data.Accuracy,
		Address:   data.Address,
	})
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: payload}, http.StatusOK)
}

func stopLocation(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	stopped, err := tracker.Stop(user)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]bool{"stopped": stopped}}, http.StatusOK)
}

func findLocation(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	latest, err := tracker.Latest(user.ID)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    location.NewLocationPayload(latest, user, tracker.StaleAfter()),
	}, http.StatusOK)
}

// fetchWatchList returns the live locations of everyone the user is a guardian of
func fetchWatchList(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	watchList, err := tracker.WatchList(user.ID)
	if err != nil {
		writeError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: watchList}, http.StatusOK)
}

// liveConnection upgrades to a websocket, the first event is a snapshot of
// the user's watch list
func liveConnection(rw http.ResponseWriter, r *http.Request) {
	user, err := requestUser(r)
	if err != nil {
		writeError(rw, err)
		return
	}

	snapshot, err := tracker.Snapshot(user.ID)
	if err != nil {
		writeError(rw, err)
		return
	}

	// The upgrader writes its own error response
	err = tracker.Hub().Serve(rw, r, user.ID, snapshot)
	if err != nil {
		logg.Info("websocket upgrade failed: ", err)
	}
}
