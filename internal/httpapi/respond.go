package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"schoolbus-tracker/internal/admin"
	"schoolbus-tracker/internal/alerts"
	"schoolbus-tracker/internal/apiclient"
	"schoolbus-tracker/internal/session"
	"schoolbus-tracker/internal/sim"
)

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	var (
		verr   *apiclient.ValidationError
		apiErr *apiclient.APIError
	)
	switch {
	case errors.Is(err, sim.ErrBusNotFound),
		errors.Is(err, alerts.ErrAlertNotFound),
		errors.Is(err, errRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, sim.ErrWaypointNotNext):
		return http.StatusConflict
	case errors.As(err, &verr),
		errors.Is(err, session.ErrInvalidUserType),
		errors.Is(err, admin.ErrParentNotFound):
		return http.StatusBadRequest
	case errors.Is(err, apiclient.ErrMissingToken),
		errors.Is(err, apiclient.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		return apiErr.Status
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	msg := err.Error()
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	writeError(w, statusFor(err), msg)
}
