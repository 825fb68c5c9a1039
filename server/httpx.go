package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"minimal-sessions/session"
)

func newRequestID() string { return "req_" + uuid.NewString() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type errorBody struct {
	RequestID string      `json:"request_id"`
	Error     errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{
		RequestID: newRequestID(),
		Error:     errorDetail{Code: code, Message: message},
	})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch session.KindOf(err) {
	case session.ErrValidation, session.ErrExpired:
		return http.StatusBadRequest
	case session.ErrAuth:
		return http.StatusUnauthorized
	case session.ErrNotFound:
		return http.StatusNotFound
	case session.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-facing message; internal details stay in the log.
func messageFor(err error) string {
	var e *session.Error
	if errors.As(err, &e) && !errors.Is(err, session.ErrInternal) {
		return e.Msg
	}
	return "internal server error"
}
