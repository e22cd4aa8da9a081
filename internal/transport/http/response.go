package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"field-route-service/internal/repository"
	"field-route-service/internal/service"
)

// Error codes clients can branch on; Message is for humans.
const (
	codeInvalidJSON    = "invalid_json"
	codeInvalidParam   = "invalid_param"
	codeInvalidJob     = "invalid_job"
	codeUnknownTask    = "unknown_task"
	codeInvalidBooking = "invalid_booking"
	codeNotFound       = "not_found"
	codeInternal       = "internal"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// serviceErrors maps domain sentinels to a response. Validation errors echo
// the wrapped message; a missing row does not.
var serviceErrors = []struct {
	target error
	status int
	code   string
	echo   bool
}{
	{repository.ErrNotFound, http.StatusNotFound, codeNotFound, false},
	{service.ErrInvalidJob, http.StatusBadRequest, codeInvalidJob, true},
	{service.ErrUnknownTask, http.StatusBadRequest, codeUnknownTask, true},
	{service.ErrInvalidBooking, http.StatusBadRequest, codeInvalidBooking, true},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiError{Code: code, Message: msg})
}

func writeServiceErr(w http.ResponseWriter, err error) {
	for _, e := range serviceErrors {
		if !errors.Is(err, e.target) {
			continue
		}
		msg := http.StatusText(e.status)
		if e.echo {
			msg = err.Error()
		}
		writeErr(w, e.status, e.code, msg)
		return
	}
	writeErr(w, http.StatusInternalServerError, codeInternal, "internal error")
}
