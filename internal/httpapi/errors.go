package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tinoosan/transfer/internal/errs"
)

// retryAfterSeconds is sent with 503 when the engine ran out of retries.
const retryAfterSeconds = "1"

// errorResponse is the standard error payload for the API.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeErr(w, http.StatusBadRequest, msg, "validation_error")
}

func notFound(w http.ResponseWriter) { writeErr(w, http.StatusNotFound, "not_found", "not_found") }

// writeServiceErr maps service and engine errors onto status codes. Storage
// details are logged, never returned to the caller.
func (s *Server) writeServiceErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidTransfer):
		writeErr(w, http.StatusBadRequest, trimKind(err, errs.ErrInvalidTransfer), "invalid_transfer")
	case errors.Is(err, errs.ErrInvalid):
		writeErr(w, http.StatusBadRequest, trimKind(err, errs.ErrInvalid), "validation_error")
	case errors.Is(err, errs.ErrAccountNotFound):
		writeErr(w, http.StatusNotFound, err.Error(), "account_not_found")
	case errors.Is(err, errs.ErrNotFound):
		notFound(w)
	case errors.Is(err, errs.ErrConflict):
		writeErr(w, http.StatusConflict, "conflict", "conflict")
	case errors.Is(err, errs.ErrConcurrencyExhausted),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeErr(w, http.StatusServiceUnavailable, "too much contention on the accounts involved; retry with the same idempotency key", "concurrency_exhausted")
	default:
		s.log.Error("request failed", "path", r.URL.Path, "err", err)
		writeErr(w, http.StatusInternalServerError, "internal error", "storage_failure")
	}
}

// trimKind drops the leading sentinel text so the message reads "amount must be > 0"
// rather than "invalid_transfer: amount must be > 0".
func trimKind(err, kind error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, kind.Error()+": "); ok {
		return rest
	}
	return msg
}
