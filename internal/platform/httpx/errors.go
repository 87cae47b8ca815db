// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/medtrack/medtrack-analytics/internal/pharmacy"
)

// retryAfterSeconds is advertised when the record store is unavailable.
const retryAfterSeconds = "30"

// RespondError maps taxonomy errors to HTTP responses using RFC7807. Only
// caller-facing errors carry their message; anything else is reported
// without detail.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pharmacy.ErrRunConflict):
		Problem(w, http.StatusConflict, "Run In Progress", err.Error())
	case errors.Is(err, pharmacy.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, pharmacy.ErrInvalidArgument):
		Problem(w, http.StatusBadRequest, "Invalid Argument", err.Error())
	case errors.Is(err, pharmacy.ErrMalformedField),
		errors.Is(err, pharmacy.ErrDanglingReference),
		errors.Is(err, pharmacy.ErrRuleViolation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, pharmacy.ErrStoreUnavailable):
		w.Header().Set("Retry-After", retryAfterSeconds)
		Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "")
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
