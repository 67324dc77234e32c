// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/prorab-app/prorab/internal/shared"
)

// ErrValidation marks rejected input independent of the workflow taxonomy.
var ErrValidation = errors.New("validation failed")

// RespondError maps domain errors to HTTP responses using RFC7807.
//
// Permission denials answer with an opaque Forbidden body: the response never
// names the capability that was missing, so a denied actor cannot enumerate
// actions it is not allowed to learn about.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrUnauthenticated), errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	case errors.Is(err, shared.ErrPermissionDenied):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, shared.ErrNetwork):
		Problem(w, http.StatusBadGateway, "Upstream Unavailable", "try again")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
