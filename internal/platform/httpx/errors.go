// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/castellan-dir/castellan/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var fieldErrs *shared.FieldErrors
	switch {
	case errors.As(err, &fieldErrs):
		FieldProblem(w, http.StatusBadRequest, "Validation Failed", fieldErrs.Fields)
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrWeakCredential):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrTokenExpired):
		Problem(w, http.StatusUnauthorized, "Token Expired", shared.ErrTokenExpired.Error())
	case errors.Is(err, shared.ErrAuthentication):
		// Always the generic message: no account enumeration.
		Problem(w, http.StatusUnauthorized, "Unauthorized", shared.ErrAuthentication.Error())
	case errors.Is(err, shared.ErrChallengeFailed):
		Problem(w, http.StatusForbidden, "Challenge Failed", shared.ErrChallengeFailed.Error())
	case errors.Is(err, shared.ErrPermission):
		Problem(w, http.StatusForbidden, "Forbidden", shared.ErrPermission.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrDirectoryUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Directory Unavailable", "re-read current state before retrying")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
