package apierr

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/malascope/malascope-backend/internal/pkg/errors"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// FromError maps pipeline sentinels onto HTTP status codes and stable error
// codes for the response envelope. Unknown errors become 500 INTERNAL.
func FromError(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pkgerrors.ErrNotFound):
		return New(http.StatusNotFound, "NOT_FOUND", err)
	case errors.Is(err, pkgerrors.ErrAlreadyProcessed):
		return New(http.StatusConflict, "ALREADY_PROCESSED", err)
	case errors.Is(err, pkgerrors.ErrAlreadyAnalyzed):
		return New(http.StatusConflict, "ALREADY_ANALYZED", err)
	case errors.Is(err, pkgerrors.ErrStageInProgress):
		return New(http.StatusConflict, "STAGE_IN_PROGRESS", err)
	case errors.Is(err, pkgerrors.ErrNoPatches):
		return New(http.StatusUnprocessableEntity, "NO_PATCHES", err)
	case errors.Is(err, pkgerrors.ErrNoValidPatches):
		return New(http.StatusUnprocessableEntity, "NO_VALID_PATCHES", err)
	case errors.Is(err, pkgerrors.ErrImageTooSmall):
		return New(http.StatusUnprocessableEntity, "IMAGE_TOO_SMALL", err)
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return New(http.StatusBadRequest, "INVALID_ARGUMENT", err)
	case errors.Is(err, pkgerrors.ErrClassifierUnavailable):
		return New(http.StatusServiceUnavailable, "CLASSIFIER_UNAVAILABLE", err)
	case errors.Is(err, pkgerrors.ErrExternalService):
		return New(http.StatusBadGateway, "EXTERNAL_SERVICE_FAILED", err)
	default:
		return New(http.StatusInternalServerError, "INTERNAL", err)
	}
}
