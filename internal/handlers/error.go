// Package handlers wires the HTTP API: route registration, request binding,
// and the mapping from domain errors to HTTP status codes.
package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/safewalk-io/safewalk/internal/checkin"
	"github.com/safewalk-io/safewalk/internal/contacts"
	"github.com/safewalk-io/safewalk/internal/escalation"
	"github.com/safewalk-io/safewalk/internal/passcode"
	"github.com/safewalk-io/safewalk/internal/users"
)

// httpError maps domain errors onto HTTP status codes. Unknown errors are
// surfaced as 500 without leaking internals beyond the error text.
func httpError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, checkin.ErrNotFound),
		errors.Is(err, contacts.ErrNotFound),
		errors.Is(err, users.ErrNotFound),
		errors.Is(err, escalation.ErrEventNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, checkin.ErrNotOwner),
		errors.Is(err, contacts.ErrNotOwner),
		errors.Is(err, passcode.ErrCodeMismatch):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, checkin.ErrNotActive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, checkin.ErrInvalidDuration),
		errors.Is(err, checkin.ErrInvalidExtension),
		errors.Is(err, checkin.ErrTooManyContacts),
		errors.Is(err, contacts.ErrContactExpired),
		errors.Is(err, contacts.ErrNoUsableChannel),
		errors.Is(err, contacts.ErrNameRequired),
		errors.Is(err, passcode.ErrCodeTooShort),
		errors.Is(err, passcode.ErrCodesIdentical),
		errors.Is(err, escalation.ErrInvalidAlertType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, users.ErrInvalidCredentials),
		errors.Is(err, users.ErrInactive):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, checkin.ErrVerifyFailed):
		// The write could not be confirmed; the client must retry.
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
