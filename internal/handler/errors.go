package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/event-reservation/internal/imagestore"
	"github.com/iliyamo/event-reservation/internal/repository"
	"github.com/iliyamo/event-reservation/internal/service"
	"github.com/iliyamo/event-reservation/internal/utils"
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errMapping struct {
	target error
	status int
	code   string
}

const busyMessage = "event is busy, retry shortly"

// Order matters where one sentinel wraps another.
var errTable = []errMapping{
	{repository.ErrEventNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrUserNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrEventFull, http.StatusBadRequest, "full"},
	{repository.ErrAlreadyReserved, http.StatusBadRequest, "already_reserved"},
	{repository.ErrNoReservation, http.StatusBadRequest, "no_reservation"},
	{repository.ErrCapacityBelowTaken, http.StatusBadRequest, "capacity_below_taken"},
	{repository.ErrForbidden, http.StatusForbidden, "forbidden"},
	{repository.ErrLockTimeout, http.StatusServiceUnavailable, "lock_timeout"},
	{repository.ErrUsernameExists, http.StatusConflict, "username_taken"},
	{repository.ErrInvalidRefresh, http.StatusUnauthorized, "invalid_refresh"},
	{repository.ErrSettingsInvalid, http.StatusBadRequest, "bad_request"},
	{service.ErrInvalidInput, http.StatusBadRequest, "bad_request"},
	{imagestore.ErrInvalidImage, http.StatusBadRequest, "bad_request"},
	{utils.ErrWeakPassword, http.StatusBadRequest, "bad_request"},
}

// respondError writes the response for err.  Known errors keep their own
// message; anything else is logged and hidden behind server_error.
func respondError(c echo.Context, log *zap.Logger, err error) error {
	for _, m := range errTable {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := err.Error()
		if m.status == http.StatusServiceUnavailable {
			// lock timeouts carry server and context text
			c.Response().Header().Set("Retry-After", "1")
			msg = busyMessage
		}
		return c.JSON(m.status, apiError{Error: m.code, Message: msg})
	}
	log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, apiError{Error: "server_error", Message: "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, apiError{Error: "bad_request", Message: msg})
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, apiError{Error: "unauthorized", Message: msg})
}
