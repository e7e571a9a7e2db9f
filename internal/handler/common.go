package handler

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-reservation/internal/middleware"
	"github.com/iliyamo/event-reservation/internal/model"
)

// callerOf returns the authenticated caller, or writes 401.
func callerOf(c echo.Context) (model.Caller, bool) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		_ = unauthorized(c, "unauthorized")
	}
	return caller, ok
}

// pathID parses a positive numeric path parameter, or writes 400.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		_ = badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
