package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-reservation/internal/handler"
	"github.com/iliyamo/event-reservation/internal/middleware"
	"github.com/iliyamo/event-reservation/internal/model"
)

// EventMiddleware holds the optional Redis-backed layers.  Nil entries are
// skipped.
type EventMiddleware struct {
	RateLimit  echo.MiddlewareFunc // reserve and unreserve
	Cache      echo.MiddlewareFunc // GET /events
	Invalidate echo.MiddlewareFunc // every write
}

// RegisterEvents registers /v1/events.  Any authenticated user may create,
// list and reserve; ownership of a given event is checked by the service.
func RegisterEvents(e *echo.Echo, h *handler.EventHandler, jwtSecret string, mw EventMiddleware) {
	g := e.Group("/v1/events",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleUser, model.RoleAdmin),
	)
	if mw.Invalidate != nil {
		g.Use(mw.Invalidate)
	}

	g.GET("", h.List, optional(mw.Cache)...)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/reservations", h.Reservations)

	g.POST("/:id/reserve", h.Reserve, optional(mw.RateLimit)...)
	g.POST("/:id/unreserve", h.Unreserve, optional(mw.RateLimit)...)
}

func optional(m echo.MiddlewareFunc) []echo.MiddlewareFunc {
	if m == nil {
		return nil
	}
	return []echo.MiddlewareFunc{m}
}
