// Package router registers every HTTP route on an echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-reservation/internal/handler"
	"github.com/iliyamo/event-reservation/internal/middleware"
	"github.com/iliyamo/event-reservation/internal/model"
)

// RegisterRoutes registers unauthenticated infrastructure routes.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterAuth registers /v1/auth, /v1/me and the caller's settings.
// Register, login, refresh and logout need no access token; logout reads
// one itself when no refresh token is sent.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, s *handler.SettingsHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	me := e.Group("/v1/me", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleUser, model.RoleAdmin))
	me.GET("", a.Me)
	me.GET("/settings", s.Get)
	me.PUT("/settings", s.Update)
}
