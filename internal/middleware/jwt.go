package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-reservation/internal/model"
	"github.com/iliyamo/event-reservation/internal/utils"
)

// Context keys set by JWTAuth.
const (
	KeyUserID   = "user_id"
	KeyUsername = "username"
	KeyRole     = "role"
)

// JWTAuth validates a Bearer access token and stores the caller's id
// (uint64), username and role in the echo context.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return unauthorized(c, "missing bearer token")
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")))
			if err != nil {
				return unauthorized(c, "invalid token")
			}
			uid, err := claims.UserID()
			if err != nil || uid == 0 {
				return unauthorized(c, "invalid claims")
			}
			c.Set(KeyUserID, uid)
			c.Set(KeyUsername, claims.Username)
			c.Set(KeyRole, claims.Role)
			return next(c)
		}
	}
}

// CallerFrom returns the principal stored by JWTAuth.
func CallerFrom(c echo.Context) (model.Caller, bool) {
	uid, ok := c.Get(KeyUserID).(uint64)
	if !ok || uid == 0 {
		return model.Caller{}, false
	}
	name, _ := c.Get(KeyUsername).(string)
	role, _ := c.Get(KeyRole).(string)
	return model.Caller{UserID: uid, Username: name, Role: role}, true
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": msg})
}
