package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/event-reservation/internal/model"
)

// SettingsStore is implemented by *repository.SettingsRepo.
type SettingsStore interface {
	Get(ctx context.Context, userID uint64) (model.UserSettings, error)
	Update(ctx context.Context, userID uint64, p model.SettingsPatch) (model.UserSettings, error)
}

type SettingsHandler struct {
	store SettingsStore
	log   *zap.Logger
}

func NewSettingsHandler(store SettingsStore, log *zap.Logger) *SettingsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettingsHandler{store: store, log: log}
}

// Get handles GET /v1/me/settings.
func (h *SettingsHandler) Get(c echo.Context) error {
	caller, ok := callerOf(c)
	if !ok {
		return nil
	}
	s, err := h.store.Get(c.Request().Context(), caller.UserID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, s)
}

// Update handles PUT /v1/me/settings; absent fields keep their value.
func (h *SettingsHandler) Update(c echo.Context) error {
	caller, ok := callerOf(c)
	if !ok {
		return nil
	}
	var p model.SettingsPatch
	if err := c.Bind(&p); err != nil {
		return badRequest(c, "invalid body")
	}
	s, err := h.store.Update(c.Request().Context(), caller.UserID, p)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, s)
}
