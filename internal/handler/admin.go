package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/event-reservation/internal/model"
	"github.com/iliyamo/event-reservation/internal/repository"
)

// UserAdminStore is implemented by *repository.UserRepo.
type UserAdminStore interface {
	List(ctx context.Context) ([]model.User, error)
	Update(ctx context.Context, id uint64, username, role *string) (model.User, error)
	Delete(ctx context.Context, id uint64) error
}

// AdminHandler serves /v1/admin; the router restricts it to admins.
type AdminHandler struct {
	users UserAdminStore
	log   *zap.Logger
}

func NewAdminHandler(users UserAdminStore, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{users: users, log: log}
}

func (h *AdminHandler) ListUsers(c echo.Context) error {
	users, err := h.users.List(c.Request().Context())
	if err != nil {
		return respondError(c, h.log, err)
	}
	out := make([]model.UserPublic, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	return c.JSON(http.StatusOK, out)
}

type updateUserReq struct {
	Username *string `json:"username"`
	Role     *string `json:"role"`
}

func (h *AdminHandler) UpdateUser(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	var req updateUserReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Username != nil && repository.NormalizeUsername(*req.Username) == "" {
		return badRequest(c, "username cannot be empty")
	}
	if req.Role != nil && !model.ValidRole(*req.Role) {
		return badRequest(c, "role must be user or admin")
	}
	u, err := h.users.Update(c.Request().Context(), id, req.Username, req.Role)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, u.Public())
}

func (h *AdminHandler) DeleteUser(c echo.Context) error {
	caller, ok := callerOf(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	if id == caller.UserID {
		return badRequest(c, "cannot delete yourself")
	}
	if err := h.users.Delete(c.Request().Context(), id); err != nil {
		return respondError(c, h.log, err)
	}
	h.log.Info("user deleted", zap.Uint64("user_id", id), zap.Uint64("by", caller.UserID))
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}
