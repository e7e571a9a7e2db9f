package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/event-reservation/internal/imagestore"
	"github.com/iliyamo/event-reservation/internal/model"
	"github.com/iliyamo/event-reservation/internal/service"
	"github.com/iliyamo/event-reservation/internal/tags"
)

// EventService is implemented by *service.EventService.
type EventService interface {
	Create(ctx context.Context, in service.CreateEventInput, caller model.Caller) (*model.EventView, error)
	Update(ctx context.Context, id uint64, in service.UpdateEventInput, caller model.Caller) (*model.EventView, error)
	Delete(ctx context.Context, id uint64, caller model.Caller) error
	Reserve(ctx context.Context, id uint64, caller model.Caller) (*model.EventView, error)
	Unreserve(ctx context.Context, id uint64, caller model.Caller) (*model.EventView, error)
	List(ctx context.Context, caller model.Caller) ([]model.EventView, error)
	Get(ctx context.Context, id uint64, caller model.Caller) (*model.EventView, error)
	Reservations(ctx context.Context, id uint64, caller model.Caller) ([]model.ReservationHolder, error)
}

// EventHandler serves /v1/events.
type EventHandler struct {
	svc EventService
	log *zap.Logger
}

func NewEventHandler(svc EventService, log *zap.Logger) *EventHandler {
	if svc == nil {
		panic("nil EventService passed to NewEventHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EventHandler{svc: svc, log: log}
}

// TagList accepts either a JSON array or a comma separated string.
type TagList []string

func (t *TagList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = tags.Split(s)
	return nil
}

type eventReq struct {
	Title      *string           `json:"title"`
	Date       *string           `json:"date"`
	EventDate  *string           `json:"event_date"`
	Capacity   *int              `json:"capacity"`
	Tags       *TagList          `json:"tags"`
	TagsColors map[string]string `json:"tags_colors"`
	imagestore.Input
}

func (r eventReq) date() *string {
	if r.EventDate != nil {
		return r.EventDate
	}
	return r.Date
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseEventDate accepts RFC 3339 and the zone-less layouts HTML date and
// datetime-local inputs produce; zone-less values are taken as UTC.
func ParseEventDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// List handles GET /v1/events.
func (h *EventHandler) List(c echo.Context) error {
	caller, ok := callerOf(c)
	if !ok {
		return nil
	}
	list, err := h.svc.List(c.Request().Context(), caller)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, list)
}

// Get handles GET /v1/events/:id.
func (h *EventHandler) Get(c echo.Context) error {
	caller, ok := callerOf(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	v, err := h.svc.Get(c.Request().Context(), id, caller)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Create handles POST /v1/events.
func (h *EventHandler) Create(c echo.Context) error {
	caller, ok := callerOf(c)
	if !ok {
		return nil
	}
	var req eventReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Title == nil || req.date() == nil || req.Capacity == nil {
		return badRequest(c, "title, event_date and capacity are required")
	}
	when, ok := ParseEventDate(*req.date())
	if !ok {
		return badRequest(c, "invalid event_date")
	}
	in := service.CreateEventInput{
		Title:      *req.Title,
		EventDate:  when,
		Capacity:   *req.Capacity,
		TagsColors: req.TagsColors,
		Image:      req.Input,
	}
	if req.Tags != nil {
		in.Tags = *req.Tags
	}

	v, err := h.svc.Create(c.Request().Context(), in, caller)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, v)
}

// Update handles PUT /v1/events/:id.  Absent fields are left as they are.
func (h *EventHandler) Update(c echo.Context) error {
	caller, ok := callerOf(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	var req eventReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	in := service.UpdateEventInput{
		Title:      req.Title,
		Capacity:   req.Capacity,
		TagsColors: req.TagsColors,
		Image:      req.Input,
	}
	if d := req.date(); d != nil {
		when, ok := ParseEventDate(*d)
		if !ok {
			return badRequest(c, "invalid event_date")
		}
		in.EventDate = &when
	}
	if req.Tags != nil {
		list := []string(*req.Tags)
		in.Tags = &list
	}

	v, err := h.svc.Update(c.Request().Context(), id, in, caller)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Delete handles DELETE /v1/events/:id.
func (h *EventHandler) Delete(c echo.Context) error {
	caller, ok := callerOf(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	if err := h.svc.Delete(c.Request().Context(), id, caller); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// Reserve handles POST /v1/events/:id/reserve.
func (h *EventHandler) Reserve(c echo.Context) error {
	return h.seat(c, h.svc.Reserve)
}

// Unreserve handles POST /v1/events/:id/unreserve.
func (h *EventHandler) Unreserve(c echo.Context) error {
	return h.seat(c, h.svc.Unreserve)
}

func (h *EventHandler) seat(c echo.Context, op func(context.Context, uint64, model.Caller) (*model.EventView, error)) error {
	caller, ok := callerOf(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	v, err := op(c.Request().Context(), id, caller)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Reservations handles GET /v1/events/:id/reservations.
func (h *EventHandler) Reservations(c echo.Context) error {
	caller, ok := callerOf(c)
	if !ok {
		return nil
	}
	id, ok := pathID(c, "id")
	if !ok {
		return nil
	}
	list, err := h.svc.Reservations(c.Request().Context(), id, caller)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, list)
}
