package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/event-reservation/internal/imagestore"
	"github.com/iliyamo/event-reservation/internal/model"
	"github.com/iliyamo/event-reservation/internal/repository"
	"github.com/iliyamo/event-reservation/internal/tags"
)

const maxTitleLen = 255

// CreateEventInput is a validated-on-use create request.
type CreateEventInput struct {
	Title      string
	EventDate  time.Time
	Capacity   int
	Tags       []string
	TagsColors map[string]string
	Image      imagestore.Input
}

// UpdateEventInput carries a partial update; nil fields keep their value.
type UpdateEventInput struct {
	Title      *string
	EventDate  *time.Time
	Capacity   *int
	Tags       *[]string
	TagsColors map[string]string
	Image      imagestore.Input
}

// EventService exposes event CRUD and seat operations to the HTTP layer.
// Anything touching places_left goes through the Coordinator.
type EventService struct {
	coord        *Coordinator
	events       EventStore
	reservations ReservationStore
	images       ImageResolver
	log          *zap.Logger
}

func NewEventService(coord *Coordinator, events EventStore, reservations ReservationStore, images ImageResolver, log *zap.Logger) *EventService {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventService{coord: coord, events: events, reservations: reservations, images: images, log: log}
}

// Create stores a new event owned by the caller, with every place free.
func (s *EventService) Create(ctx context.Context, in CreateEventInput, caller model.Caller) (*model.EventView, error) {
	title := strings.TrimSpace(in.Title)
	if err := checkTitle(title); err != nil {
		return nil, err
	}
	if in.EventDate.IsZero() {
		return nil, invalid("event_date is required")
	}
	if in.Capacity <= 0 {
		return nil, invalid("capacity must be positive")
	}

	e := &model.Event{
		Title:     title,
		EventDate: in.EventDate.UTC(),
		Capacity:  in.Capacity,
		OwnerID:   caller.UserID,
	}
	img, err := s.images.Resolve(ctx, in.Image)
	if err != nil {
		return nil, err
	}
	if img != nil {
		e.Image = *img
	}
	e.Tags = tags.Normalize(in.Tags)
	e.TagsColors = tags.Colors(e.Tags, in.TagsColors, nil)

	if err := s.events.Insert(ctx, e); err != nil {
		return nil, err
	}
	s.log.Info("event created", zap.Uint64("event_id", e.ID), zap.Uint64("owner_id", e.OwnerID), zap.Int("capacity", e.Capacity))
	return s.events.View(ctx, e.ID, caller.UserID)
}

// Update applies a partial update.  Image download and tag coloring happen
// before the event lock is taken so a slow remote server never holds it;
// the capacity rule and the authorization check run under the lock.
func (s *EventService) Update(ctx context.Context, id uint64, in UpdateEventInput, caller model.Caller) (*model.EventView, error) {
	patch := model.EventPatch{Capacity: in.Capacity}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if err := checkTitle(title); err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if in.EventDate != nil {
		if in.EventDate.IsZero() {
			return nil, invalid("event_date is required")
		}
		d := in.EventDate.UTC()
		patch.EventDate = &d
	}
	if in.Capacity != nil && *in.Capacity <= 0 {
		return nil, invalid("capacity must be positive")
	}

	cur, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// Fail fast before any download; the coordinator checks again under the lock.
	if !s.coord.Policy().CanEdit(caller, cur) {
		return nil, repository.ErrForbidden
	}

	switch {
	case in.Image.HasInline():
		img, err := s.images.Resolve(ctx, in.Image)
		if err != nil {
			return nil, err
		}
		patch.Image = img
	case strings.TrimSpace(in.Image.URL) != "" && strings.TrimSpace(in.Image.URL) != cur.Image.URL:
		img, err := s.images.Resolve(ctx, imagestore.Input{URL: in.Image.URL})
		if err != nil {
			return nil, err
		}
		patch.Image = img
	}

	switch {
	case in.Tags != nil:
		norm := tags.Normalize(*in.Tags)
		patch.Tags = &norm
		patch.TagsColors = tags.Colors(norm, in.TagsColors, cur.TagsColors)
	case in.TagsColors != nil:
		patch.TagsColors = tags.Colors(cur.Tags, in.TagsColors, cur.TagsColors)
	}

	return s.coord.UpdateEvent(ctx, id, caller, patch)
}

// Delete removes the event and its reservations.
func (s *EventService) Delete(ctx context.Context, id uint64, caller model.Caller) error {
	return s.coord.DeleteEvent(ctx, id, caller)
}

// Reserve takes one place for the caller.
func (s *EventService) Reserve(ctx context.Context, id uint64, caller model.Caller) (*model.EventView, error) {
	return s.coord.Reserve(ctx, id, caller.UserID)
}

// Unreserve gives the caller's place back.
func (s *EventService) Unreserve(ctx context.Context, id uint64, caller model.Caller) (*model.EventView, error) {
	return s.coord.Unreserve(ctx, id, caller.UserID)
}

// List returns every event by ascending date, flagged for the caller.
func (s *EventService) List(ctx context.Context, caller model.Caller) ([]model.EventView, error) {
	return s.events.List(ctx, caller.UserID)
}

// Get returns one event as the caller sees it.
func (s *EventService) Get(ctx context.Context, id uint64, caller model.Caller) (*model.EventView, error) {
	return s.events.View(ctx, id, caller.UserID)
}

// Reservations lists who holds a place; restricted to those who may edit the event.
func (s *EventService) Reservations(ctx context.Context, id uint64, caller model.Caller) ([]model.ReservationHolder, error) {
	e, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.coord.Policy().CanEdit(caller, e) {
		return nil, repository.ErrForbidden
	}
	return s.reservations.ListByEvent(ctx, id)
}

func checkTitle(title string) error {
	if title == "" {
		return invalid("title is required")
	}
	if len(title) > maxTitleLen {
		return invalid("title longer than %d bytes", maxTitleLen)
	}
	return nil
}
