// Package service holds the reservation coordinator and the event service
// built on it.  Both depend on the small store interfaces below; the MySQL
// repositories satisfy them in production.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/event-reservation/internal/imagestore"
	"github.com/iliyamo/event-reservation/internal/model"
	"github.com/iliyamo/event-reservation/internal/queue"
)

// ErrInvalidInput marks a request rejected before touching the store.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Transactor runs fn in one transaction carried by the context it passes.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventStore is implemented by repository.EventRepo.
type EventStore interface {
	Insert(ctx context.Context, e *model.Event) error
	Get(ctx context.Context, id uint64) (*model.Event, error)
	GetForUpdate(ctx context.Context, id uint64) (*model.Event, error)
	TakePlace(ctx context.Context, id uint64) error
	ReleasePlace(ctx context.Context, id uint64) error
	Save(ctx context.Context, e *model.Event) error
	Delete(ctx context.Context, id uint64) error
	View(ctx context.Context, id, userID uint64) (*model.EventView, error)
	List(ctx context.Context, userID uint64) ([]model.EventView, error)
}

// ReservationStore is implemented by repository.ReservationRepo.
type ReservationStore interface {
	Exists(ctx context.Context, eventID, userID uint64) (bool, error)
	Insert(ctx context.Context, eventID, userID uint64) error
	Delete(ctx context.Context, eventID, userID uint64) (bool, error)
	DeleteByEvent(ctx context.Context, eventID uint64) (int64, error)
	ListByEvent(ctx context.Context, eventID uint64) ([]model.ReservationHolder, error)
}

// ActivityPublisher receives an activity record after each committed change.
type ActivityPublisher interface {
	Publish(ctx context.Context, ev queue.ReservationActivity) error
}

// ImageResolver is implemented by imagestore.Resolver.
type ImageResolver interface {
	Resolve(ctx context.Context, in imagestore.Input) (*model.Image, error)
}
