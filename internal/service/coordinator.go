package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/iliyamo/event-reservation/internal/model"
	"github.com/iliyamo/event-reservation/internal/queue"
	"github.com/iliyamo/event-reservation/internal/repository"
	"github.com/iliyamo/event-reservation/internal/telemetry"
)

// DefaultLockTimeout bounds one coordinator transaction when no option is given.
const DefaultLockTimeout = 8 * time.Second

// Coordinator performs every state transition on an event's seat count.
// Each operation is one transaction that starts by locking the event row;
// two operations on the same event therefore run one after the other, while
// operations on different events never wait on each other.
type Coordinator struct {
	tx           Transactor
	events       EventStore
	reservations ReservationStore
	policy       Policy
	publisher    ActivityPublisher
	lockTimeout  time.Duration
	log          *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPolicy replaces the default OwnerOrAdmin authorization.
func WithPolicy(p Policy) Option { return func(c *Coordinator) { c.policy = p } }

// WithPublisher sends activity records after each commit.
func WithPublisher(p ActivityPublisher) Option { return func(c *Coordinator) { c.publisher = p } }

// WithLockTimeout bounds a whole operation, lock wait included.
func WithLockTimeout(d time.Duration) Option { return func(c *Coordinator) { c.lockTimeout = d } }

// WithLogger sets the logger; the default discards.
func WithLogger(l *zap.Logger) Option { return func(c *Coordinator) { c.log = l } }

func NewCoordinator(tx Transactor, events EventStore, reservations ReservationStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		tx:           tx,
		events:       events,
		reservations: reservations,
		policy:       OwnerOrAdmin{},
		lockTimeout:  DefaultLockTimeout,
		log:          zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Policy returns the authorization policy in force.
func (c *Coordinator) Policy() Policy { return c.policy }

// Reserve gives userID one seat at eventID.
func (c *Coordinator) Reserve(ctx context.Context, eventID, userID uint64) (*model.EventView, error) {
	var view *model.EventView
	err := c.run(ctx, "reserve", eventID, func(ctx context.Context) error {
		e, err := c.events.GetForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if e.PlacesLeft <= 0 {
			return repository.ErrEventFull
		}
		held, err := c.reservations.Exists(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if held {
			return repository.ErrAlreadyReserved
		}
		if err := c.reservations.Insert(ctx, eventID, userID); err != nil {
			return err
		}
		if err := c.events.TakePlace(ctx, eventID); err != nil {
			return err
		}
		view, err = c.events.View(ctx, eventID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.publish(ctx, queue.KindReserved, view, userID)
	return view, nil
}

// Unreserve hands userID's seat at eventID back.
func (c *Coordinator) Unreserve(ctx context.Context, eventID, userID uint64) (*model.EventView, error) {
	var view *model.EventView
	err := c.run(ctx, "unreserve", eventID, func(ctx context.Context) error {
		e, err := c.events.GetForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		deleted, err := c.reservations.Delete(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if !deleted {
			return repository.ErrNoReservation
		}
		if e.PlacesLeft >= e.Capacity {
			// A reservation existed while every place was free: the row was
			// out of step before this call.  The increment is clamped.
			c.log.Warn("places_left already at capacity on unreserve",
				zap.Uint64("event_id", eventID), zap.Int("capacity", e.Capacity))
		}
		if err := c.events.ReleasePlace(ctx, eventID); err != nil {
			return err
		}
		view, err = c.events.View(ctx, eventID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.publish(ctx, queue.KindUnreserved, view, userID)
	return view, nil
}

// UpdateCapacity sets a new capacity, keeping every existing reservation.
func (c *Coordinator) UpdateCapacity(ctx context.Context, eventID uint64, newCapacity int, caller model.Caller) (*model.EventView, error) {
	return c.UpdateEvent(ctx, eventID, caller, model.EventPatch{Capacity: &newCapacity})
}

// UpdateEvent applies patch under the event lock.  A capacity change keeps
// the number of taken places: places_left becomes newCapacity - taken, and a
// capacity below taken is refused with a *repository.CapacityError.  The
// remaining fields are plain overwrites.
func (c *Coordinator) UpdateEvent(ctx context.Context, eventID uint64, caller model.Caller, patch model.EventPatch) (*model.EventView, error) {
	if patch.Capacity != nil && *patch.Capacity <= 0 {
		return nil, invalid("capacity must be positive")
	}

	var view *model.EventView
	err := c.run(ctx, "update", eventID, func(ctx context.Context) error {
		e, err := c.events.GetForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !c.policy.CanEdit(caller, e) {
			return repository.ErrForbidden
		}
		if patch.Capacity != nil {
			taken := e.Taken()
			if *patch.Capacity < taken {
				return &repository.CapacityError{Taken: taken, Requested: *patch.Capacity}
			}
			e.Capacity = *patch.Capacity
			e.PlacesLeft = *patch.Capacity - taken
		}
		if !patch.Empty() {
			applyDetails(e, patch)
			if err := c.events.Save(ctx, e); err != nil {
				return err
			}
		}
		view, err = c.events.View(ctx, eventID, caller.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if patch.Capacity != nil {
		c.publish(ctx, queue.KindCapacityChanged, view, caller.UserID)
	}
	return view, nil
}

func applyDetails(e *model.Event, p model.EventPatch) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.EventDate != nil {
		e.EventDate = *p.EventDate
	}
	if p.Image != nil {
		e.Image = *p.Image
	}
	if p.Tags != nil {
		e.Tags = *p.Tags
		e.TagsColors = p.TagsColors
	} else if p.TagsColors != nil {
		e.TagsColors = p.TagsColors
	}
}

// DeleteEvent removes the event and every reservation of it.
func (c *Coordinator) DeleteEvent(ctx context.Context, eventID uint64, caller model.Caller) error {
	var (
		snapshot model.Event
		dropped  int64
	)
	err := c.run(ctx, "delete", eventID, func(ctx context.Context) error {
		e, err := c.events.GetForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if !c.policy.CanDelete(caller, e) {
			return repository.ErrForbidden
		}
		if dropped, err = c.reservations.DeleteByEvent(ctx, eventID); err != nil {
			return err
		}
		snapshot = *e
		return c.events.Delete(ctx, eventID)
	})
	if err != nil {
		return err
	}
	c.log.Info("event deleted", zap.Uint64("event_id", eventID), zap.Int64("reservations_dropped", dropped))
	c.emit(ctx, queue.ReservationActivity{
		Kind:       queue.KindEventDeleted,
		EventID:    eventID,
		UserID:     caller.UserID,
		Capacity:   snapshot.Capacity,
		PlacesLeft: snapshot.PlacesLeft,
	})
	return nil
}

// run wraps fn in a traced transaction bounded by lockTimeout.  When that
// bound (and not the caller's own context) fires, the error becomes
// ErrLockTimeout so the caller knows a retry is safe.
func (c *Coordinator) run(ctx context.Context, op string, eventID uint64, fn func(ctx context.Context) error) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "reservation."+op,
		attribute.Int64("event.id", int64(eventID)))
	defer func() { telemetry.End(span, err) }()

	txCtx := ctx
	if c.lockTimeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, c.lockTimeout)
		defer cancel()
	}

	err = c.tx.WithTx(txCtx, fn)
	if err != nil && ctx.Err() == nil && errors.Is(txCtx.Err(), context.DeadlineExceeded) &&
		!errors.Is(err, repository.ErrLockTimeout) {
		err = fmt.Errorf("%w: %s on event %d exceeded %s", repository.ErrLockTimeout, op, eventID, c.lockTimeout)
	}
	if repository.IsRetryable(err) {
		c.log.Warn("reservation lock timeout", zap.String("op", op), zap.Uint64("event_id", eventID),
			zap.String("trace_id", telemetry.TraceID(ctx)), zap.Error(err))
	}
	return err
}

func (c *Coordinator) publish(ctx context.Context, kind string, v *model.EventView, userID uint64) {
	c.emit(ctx, queue.ReservationActivity{
		Kind:       kind,
		EventID:    v.ID,
		UserID:     userID,
		Capacity:   v.Capacity,
		PlacesLeft: v.PlacesLeft,
	})
}

// emit is best effort: the transaction has already committed, so a broker
// failure is logged and otherwise ignored.
func (c *Coordinator) emit(ctx context.Context, ev queue.ReservationActivity) {
	if c.publisher == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.publisher.Publish(pctx, ev); err != nil {
		c.log.Warn("publish reservation activity failed", zap.String("kind", ev.Kind),
			zap.Uint64("event_id", ev.EventID), zap.Error(err))
	}
}
