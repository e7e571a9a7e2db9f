package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/event-reservation/internal/imagestore"
	"github.com/iliyamo/event-reservation/internal/model"
	"github.com/iliyamo/event-reservation/internal/queue"
	"github.com/iliyamo/event-reservation/internal/repository"
)

// memStore is an in-memory stand-in for the MySQL repositories.  It keeps
// the properties the coordinator relies on: GetForUpdate blocks while
// another transaction holds the same event, and a failed transaction
// leaves no trace.
type memStore struct {
	mu        sync.Mutex
	nextID    uint64
	events    map[uint64]*model.Event
	usernames map[uint64]string
	seats     map[uint64]map[uint64]time.Time
	locks     map[uint64]chan struct{}

	failTake error
	saves    int
}

func newMemStore() *memStore {
	return &memStore{
		events:    map[uint64]*model.Event{},
		usernames: map[uint64]string{},
		seats:     map[uint64]map[uint64]time.Time{},
		locks:     map[uint64]chan struct{}{},
	}
}

type memTxKey struct{}

type memTx struct {
	held []chan struct{}
	undo []func()
}

func txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	tx := &memTx{}
	err := fn(context.WithValue(ctx, memTxKey{}, tx))
	if err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
	}
	for _, l := range tx.held {
		<-l
	}
	return err
}

// record registers an undo step; callers hold s.mu.
func (s *memStore) record(ctx context.Context, f func()) {
	if tx := txFrom(ctx); tx != nil {
		tx.undo = append(tx.undo, f)
	}
}

func (s *memStore) seedEvent(ownerID uint64, owner string, capacity int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.events[id] = &model.Event{
		ID: id, Title: "event", EventDate: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC),
		Capacity: capacity, PlacesLeft: capacity, OwnerID: ownerID, CreatedAt: time.Now().UTC(),
	}
	s.usernames[ownerID] = owner
	s.locks[id] = make(chan struct{}, 1)
	return id
}

func (s *memStore) snapshot(id uint64) (model.Event, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return model.Event{}, 0
	}
	return *e, len(s.seats[id])
}

// --- EventStore ---

func (s *memStore) Insert(ctx context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	e.PlacesLeft = e.Capacity
	e.CreatedAt = time.Now().UTC()
	cp := *e
	s.events[e.ID] = &cp
	s.locks[e.ID] = make(chan struct{}, 1)
	return nil
}

func (s *memStore) Get(_ context.Context, id uint64) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, repository.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) GetForUpdate(ctx context.Context, id uint64) (*model.Event, error) {
	tx := txFrom(ctx)
	if tx == nil {
		return nil, errors.New("GetForUpdate outside a transaction")
	}
	s.mu.Lock()
	l, ok := s.locks[id]
	s.mu.Unlock()
	if !ok {
		return nil, repository.ErrEventNotFound
	}
	select {
	case l <- struct{}{}:
		tx.held = append(tx.held, l)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, repository.ErrLockTimeout
		}
		return nil, ctx.Err()
	}
	// the event may have been deleted while we waited
	return s.Get(ctx, id)
}

func (s *memStore) TakePlace(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTake != nil {
		return s.failTake
	}
	e := s.events[id]
	if e.PlacesLeft <= 0 {
		return repository.ErrEventFull
	}
	e.PlacesLeft--
	s.record(ctx, func() { e.PlacesLeft++ })
	return nil
}

func (s *memStore) ReleasePlace(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[id]
	prev := e.PlacesLeft
	if e.PlacesLeft < e.Capacity {
		e.PlacesLeft++
	}
	s.record(ctx, func() { e.PlacesLeft = prev })
	return nil
}

func (s *memStore) Save(ctx context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[e.ID]
	if !ok {
		return repository.ErrEventNotFound
	}
	prev := *cur
	*cur = *e
	s.saves++
	s.record(ctx, func() { *cur = prev })
	return nil
}

func (s *memStore) Delete(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return repository.ErrEventNotFound
	}
	delete(s.events, id)
	s.record(ctx, func() { s.events[id] = e })
	return nil
}

func (s *memStore) View(_ context.Context, id, userID uint64) (*model.EventView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, repository.ErrEventNotFound
	}
	_, reserved := s.seats[id][userID]
	v := repository.ToView(e, s.usernames[e.OwnerID], reserved)
	return &v, nil
}

func (s *memStore) List(_ context.Context, userID uint64) ([]model.EventView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventView, 0, len(s.events))
	for id, e := range s.events {
		_, reserved := s.seats[id][userID]
		out = append(out, repository.ToView(e, s.usernames[e.OwnerID], reserved))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EventDate.Equal(out[j].EventDate) {
			return out[i].EventDate.Before(out[j].EventDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- ReservationStore (methods on a wrapper to avoid clashing with EventStore) ---

type memReservations struct{ s *memStore }

func (r memReservations) Exists(_ context.Context, eventID, userID uint64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.seats[eventID][userID]
	return ok, nil
}

func (r memReservations) Insert(ctx context.Context, eventID, userID uint64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.seats[eventID]
	if m == nil {
		m = map[uint64]time.Time{}
		s.seats[eventID] = m
	}
	if _, ok := m[userID]; ok {
		return repository.ErrAlreadyReserved
	}
	m[userID] = time.Now().UTC()
	s.record(ctx, func() { delete(m, userID) })
	return nil
}

func (r memReservations) Delete(ctx context.Context, eventID, userID uint64) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.seats[eventID]
	at, ok := m[userID]
	if !ok {
		return false, nil
	}
	delete(m, userID)
	s.record(ctx, func() { m[userID] = at })
	return true, nil
}

func (r memReservations) DeleteByEvent(ctx context.Context, eventID uint64) (int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.seats[eventID]
	delete(s.seats, eventID)
	s.record(ctx, func() {
		if m != nil {
			s.seats[eventID] = m
		}
	})
	return int64(len(m)), nil
}

func (r memReservations) ListByEvent(_ context.Context, eventID uint64) ([]model.ReservationHolder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.ReservationHolder{}
	for uid, at := range r.s.seats[eventID] {
		out = append(out, model.ReservationHolder{UserID: uid, Username: r.s.usernames[uid], CreatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// recordingPublisher keeps every published activity.
type recordingPublisher struct {
	mu   sync.Mutex
	seen []queue.ReservationActivity
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.ReservationActivity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.seen = append(p.seen, ev)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.seen))
	for i, ev := range p.seen {
		out[i] = ev.Kind
	}
	return out
}

// stubImages resolves inline input to a fixed picture and counts downloads.
type stubImages struct {
	mu        sync.Mutex
	downloads int
	err       error
}

func (s *stubImages) Resolve(_ context.Context, in imagestore.Input) (*model.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	switch {
	case in.HasInline():
		return &model.Image{Data: []byte{0x89, 'P', 'N', 'G'}, MIME: "image/png"}, nil
	case in.URL != "":
		s.downloads++
		return &model.Image{URL: in.URL, Data: []byte{0xff, 0xd8}, MIME: "image/jpeg"}, nil
	}
	return nil, nil
}
