package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/event-reservation/internal/imagestore"
	"github.com/iliyamo/event-reservation/internal/model"
)

// EventRepo stores events.  Mutating methods are meant to run inside a
// TxRunner transaction after GetForUpdate has locked the row.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, title, event_date, capacity, places_left, owner_id,
	image_url, image_data, image_mime, tags, tags_colors, created_at`

// Insert creates the event with places_left = capacity and fills in ID and
// CreatedAt.
func (r *EventRepo) Insert(ctx context.Context, e *model.Event) error {
	tags, colors, err := encodeTags(e.Tags, e.TagsColors)
	if err != nil {
		return err
	}
	e.PlacesLeft = e.Capacity
	res, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO events (title, event_date, capacity, places_left, owner_id,
			image_url, image_data, image_mime, tags, tags_colors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Title, e.EventDate.UTC(), e.Capacity, e.PlacesLeft, e.OwnerID,
		nullString(e.Image.URL), nullBytes(e.Image.Data), nullString(e.Image.MIME), tags, colors)
	if err != nil {
		return classify(fmt.Errorf("insert event: %w", err), nil)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT created_at FROM events WHERE id = ?`, e.ID).Scan(&e.CreatedAt)
}

// Get reads an event without locking it.
func (r *EventRepo) Get(ctx context.Context, id uint64) (*model.Event, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

// GetForUpdate reads the event and takes its exclusive row lock until the
// surrounding transaction ends.  This lock is what serialises every reserve,
// unreserve, edit and delete on one event.
func (r *EventRepo) GetForUpdate(ctx context.Context, id uint64) (*model.Event, error) {
	if !inTx(ctx) {
		return nil, errors.New("GetForUpdate called outside a transaction")
	}
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ? FOR UPDATE`, id)
	e, err := scanEvent(row)
	if err != nil {
		return nil, classify(err, nil)
	}
	return e, nil
}

// TakePlace decrements places_left.  The caller has already checked it is positive.
func (r *EventRepo) TakePlace(ctx context.Context, id uint64) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE events SET places_left = places_left - 1 WHERE id = ? AND places_left > 0`, id)
	return classify(err, nil)
}

// ReleasePlace increments places_left, never past capacity.
func (r *EventRepo) ReleasePlace(ctx context.Context, id uint64) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE events SET places_left = LEAST(capacity, places_left + 1) WHERE id = ?`, id)
	return classify(err, nil)
}

// Save writes every mutable column of e.
func (r *EventRepo) Save(ctx context.Context, e *model.Event) error {
	tags, colors, err := encodeTags(e.Tags, e.TagsColors)
	if err != nil {
		return err
	}
	_, err = conn(ctx, r.db).ExecContext(ctx, `
		UPDATE events SET title = ?, event_date = ?, capacity = ?, places_left = ?,
			image_url = ?, image_data = ?, image_mime = ?, tags = ?, tags_colors = ?
		WHERE id = ?`,
		e.Title, e.EventDate.UTC(), e.Capacity, e.PlacesLeft,
		nullString(e.Image.URL), nullBytes(e.Image.Data), nullString(e.Image.MIME), tags, colors,
		e.ID)
	return classify(err, nil)
}

// Delete removes the event row.  Reservations must already be gone.
func (r *EventRepo) Delete(ctx context.Context, id uint64) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return classify(err, nil)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventNotFound
	}
	return nil
}

const viewSelect = `
	SELECT e.id, e.title, e.event_date, e.capacity, e.places_left, e.owner_id,
		e.image_url, e.image_data, e.image_mime, e.tags, e.tags_colors, e.created_at,
		u.username, ue.user_id IS NOT NULL
	FROM events e
	JOIN users u ON u.id = e.owner_id
	LEFT JOIN user_events ue ON ue.event_id = e.id AND ue.user_id = ?`

// View returns one event as seen by userID.  Inside a transaction it sees
// that transaction's own writes.
func (r *EventRepo) View(ctx context.Context, id, userID uint64) (*model.EventView, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, viewSelect+` WHERE e.id = ?`, userID, id)
	return scanView(row)
}

// List returns all events by ascending date, each flagged for userID.
func (r *EventRepo) List(ctx context.Context, userID uint64) ([]model.EventView, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, viewSelect+` ORDER BY e.event_date ASC, e.id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.EventView, 0)
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

type eventRow struct {
	e         model.Event
	imageURL  sql.NullString
	imageMIME sql.NullString
	tags      []byte
	colors    []byte
}

func (er *eventRow) dest() []any {
	return []any{&er.e.ID, &er.e.Title, &er.e.EventDate, &er.e.Capacity, &er.e.PlacesLeft, &er.e.OwnerID,
		&er.imageURL, &er.e.Image.Data, &er.imageMIME, &er.tags, &er.colors, &er.e.CreatedAt}
}

func (er *eventRow) finish() (*model.Event, error) {
	er.e.Image.URL = er.imageURL.String
	er.e.Image.MIME = er.imageMIME.String
	if err := decodeTags(er.tags, er.colors, &er.e); err != nil {
		return nil, err
	}
	return &er.e, nil
}

func scanEvent(s scanner) (*model.Event, error) {
	var er eventRow
	if err := s.Scan(er.dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return er.finish()
}

func scanView(s scanner) (*model.EventView, error) {
	var (
		er       eventRow
		owner    string
		reserved bool
	)
	if err := s.Scan(append(er.dest(), &owner, &reserved)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	e, err := er.finish()
	if err != nil {
		return nil, err
	}
	v := ToView(e, owner, reserved)
	return &v, nil
}

// ToView renders an event row for the API.
func ToView(e *model.Event, ownerUsername string, reserved bool) model.EventView {
	v := model.EventView{
		ID:            e.ID,
		Title:         e.Title,
		EventDate:     e.EventDate,
		Capacity:      e.Capacity,
		PlacesLeft:    e.PlacesLeft,
		Tags:          e.Tags,
		TagsColors:    e.TagsColors,
		OwnerID:       e.OwnerID,
		OwnerUsername: ownerUsername,
		CreatedAt:     e.CreatedAt,
		IsReserved:    reserved,
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if v.TagsColors == nil {
		v.TagsColors = map[string]string{}
	}
	if e.Image.URL != "" {
		u := e.Image.URL
		v.ImageURL = &u
	}
	if !e.Image.Empty() {
		mime := e.Image.MIME
		dataURL := imagestore.DataURL(mime, e.Image.Data)
		v.ImageMIME = &mime
		v.ImageDataURL = &dataURL
	}
	return v
}

func encodeTags(tags []string, colors map[string]string) (any, any, error) {
	if len(tags) == 0 {
		return nil, nil, nil
	}
	t, err := json.Marshal(tags)
	if err != nil {
		return nil, nil, fmt.Errorf("encode tags: %w", err)
	}
	if colors == nil {
		colors = map[string]string{}
	}
	c, err := json.Marshal(colors)
	if err != nil {
		return nil, nil, fmt.Errorf("encode tag colors: %w", err)
	}
	return string(t), string(c), nil
}

func decodeTags(tags, colors []byte, e *model.Event) error {
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &e.Tags); err != nil {
			return fmt.Errorf("decode tags: %w", err)
		}
	}
	if len(colors) > 0 {
		if err := json.Unmarshal(colors, &e.TagsColors); err != nil {
			return fmt.Errorf("decode tag colors: %w", err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
