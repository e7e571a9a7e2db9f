package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/event-reservation/internal/model"
)

// ReservationRepo manages the user_events table: the set of users holding a
// seat at each event.  The composite primary key (user_id, event_id) makes a
// second seat for the same user impossible even if a caller skipped Exists.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// Exists reports whether userID holds a seat at eventID.
func (r *ReservationRepo) Exists(ctx context.Context, eventID, userID uint64) (bool, error) {
	var one int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT 1 FROM user_events WHERE user_id = ? AND event_id = ?`, userID, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, classify(err, nil)
	}
	return true, nil
}

// Insert adds the (user, event) pair.  A duplicate maps to ErrAlreadyReserved.
func (r *ReservationRepo) Insert(ctx context.Context, eventID, userID uint64) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO user_events (user_id, event_id) VALUES (?, ?)`, userID, eventID)
	if err != nil {
		return classify(fmt.Errorf("insert reservation: %w", err), ErrAlreadyReserved)
	}
	return nil
}

// Delete removes the pair and reports whether a row was actually deleted.
func (r *ReservationRepo) Delete(ctx context.Context, eventID, userID uint64) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM user_events WHERE user_id = ? AND event_id = ?`, userID, eventID)
	if err != nil {
		return false, classify(err, nil)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteByEvent removes every reservation of an event and returns how many went.
func (r *ReservationRepo) DeleteByEvent(ctx context.Context, eventID uint64) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM user_events WHERE event_id = ?`, eventID)
	if err != nil {
		return 0, classify(err, nil)
	}
	return res.RowsAffected()
}

// CountByEvent returns |reservations(event)|.
func (r *ReservationRepo) CountByEvent(ctx context.Context, eventID uint64) (int, error) {
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_events WHERE event_id = ?`, eventID).Scan(&n)
	return n, classify(err, nil)
}

// ListByEvent returns the holders of an event, oldest first.
func (r *ReservationRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.ReservationHolder, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
		SELECT ue.user_id, u.username, ue.created_at
		FROM user_events ue
		JOIN users u ON u.id = ue.user_id
		WHERE ue.event_id = ?
		ORDER BY ue.created_at ASC, ue.user_id ASC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.ReservationHolder, 0)
	for rows.Next() {
		var h model.ReservationHolder
		if err := rows.Scan(&h.UserID, &h.Username, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
