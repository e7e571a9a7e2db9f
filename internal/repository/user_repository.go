package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/event-reservation/internal/model"
	"github.com/iliyamo/event-reservation/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NormalizeUsername trims surrounding whitespace.  Usernames are compared
// case-sensitively, as stored.
func NormalizeUsername(s string) string { return strings.TrimSpace(s) }

const userColumns = "id, username, password_hash, role, created_at, updated_at"

// Create hashes the password and inserts the user, returning its ID.
func (r *UserRepo) Create(ctx context.Context, username, password, role string, cost int) (uint64, error) {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, role) VALUES (?,?,?)",
		NormalizeUsername(username), hash, role)
	if err != nil {
		return 0, classify(err, ErrUsernameExists)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// EnsureAdmin creates username as an admin if it does not exist yet, or
// promotes it if it does.  The password is only set on creation.
func (r *UserRepo) EnsureAdmin(ctx context.Context, username, password string, cost int) (uint64, error) {
	u, err := r.GetByUsername(ctx, username)
	switch {
	case err == nil:
		if u.Role != model.RoleAdmin {
			if _, err := r.DB.ExecContext(ctx, "UPDATE users SET role=? WHERE id=?", model.RoleAdmin, u.ID); err != nil {
				return 0, err
			}
		}
		return u.ID, nil
	case errors.Is(err, ErrUserNotFound):
		return r.Create(ctx, username, password, model.RoleAdmin, cost)
	default:
		return 0, err
	}
}

// GetByUsername fetches a user by exact username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE username=? LIMIT 1", NormalizeUsername(username))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx, q, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrUserNotFound
	}
	return u, err
}

// List returns every user ordered by id.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Update changes username and/or role; nil leaves a field as is.
func (r *UserRepo) Update(ctx context.Context, id uint64, username, role *string) (model.User, error) {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if username != nil {
		sets = append(sets, "username=?")
		args = append(args, NormalizeUsername(*username))
	}
	if role != nil {
		sets = append(sets, "role=?")
		args = append(args, *role)
	}
	if len(sets) > 0 {
		args = append(args, id)
		// RowsAffected is 0 for a no-op update too, so existence is checked by the read below.
		if _, err := r.DB.ExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=?", args...); err != nil {
			return model.User{}, classify(err, ErrUsernameExists)
		}
	}
	return r.GetByID(ctx, id)
}

// Delete removes a user.  Their own events, reservations and tokens go by
// cascade, but the seats they held at other people's events are handed back
// first so places_left stays equal to capacity minus reservations.
func (r *UserRepo) Delete(ctx context.Context, id uint64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Lock the affected events in id order, the same order every other
	// multi-row writer would use, before touching them.
	rows, err := tx.QueryContext(ctx, `
		SELECT e.id FROM events e
		JOIN user_events ue ON ue.event_id = e.id
		WHERE ue.user_id = ? AND e.owner_id <> ?
		ORDER BY e.id FOR UPDATE`, id, id)
	if err != nil {
		return classify(err, nil)
	}
	_ = rows.Close()
	if _, err := tx.ExecContext(ctx, `
		UPDATE events e
		JOIN user_events ue ON ue.event_id = e.id
		SET e.places_left = LEAST(e.capacity, e.places_left + 1)
		WHERE ue.user_id = ? AND e.owner_id <> ?`, id, id); err != nil {
		return classify(err, nil)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id=?", id)
	if err != nil {
		return classify(err, nil)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	if err := tx.Commit(); err != nil {
		return classify(err, nil)
	}
	committed = true
	return nil
}
