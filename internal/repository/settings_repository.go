package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/iliyamo/event-reservation/internal/model"
)

type SettingsRepo struct{ DB *sql.DB }

func NewSettingsRepo(db *sql.DB) *SettingsRepo { return &SettingsRepo{DB: db} }

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Get returns the stored settings, or the defaults when none were saved.
func (r *SettingsRepo) Get(ctx context.Context, userID uint64) (model.UserSettings, error) {
	s := model.DefaultSettings(userID)
	err := r.DB.QueryRowContext(ctx,
		"SELECT theme, primary_color, compact, show_images, updated_at FROM user_settings WHERE user_id=?",
		userID).Scan(&s.Theme, &s.PrimaryColor, &s.Compact, &s.ShowImages, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultSettings(userID), nil
	}
	return s, err
}

// Apply merges p into cur after validating every field it sets.
func Apply(cur model.UserSettings, p model.SettingsPatch) (model.UserSettings, error) {
	if p.Theme != nil {
		if *p.Theme != "light" && *p.Theme != "dark" {
			return cur, fmt.Errorf("%w: theme must be light or dark", ErrSettingsInvalid)
		}
		cur.Theme = *p.Theme
	}
	if p.PrimaryColor != nil {
		if !hexColor.MatchString(*p.PrimaryColor) {
			return cur, fmt.Errorf("%w: primary_color must be #rrggbb", ErrSettingsInvalid)
		}
		cur.PrimaryColor = *p.PrimaryColor
	}
	if p.Compact != nil {
		cur.Compact = *p.Compact
	}
	if p.ShowImages != nil {
		cur.ShowImages = *p.ShowImages
	}
	return cur, nil
}

// Update reads, merges and upserts in one statement sequence.
func (r *SettingsRepo) Update(ctx context.Context, userID uint64, p model.SettingsPatch) (model.UserSettings, error) {
	cur, err := r.Get(ctx, userID)
	if err != nil {
		return cur, err
	}
	next, err := Apply(cur, p)
	if err != nil {
		return cur, err
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, theme, primary_color, compact, show_images)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE theme=VALUES(theme), primary_color=VALUES(primary_color),
			compact=VALUES(compact), show_images=VALUES(show_images)`,
		userID, next.Theme, next.PrimaryColor, next.Compact, next.ShowImages)
	if err != nil {
		return cur, classify(err, nil)
	}
	return r.Get(ctx, userID)
}
