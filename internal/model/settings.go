package model

import "time"

// UserSettings are per-user UI preferences.
type UserSettings struct {
	UserID       uint64    `json:"-"`
	Theme        string    `json:"theme"`
	PrimaryColor string    `json:"primary_color"`
	Compact      bool      `json:"compact"`
	ShowImages   bool      `json:"show_images"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DefaultSettings is what a user sees before saving anything.
func DefaultSettings(userID uint64) UserSettings {
	return UserSettings{
		UserID:       userID,
		Theme:        "light",
		PrimaryColor: "#111827",
		Compact:      false,
		ShowImages:   true,
	}
}

// SettingsPatch holds a partial settings update.
type SettingsPatch struct {
	Theme        *string `json:"theme"`
	PrimaryColor *string `json:"primary_color"`
	Compact      *bool   `json:"compact"`
	ShowImages   *bool   `json:"show_images"`
}
