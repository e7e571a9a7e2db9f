package model

import "time"

// ReservationHolder is one `user_events` row of an event joined with the
// holder's username, as shown to the event's owner.
type ReservationHolder struct {
	UserID    uint64    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
