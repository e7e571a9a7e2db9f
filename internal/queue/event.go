// Package queue defines message payloads exchanged over the message broker
// together with the publisher and the background consumer.
package queue

import "time"

// ActivityQueue is the durable queue reservation activity is sent to.
const ActivityQueue = "reservation.activity"

// Activity kinds.
const (
	KindReserved        = "reserved"
	KindUnreserved      = "unreserved"
	KindCapacityChanged = "capacity_changed"
	KindEventDeleted    = "event_deleted"
)

// ReservationActivity is published after a reservation transaction commits.
// It is an audit record: consumers may log or aggregate it, but the database
// stays the source of truth.
type ReservationActivity struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	EventID    uint64    `json:"event_id"`
	UserID     uint64    `json:"user_id"`
	Capacity   int       `json:"capacity"`
	PlacesLeft int       `json:"places_left"`
	OccurredAt time.Time `json:"occurred_at"`
}
