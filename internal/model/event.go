package model

import "time"

// Event mirrors a row of the `events` table.  PlacesLeft is the number of
// seats still free; between transactions it always equals Capacity minus
// the number of user_events rows pointing at the event.
type Event struct {
	ID         uint64
	Title      string
	EventDate  time.Time
	Capacity   int
	PlacesLeft int
	OwnerID    uint64
	Image      Image
	Tags       []string
	TagsColors map[string]string
	CreatedAt  time.Time
}

// Taken returns how many seats are held by reservations.
func (e *Event) Taken() int { return e.Capacity - e.PlacesLeft }

// Image is an event picture stored inline.  URL records where it was
// downloaded from, if anywhere.
type Image struct {
	URL  string
	Data []byte
	MIME string
}

// Empty reports whether there is no stored picture.
func (i Image) Empty() bool { return len(i.Data) == 0 }

// EventView is the read shape returned by the API: the event joined with its
// owner's username and the caller's membership flag.
type EventView struct {
	ID            uint64            `json:"id"`
	Title         string            `json:"title"`
	EventDate     time.Time         `json:"event_date"`
	Capacity      int               `json:"capacity"`
	PlacesLeft    int               `json:"places_left"`
	Tags          []string          `json:"tags"`
	TagsColors    map[string]string `json:"tags_colors"`
	OwnerID       uint64            `json:"owner_id"`
	OwnerUsername string            `json:"owner_username"`
	ImageURL      *string           `json:"image_url"`
	ImageMIME     *string           `json:"image_mime"`
	ImageDataURL  *string           `json:"image_data_url"`
	CreatedAt     time.Time         `json:"created_at"`
	IsReserved    bool              `json:"is_reserved"`
}

// EventPatch carries the fields of an update.  Nil pointers leave the current
// value untouched.  Image and Tags are already resolved and normalized by the
// time a patch reaches the store.
type EventPatch struct {
	Title      *string
	EventDate  *time.Time
	Capacity   *int
	Image      *Image
	Tags       *[]string
	TagsColors map[string]string
}

// Empty reports whether the patch changes nothing.
func (p EventPatch) Empty() bool {
	return p.Title == nil && p.EventDate == nil && p.Capacity == nil && p.Image == nil &&
		p.Tags == nil && p.TagsColors == nil
}
