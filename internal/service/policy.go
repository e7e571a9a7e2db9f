package service

import "github.com/iliyamo/event-reservation/internal/model"

// Policy decides who may change an event.  It is consulted under the event
// row lock, against the locked row, so ownership cannot change between the
// check and the write.
type Policy interface {
	CanEdit(caller model.Caller, e *model.Event) bool
	CanDelete(caller model.Caller, e *model.Event) bool
}

// OwnerOrAdmin lets the owner edit and delete, and admins edit.
type OwnerOrAdmin struct{}

func (OwnerOrAdmin) CanEdit(caller model.Caller, e *model.Event) bool {
	return caller.UserID == e.OwnerID || caller.IsAdmin()
}

func (OwnerOrAdmin) CanDelete(caller model.Caller, e *model.Event) bool {
	return caller.UserID == e.OwnerID
}
