// Package repository defines the MySQL-backed stores and the error values
// they share with higher layers.  Handlers map each sentinel to one HTTP
// status, so callers must compare with errors.Is rather than by text.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrEventNotFound: no event with the requested id.
	ErrEventNotFound = errors.New("event not found")
	// ErrEventFull is returned by a reserve when places_left is already 0.
	ErrEventFull = errors.New("event is full")
	// ErrAlreadyReserved is returned when the (user, event) pair already exists.
	ErrAlreadyReserved = errors.New("already reserved")
	// ErrNoReservation is returned by unreserve when the user holds no seat.
	ErrNoReservation = errors.New("no reservation")
	// ErrCapacityBelowTaken wraps a *CapacityError; match either one.
	ErrCapacityBelowTaken = errors.New("capacity below reserved places")
	// ErrForbidden is returned when the caller attempts an operation on a
	// resource they do not own.
	ErrForbidden = errors.New("forbidden")
	// ErrLockTimeout means the event row lock could not be acquired in
	// time.  The operation changed nothing and may be retried.
	ErrLockTimeout = errors.New("lock wait timeout")

	ErrUserNotFound    = errors.New("user not found")
	ErrUsernameExists  = errors.New("username already exists")
	ErrInvalidRefresh  = errors.New("invalid refresh token")
	ErrSettingsInvalid = errors.New("invalid settings")
)

// CapacityError reports a capacity edit that would drop below the number of
// seats already reserved.
type CapacityError struct {
	Taken     int
	Requested int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%d places already reserved, capacity %d is too low", e.Taken, e.Requested)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityBelowTaken }

// MySQL server error numbers the stores care about.
const (
	mysqlDupEntry        = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
	mysqlNoReferencedRow = 1452
)

// classify maps driver errors onto the package sentinels.  dup is the error
// a duplicate key means for this call site (nil keeps the raw error).
func classify(err, dup error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return fmt.Errorf("%w: %s", ErrLockTimeout, me.Message)
		case mysqlDupEntry:
			if dup != nil {
				return dup
			}
		case mysqlNoReferencedRow:
			// event rows are locked before anything references them, so the
			// missing parent is a user deleted while their token was live
			return ErrUserNotFound
		}
	}
	// A deadline that fires while the driver waits on a lock surfaces as a
	// context error; it means the same thing to the caller.
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}

// IsRetryable reports whether err is worth retrying unchanged.
func IsRetryable(err error) bool { return errors.Is(err, ErrLockTimeout) }
