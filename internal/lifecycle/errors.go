package lifecycle

import (
	"errors"
	"fmt"

	sqlite3 "modernc.org/sqlite/lib"

	"taskmint/internal/rewards"
)

// ErrBusy is returned when the project's write lock could not be acquired
// before the busy timeout elapsed.
var ErrBusy = errors.New("project is busy, try again")

// ErrNoAssignees mirrors the distributor's sentinel so callers only need
// one errors.Is target.
var ErrNoAssignees = rewards.ErrNoAssignees

// IllegalTransitionError reports an operation that is not valid from the
// task's current composite status.
type IllegalTransitionError struct {
	Op     string
	TaskID string
	Status string
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot %s task %s in status %s", e.Op, e.TaskID, e.Status)
}

// ValidationError reports malformed input rejected before any state was
// touched.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// busyOr tags SQLite lock contention as ErrBusy so the caller can map it
// to a retryable conflict instead of a storage failure. The driver's
// result code is checked, not the message text; extended codes carry the
// primary code in the low byte.
func busyOr(err error) error {
	if err == nil {
		return nil
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		switch coded.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
	}
	return err
}
