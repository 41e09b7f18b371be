package schedule

import (
	"errors"
	"time"
)

var (
	// ErrInvalidSchedule wraps all grammar and range failures reported by
	// Parse and FromFields.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrUnreachableSchedule is returned by NextAfter when a schedule has no
	// fire time within the search horizon (e.g. "0 0 31 2 *").
	ErrUnreachableSchedule = errors.New("schedule can never fire")
)

// Schedule computes the next activation time for a job. The signature is
// shared with robfig/cron's Schedule so descriptor specs plug in directly.
type Schedule interface {
	// Next returns the next activation time strictly after t, or the zero
	// time when no activation exists within the implementation's horizon.
	Next(t time.Time) time.Time
}

// NextAfter is the checked form of Schedule.Next: a zero result becomes
// ErrUnreachableSchedule so callers can disable the job instead of sleeping
// forever.
func NextAfter(s Schedule, from time.Time) (time.Time, error) {
	next := s.Next(from)
	if next.IsZero() {
		return time.Time{}, ErrUnreachableSchedule
	}
	return next, nil
}
