package schedule

import (
	"errors"
	"fmt"

	"github.com/mentora/engine/internal/shared/calendar"
)

var (
	ErrNoSlotAvailable        = errors.New("no slot available")
	ErrSnoozeExhausted        = errors.New("snooze already used for this task")
	ErrRegenerationInProgress = errors.New("regeneration in progress")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrInstanceNotFound       = errors.New("instance not found")
)

// NoSlotAvailableError reports a task occurrence that could not be placed.
// It is recoverable: the occurrence is carried or escalated, never fatal.
type NoSlotAvailableError struct {
	TemplateID string
	Date       calendar.Date
	Reason     string
}

func (e *NoSlotAvailableError) Error() string {
	return fmt.Sprintf("%s: %s on %s: %s", ErrNoSlotAvailable, e.TemplateID, e.Date, e.Reason)
}

func (e *NoSlotAvailableError) Unwrap() error { return ErrNoSlotAvailable }

// SnoozeExhaustedError is returned when a lineage has already been snoozed.
type SnoozeExhaustedError struct {
	InstanceID string
	LineageID  string
}

func (e *SnoozeExhaustedError) Error() string {
	return fmt.Sprintf("%s: instance %s (lineage %s)", ErrSnoozeExhausted, e.InstanceID, e.LineageID)
}

func (e *SnoozeExhaustedError) Unwrap() error { return ErrSnoozeExhausted }

// TransitionError reports an illegal status change.
type TransitionError struct {
	InstanceID string
	From       Status
	To         Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s cannot go from %s to %s", ErrInvalidTransition, e.InstanceID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsRetryable reports whether the caller may retry the same request later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRegenerationInProgress)
}
