package lifecycle

import (
	"errors"
	"fmt"

	"postline/internal/entity"
)

// InvalidTransitionError is returned when the requested event is not legal
// from the post's current status, or when a guard rejects it. It carries
// the legal events so callers can surface a useful diagnostic.
type InvalidTransitionError struct {
	Status entity.PostStatus
	Event  Event
	Legal  []Event
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("event %s not allowed from status %s: %s (legal events: %v)", e.Event, e.Status, e.Reason, e.Legal)
	}
	return fmt.Sprintf("event %s not allowed from status %s (legal events: %v)", e.Event, e.Status, e.Legal)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
