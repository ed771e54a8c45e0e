package session

import (
	"errors"
	"fmt"
)

// ErrActionInProgress is returned when an action is invoked while its
// control is still disabled by a previous invocation.
var ErrActionInProgress = errors.New("action already in progress")

// ErrSuperseded is returned by a load or an action whose outcome a newer
// navigation or a reset replaced. The outcome was discarded.
var ErrSuperseded = errors.New("superseded by a newer navigation or reset")

// Notified reports whether the session already pushed a notification for
// an action error. Refusals that never ran the action are not notified.
func Notified(err error) bool {
	return err != nil && !errors.Is(err, ErrActionInProgress) && !errors.Is(err, ErrSuperseded)
}

// MissingLabError is returned when the navigation has no lab parameter.
type MissingLabError struct{}

func (e *MissingLabError) Error() string {
	return "no lab selected: add ?lab=<name> to the URL"
}

// NotInteractiveError is returned for an action attempted before the lab
// finished loading or after it failed.
type NotInteractiveError struct {
	Action string
	State  State
}

func (e *NotInteractiveError) Error() string {
	return fmt.Sprintf("cannot %s: session is %s", e.Action, e.State)
}
