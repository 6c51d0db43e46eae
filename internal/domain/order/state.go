package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Action is a requested state change.
type Action string

const (
	ActionMarkPaid     Action = "mark_paid"
	ActionAwaitConfirm Action = "await_confirm"
	ActionStartCooking Action = "start_cooking"
	ActionDispatch     Action = "dispatch"
	ActionComplete     Action = "complete"
	ActionCancel       Action = "cancel"
)

// ParseAction returns the Action named by s.
func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionMarkPaid, ActionAwaitConfirm, ActionStartCooking,
		ActionDispatch, ActionComplete, ActionCancel:
		return a, true
	}
	return "", false
}

// ErrInvalidTransition matches every *InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid order transition")

// InvalidTransitionError reports an action that is not allowed from a status.
type InvalidTransitionError struct {
	From   Status
	Action Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s order in status %s", e.Action, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type transitionKey struct {
	from   Status
	action Action
}

var transitions = map[transitionKey]Status{
	{StatusPending, ActionMarkPaid}:            StatusPaid,
	{StatusPending, ActionAwaitConfirm}:        StatusWaitingConfirm,
	{StatusPaid, ActionStartCooking}:           StatusCooking,
	{StatusWaitingConfirm, ActionStartCooking}: StatusCooking,
	{StatusCooking, ActionDispatch}:            StatusDelivering,
	{StatusDelivering, ActionComplete}:         StatusCompleted,
	{StatusPending, ActionCancel}:              StatusCancelled,
	{StatusWaitingConfirm, ActionCancel}:       StatusCancelled,
}

// Next returns the status reached by applying action to from.
func Next(from Status, action Action) (Status, error) {
	to, ok := transitions[transitionKey{from: from, action: action}]
	if !ok {
		return "", &InvalidTransitionError{From: from, Action: action}
	}
	return to, nil
}

var rank = map[Status]int{
	StatusPending:        0,
	StatusWaitingConfirm: 1,
	StatusPaid:           1,
	StatusCooking:        2,
	StatusDelivering:     3,
	StatusCompleted:      4,
}

// Reached reports whether an order in status s has progressed to at least
// target along the fulfilment path. Cancelled orders reach nothing.
func Reached(s, target Status) bool {
	if s == StatusCancelled || target == StatusCancelled {
		return s == target
	}
	if s == target {
		return true
	}
	if (s == StatusWaitingConfirm && target == StatusPaid) || (s == StatusPaid && target == StatusWaitingConfirm) {
		return false
	}
	return rank[s] >= rank[target]
}
