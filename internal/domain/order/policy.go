package order

import "github.com/go-faster/errors"

// ErrForbidden is returned when an actor may not act on an order.
var ErrForbidden = errors.New("actor is not allowed to perform this action")

// ActorKind is the class of principal performing an action.
type ActorKind string

const (
	// ActorUser is a customer acting on their own orders.
	ActorUser ActorKind = "user"
	// ActorStaff is branch staff scoped to BranchID.
	ActorStaff ActorKind = "staff"
	// ActorSystem is the payment pipeline.
	ActorSystem ActorKind = "system"
)

// Actor identifies who requests a transition.
type Actor struct {
	Kind     ActorKind
	UserID   int64
	BranchID int64
}

// SystemActor is the actor used by the payment event consumer.
var SystemActor = Actor{Kind: ActorSystem}

var capabilities = map[ActorKind]map[Action]bool{
	ActorSystem: {
		ActionMarkPaid:     true,
		ActionAwaitConfirm: true,
	},
	ActorStaff: {
		ActionStartCooking: true,
		ActionDispatch:     true,
		ActionComplete:     true,
	},
	ActorUser: {
		ActionCancel: true,
	},
}

// Authorize reports whether actor may apply action to o. It checks scope
// only; the state machine decides if the action is valid for o's status.
func Authorize(actor Actor, o *Order, action Action) error {
	if !capabilities[actor.Kind][action] {
		return ErrForbidden
	}
	switch actor.Kind {
	case ActorStaff:
		if actor.BranchID == 0 || actor.BranchID != o.BranchID {
			return ErrForbidden
		}
	case ActorUser:
		if actor.UserID == 0 || actor.UserID != o.UserID {
			return ErrForbidden
		}
	}
	return nil
}

// CanView reports whether actor may read o.
func CanView(actor Actor, o *Order) bool {
	switch actor.Kind {
	case ActorSystem:
		return true
	case ActorStaff:
		return actor.BranchID != 0 && actor.BranchID == o.BranchID
	case ActorUser:
		return actor.UserID != 0 && actor.UserID == o.UserID
	}
	return false
}
