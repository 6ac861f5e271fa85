// Package dispatch holds the driver-status state machine for tasks.
//
// A task starts unassigned (no driver, no status). Accepting sets the driver
// and enters "accepted"; from there the status only moves forward through
// pickup, in_transit and delivered. Cancellation is reachable from any
// non-terminal point. The legality rules here are pure; enforcement against
// concurrent writers happens via the conditional updates in
// internal/database/tasks.go.
package dispatch

type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusPickup    Status = "pickup"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// order of forward progression; cancelled sits outside the ladder.
var order = map[Status]int{
	StatusAccepted:  1,
	StatusPickup:    2,
	StatusInTransit: 3,
	StatusDelivered: 4,
}

// Valid reports whether s is a known driver status.
func Valid(s Status) bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := order[s]
	return ok
}

// IsTerminal reports whether no further transition is legal from s.
func IsTerminal(s Status) bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether a task currently at `from` may move to `to`.
// One rung up the ladder at a time; no regression, no skipping, no leaving a
// terminal state. Cancellation is reachable from any non-terminal status.
func CanTransition(from, to Status) bool {
	if !Valid(from) || !Valid(to) {
		return false
	}
	if IsTerminal(from) {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return order[to] == order[from]+1
}

// TransitionTargets lists the statuses reachable from `from`, in ladder
// order. Used by handlers to build actionable conflict messages.
func TransitionTargets(from Status) []Status {
	var targets []Status
	for _, to := range []Status{StatusPickup, StatusInTransit, StatusDelivered, StatusCancelled} {
		if CanTransition(from, to) {
			targets = append(targets, to)
		}
	}
	return targets
}
