package core

// CallState tracks a single emit-to-one exchange.
type CallState string

const (
	StatePending  CallState = "pending"
	StateSettled  CallState = "settled"
	StateRejected CallState = "rejected"
	StateTimedOut CallState = "timed_out"
)

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	switch s {
	case StateSettled, StateRejected, StateTimedOut:
		return true
	}
	return false
}
