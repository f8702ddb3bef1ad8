package credential

import "time"

// Phase is the lifecycle stage of a Client's initialization.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Concluded reports whether initialization has finished, regardless of
// outcome.
func (p Phase) Concluded() bool {
	return p == PhaseReady || p == PhaseFailed
}

// State is a point-in-time snapshot of a Client. Token is non-empty only
// when Phase is PhaseReady and Authenticated is true.
type State struct {
	Phase         Phase
	Authenticated bool
	Token         string
	Expiry        time.Time
	Subject       string
}
