package session

import "fmt"

// Phase is the lifecycle phase of a Controller.
type Phase int

const (
	// Idle means there is no connection.
	Idle Phase = iota
	// Connecting means the transport dial is in flight.
	Connecting
	// AwaitingReady means the transport is open but the relay has not
	// confirmed the backend leg yet.
	AwaitingReady
	// Ready means proxy-connected was received.
	Ready
	// Active means a start frame was sent and the episode is running.
	Active
	// Stopped means the session ended at the caller's or backend's request.
	Stopped
	// Errored means the session ended on a transport or backend error.
	Errored
)

var phaseNames = [...]string{
	Idle:          "idle",
	Connecting:    "connecting",
	AwaitingReady: "awaiting_ready",
	Ready:         "ready",
	Active:        "active",
	Stopped:       "stopped",
	Errored:       "errored",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Terminal reports whether the session behind this phase has ended.
func (p Phase) Terminal() bool {
	return p == Stopped || p == Errored
}

// Connected reports whether commands may be sent in this phase.
func (p Phase) Connected() bool {
	return p == Ready || p == Active
}

// transitions is the single authority on which phase changes are legal.
// Active -> Active is a restart with a new mode on the same connection.
// Terminal phases only leave through Connecting, which opens a new transport.
var transitions = map[Phase][]Phase{
	Idle:          {Connecting, Errored},
	Connecting:    {AwaitingReady, Idle, Errored},
	AwaitingReady: {Ready, Idle, Errored},
	Ready:         {Active, Stopped, Errored},
	Active:        {Active, Stopped, Errored},
	Stopped:       {Connecting},
	Errored:       {Connecting},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
