// Package protocol defines the frames exchanged between the dashboard client,
// the relay and the simulation backend.
//
// Every frame is a JSON text message with a "type" discriminant; payload
// fields are siblings of "type" rather than nested:
//
//	{"type":"start","mode":"manual"}
//	{"type":"action","thrust":0.5,"angle":0.1}
//	{"type":"state","altitude":42.1,"x":-3.5,"velocity":[0.1,-2.3],...}
//
// Frames form a closed set. Frame is implemented only by the types in this
// package, and Encode and Decode switch over every Type so that adding a
// frame type without handling it fails loudly.
package protocol

import (
	"fmt"
)

// Type is the frame discriminant carried in the "type" field.
type Type string

// Relay -> client
const (
	TypeProxyConnected Type = "proxy-connected"
)

// Client -> backend (forwarded by the relay)
const (
	TypeStart  Type = "start"
	TypeAction Type = "action"
	TypeStop   Type = "stop"
)

// Backend -> client (forwarded by the relay)
const (
	TypeState            Type = "state"
	TypeResult           Type = "result"
	TypeError            Type = "error"
	TypeStopped          Type = "stopped"
	TypeTraining         Type = "training"
	TypeTrainingComplete Type = "training_complete"
)

// FromBackend reports whether frames of this type originate at the
// simulation backend.
func (t Type) FromBackend() bool {
	switch t {
	case TypeState, TypeResult, TypeError, TypeStopped, TypeTraining, TypeTrainingComplete:
		return true
	}
	return false
}

// Known reports whether t is one of the frame types defined in this package.
func (t Type) Known() bool {
	switch t {
	case TypeProxyConnected, TypeStart, TypeAction, TypeStop,
		TypeState, TypeResult, TypeError, TypeStopped,
		TypeTraining, TypeTrainingComplete:
		return true
	}
	return false
}

// Mode is the operating mode selected when an episode starts.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeTrain  Mode = "train"
	ModeManual Mode = "manual"
)

// Modes lists the valid operating modes.
var Modes = []Mode{ModeAuto, ModeTrain, ModeManual}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAuto, ModeTrain, ModeManual:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Frame is one message exchanged over a leg.
type Frame interface {
	Type() Type
	isFrame()
}

// ProxyConnected is sent by the relay once both legs are open.
type ProxyConnected struct{}

// Start begins an episode in the given mode.
type Start struct {
	Mode Mode `json:"mode"`
}

// Action is a manual control input.
type Action struct {
	Thrust float64 `json:"thrust"`
	Angle  float64 `json:"angle"`
}

// Stop requests termination of the running episode.
type Stop struct{}

// State is a simulation snapshot.
type State struct {
	Altitude        float64    `json:"altitude"`
	X               float64    `json:"x"`
	Velocity        [2]float64 `json:"velocity"`
	Tilt            float64    `json:"tilt"`
	AngularVelocity float64    `json:"angular_velocity"`
	Fuel            float64    `json:"fuel"`
	PadX            float64    `json:"pad_x"`
	Time            float64    `json:"time"`
}

// Result is the outcome of a finished episode.
type Result struct {
	Success         bool    `json:"success"`
	FuelUsed        float64 `json:"fuel_used"`
	LandingAccuracy float64 `json:"landing_accuracy"`
}

// Error is a fatal error reported by the backend.
type Error struct {
	Message string `json:"message"`
}

// Stopped acknowledges a Stop.
type Stopped struct{}

// Training reports the end of one training episode in train mode.
type Training struct {
	Episode int     `json:"episode"`
	Reward  float64 `json:"reward"`
}

// TrainingComplete is sent when a training run has finished.
type TrainingComplete struct {
	Message string `json:"message"`
}

func (ProxyConnected) Type() Type   { return TypeProxyConnected }
func (Start) Type() Type            { return TypeStart }
func (Action) Type() Type           { return TypeAction }
func (Stop) Type() Type             { return TypeStop }
func (State) Type() Type            { return TypeState }
func (Result) Type() Type           { return TypeResult }
func (Error) Type() Type            { return TypeError }
func (Stopped) Type() Type          { return TypeStopped }
func (Training) Type() Type         { return TypeTraining }
func (TrainingComplete) Type() Type { return TypeTrainingComplete }

func (ProxyConnected) isFrame()   {}
func (Start) isFrame()            {}
func (Action) isFrame()           {}
func (Stop) isFrame()             {}
func (State) isFrame()            {}
func (Result) isFrame()           {}
func (Error) isFrame()            {}
func (Stopped) isFrame()          {}
func (Training) isFrame()         {}
func (TrainingComplete) isFrame() {}

// Action input limits.
const (
	MinThrust = 0.0
	MaxThrust = 1.0
	MinAngle  = -1.0
	MaxAngle  = 1.0
)

// NewAction returns an Action with thrust and angle clamped to their ranges.
func NewAction(thrust, angle float64) Action {
	return Action{
		Thrust: clamp(thrust, MinThrust, MaxThrust),
		Angle:  clamp(angle, MinAngle, MaxAngle),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v != v { // NaN
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
