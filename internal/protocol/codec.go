package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for payloads that are not a JSON object with a
	// string "type" field.
	ErrMalformed = errors.New("malformed frame")

	// ErrUnknownType is returned for well-formed frames whose type is not
	// defined in this package.
	ErrUnknownType = errors.New("unknown frame type")

	// ErrInvalidMode is returned for start frames with an unsupported mode.
	ErrInvalidMode = errors.New("invalid mode")
)

// UnknownTypeError carries the discriminant of an unrecognized frame.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown frame type %q", string(e.Type))
}

func (e *UnknownTypeError) Unwrap() error {
	return ErrUnknownType
}

type header struct {
	Type *Type `json:"type"`
}

// PeekType returns the discriminant of an encoded frame without decoding the
// payload. The relay uses it for logging only.
func PeekType(data []byte) (Type, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Type == nil {
		return "", fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return *h.Type, nil
}

// Encode serializes a frame to its wire form.
func Encode(f Frame) ([]byte, error) {
	var v any
	switch f := f.(type) {
	case ProxyConnected, Stop, Stopped:
		v = struct {
			Type Type `json:"type"`
		}{f.Type()}
	case Start:
		if _, err := ParseMode(string(f.Mode)); err != nil {
			return nil, err
		}
		v = struct {
			Type Type `json:"type"`
			Start
		}{TypeStart, f}
	case Action:
		v = struct {
			Type Type `json:"type"`
			Action
		}{TypeAction, f}
	case State:
		v = struct {
			Type Type `json:"type"`
			State
		}{TypeState, f}
	case Result:
		v = struct {
			Type Type `json:"type"`
			Result
		}{TypeResult, f}
	case Error:
		v = struct {
			Type Type `json:"type"`
			Error
		}{TypeError, f}
	case Training:
		v = struct {
			Type Type `json:"type"`
			Training
		}{TypeTraining, f}
	case TrainingComplete:
		v = struct {
			Type Type `json:"type"`
			TrainingComplete
		}{TypeTrainingComplete, f}
	default:
		return nil, fmt.Errorf("encode %T: %w", f, ErrUnknownType)
	}
	return json.Marshal(v)
}

// MustEncode is Encode for frames that cannot fail to encode.
func MustEncode(f Frame) []byte {
	data, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses a wire frame. Unknown types yield an *UnknownTypeError.
func Decode(data []byte) (Frame, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeProxyConnected:
		return ProxyConnected{}, nil
	case TypeStop:
		return Stop{}, nil
	case TypeStopped:
		return Stopped{}, nil
	case TypeStart:
		var f Start
		if err := unmarshal(t, data, &f); err != nil {
			return nil, err
		}
		if _, err := ParseMode(string(f.Mode)); err != nil {
			return nil, err
		}
		return f, nil
	case TypeAction:
		var f Action
		return decodeInto(t, data, &f)
	case TypeState:
		var f State
		return decodeInto(t, data, &f)
	case TypeResult:
		var f Result
		return decodeInto(t, data, &f)
	case TypeError:
		var f Error
		return decodeInto(t, data, &f)
	case TypeTraining:
		var f Training
		return decodeInto(t, data, &f)
	case TypeTrainingComplete:
		var f TrainingComplete
		return decodeInto(t, data, &f)
	default:
		return nil, &UnknownTypeError{Type: t}
	}
}

func decodeInto[F Frame](t Type, data []byte, f *F) (Frame, error) {
	if err := unmarshal(t, data, f); err != nil {
		return nil, err
	}
	return *f, nil
}

func unmarshal(t Type, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, t, err)
	}
	return nil
}
