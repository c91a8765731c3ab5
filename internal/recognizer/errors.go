package recognizer

import (
	"errors"
	"fmt"
)

// ErrorKind is the user-facing category of a recognizer error.
type ErrorKind string

const (
	PermissionDenied  ErrorKind = "permission_denied"
	Network           ErrorKind = "network"
	NoSpeech          ErrorKind = "no_speech"
	DeviceUnavailable ErrorKind = "device_unavailable"
	Aborted           ErrorKind = "aborted"
	Other             ErrorKind = "other"
)

// CodeInvalidState is reported when the engine still refuses to start after
// the stale run was stopped and the start retried.
const CodeInvalidState = "invalid-state"

// Classify maps an engine error code to its kind.
func Classify(code string) ErrorKind {
	switch code {
	case "not-allowed", "service-not-allowed":
		return PermissionDenied
	case "network":
		return Network
	case "no-speech":
		return NoSpeech
	case "audio-capture", CodeInvalidState:
		return DeviceUnavailable
	case "aborted":
		return Aborted
	default:
		return Other
	}
}

// Error is a classified engine error.
type Error struct {
	Kind ErrorKind
	Code string
}

// NewError classifies code.
func NewError(code string) *Error {
	return &Error{Kind: Classify(code), Code: code}
}

// StartError classifies an error returned while starting an engine.
func StartError(err error) *Error {
	var classified *Error
	switch {
	case errors.As(err, &classified):
		return classified
	case errors.Is(err, ErrInvalidState):
		return NewError(CodeInvalidState)
	default:
		return NewError("other")
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("recognizer error %s (%s)", e.Kind, e.Code)
}

// Message is the text shown to the user.
func (e *Error) Message() string {
	switch e.Kind {
	case PermissionDenied:
		return "Microphone access denied. Please allow microphone access and try again."
	case Network:
		return "Network error during speech recognition. Please check your connection."
	case NoSpeech:
		return "No speech detected. Please try again."
	case DeviceUnavailable:
		if e.Code == CodeInvalidState {
			return "Microphone is busy, try again."
		}
		return "No microphone found or it is in use by another application."
	case Aborted:
		return "Speech recognition was stopped."
	default:
		return fmt.Sprintf("Speech recognition error: %s", e.Code)
	}
}

// Fatal reports whether the user has to act before capture can work again.
func (e *Error) Fatal() bool {
	return e.Kind == PermissionDenied || e.Kind == DeviceUnavailable
}
