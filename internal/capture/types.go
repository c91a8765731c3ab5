// Package capture runs one dictation session: an optional pre-roll countdown,
// live recognition, and on a manual stop either direct field entry or AI
// extraction into the open form.
package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexiqai/clinic-gateway/internal/recognizer"
)

var (
	// ErrBusy is returned by Start and Retry outside the Idle state.
	ErrBusy = errors.New("capture: session busy")
	// ErrNothingToRetry is returned by Retry when no failed transcript is kept.
	ErrNothingToRetry = errors.New("capture: no transcript to retry")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("capture: session closed")
)

// State is the session's lifecycle state.
type State int

const (
	Idle State = iota
	CountingDown
	Listening
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CountingDown:
		return "counting_down"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	}
	return "unknown"
}

// Mode decides what happens to the transcript. It is fixed per session.
type Mode string

const (
	// ModeRaw writes live text into the focused field.
	ModeRaw Mode = "raw"
	// ModeAIExtract sends the finished transcript for structured extraction.
	ModeAIExtract Mode = "ai"
)

// ParseMode validates a mode name. Empty selects ModeAIExtract.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAIExtract:
		return ModeAIExtract, nil
	case ModeRaw:
		return ModeRaw, nil
	}
	return "", fmt.Errorf("unknown capture mode %q", s)
}

// Notification levels
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification kinds besides the recognizer.ErrorKind values.
const (
	KindExtractionFailed = "extraction_failed"
	KindExtracted        = "extracted"
	KindNoTranscript     = "no_transcript"
)

// Notification is a transient user-visible message.
type Notification struct {
	Level   string `json:"level"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Notifier receives everything the user should see. Calls are made without
// the session lock held, possibly from several goroutines.
type Notifier interface {
	StateChanged(state State)
	Countdown(remaining int)
	Transcript(t recognizer.Transcript)
	Notify(n Notification)
	FormUpdated(data map[string]any)
}

// Recognizer is the adapter the session drives.
type Recognizer interface {
	Start(ctx context.Context) error
	Stop() error
}
