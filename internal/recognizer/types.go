// Package recognizer normalizes a continuous speech recognition engine into a
// stream of interim and final transcript updates for one capture session.
package recognizer

import "errors"

// ErrInvalidState is returned by Engine.Start when the engine is already running.
var ErrInvalidState = errors.New("recognizer: engine already started")

// Segment is one entry of the engine's result list.
type Segment struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"isFinal"`
}

// EngineEvents receives raw engine callbacks.
type EngineEvents interface {
	// EngineStarted fires once audio capture actually begins.
	EngineStarted()
	// EngineResult delivers the whole result list; entries before resultIndex
	// were delivered by earlier calls and are not revised.
	EngineResult(resultIndex int, results []Segment)
	// EngineError reports an engine error code such as "no-speech" or "not-allowed".
	EngineError(code string)
	// EngineEnded fires when the engine stops for any reason.
	EngineEnded()
}

// Engine is a continuous, interim-enabled recognition engine. Implementations
// are configured for a fixed locale at construction time.
type Engine interface {
	// Attach sets the receiver of engine events. Called once before Start.
	Attach(events EngineEvents)
	// Start begins recognition. Starting a running engine returns ErrInvalidState.
	Start() error
	// Stop asks the engine to finish. EngineEnded follows asynchronously.
	Stop() error
}

// Transcript is the adapter's view of the session text after a result event.
type Transcript struct {
	Interim string `json:"interim"`
	Final   string `json:"final"`
}

// Listener receives the normalized stream. Callbacks may arrive on engine
// goroutines and are never invoked while the adapter holds its lock.
type Listener interface {
	OnSessionStart()
	OnTranscript(t Transcript)
	OnError(err *Error)
	OnSessionEnd()
}
