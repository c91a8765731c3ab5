package recognizer

import (
	"fmt"
	"sync"
)

// Command is sent to the browser that hosts the speech recognition engine.
type Command struct {
	Action         string `json:"action"`
	Lang           string `json:"lang,omitempty"`
	Continuous     bool   `json:"continuous,omitempty"`
	InterimResults bool   `json:"interimResults,omitempty"`
}

// CommandSender delivers a Command to the browser.
type CommandSender func(cmd Command) error

// BrowserEvent is an engine event forwarded by the browser.
type BrowserEvent struct {
	Type        string    `json:"type"`
	ResultIndex int       `json:"resultIndex"`
	Results     []Segment `json:"results"`
	Error       string    `json:"error"`
}

// BrowserEngine drives the browser's speech recognition engine remotely. Start
// and Stop become commands; the browser's callbacks come back through Deliver.
type BrowserEngine struct {
	send CommandSender
	lang string

	mu      sync.Mutex
	events  EngineEvents
	running bool
}

// NewBrowserEngine creates an engine that recognizes lang.
func NewBrowserEngine(lang string, send CommandSender) *BrowserEngine {
	return &BrowserEngine{send: send, lang: lang}
}

func (b *BrowserEngine) Attach(events EngineEvents) {
	b.mu.Lock()
	b.events = events
	b.mu.Unlock()
}

// Start marks the engine running until the browser reports the end event.
func (b *BrowserEngine) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrInvalidState
	}
	b.running = true
	b.mu.Unlock()

	err := b.send(Command{Action: "start", Lang: b.lang, Continuous: true, InterimResults: true})
	if err != nil {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		return fmt.Errorf("send start command: %w", err)
	}
	return nil
}

func (b *BrowserEngine) Stop() error {
	if !b.Running() {
		return nil
	}
	if err := b.send(Command{Action: "stop"}); err != nil {
		return fmt.Errorf("send stop command: %w", err)
	}
	return nil
}

// Running reports whether the browser engine is between start and end.
func (b *BrowserEngine) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Deliver feeds one browser event into the engine.
func (b *BrowserEngine) Deliver(ev BrowserEvent) error {
	b.mu.Lock()
	events := b.events
	if ev.Type == "end" {
		b.running = false
	}
	b.mu.Unlock()

	if events == nil {
		return fmt.Errorf("browser engine: no listener attached")
	}

	switch ev.Type {
	case "start":
		events.EngineStarted()
	case "result":
		events.EngineResult(ev.ResultIndex, ev.Results)
	case "error":
		events.EngineError(ev.Error)
	case "end":
		events.EngineEnded()
	default:
		return fmt.Errorf("browser engine: unknown event type %q", ev.Type)
	}
	return nil
}
