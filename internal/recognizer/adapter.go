package recognizer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/clinic-gateway/internal/resilience"
)

// DefaultRestartDelay is the pause before retrying a start that hit ErrInvalidState.
const DefaultRestartDelay = 100 * time.Millisecond

// Adapter wraps one Engine for one capture session.
type Adapter struct {
	engine       Engine
	listener     Listener
	restartDelay time.Duration
	logger       zerolog.Logger

	mu      sync.Mutex
	final   strings.Builder
	interim string
}

// NewAdapter attaches itself to engine and forwards normalized events to listener.
func NewAdapter(engine Engine, listener Listener, restartDelay time.Duration, logger zerolog.Logger) *Adapter {
	if restartDelay <= 0 {
		restartDelay = DefaultRestartDelay
	}
	a := &Adapter{
		engine:       engine,
		listener:     listener,
		restartDelay: restartDelay,
		logger:       logger,
	}
	engine.Attach(a)
	return a
}

// Start starts the engine. If the engine reports it is already running, the
// stale run is stopped and the start is retried once after the restart delay.
func (a *Adapter) Start(ctx context.Context) error {
	attempt := 0
	return resilience.Retry(ctx, func() error {
		attempt++
		err := a.engine.Start()
		if errors.Is(err, ErrInvalidState) {
			a.logger.Warn().Int("attempt", attempt).Msg("Recognizer already started, stopping stale instance")
			if stopErr := a.engine.Stop(); stopErr != nil {
				a.logger.Warn().Err(stopErr).Msg("Failed to stop stale recognizer")
			}
			return resilience.NewRetryableError(err)
		}
		return err
	}, resilience.OnceAfter(a.restartDelay), resilience.IsRetryable)
}

// Stop asks the engine to stop. The session end arrives through OnSessionEnd.
func (a *Adapter) Stop() error {
	return a.engine.Stop()
}

// Transcript returns the current interim and accumulated final text.
func (a *Adapter) Transcript() Transcript {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Transcript{Interim: a.interim, Final: a.final.String()}
}

func (a *Adapter) EngineStarted() {
	a.mu.Lock()
	a.final.Reset()
	a.interim = ""
	a.mu.Unlock()

	a.listener.OnSessionStart()
}

func (a *Adapter) EngineResult(resultIndex int, results []Segment) {
	if resultIndex < 0 {
		resultIndex = 0
	}

	a.mu.Lock()
	var interim strings.Builder
	for i := resultIndex; i < len(results); i++ {
		seg := results[i]
		if seg.IsFinal {
			if strings.TrimSpace(seg.Transcript) != "" {
				a.final.WriteString(seg.Transcript)
				a.final.WriteString(" ")
			}
			continue
		}
		interim.WriteString(seg.Transcript)
	}
	a.interim = interim.String()
	t := Transcript{Interim: a.interim, Final: a.final.String()}
	a.mu.Unlock()

	a.listener.OnTranscript(t)
}

func (a *Adapter) EngineError(code string) {
	err := NewError(code)
	if err.Kind == Aborted {
		a.logger.Debug().Str("code", code).Msg("Recognizer aborted")
	} else {
		a.logger.Error().Str("code", code).Str("kind", string(err.Kind)).Msg("Recognizer error")
	}
	a.listener.OnError(err)
}

func (a *Adapter) EngineEnded() {
	a.mu.Lock()
	a.interim = ""
	a.mu.Unlock()

	a.listener.OnSessionEnd()
}
