package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/clinic-gateway/internal/extraction"
	"github.com/lexiqai/clinic-gateway/internal/focus"
	"github.com/lexiqai/clinic-gateway/internal/forms"
	"github.com/lexiqai/clinic-gateway/internal/observability"
	"github.com/lexiqai/clinic-gateway/internal/recognizer"
)

// Config controls one capture session.
type Config struct {
	Mode  Mode
	Kind  forms.Kind
	Scope extraction.Scope

	// Countdown is the pre-roll in seconds; 0 starts listening immediately.
	Countdown int
	// Tick is the countdown step. Defaults to one second.
	Tick time.Duration
}

// Session is the capture state machine for one form. Every transition goes
// through dispatch; recognizer callbacks, timer ticks and extraction results
// are all events.
type Session struct {
	id        string
	cfg       Config
	form      *forms.Form
	router    *focus.Router
	extractor extraction.Extractor
	populator *forms.Populator
	notifier  Notifier
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	rec             Recognizer
	state           State
	closed          bool
	final           string
	interim         string
	stoppedManually bool
	engineActive    bool
	remaining       int
	countdownGen    uint64
	listenGen       uint64
	// starting maps in-flight recognizer starts to whether a stop was requested.
	starting      map[uint64]bool
	stopCountdown context.CancelFunc
	failed        string
}

// NewSession creates an idle session writing into form. Bind must be called
// with the session's recognizer adapter before Start.
func NewSession(cfg Config, form *forms.Form, router *focus.Router, extractor extraction.Extractor, notifier Notifier, logger zerolog.Logger) *Session {
	if cfg.Mode == "" {
		cfg.Mode = ModeAIExtract
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.Countdown < 0 {
		cfg.Countdown = 0
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		cfg:       cfg,
		form:      form,
		router:    router,
		extractor: extractor,
		populator: forms.PopulatorFor(cfg.Scope.Kind(cfg.Kind)),
		notifier:  notifier,
		logger:    logger.With().Str("session_id", id).Str("mode", string(cfg.Mode)).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		starting:  make(map[uint64]bool),
	}
}

// Bind sets the recognizer adapter owned by this session.
func (s *Session) Bind(rec Recognizer) {
	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Mode returns the session's fixed mode.
func (s *Session) Mode() Mode { return s.cfg.Mode }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the current interim text and accumulated final text.
func (s *Session) Transcript() recognizer.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recognizer.Transcript{Interim: s.interim, Final: s.final}
}

// FailedTranscript returns the transcript of the last failed extraction, kept
// so the user can retry it.
func (s *Session) FailedTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Start begins a session. It returns ErrBusy unless the session is Idle.
func (s *Session) Start() error { return s.dispatch(event{kind: evStart}) }

// Stop cancels a countdown or ends listening manually. Outside those states it
// does nothing; an in-flight extraction always completes.
func (s *Session) Stop() error { return s.dispatch(event{kind: evStop}) }

// Retry re-sends the transcript of the last failed extraction.
func (s *Session) Retry() error { return s.dispatch(event{kind: evRetry}) }

// Close stops recognition and cancels pending work. The session cannot be
// restarted.
func (s *Session) Close() {
	_ = s.dispatch(event{kind: evClose})
	s.cancel()
	s.wg.Wait()
}

// OnSessionStart implements recognizer.Listener.
func (s *Session) OnSessionStart() { _ = s.dispatch(event{kind: evEngineStarted}) }

// OnTranscript implements recognizer.Listener.
func (s *Session) OnTranscript(t recognizer.Transcript) {
	_ = s.dispatch(event{kind: evTranscript, transcript: t})
}

// OnError implements recognizer.Listener.
func (s *Session) OnError(err *recognizer.Error) {
	_ = s.dispatch(event{kind: evEngineError, recErr: err})
}

// OnSessionEnd implements recognizer.Listener.
func (s *Session) OnSessionEnd() { _ = s.dispatch(event{kind: evEngineEnded}) }

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evRetry
	evClose
	evTick
	evStartFailed
	evEngineStarted
	evTranscript
	evEngineError
	evEngineEnded
	evExtractionDone
)

type event struct {
	kind       eventKind
	gen        uint64
	transcript recognizer.Transcript
	recErr     *recognizer.Error
	err        error
	text       string
	result     extraction.Result
}

type effect func()

func (s *Session) dispatch(ev event) error {
	s.mu.Lock()
	effects, err := s.reduce(ev)
	s.mu.Unlock()

	for _, fx := range effects {
		fx()
	}
	return err
}

// reduce applies ev to the state. It runs under s.mu and returns the side
// effects to perform once the lock is released.
func (s *Session) reduce(ev event) ([]effect, error) {
	if s.closed && ev.kind != evExtractionDone {
		if ev.kind == evStart || ev.kind == evRetry {
			return nil, ErrClosed
		}
		return nil, nil
	}

	switch ev.kind {
	case evStart:
		if s.state != Idle {
			return nil, ErrBusy
		}
		s.final, s.interim = "", ""
		s.stoppedManually = false
		s.engineActive = false
		if s.cfg.Countdown > 0 {
			return s.enterCountdown(), nil
		}
		return s.enterListening(), nil

	case evTick:
		if s.state != CountingDown || ev.gen != s.countdownGen {
			return nil, nil
		}
		s.remaining--
		if s.remaining > 0 {
			remaining := s.remaining
			return []effect{func() { s.notifier.Countdown(remaining) }}, nil
		}
		s.cancelCountdown()
		return append([]effect{func() { s.notifier.Countdown(0) }}, s.enterListening()...), nil

	case evStop:
		switch s.state {
		case CountingDown:
			s.cancelCountdown()
			s.logger.Debug().Msg("Countdown cancelled")
			return s.enterIdle("cancelled"), nil
		case Listening:
			if !s.engineActive {
				// The engine never reported a start, so no end will follow.
				return append(s.enterIdle("cancelled"), s.stopRecognizer()), nil
			}
			s.stoppedManually = true
			return []effect{s.stopRecognizer()}, nil
		}
		return nil, nil

	case evStartFailed:
		if s.state != Listening || ev.gen != s.listenGen {
			return nil, nil
		}
		rerr := recognizer.StartError(ev.err)
		s.logger.Error().Err(ev.err).Msg("Failed to start recognizer")
		observability.RecordRecognizerError(string(rerr.Kind))
		return append(s.enterIdle("error"), s.notifyRecognizerError(rerr)), nil

	case evEngineStarted:
		if s.state != Listening {
			return nil, nil
		}
		s.engineActive = true
		s.final, s.interim = "", ""
		s.logger.Debug().Msg("Recognizer capturing audio")
		return nil, nil

	case evTranscript:
		if s.state != Listening {
			return nil, nil
		}
		s.final, s.interim = ev.transcript.Final, ev.transcript.Interim
		effects := []effect{func() { s.notifier.Transcript(ev.transcript) }}
		if s.cfg.Mode == ModeRaw {
			live := strings.TrimSpace(ev.transcript.Final + ev.transcript.Interim)
			if live != "" {
				effects = append(effects, s.routeRaw(live))
			}
		}
		return effects, nil

	case evEngineError:
		observability.RecordRecognizerError(string(ev.recErr.Kind))
		if s.state != Listening {
			s.logger.Debug().Str("code", ev.recErr.Code).Str("state", s.state.String()).Msg("Ignoring recognizer error outside listening")
			return nil, nil
		}
		s.stoppedManually = false
		return append(s.enterIdle("error"), s.notifyRecognizerError(ev.recErr), s.stopRecognizer()), nil

	case evEngineEnded:
		wasActive := s.engineActive
		s.engineActive = false
		s.interim = ""
		if s.state != Listening || !wasActive {
			return nil, nil
		}
		return s.handleEnd(), nil

	case evRetry:
		if s.state != Idle {
			return nil, ErrBusy
		}
		if s.failed == "" {
			return nil, ErrNothingToRetry
		}
		text := s.failed
		s.transition(Processing)
		return []effect{s.stateEffect(Processing), s.extract(text)}, nil

	case evExtractionDone:
		if s.state != Processing {
			return nil, nil
		}
		if s.closed {
			s.state = Idle
			return nil, nil
		}
		if ev.err != nil {
			s.failed = ev.text
			s.logger.Warn().Err(ev.err).Msg("Extraction failed, transcript kept for retry")
			return append(s.enterIdle("extraction_failed"), s.notify(LevelError, KindExtractionFailed,
				"AI processing failed. Your transcript was kept, try again.")), nil
		}
		s.failed = ""
		return append(s.enterIdle("extracted"), s.applyResult(ev.result)), nil

	case evClose:
		s.closed = true
		var effects []effect
		switch s.state {
		case CountingDown:
			s.cancelCountdown()
			s.state = Idle
		case Listening:
			s.state = Idle
			effects = append(effects, s.stopRecognizer())
		}
		return effects, nil
	}
	return nil, nil
}

// handleEnd decides what a recognizer end means for a listening session.
func (s *Session) handleEnd() []effect {
	if !s.stoppedManually {
		s.logger.Debug().Msg("Recognizer ended on its own, returning to idle")
		return s.enterIdle("automatic")
	}

	text := strings.TrimSpace(s.final)
	if s.cfg.Mode == ModeRaw {
		effects := s.enterIdle("manual")
		if text != "" {
			effects = append(effects, s.routeRaw(text))
		}
		return effects
	}

	if text == "" {
		return append(s.enterIdle("manual"), s.notify(LevelInfo, KindNoTranscript, "No speech was captured."))
	}
	s.transition(Processing)
	return []effect{s.stateEffect(Processing), s.extract(text)}
}

func (s *Session) transition(to State) {
	if s.state == to {
		return
	}
	s.logger.Debug().Str("from", s.state.String()).Str("to", to.String()).Msg("Capture state transition")
	s.state = to
}

func (s *Session) stateEffect(state State) effect {
	return func() { s.notifier.StateChanged(state) }
}

func (s *Session) enterIdle(reason string) []effect {
	s.transition(Idle)
	s.interim = ""
	observability.RecordSessionEnd(reason)
	return []effect{s.stateEffect(Idle)}
}

func (s *Session) enterCountdown() []effect {
	s.transition(CountingDown)
	s.remaining = s.cfg.Countdown
	s.countdownGen++
	gen := s.countdownGen
	ctx, cancel := context.WithCancel(s.ctx)
	s.stopCountdown = cancel

	remaining := s.remaining
	s.wg.Add(1)
	return []effect{
		s.stateEffect(CountingDown),
		func() { s.notifier.Countdown(remaining) },
		func() { go s.runCountdown(ctx, gen) },
	}
}

func (s *Session) cancelCountdown() {
	if s.stopCountdown != nil {
		s.stopCountdown()
		s.stopCountdown = nil
	}
}

func (s *Session) runCountdown(ctx context.Context, gen uint64) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.dispatch(event{kind: evTick, gen: gen})
		}
	}
}

func (s *Session) enterListening() []effect {
	s.transition(Listening)
	observability.RecordListeningStarted(string(s.cfg.Mode))
	s.listenGen++
	gen := s.listenGen
	rec := s.rec
	s.starting[gen] = false
	s.wg.Add(1)
	return []effect{
		s.stateEffect(Listening),
		func() { go s.startRecognizer(rec, gen) },
	}
}

// startRecognizer runs on its own goroutine: a restart after an invalid-state
// error waits for the stale run's end event, which must still be deliverable
// by the goroutine that requested the start.
func (s *Session) startRecognizer(rec Recognizer, gen uint64) {
	defer s.wg.Done()
	if rec == nil {
		s.finishStart(gen)
		_ = s.dispatch(event{kind: evStartFailed, gen: gen, err: errors.New("no recognizer bound")})
		return
	}

	err := rec.Start(s.ctx)
	stopRequested := s.finishStart(gen)
	if err != nil {
		_ = s.dispatch(event{kind: evStartFailed, gen: gen, err: err})
		return
	}
	if stopRequested {
		// The session stopped while the engine was still starting.
		if err := rec.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to stop late recognizer start")
		}
	}
}

// finishStart clears the pending start for gen and reports whether a stop
// arrived while it was in flight.
func (s *Session) finishStart(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	stop := s.starting[gen]
	delete(s.starting, gen)
	return stop
}

func (s *Session) stopRecognizer() effect {
	if _, ok := s.starting[s.listenGen]; ok {
		s.starting[s.listenGen] = true
	}
	rec := s.rec
	return func() {
		if rec == nil {
			return
		}
		if err := rec.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to stop recognizer")
		}
	}
}

func (s *Session) routeRaw(text string) effect {
	return func() {
		if s.router.RouteText(text) {
			s.notifier.FormUpdated(s.form.Data())
		}
	}
}

// extract must be called under s.mu so the WaitGroup add precedes Close.
func (s *Session) extract(text string) effect {
	kind := s.cfg.Scope.Kind(s.cfg.Kind)
	s.wg.Add(1)
	return func() {
		go func() {
			defer s.wg.Done()
			result, err := s.extractor.Extract(s.ctx, text, kind)
			_ = s.dispatch(event{kind: evExtractionDone, text: text, result: result, err: err})
		}()
	}
}

func (s *Session) applyResult(result extraction.Result) effect {
	kind := s.cfg.Scope.Kind(s.cfg.Kind)
	return func() {
		fields, err := s.cfg.Scope.Fields(kind, result)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Extraction result could not be mapped")
			s.notifier.Notify(Notification{Level: LevelError, Kind: KindExtractionFailed, Message: "AI returned data that does not fit this form."})
			return
		}
		written := s.populator.Populate(s.form, fields)
		s.logger.Info().Int("fields", len(written)).Msg("Extraction applied to form")
		s.notifier.FormUpdated(s.form.Data())
		s.notifier.Notify(Notification{Level: LevelSuccess, Kind: KindExtracted, Message: "AI data populated to form fields"})
	}
}

func (s *Session) notify(level, kind, message string) effect {
	n := Notification{Level: level, Kind: kind, Message: message}
	return func() { s.notifier.Notify(n) }
}

func (s *Session) notifyRecognizerError(rerr *recognizer.Error) effect {
	level := LevelError
	if rerr.Kind == recognizer.Aborted || rerr.Kind == recognizer.NoSpeech {
		level = LevelInfo
	}
	return s.notify(level, string(rerr.Kind), rerr.Message())
}
