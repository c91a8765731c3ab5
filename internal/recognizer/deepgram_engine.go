package recognizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/clinic-gateway/internal/audio"
	"github.com/lexiqai/clinic-gateway/internal/observability"
	"github.com/lexiqai/clinic-gateway/internal/resilience"
)

// pendingAudioBytes bounds audio held while the Deepgram socket is connecting
// (about two seconds of 16 kHz linear16).
const pendingAudioBytes = 64 * 1024

// finalizeTimeout bounds how long Stop waits for Deepgram to flush the
// utterance in progress.
const finalizeTimeout = 2 * time.Second

// liveClient is the part of the Deepgram socket client the engine uses once
// connected.
type liveClient interface {
	Write(p []byte) (int, error)
	Finalize() error
}

// DeepgramOptions configures a DeepgramEngine.
type DeepgramOptions struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
}

// deepgramCallback embeds the default handler and overrides the events the
// engine turns into EngineEvents.
type deepgramCallback struct {
	*websocketv1api.DefaultCallbackHandler
	engine *DeepgramEngine
	run    uint64
}

func (c *deepgramCallback) Open(_ *msginterfaces.OpenResponse) error {
	c.engine.handleOpen(c.run)
	return nil
}

func (c *deepgramCallback) Message(msg *msginterfaces.MessageResponse) error {
	c.engine.handleMessage(c.run, msg)
	return nil
}

func (c *deepgramCallback) Close(_ *msginterfaces.CloseResponse) error {
	c.engine.handleClose(c.run)
	return nil
}

func (c *deepgramCallback) Error(errorResponse *msginterfaces.ErrorResponse) error {
	c.engine.handleError(c.run, errorResponse)
	return nil
}

// DeepgramEngine is an Engine backed by Deepgram's live transcription socket.
// Audio arrives through WriteAudio; results are kept as a growing list so the
// adapter sees the same resume-index contract as the browser engine.
type DeepgramEngine struct {
	opts           DeepgramOptions
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
	pending        *audio.FrameBuffer
	finalizeWait   time.Duration

	mu        sync.Mutex
	events    EngineEvents
	client    liveClient
	cancel    context.CancelFunc
	run       uint64
	running   bool
	open      bool
	finishing bool
	results   []Segment
}

// NewDeepgramEngine creates an engine. Connection failures count against a
// circuit breaker so a broken key or outage fails fast.
func NewDeepgramEngine(opts DeepgramOptions, maxFailures int, resetTimeout time.Duration, logger zerolog.Logger) *DeepgramEngine {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	return &DeepgramEngine{
		opts:           opts,
		circuitBreaker: resilience.NewCircuitBreaker("deepgram", maxFailures, resetTimeout),
		logger:         logger.With().Str("engine", "deepgram").Logger(),
		pending:        audio.NewFrameBuffer(pendingAudioBytes),
		finalizeWait:   finalizeTimeout,
	}
}

func (d *DeepgramEngine) Attach(events EngineEvents) {
	d.mu.Lock()
	d.events = events
	d.mu.Unlock()
}

// Start opens a new live transcription socket.
func (d *DeepgramEngine) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrInvalidState
	}
	d.run++
	run := d.run
	d.running = true
	d.open = false
	d.finishing = false
	d.results = nil
	d.pending.Clear()
	d.mu.Unlock()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.opts.Model,
		Language:       d.opts.Language,
		Punctuate:      true,
		InterimResults: true,
		SmartFormat:    true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.opts.SampleRate,
	}
	callback := &deepgramCallback{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		engine:                 d,
		run:                    run,
	}

	ctx, cancel := context.WithCancel(context.Background())
	err := d.circuitBreaker.Call(func() error {
		client, err := listenClient.NewWSUsingCallback(ctx, d.opts.APIKey, nil, tOptions, callback)
		if err != nil {
			return fmt.Errorf("failed to create Deepgram client: %w", err)
		}
		d.mu.Lock()
		d.client = client
		d.cancel = cancel
		d.mu.Unlock()

		if !client.Connect() {
			return fmt.Errorf("failed to connect to Deepgram")
		}
		return nil
	})
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))

	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
		cancel()
		d.mu.Lock()
		d.running = false
		d.client = nil
		d.cancel = nil
		d.mu.Unlock()
		return fmt.Errorf("%w: %w", NewError("network"), err)
	}

	d.logger.Info().Str("model", d.opts.Model).Str("language", d.opts.Language).Msg("Deepgram streaming started")
	// Some SDK versions do not deliver Open for callback clients.
	d.handleOpen(run)
	return nil
}

// Stop asks Deepgram to finalize the utterance in progress. The run ends when
// the finalized result arrives, or after finalizeTimeout, with any trailing
// interim text promoted to final. A second Stop ends the run at once.
func (d *DeepgramEngine) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	if d.finishing {
		run := d.run
		d.mu.Unlock()
		d.handleClose(run)
		return nil
	}
	d.finishing = true
	client, run, wait := d.client, d.run, d.finalizeWait
	d.mu.Unlock()

	if client == nil {
		d.handleClose(run)
		return nil
	}
	if err := client.Finalize(); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to finalize Deepgram stream")
		d.handleClose(run)
		return nil
	}
	time.AfterFunc(wait, func() { d.handleClose(run) })
	return nil
}

// WriteAudio forwards one linear16 frame. Frames that arrive while the socket is
// still connecting are held and flushed once it opens.
func (d *DeepgramEngine) WriteAudio(frame []byte) error {
	d.mu.Lock()
	running, open, client := d.running, d.open, d.client
	d.mu.Unlock()

	switch {
	case !running:
		return nil
	case !open || client == nil:
		d.pending.Push(frame)
		return nil
	}

	if _, err := client.Write(frame); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

func (d *DeepgramEngine) current(run uint64) (EngineEvents, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events, d.events != nil && d.running && d.run == run
}

func (d *DeepgramEngine) handleOpen(run uint64) {
	d.mu.Lock()
	if !d.running || d.run != run || d.open {
		d.mu.Unlock()
		return
	}
	d.open = true
	client, events := d.client, d.events
	d.mu.Unlock()

	if !d.pending.IsEmpty() && client != nil {
		for _, frame := range d.pending.Drain() {
			if _, err := client.Write(frame); err != nil {
				d.logger.Warn().Err(err).Msg("Failed to flush buffered audio")
				break
			}
		}
		if dropped := d.pending.Dropped(); dropped > 0 {
			d.logger.Debug().Int("bytes", dropped).Msg("Dropped audio while connecting")
		}
	}

	if events != nil {
		events.EngineStarted()
	}
}

func (d *DeepgramEngine) handleMessage(run uint64, msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}
	if msg.Type != "Results" && msg.Type != "Message" {
		d.logger.Debug().Str("type", msg.Type).Msg("Ignoring Deepgram message")
		return
	}
	if msg.FromFinalize {
		defer d.finishIfStopping(run)
	}
	if len(msg.Channel.Alternatives) == 0 {
		return
	}
	seg := Segment{Transcript: msg.Channel.Alternatives[0].Transcript, IsFinal: msg.IsFinal}

	d.mu.Lock()
	if !d.running || d.run != run {
		d.mu.Unlock()
		return
	}
	// An interim entry is revised in place until Deepgram finalizes it.
	if n := len(d.results); n > 0 && !d.results[n-1].IsFinal {
		d.results[n-1] = seg
	} else {
		d.results = append(d.results, seg)
	}
	index := len(d.results) - 1
	results := make([]Segment, len(d.results))
	copy(results, d.results)
	events := d.events
	d.mu.Unlock()

	if events != nil {
		events.EngineResult(index, results)
	}
}

func (d *DeepgramEngine) handleError(run uint64, errorResponse *msginterfaces.ErrorResponse) {
	d.logger.Error().Interface("response", errorResponse).Msg("Deepgram error")
	d.circuitBreaker.RecordResult(false)
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	observability.IncrementCircuitBreakerFailures("deepgram")

	if events, ok := d.current(run); ok {
		events.EngineError("network")
	}
	d.handleClose(run)
}

// finishIfStopping ends run once Deepgram has flushed the result Stop asked for.
func (d *DeepgramEngine) finishIfStopping(run uint64) {
	d.mu.Lock()
	finishing := d.finishing && d.run == run
	d.mu.Unlock()
	if finishing {
		d.handleClose(run)
	}
}

func (d *DeepgramEngine) handleClose(run uint64) {
	d.mu.Lock()
	if !d.running || d.run != run {
		d.mu.Unlock()
		return
	}
	var flushed []Segment
	if n := len(d.results); d.finishing && n > 0 && !d.results[n-1].IsFinal &&
		strings.TrimSpace(d.results[n-1].Transcript) != "" {
		d.results[n-1].IsFinal = true
		flushed = make([]Segment, n)
		copy(flushed, d.results)
	}
	d.running = false
	d.open = false
	d.finishing = false
	d.client = nil
	cancel, events := d.cancel, d.events
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.pending.Clear()
	d.logger.Info().Msg("Deepgram streaming stopped")

	if events == nil {
		return
	}
	if flushed != nil {
		events.EngineResult(len(flushed)-1, flushed)
	}
	events.EngineEnded()
}
