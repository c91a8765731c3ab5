// Package transport carries capture sessions over a websocket: the browser
// sends commands, recognizer events or raw audio, and receives state,
// transcript and form updates.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/clinic-gateway/internal/capture"
	"github.com/lexiqai/clinic-gateway/internal/config"
	"github.com/lexiqai/clinic-gateway/internal/extraction"
	"github.com/lexiqai/clinic-gateway/internal/focus"
	"github.com/lexiqai/clinic-gateway/internal/forms"
	"github.com/lexiqai/clinic-gateway/internal/observability"
	"github.com/lexiqai/clinic-gateway/internal/recognizer"
	"github.com/lexiqai/clinic-gateway/internal/visits"
)

const writeWait = 10 * time.Second

// VisitService is what a capture connection needs from the visit model.
type VisitService interface {
	CurrentOrCreate(ctx context.Context, patientID string) (*visits.Visit, error)
	SaveForm(ctx context.Context, visitID, slot string, data map[string]any) (*visits.Visit, error)
}

// Handler serves capture websocket connections.
type Handler struct {
	cfg       *config.Config
	visits    VisitService
	extractor extraction.Extractor
	upgrader  websocket.Upgrader

	// newDeepgram builds the server-side engine; replaced in tests.
	newDeepgram func(logger zerolog.Logger) audioEngine
}

// audioEngine is a recognizer engine fed with audio frames from the browser.
type audioEngine interface {
	recognizer.Engine
	WriteAudio(frame []byte) error
}

// NewHandler creates the capture websocket handler.
func NewHandler(cfg *config.Config, visitSvc VisitService, extractor extraction.Extractor) *Handler {
	h := &Handler{
		cfg:       cfg,
		visits:    visitSvc,
		extractor: extractor,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	h.newDeepgram = func(logger zerolog.Logger) audioEngine {
		return recognizer.NewDeepgramEngine(recognizer.DeepgramOptions{
			APIKey:     cfg.DeepgramAPIKey,
			Model:      cfg.DeepgramModel,
			Language:   cfg.RecognizerLocale,
			SampleRate: cfg.AudioSampleRate,
		}, cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout, logger)
	}
	return h
}

// checkOrigin allows same-origin requests and the configured origins.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

// ServeHTTP resolves the visit for the requested form, upgrades the connection
// and runs one capture session until the socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	patientID := q.Get("patientId")
	if patientID == "" {
		http.Error(w, "patientId is required", http.StatusBadRequest)
		return
	}
	slot, ok := forms.ParseSlot(q.Get("form"))
	if !ok {
		http.Error(w, fmt.Sprintf("unknown form %q", q.Get("form")), http.StatusBadRequest)
		return
	}
	mode, err := capture.ParseMode(q.Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	scope, err := extraction.ParseScope(q.Get("scope"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The visit is re-resolved on every form open, never cached.
	visit, err := h.visits.CurrentOrCreate(r.Context(), patientID)
	if err != nil {
		if errors.Is(err, visits.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := observability.GetLogger()
		logger.Warn().Err(err).Msg("Failed to upgrade capture connection")
		return
	}
	defer conn.Close()

	logger := observability.CaptureLogger(patientID, visit.ID, string(slot))

	c := h.newConnection(conn, visit, slot, mode, scope, logger)
	observability.RecordSessionOpened()
	defer observability.RecordSessionClosed()

	logger.Info().Str("mode", string(mode)).Msg("Capture connection established")
	c.run()
	logger.Info().Msg("Capture connection closed")
}

// connection is one browser tab editing one visit slot.
type connection struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	visits  VisitService
	visitID string
	slot    forms.Slot

	form    *forms.Form
	router  *focus.Router
	session *capture.Session
	browser *recognizer.BrowserEngine
	audio   audioEngine

	logger zerolog.Logger
}

func (h *Handler) newConnection(conn *websocket.Conn, visit *visits.Visit, slot forms.Slot, mode capture.Mode, scope extraction.Scope, logger zerolog.Logger) *connection {
	c := &connection{
		conn:    conn,
		visits:  h.visits,
		visitID: visit.ID,
		slot:    slot,
		form:    forms.FromData(visit.Forms[slot].Data),
		logger:  logger,
	}
	c.router = focus.NewRouter(c.form, logger)
	c.session = capture.NewSession(capture.Config{
		Mode:      mode,
		Kind:      slot.Kind(),
		Scope:     scope,
		Countdown: h.cfg.CountdownSeconds(),
	}, c.form, c.router, h.extractor, c, logger)

	var engine recognizer.Engine
	if h.cfg.RecognizerBackend == config.RecognizerDeepgram {
		c.audio = h.newDeepgram(logger)
		engine = c.audio
	} else {
		c.browser = recognizer.NewBrowserEngine(h.cfg.RecognizerLocale, c.sendCommand)
		engine = c.browser
	}
	c.session.Bind(recognizer.NewAdapter(engine, c.session, h.cfg.RestartDelay(), logger))

	status := visits.DisplayStatus(visit.Forms[slot], c.form.Data())
	c.send(ServerMessage{Type: MsgVisit, Visit: &VisitInfo{
		VisitID:     visit.ID,
		VisitNumber: visit.VisitNumber,
		Slot:        string(slot),
		Status:      string(status),
	}})
	c.send(ServerMessage{Type: MsgForm, Data: c.form.Data()})
	c.StateChanged(c.session.State())
	return c
}

func (c *connection) run() {
	defer c.session.Close()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			c.handleAudio(data)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Error().Err(err).Msg("Failed to parse client message")
			c.sendError(fmt.Errorf("invalid message: %w", err))
			continue
		}
		if err := c.handle(msg); err != nil {
			c.sendError(err)
		}
	}
}

func (c *connection) handle(msg ClientMessage) error {
	switch msg.Type {
	case MsgStart:
		return c.session.Start()
	case MsgStop:
		return c.session.Stop()
	case MsgRetry:
		return c.session.Retry()

	case MsgFocus:
		target, err := focus.ParseTarget(msg.Target)
		if err != nil {
			return err
		}
		c.router.SetFocus(target)
	case MsgClearFocus:
		c.router.ClearFocus()

	case MsgRecognizer:
		if c.browser == nil {
			return fmt.Errorf("recognizer events are not accepted with the %s backend", config.RecognizerDeepgram)
		}
		if msg.Event == nil {
			return errors.New("recognizer message without event")
		}
		return c.browser.Deliver(*msg.Event)

	case MsgListMutation:
		return c.mutateList(msg)

	case MsgEdit:
		if msg.Path == "" {
			return errors.New("edit without path")
		}
		c.form.Set(msg.Path, msg.Value)

	case MsgSave:
		return c.save()

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

// mutateList applies a row add or remove typed by the user and drops any
// focus the change invalidated.
func (c *connection) mutateList(msg ClientMessage) error {
	if msg.List == "" {
		return errors.New("list_mutation without list")
	}
	switch msg.Op {
	case "append":
		index := c.form.Len(msg.List)
		c.form.AppendRow(msg.List, msg.Row)
		c.router.ListChanged(msg.List, index)
	case "remove":
		if !c.form.RemoveRow(msg.List, msg.Index) {
			return fmt.Errorf("%s has no row %d", msg.List, msg.Index)
		}
		c.router.ListChanged(msg.List, msg.Index)
	default:
		return fmt.Errorf("unknown list operation %q", msg.Op)
	}
	c.FormUpdated(c.form.Data())
	return nil
}

func (c *connection) save() error {
	visit, err := c.visits.SaveForm(context.Background(), c.visitID, string(c.slot), c.form.Data())
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to save form")
		c.Notify(capture.Notification{Level: capture.LevelError, Kind: "save_failed", Message: "Could not save the form. Your edits are kept."})
		return nil
	}
	c.send(ServerMessage{Type: MsgSaved, Visit: &VisitInfo{
		VisitID:     visit.ID,
		VisitNumber: visit.VisitNumber,
		Slot:        string(c.slot),
		Status:      string(visit.Forms[c.slot].Status),
	}})
	return nil
}

func (c *connection) handleAudio(frame []byte) {
	if c.audio == nil {
		c.logger.Debug().Int("bytes", len(frame)).Msg("Ignoring audio frame for browser recognizer")
		return
	}
	if err := c.audio.WriteAudio(frame); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to forward audio")
	}
}

func (c *connection) sendCommand(cmd recognizer.Command) error {
	return c.send(ServerMessage{Type: MsgRecognizer, Command: &cmd})
}

func (c *connection) sendError(err error) {
	c.send(ServerMessage{Type: MsgError, Error: err.Error()})
}

func (c *connection) send(msg ServerMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug().Err(err).Str("type", msg.Type).Msg("Failed to write message")
		return err
	}
	return nil
}

// StateChanged implements capture.Notifier.
func (c *connection) StateChanged(state capture.State) {
	c.send(ServerMessage{Type: MsgState, State: state.String()})
}

// Countdown implements capture.Notifier.
func (c *connection) Countdown(remaining int) {
	c.send(ServerMessage{Type: MsgCountdown, Remaining: &remaining})
}

// Transcript implements capture.Notifier.
func (c *connection) Transcript(t recognizer.Transcript) {
	c.send(ServerMessage{Type: MsgTranscript, Transcript: &t})
}

// Notify implements capture.Notifier.
func (c *connection) Notify(n capture.Notification) {
	c.send(ServerMessage{Type: MsgNotification, Notification: &n})
}

// FormUpdated implements capture.Notifier.
func (c *connection) FormUpdated(data map[string]any) {
	c.send(ServerMessage{Type: MsgForm, Data: data})
}
