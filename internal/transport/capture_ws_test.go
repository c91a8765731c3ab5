package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/clinic-gateway/internal/capture"
	"github.com/lexiqai/clinic-gateway/internal/config"
	"github.com/lexiqai/clinic-gateway/internal/extraction"
	"github.com/lexiqai/clinic-gateway/internal/forms"
	"github.com/lexiqai/clinic-gateway/internal/recognizer"
	"github.com/lexiqai/clinic-gateway/internal/visits"
)

type fakeExtractor struct {
	result extraction.Result
	err    error
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, _ forms.Kind) (extraction.Result, error) {
	return f.result, f.err
}

type fakeAudioEngine struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeAudioEngine) Attach(recognizer.EngineEvents) {}
func (f *fakeAudioEngine) Start() error                   { return nil }
func (f *fakeAudioEngine) Stop() error                    { return nil }

func (f *fakeAudioEngine) WriteAudio(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeAudioEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fixture struct {
	server    *httptest.Server
	handler   *Handler
	visits    *visits.Service
	extractor *fakeExtractor
	patientID string
}

func newFixture(t *testing.T, backend string) *fixture {
	t.Helper()
	store, err := visits.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := visits.NewService(store, zerolog.Nop())
	p, err := svc.CreatePatient(context.Background(), visits.Patient{DoctorID: "doc-1", FirstName: "Ada", LastName: "Lovelace"})
	require.NoError(t, err)

	cfg := &config.Config{
		RecognizerBackend:          backend,
		RecognizerLocale:           "en-US",
		CaptureRestartDelayMs:      10,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: time.Second,
	}
	ext := &fakeExtractor{result: extraction.Result{}}
	h := NewHandler(cfg, svc, ext)

	f := &fixture{handler: h, visits: svc, extractor: ext, patientID: p.ID}
	f.server = httptest.NewServer(h)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/capture?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) dialStatus(t *testing.T, query string) int {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/capture?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail")
	}
	require.NotNil(t, resp)
	resp.Body.Close()
	return resp.StatusCode
}

// expect reads messages until one satisfies match.
func expect(t *testing.T, conn *websocket.Conn, desc string, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", desc, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func expectType(t *testing.T, conn *websocket.Conn, typ string) ServerMessage {
	t.Helper()
	return expect(t, conn, typ, func(m ServerMessage) bool { return m.Type == typ })
}

func expectCommand(t *testing.T, conn *websocket.Conn, action string) {
	t.Helper()
	expect(t, conn, "command "+action, func(m ServerMessage) bool {
		return m.Type == MsgRecognizer && m.Command != nil && m.Command.Action == action
	})
}

func expectState(t *testing.T, conn *websocket.Conn, state capture.State) {
	t.Helper()
	expect(t, conn, "state "+state.String(), func(m ServerMessage) bool {
		return m.Type == MsgState && m.State == state.String()
	})
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func engineEvent(ev recognizer.BrowserEvent) ClientMessage {
	return ClientMessage{Type: MsgRecognizer, Event: &ev}
}

func TestCaptureAIExtractionAndSave(t *testing.T) {
	f := newFixture(t, config.RecognizerBrowser)
	f.extractor.result = extraction.Result{
		"chief_complaint": "Three-day history of fever",
		"allergies":       "penicillin, peanuts",
	}
	conn := f.dial(t, "patientId="+f.patientID+"&form=medicalHistory&mode=ai")

	visit := expectType(t, conn, MsgVisit)
	require.NotNil(t, visit.Visit)
	assert.Equal(t, 1, visit.Visit.VisitNumber)
	assert.Equal(t, string(visits.NotStarted), visit.Visit.Status)
	expectState(t, conn, capture.Idle)

	sendJSON(t, conn, ClientMessage{Type: MsgStart})
	expectState(t, conn, capture.Listening)
	expectCommand(t, conn, "start")

	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{Type: "start"}))
	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{
		Type:    "result",
		Results: []recognizer.Segment{{Transcript: "patient has fever", IsFinal: true}},
	}))
	tr := expectType(t, conn, MsgTranscript)
	require.NotNil(t, tr.Transcript)
	assert.Equal(t, "patient has fever ", tr.Transcript.Final)

	sendJSON(t, conn, ClientMessage{Type: MsgStop})
	expectCommand(t, conn, "stop")
	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{Type: "end"}))

	form := expect(t, conn, "populated form", func(m ServerMessage) bool {
		return m.Type == MsgForm && m.Data["chiefComplaint"] != nil
	})
	assert.Equal(t, "Three-day history of fever", form.Data["chiefComplaint"])
	assert.Equal(t, []any{"penicillin", "peanuts"}, form.Data["allergies"])

	sendJSON(t, conn, ClientMessage{Type: MsgSave})
	saved := expectType(t, conn, MsgSaved)
	require.NotNil(t, saved.Visit)
	assert.Equal(t, string(visits.Completed), saved.Visit.Status)

	stored, err := f.visits.Get(context.Background(), saved.Visit.VisitID)
	require.NoError(t, err)
	assert.Equal(t, "Three-day history of fever", stored.Forms[forms.SlotMedicalHistory].Data["chiefComplaint"])
}

func TestCaptureRestartsAfterStaleBrowserRun(t *testing.T) {
	f := newFixture(t, config.RecognizerBrowser)
	conn := f.dial(t, "patientId="+f.patientID+"&form=medicalHistory&mode=ai")
	expectState(t, conn, capture.Idle)

	sendJSON(t, conn, ClientMessage{Type: MsgStart})
	expectCommand(t, conn, "start")

	// Stop before the browser reports its start: the browser engine is still
	// running when the next start arrives.
	sendJSON(t, conn, ClientMessage{Type: MsgStop})
	expectState(t, conn, capture.Idle)

	sendJSON(t, conn, ClientMessage{Type: MsgStart})
	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{Type: "end"}))

	expect(t, conn, "restarted engine", func(m ServerMessage) bool {
		if m.Type == MsgNotification && m.Notification != nil {
			t.Fatalf("unexpected notification during restart: %+v", *m.Notification)
		}
		if m.Type == MsgState && m.State == capture.Idle.String() {
			t.Fatal("session returned to idle instead of restarting")
		}
		return m.Type == MsgRecognizer && m.Command != nil && m.Command.Action == "start"
	})

	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{Type: "start"}))
	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{
		Type:    "result",
		Results: []recognizer.Segment{{Transcript: "cough", IsFinal: true}},
	}))
	tr := expectType(t, conn, MsgTranscript)
	require.NotNil(t, tr.Transcript)
	assert.Equal(t, "cough ", tr.Transcript.Final)
}

func TestCaptureRawModeRoutesToFocus(t *testing.T) {
	f := newFixture(t, config.RecognizerBrowser)
	conn := f.dial(t, "patientId="+f.patientID+"&form=medicalHistory&mode=raw")
	expectState(t, conn, capture.Idle)

	sendJSON(t, conn, map[string]any{"type": MsgFocus, "target": map[string]any{"type": "field", "path": "chiefComplaint"}})
	sendJSON(t, conn, ClientMessage{Type: MsgStart})
	expectCommand(t, conn, "start")

	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{Type: "start"}))
	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{
		Type:    "result",
		Results: []recognizer.Segment{{Transcript: "fever for 3 days", IsFinal: false}},
	}))

	form := expect(t, conn, "routed text", func(m ServerMessage) bool {
		return m.Type == MsgForm && m.Data["chiefComplaint"] != nil
	})
	assert.Equal(t, "fever for 3 days", form.Data["chiefComplaint"])
}

func TestCaptureAutomaticEndDoesNotExtract(t *testing.T) {
	f := newFixture(t, config.RecognizerBrowser)
	f.extractor.result = extraction.Result{"chief_complaint": "should not appear"}
	conn := f.dial(t, "patientId="+f.patientID+"&form=medicalHistory")
	expectState(t, conn, capture.Idle)

	sendJSON(t, conn, ClientMessage{Type: MsgStart})
	expectCommand(t, conn, "start")
	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{Type: "start"}))
	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{
		Type:    "result",
		Results: []recognizer.Segment{{Transcript: "patient has fever", IsFinal: true}},
	}))
	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{Type: "end"}))
	expectState(t, conn, capture.Idle)

	// A start is accepted again, so no extraction is holding the session.
	sendJSON(t, conn, ClientMessage{Type: MsgStart})
	expectCommand(t, conn, "start")
}

func TestCaptureErrors(t *testing.T) {
	f := newFixture(t, config.RecognizerBrowser)
	conn := f.dial(t, "patientId="+f.patientID+"&form=clinicalExamination")
	expectState(t, conn, capture.Idle)

	sendJSON(t, conn, ClientMessage{Type: MsgRetry})
	msg := expectType(t, conn, MsgError)
	assert.Equal(t, capture.ErrNothingToRetry.Error(), msg.Error)

	sendJSON(t, conn, ClientMessage{Type: "dance"})
	msg = expectType(t, conn, MsgError)
	assert.Contains(t, msg.Error, "unknown message type")

	sendJSON(t, conn, ClientMessage{Type: MsgListMutation, List: "allergies", Op: "remove", Index: 3})
	msg = expectType(t, conn, MsgError)
	assert.Contains(t, msg.Error, "no row 3")
}

func TestCaptureListMutationAndEdit(t *testing.T) {
	f := newFixture(t, config.RecognizerBrowser)
	conn := f.dial(t, "patientId="+f.patientID+"&form=medicalHistory&mode=raw")
	expectState(t, conn, capture.Idle)

	sendJSON(t, conn, ClientMessage{Type: MsgEdit, Path: "presentIllness.onset", Value: "yesterday"})
	sendJSON(t, conn, ClientMessage{Type: MsgListMutation, List: "surgeries", Op: "append", Row: map[string]any{"year": "2019"}})

	form := expect(t, conn, "form with row", func(m ServerMessage) bool {
		return m.Type == MsgForm && m.Data["surgeries"] != nil
	})
	assert.Equal(t, []any{map[string]any{"year": "2019"}}, form.Data["surgeries"])
	assert.Equal(t, map[string]any{"onset": "yesterday"}, form.Data["presentIllness"])
}

func TestCaptureDeepgramForwardsAudio(t *testing.T) {
	f := newFixture(t, config.RecognizerDeepgram)
	engine := &fakeAudioEngine{}
	f.handler.newDeepgram = func(zerolog.Logger) audioEngine { return engine }

	conn := f.dial(t, "patientId="+f.patientID+"&form=dischargeForm")
	expectState(t, conn, capture.Idle)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}))
	sendJSON(t, conn, engineEvent(recognizer.BrowserEvent{Type: "start"}))
	msg := expectType(t, conn, MsgError)
	assert.Contains(t, msg.Error, "not accepted")
	assert.Equal(t, 1, engine.count())
}

func TestCaptureRejectsBadRequests(t *testing.T) {
	f := newFixture(t, config.RecognizerBrowser)

	assert.Equal(t, http.StatusBadRequest, f.dialStatus(t, "form=medicalHistory"))
	assert.Equal(t, http.StatusBadRequest, f.dialStatus(t, "patientId="+f.patientID+"&form=labResults"))
	assert.Equal(t, http.StatusBadRequest, f.dialStatus(t, "patientId="+f.patientID+"&form=medicalHistory&mode=loud"))
	assert.Equal(t, http.StatusBadRequest, f.dialStatus(t, "patientId="+f.patientID+"&form=medicalHistory&scope=everything"))
	assert.Equal(t, http.StatusNotFound, f.dialStatus(t, "patientId=ghost&form=medicalHistory"))
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(&config.Config{AllowedOrigins: []string{"http://localhost:3000"}}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws/capture", nil)
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, h.checkOrigin(req))
}

func TestCapturePlainHTTPRequestRejected(t *testing.T) {
	f := newFixture(t, config.RecognizerBrowser)

	resp, err := http.Get(f.server.URL + "/ws/capture?patientId=" + f.patientID + "&form=medicalHistory")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
