package transport

import (
	"encoding/json"

	"github.com/lexiqai/clinic-gateway/internal/capture"
	"github.com/lexiqai/clinic-gateway/internal/recognizer"
)

// Client message types
const (
	MsgStart        = "start"
	MsgStop         = "stop"
	MsgRetry        = "retry"
	MsgFocus        = "focus"
	MsgClearFocus   = "clear_focus"
	MsgRecognizer   = "recognizer"
	MsgListMutation = "list_mutation"
	MsgEdit         = "edit"
	MsgSave         = "save"
)

// Server message types
const (
	MsgState        = "state"
	MsgCountdown    = "countdown"
	MsgTranscript   = "transcript"
	MsgNotification = "notification"
	MsgForm         = "form"
	MsgSaved        = "saved"
	MsgVisit        = "visit"
	MsgError        = "error"
	// MsgRecognizer is also sent to the browser, carrying an engine Command.
)

// ClientMessage is a JSON text frame from the browser.
type ClientMessage struct {
	Type string `json:"type"`

	// focus
	Target json.RawMessage `json:"target,omitempty"`

	// recognizer
	Event *recognizer.BrowserEvent `json:"event,omitempty"`

	// list_mutation: Op is "append" or "remove"; Row is the appended row.
	List  string `json:"list,omitempty"`
	Op    string `json:"op,omitempty"`
	Index int    `json:"index,omitempty"`
	Row   any    `json:"row,omitempty"`

	// edit
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// ServerMessage is a JSON text frame to the browser. Only the fields of its
// Type are set.
type ServerMessage struct {
	Type         string                 `json:"type"`
	State        string                 `json:"state,omitempty"`
	Remaining    *int                   `json:"remaining,omitempty"`
	Transcript   *recognizer.Transcript `json:"transcript,omitempty"`
	Notification *capture.Notification  `json:"notification,omitempty"`
	Command      *recognizer.Command    `json:"command,omitempty"`
	Data         map[string]any         `json:"data,omitempty"`
	Visit        *VisitInfo             `json:"visit,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// VisitInfo identifies the visit slot a connection edits.
type VisitInfo struct {
	VisitID     string `json:"visitId"`
	VisitNumber int    `json:"visitNumber"`
	Slot        string `json:"slot"`
	Status      string `json:"status"`
}
