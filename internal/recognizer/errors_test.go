package recognizer

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want ErrorKind
	}{
		{"not-allowed", PermissionDenied},
		{"service-not-allowed", PermissionDenied},
		{"network", Network},
		{"no-speech", NoSpeech},
		{"audio-capture", DeviceUnavailable},
		{"aborted", Aborted},
		{CodeInvalidState, DeviceUnavailable},
		{"language-not-supported", Other},
		{"", Other},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := Classify(tt.code); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestError_Fatal(t *testing.T) {
	if !NewError("not-allowed").Fatal() {
		t.Error("Expected permission denied to be fatal")
	}
	if !NewError("audio-capture").Fatal() {
		t.Error("Expected device unavailable to be fatal")
	}
	if NewError("network").Fatal() {
		t.Error("Expected network error to be recoverable")
	}
}

func TestError_As(t *testing.T) {
	err := fmt.Errorf("start: %w", NewError("network"))

	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatal("Expected errors.As to find *Error")
	}
	if rerr.Kind != Network {
		t.Errorf("Expected Network, got %s", rerr.Kind)
	}
}

func TestStartError(t *testing.T) {
	busy := StartError(fmt.Errorf("start: %w", ErrInvalidState))
	if busy.Kind != DeviceUnavailable || busy.Code != CodeInvalidState {
		t.Errorf("Expected device unavailable invalid-state, got %s/%s", busy.Kind, busy.Code)
	}
	if busy.Message() != "Microphone is busy, try again." {
		t.Errorf("Expected busy message, got '%s'", busy.Message())
	}

	network := StartError(fmt.Errorf("dial: %w", NewError("network")))
	if network.Kind != Network {
		t.Errorf("Expected classified error kept, got %s", network.Kind)
	}

	if other := StartError(errors.New("boom")); other.Kind != Other {
		t.Errorf("Expected other, got %s", other.Kind)
	}
}
