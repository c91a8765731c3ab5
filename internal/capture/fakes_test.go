package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/clinic-gateway/internal/extraction"
	"github.com/lexiqai/clinic-gateway/internal/forms"
	"github.com/lexiqai/clinic-gateway/internal/recognizer"
)

type fakeRecognizer struct {
	mu         sync.Mutex
	startCalls int
	stopCalls  int
	startErr   error
	// release, when set, blocks Start until it is closed.
	release chan struct{}
}

func (f *fakeRecognizer) Start(ctx context.Context) error {
	f.mu.Lock()
	f.startCalls++
	release := f.release
	err := f.startErr
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeRecognizer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls
}

type fakeNotifier struct {
	mu            sync.Mutex
	states        []State
	countdowns    []int
	transcripts   []recognizer.Transcript
	notifications []Notification
	formUpdates   int
}

func (f *fakeNotifier) StateChanged(state State) {
	f.mu.Lock()
	f.states = append(f.states, state)
	f.mu.Unlock()
}

func (f *fakeNotifier) Countdown(remaining int) {
	f.mu.Lock()
	f.countdowns = append(f.countdowns, remaining)
	f.mu.Unlock()
}

func (f *fakeNotifier) Transcript(t recognizer.Transcript) {
	f.mu.Lock()
	f.transcripts = append(f.transcripts, t)
	f.mu.Unlock()
}

func (f *fakeNotifier) Notify(n Notification) {
	f.mu.Lock()
	f.notifications = append(f.notifications, n)
	f.mu.Unlock()
}

func (f *fakeNotifier) FormUpdated(map[string]any) {
	f.mu.Lock()
	f.formUpdates++
	f.mu.Unlock()
}

func (f *fakeNotifier) hasNotification(kind string) (Notification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notifications {
		if n.Kind == kind {
			return n, true
		}
	}
	return Notification{}, false
}

type extractCall struct {
	transcript string
	kind       forms.Kind
}

type fakeExtractor struct {
	mu      sync.Mutex
	calls   []extractCall
	result  extraction.Result
	err     error
	release chan struct{}
}

func (f *fakeExtractor) Extract(ctx context.Context, transcript string, kind forms.Kind) (extraction.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, extractCall{transcript: transcript, kind: kind})
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}
