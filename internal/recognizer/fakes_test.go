package recognizer

import (
	"sync"
)

type fakeEngine struct {
	mu         sync.Mutex
	events     EngineEvents
	running    bool
	startCalls int
	stopCalls  int
	startErrs  []error
	endOnStop  bool
}

func (f *fakeEngine) Attach(events EngineEvents) { f.events = events }

func (f *fakeEngine) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		if err != nil {
			return err
		}
	}
	f.running = true
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	wasRunning := f.running
	f.running = false
	f.mu.Unlock()
	if wasRunning && f.endOnStop {
		f.events.EngineEnded()
	}
	return nil
}

type recordingListener struct {
	mu          sync.Mutex
	starts      int
	ends        int
	transcripts []Transcript
	errors      []*Error
}

func (l *recordingListener) OnSessionStart() {
	l.mu.Lock()
	l.starts++
	l.mu.Unlock()
}

func (l *recordingListener) OnTranscript(t Transcript) {
	l.mu.Lock()
	l.transcripts = append(l.transcripts, t)
	l.mu.Unlock()
}

func (l *recordingListener) OnError(err *Error) {
	l.mu.Lock()
	l.errors = append(l.errors, err)
	l.mu.Unlock()
}

func (l *recordingListener) OnSessionEnd() {
	l.mu.Lock()
	l.ends++
	l.mu.Unlock()
}

func (l *recordingListener) endCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ends
}

func (l *recordingListener) last() Transcript {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.transcripts) == 0 {
		return Transcript{}
	}
	return l.transcripts[len(l.transcripts)-1]
}

type fakeLiveClient struct {
	mu        sync.Mutex
	frames    [][]byte
	finalizes int
	finalErr  error
}

func (f *fakeLiveClient) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, p)
	return len(p), nil
}

func (f *fakeLiveClient) Finalize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizes++
	return f.finalErr
}
