// Package audio holds audio frames that arrive before a streaming recognizer
// connection is ready to accept them.
package audio

import (
	"sync"
)

// FrameBuffer is a bounded FIFO of audio frames. When a push would exceed the
// byte limit, the oldest frames are dropped first.
type FrameBuffer struct {
	mu       sync.Mutex
	frames   [][]byte
	size     int
	maxBytes int
	dropped  int
}

// NewFrameBuffer creates a buffer holding at most maxBytes of audio.
func NewFrameBuffer(maxBytes int) *FrameBuffer {
	return &FrameBuffer{maxBytes: maxBytes}
}

// Push appends a copy of frame. A frame larger than the whole buffer is rejected
// and counted as dropped.
func (fb *FrameBuffer) Push(frame []byte) bool {
	if len(frame) == 0 {
		return true
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	if len(frame) > fb.maxBytes {
		fb.dropped += len(frame)
		return false
	}

	for fb.size+len(frame) > fb.maxBytes && len(fb.frames) > 0 {
		fb.size -= len(fb.frames[0])
		fb.dropped += len(fb.frames[0])
		fb.frames = fb.frames[1:]
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	fb.frames = append(fb.frames, cp)
	fb.size += len(cp)
	return true
}

// Drain removes and returns all buffered frames in arrival order.
func (fb *FrameBuffer) Drain() [][]byte {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	frames := fb.frames
	fb.frames = nil
	fb.size = 0
	return frames
}

// Available returns the number of buffered bytes.
func (fb *FrameBuffer) Available() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.size
}

// Dropped returns the number of bytes discarded since the last Clear.
func (fb *FrameBuffer) Dropped() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.dropped
}

// Clear discards all buffered frames.
func (fb *FrameBuffer) Clear() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.frames = nil
	fb.size = 0
	fb.dropped = 0
}

// IsEmpty returns true if no frames are buffered
func (fb *FrameBuffer) IsEmpty() bool {
	return fb.Available() == 0
}
