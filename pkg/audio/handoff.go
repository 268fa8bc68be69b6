package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultHandoffDepth is the number of frames a [Handoff] buffers before it
// starts dropping the oldest ones. At a typical 1024-frame callback at 48 kHz
// this is a little over two seconds of audio.
const DefaultHandoffDepth = 100

// Handoff moves audio frames from a realtime capture callback to a single
// consumer goroutine.
//
// Push never blocks. It copies the samples because the capture backend reuses
// its callback buffer as soon as the callback returns. When the buffer is
// full, the oldest queued frame is discarded to make room, so a stalled
// consumer sees the most recent audio once it catches up.
type Handoff struct {
	start   time.Time
	ch      chan Frame
	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

// NewHandoff creates a Handoff that buffers up to depth frames. depth <= 0
// selects [DefaultHandoffDepth].
func NewHandoff(depth int) *Handoff {
	if depth <= 0 {
		depth = DefaultHandoffDepth
	}
	return &Handoff{start: time.Now(), ch: make(chan Frame, depth)}
}

// Push copies samples into a new [Frame] stamped with the time elapsed since
// the handoff was created, and enqueues it. It returns false if the handoff
// has been closed.
func (h *Handoff) Push(samples []float32, format Format) bool {
	cp := make([]float32, len(samples))
	copy(cp, samples)
	frame := Frame{
		Samples:    cp,
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Timestamp:  time.Since(h.start),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	for {
		select {
		case h.ch <- frame:
			return true
		default:
		}
		// Full: discard the oldest frame. The consumer may win the race for
		// it, in which case the next send attempt simply succeeds.
		select {
		case <-h.ch:
			h.dropped.Add(1)
		default:
		}
	}
}

// C returns the consumer side. It is closed by [Handoff.Close].
func (h *Handoff) C() <-chan Frame { return h.ch }

// Dropped returns how many frames were discarded because the consumer fell
// behind.
func (h *Handoff) Dropped() int64 { return h.dropped.Load() }

// Close stops accepting frames and closes the consumer channel. Frames that
// are already queued can still be received. Safe to call more than once.
func (h *Handoff) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.ch)
}
