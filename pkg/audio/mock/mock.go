// Package mock provides in-memory mock implementations of the [audio.Capturer]
// and [audio.Track] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	tr := &mock.Track{FormatResult: audio.Format{SampleRate: 48000, Channels: 1}}
//	capturer := &mock.Capturer{AcquireResult: tr}
//	got, err := capturer.Acquire(ctx, "stream-42")
//	// ... later, simulate the realtime callback:
//	tr.Emit(make([]float32, 1024))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/meetcaption/pkg/audio"
)

// ─── Track ────────────────────────────────────────────────────────────────────

// Track is a mock implementation of [audio.Track].
// Set the exported Result fields before use; inspect the Call* fields after.
type Track struct {
	mu sync.Mutex

	// FormatResult is returned by [Track.Format].
	FormatResult audio.Format

	// StartError is returned by [Track.Start].
	StartError error

	// StopError is returned by [Track.Stop].
	StopError error

	// CloseError is returned by [Track.Close].
	CloseError error

	// StopPanic, when non-nil, makes [Track.Stop] panic with this value after
	// recording the call.
	StopPanic any

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Monitor records the monitor argument of the last Start call.
	Monitor bool

	tap     func([]float32)
	stopped bool
}

// Format implements [audio.Track].
func (t *Track) Format() audio.Format {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.FormatResult
}

// Start implements [audio.Track]. Stores tap so [Track.Emit] can call it.
func (t *Track) Start(tap func(samples []float32), monitor bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountStart++
	t.Monitor = monitor
	if t.StartError != nil {
		return t.StartError
	}
	t.tap = tap
	return nil
}

// Stop implements [audio.Track]. After Stop, [Track.Emit] is a no-op.
func (t *Track) Stop() error {
	t.mu.Lock()
	t.CallCountStop++
	t.stopped = true
	p := t.StopPanic
	err := t.StopError
	t.mu.Unlock()
	if p != nil {
		panic(p)
	}
	return err
}

// Close implements [audio.Track].
func (t *Track) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountClose++
	t.stopped = true
	return t.CloseError
}

// Emit simulates one realtime callback delivering samples. It reports whether
// the tap was invoked.
func (t *Track) Emit(samples []float32) bool {
	t.mu.Lock()
	tap := t.tap
	stopped := t.stopped
	t.mu.Unlock()
	if tap == nil || stopped {
		return false
	}
	tap(samples)
	return true
}

// Counts returns the Start, Stop and Close call counts under the lock.
func (t *Track) Counts() (starts, stops, closes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CallCountStart, t.CallCountStop, t.CallCountClose
}

// ─── Capturer ─────────────────────────────────────────────────────────────────

// Capturer is a mock implementation of [audio.Capturer].
type Capturer struct {
	mu sync.Mutex

	// AcquireResult is the [audio.Track] returned by Acquire.
	AcquireResult audio.Track

	// AcquireError is the error returned by Acquire.
	AcquireError error

	// AcquireCalls records the streamID argument of every Acquire invocation.
	AcquireCalls []string
}

// Acquire implements [audio.Capturer]. Records the call and returns
// AcquireResult / AcquireError.
func (c *Capturer) Acquire(_ context.Context, streamID string) (audio.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AcquireCalls = append(c.AcquireCalls, streamID)
	if c.AcquireError != nil {
		return nil, c.AcquireError
	}
	return c.AcquireResult, nil
}

// Calls returns a copy of the recorded Acquire stream IDs.
func (c *Capturer) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.AcquireCalls))
	copy(out, c.AcquireCalls)
	return out
}

var (
	_ audio.Capturer = (*Capturer)(nil)
	_ audio.Track    = (*Track)(nil)
)
