// Package audio defines the audio types and DSP primitives of the capture
// pipeline within meetcaption.
//
// The pipeline runs in three stages:
//
//   - A capture backend implementing [Capturer] hands out a [Track]. The
//     track's realtime callback copies each block into a [Handoff].
//   - A single consumer goroutine downmixes with [Downmix], converts rate with
//     [Resample], quantises with [FloatToPCM16] and packs fixed-size chunks
//     with a [Framer].
//   - The chunks are handed to a recognition transport.
//
// This package lives under pkg/ because capture backends (audio/portaudio,
// audio/mock) are expected to implement [Capturer] and [Track].
package audio

import "context"

// Capturer acquires a capture track for a source stream identifier.
//
// The identifier is opaque to the pipeline. Backends interpret it, e.g. as a
// device name or index. An empty identifier selects the backend's default
// source.
type Capturer interface {
	// Acquire opens the source and returns an idle track. Failure is final for
	// this attempt; the controller does not retry.
	Acquire(ctx context.Context, streamID string) (Track, error)
}

// Track is an acquired live capture source.
//
// Implementations must be safe for concurrent use. Stop and Close must be
// safe to call more than once and in any order.
type Track interface {
	// Format reports the native format of the blocks passed to the tap.
	Format() Format

	// Start begins delivering audio. tap is called from the backend's
	// realtime thread and must not block; the samples slice is only valid for
	// the duration of the call. When monitor is true the track also plays the
	// captured audio back to the default output, so capturing a source does
	// not mute it for the local user.
	Start(tap func(samples []float32), monitor bool) error

	// Stop halts delivery. No tap call starts after Stop returns.
	Stop() error

	// Close releases the underlying source.
	Close() error
}
