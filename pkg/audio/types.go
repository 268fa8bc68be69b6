package audio

import (
	"fmt"
	"time"
)

// Recognition-side audio format. The recognizer's primary mode expects 16 kHz
// mono little-endian int16 PCM.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1

	// ChunkDuration is the amount of audio carried by one network send.
	ChunkDuration = 100 * time.Millisecond

	// ChunkBytes is the exact size of every chunk emitted by a [Framer] in the
	// primary pipeline: 100 ms of 16 kHz mono s16le.
	ChunkBytes = TargetSampleRate * TargetChannels * 2 * int(ChunkDuration/time.Millisecond) / 1000
)

// Frame is a single block of captured audio as delivered by a capture
// backend's realtime callback, after it has been copied off the callback
// buffer.
type Frame struct {
	// Samples holds float32 samples in [-1, 1]. Interleaved when Channels > 1.
	Samples []float32

	// SampleRate in Hz (e.g., 48000 for most capture devices).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to the creation
	// of the [Handoff] that carried it.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
