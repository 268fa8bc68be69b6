// Package opuswebm encodes float PCM into Opus packets muxed into a WebM
// stream. The recognition transport uses it for its fallback mode, where the
// backend is sent "audio/webm;codecs=opus" instead of raw linear PCM.
package opuswebm

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/at-wat/ebml-go/webm"
	"layeh.com/gopus"

	"github.com/MrWong99/meetcaption/pkg/audio"
)

const (
	frameDurationMs = 20
	// maxPacketBytes is the recommended upper bound for a single Opus packet.
	maxPacketBytes = 4000
	// trackUID is arbitrary but must be non-zero.
	trackUID = 0x6d63
)

// opusRates lists the input rates libopus accepts, highest first.
var opusRates = []int{48000, 24000, 16000, 12000, 8000}

// EncoderRate returns the highest Opus-legal sample rate that does not exceed
// captureRate, so the capture stream can be brought to it with the
// decimating resampler. Rates below 8 kHz return 0.
func EncoderRate(captureRate int) int {
	for _, r := range opusRates {
		if r <= captureRate {
			return r
		}
	}
	return 0
}

// Encoder converts interleaved float samples into 20 ms Opus frames and writes
// them as WebM SimpleBlocks to the underlying writer.
//
// All methods are safe for concurrent use.
type Encoder struct {
	mu        sync.Mutex
	enc       *gopus.Encoder
	block     webm.BlockWriteCloser
	rate      int
	channels  int
	frameSize int // samples per channel per frame
	pending   []int16
	timestamp int64 // ms
	closed    bool
}

// NewEncoder creates an Encoder at sampleRate Hz with the given channel count
// and immediately writes the WebM header to w. w is closed by [Encoder.Close].
func NewEncoder(w io.WriteCloser, sampleRate, channels int) (*Encoder, error) {
	if EncoderRate(sampleRate) != sampleRate {
		return nil, fmt.Errorf("opuswebm: unsupported sample rate %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("opuswebm: unsupported channel count %d", channels)
	}

	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opuswebm: create opus encoder: %w", err)
	}

	ws, err := webm.NewSimpleBlockWriter(w, []webm.TrackEntry{{
		Name:            "Audio",
		TrackNumber:     1,
		TrackUID:        trackUID,
		CodecID:         "A_OPUS",
		TrackType:       2,
		DefaultDuration: frameDurationMs * 1000 * 1000,
		Audio: &webm.Audio{
			SamplingFrequency: float64(sampleRate),
			Channels:          uint64(channels),
		},
	}})
	if err != nil {
		return nil, fmt.Errorf("opuswebm: create webm writer: %w", err)
	}

	return &Encoder{
		enc:       enc,
		block:     ws[0],
		rate:      sampleRate,
		channels:  channels,
		frameSize: sampleRate * frameDurationMs / 1000,
	}, nil
}

// SampleRate returns the rate Write expects its samples at.
func (e *Encoder) SampleRate() int { return e.rate }

// Write appends interleaved samples and encodes every complete 20 ms frame.
// Samples that do not fill a frame stay buffered for the next call.
func (e *Encoder) Write(samples []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("opuswebm: write on closed encoder")
	}

	e.pending = append(e.pending, audio.FloatToInt16s(samples)...)
	frameSamples := e.frameSize * e.channels
	for len(e.pending) >= frameSamples {
		packet, err := e.enc.Encode(e.pending[:frameSamples], e.frameSize, maxPacketBytes)
		if err != nil {
			return fmt.Errorf("opuswebm: opus encode: %w", err)
		}
		if _, err := e.block.Write(true, e.timestamp, packet); err != nil {
			return fmt.Errorf("opuswebm: write block: %w", err)
		}
		e.timestamp += frameDurationMs
		e.pending = e.pending[frameSamples:]
	}
	return nil
}

// Close discards any partial frame and closes the WebM stream and the
// underlying writer. Safe to call more than once.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.pending = nil
	if err := e.block.Close(); err != nil {
		return fmt.Errorf("opuswebm: close: %w", err)
	}
	return nil
}
