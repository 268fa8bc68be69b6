package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/meetcaption/internal/observe"
	"github.com/MrWong99/meetcaption/internal/reconcile"
	"github.com/MrWong99/meetcaption/pkg/audio"
	"github.com/MrWong99/meetcaption/pkg/audio/opuswebm"
	"github.com/MrWong99/meetcaption/pkg/provider/stt"
)

// Session is one capture lifecycle. It owns exactly one track, one handoff,
// one framer and one transport, and releases them together.
type Session struct {
	// ID uniquely identifies the session in logs.
	ID string

	// StreamID is the source the track was acquired from.
	StreamID string

	// Started is when the session was created.
	Started time.Time

	track     audio.Track
	format    audio.Format
	transport stt.SessionHandle
	handoff   *audio.Handoff
	sink      Sink
	metrics   *observe.Metrics
	log       *slog.Logger

	// Owned by the pump goroutine.
	framer    *audio.Framer
	encoder   *opuswebm.Encoder
	lastState stt.State
	warned    map[string]bool

	trackStarted bool
	pumpDone     chan struct{}
	eventsDone   chan struct{}
	releaseOnce  sync.Once
}

func newSession(streamID string, track audio.Track, sink Sink, metrics *observe.Metrics, depth int) *Session {
	id := uuid.NewString()
	return &Session{
		ID:       id,
		StreamID: streamID,
		Started:  time.Now(),
		track:    track,
		format:   track.Format(),
		handoff:  audio.NewHandoff(depth),
		framer:   audio.NewFramer(audio.ChunkBytes),
		sink:     sink,
		metrics:  metrics,
		log:      slog.With("session_id", id),
		warned:   make(map[string]bool),
	}
}

// Format returns the native format of the captured track.
func (s *Session) Format() audio.Format { return s.format }

// Transport returns the recognition session.
func (s *Session) Transport() stt.SessionHandle { return s.transport }

// Dropped returns the number of capture blocks dropped by the handoff.
func (s *Session) Dropped() int64 { return s.handoff.Dropped() }

// start starts the track, then launches the pump and event goroutines. The
// track's realtime callback only copies into the handoff; blocks delivered
// before the pump runs wait in the handoff.
func (s *Session) start(monitor bool) error {
	format := s.format
	if err := s.track.Start(func(samples []float32) {
		s.handoff.Push(samples, format)
	}, monitor); err != nil {
		return err
	}
	s.trackStarted = true

	s.pumpDone = make(chan struct{})
	s.eventsDone = make(chan struct{})
	go s.pump()
	go s.events()
	return nil
}

// ─── Pump ─────────────────────────────────────────────────────────────────────

// pump is the single consumer of the handoff. It routes each block by the
// transport's current state.
func (s *Session) pump() {
	defer close(s.pumpDone)
	for frame := range s.handoff.C() {
		s.route(frame)
	}
}

func (s *Session) route(f audio.Frame) {
	state := s.transport.State()
	if state != s.lastState {
		if s.lastState == stt.StateOpen && s.framer.Pending() > 0 {
			s.log.Debug("capture: discarding partial chunk on transport change",
				"bytes", s.framer.Pending(), "state", state.String(), "at", f.Timestamp)
		}
		s.framer.Reset()
		s.lastState = state
	}

	mono := audio.Downmix(f.Samples, f.Channels)
	switch state {
	case stt.StateOpen:
		s.sendPCM(mono, f.SampleRate)
	case stt.StateFallbackOpen:
		s.sendOpus(mono, f.SampleRate)
	default:
		// Not connected: audio is dropped, never buffered.
	}
}

func (s *Session) sendPCM(mono []float32, rate int) {
	resampled, err := audio.Resample(mono, rate, audio.TargetSampleRate)
	if err != nil {
		s.warnOnce("pcm", "capture: cannot convert block for linear16", "rate", rate, "err", err)
		return
	}
	for _, chunk := range s.framer.Push(audio.FloatToPCM16(resampled)) {
		s.transport.SendAudio(chunk)
	}
}

func (s *Session) sendOpus(mono []float32, rate int) {
	if s.encoder == nil {
		encRate := opuswebm.EncoderRate(rate)
		if encRate == 0 {
			s.warnOnce("opus", "capture: capture rate too low for opus", "rate", rate)
			return
		}
		w := &sendWriter{transport: s.transport}
		enc, err := opuswebm.NewEncoder(w, encRate, 1)
		if err != nil {
			s.warnOnce("opus", "capture: create opus encoder", "err", err)
			return
		}
		if err := w.flushHeader(); err != nil {
			// Without its header the WebM stream is unreadable; start over
			// on the next block.
			_ = enc.Close()
			s.log.Debug("capture: opus header not delivered, retrying", "err", err)
			return
		}
		s.encoder = enc
		s.log.Info("capture: switched to opus/webm", "capture_rate", rate, "encoder_rate", encRate)
	}
	resampled, err := audio.Resample(mono, rate, s.encoder.SampleRate())
	if err != nil {
		s.warnOnce("opus-resample", "capture: cannot convert block for opus", "err", err)
		return
	}
	if err := s.encoder.Write(resampled); err != nil {
		s.warnOnce("opus-write", "capture: opus encode failed", "err", err)
	}
}

func (s *Session) warnOnce(key, msg string, args ...any) {
	if s.warned[key] {
		return
	}
	s.warned[key] = true
	s.log.Warn(msg, args...)
}

var errHeaderDropped = errors.New("capture: transport dropped the webm header")

// sendWriter feeds muxed WebM bytes to the transport. The header written
// while the encoder is constructed is held back and sent as a single chunk by
// flushHeader; everything after that goes straight through. Closing it leaves
// the transport open.
type sendWriter struct {
	transport stt.SessionHandle

	mu      sync.Mutex
	header  []byte
	flushed bool
}

func (w *sendWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if !w.flushed {
		w.header = append(w.header, p...)
		w.mu.Unlock()
		return len(p), nil
	}
	w.mu.Unlock()
	w.transport.SendAudio(p)
	return len(p), nil
}

func (w *sendWriter) flushHeader() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.transport.SendAudio(w.header) {
		return errHeaderDropped
	}
	w.flushed = true
	w.header = nil
	return nil
}

func (*sendWriter) Close() error { return nil }

// ─── Events ───────────────────────────────────────────────────────────────────

// events consumes the transport's messages in arrival order until the
// message stream ends.
func (s *Session) events() {
	defer close(s.eventsDone)
	for msg := range s.transport.Messages() {
		switch m := msg.(type) {
		case *stt.Results:
			rec, ok := reconcile.Reconcile(m.RecognitionEvent, time.Now())
			if !ok {
				continue
			}
			s.metrics.RecordUtterance(context.Background(), rec.IsFinal, rec.SpeakerID != reconcile.UnresolvedSpeaker)
			s.sink.Transcript(rec)
		case *stt.ErrorMessage:
			// The transport already reported it as a status.
			s.log.Debug("capture: recognition error", "type", m.Kind, "text", m.Text())
		case *stt.SpeechStarted:
			s.log.Debug("capture: speech started", "at", m.Timestamp)
		case *stt.UtteranceEnd:
			s.log.Debug("capture: utterance end", "last_word_end", m.LastWordEnd)
		case *stt.Metadata:
			s.log.Debug("capture: recognition metadata", "request_id", m.RequestID)
		default:
			s.log.Debug("capture: ignoring message", "type", msg.Type())
		}
	}
	s.sink.Status(StatusTranscriptDone)
}

// ─── Teardown ─────────────────────────────────────────────────────────────────

// release runs every teardown step exactly once. A failing or panicking step
// is logged and does not prevent the remaining steps.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.trackStarted {
			s.step("track stop", s.track.Stop)
		}
		s.step("track close", s.track.Close)
		s.step("handoff close", func() error {
			s.handoff.Close()
			if s.pumpDone == nil {
				// No pump ever ran; discard what the callback queued.
				audio.Drain(s.handoff.C())
			}
			return nil
		})
		if s.pumpDone != nil {
			s.step("pump wait", func() error {
				<-s.pumpDone
				return nil
			})
		}
		if s.encoder != nil {
			s.step("encoder close", s.encoder.Close)
		}
		if s.transport != nil {
			s.step("transport close", s.transport.Close)
		}
		if s.eventsDone != nil {
			s.step("events wait", func() error {
				<-s.eventsDone
				return nil
			})
		}
		if n := s.handoff.Dropped(); n > 0 {
			s.metrics.HandoffDrops.Add(context.Background(), n)
			s.log.Warn("capture: handoff dropped blocks", "count", n)
		}
	})
}

func (s *Session) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("capture: release step panicked", "step", name, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("capture: release step failed", "step", name, "err", err)
	}
}
