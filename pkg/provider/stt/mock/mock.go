// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller connects sessions with the expected
// StreamConfig. Use Session to script connection state, feed controlled
// Message values and inspect which audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(&stt.Results{RecognitionEvent: stt.RecognitionEvent{Text: "hi", IsFinal: true}})
//	sess.SetState(stt.StateFallbackOpen, stt.EncodingOpus)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/meetcaption/pkg/provider/stt"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the StreamConfig passed to Connect.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new open Session.
	Session stt.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
	// State is the session state at the time of the call.
	State stt.State
	// Encoding is the session encoding at the time of the call.
	Encoding stt.Encoding
	// Accepted reports whether the chunk was accepted.
	Accepted bool
}

// Session is a mock implementation of stt.SessionHandle. It starts in
// [stt.StateOpen] with [stt.EncodingPCM]. SendAudio follows the real
// contract: chunks are accepted only in an accepting state.
type Session struct {
	mu sync.Mutex

	state    stt.State
	encoding stt.Encoding
	msgs     chan stt.Message
	closed   bool
	reject   int

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns an open mock session with a buffered message channel.
func NewSession() *Session {
	return &Session{
		state:    stt.StateOpen,
		encoding: stt.EncodingPCM,
		msgs:     make(chan stt.Message, 64),
	}
}

// SendAudio records the call and reports whether the current state accepts
// audio.
func (s *Session) SendAudio(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	accepted := s.state.Accepting() && s.reject == 0
	if s.reject > 0 {
		s.reject--
	}
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{
		Chunk:    cp,
		State:    s.state,
		Encoding: s.encoding,
		Accepted: accepted,
	})
	return accepted
}

// RejectSends makes the next n SendAudio calls report the chunk as dropped,
// as a transport with a full send queue would.
func (s *Session) RejectSends(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = n
}

// Messages returns the scripted message channel.
func (s *Session) Messages() <-chan stt.Message { return s.msgs }

// State returns the scripted state.
func (s *Session) State() stt.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Encoding returns the scripted encoding.
func (s *Session) Encoding() stt.Encoding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoding
}

// SetState changes the scripted state and encoding, e.g. to simulate a
// fallback transition.
func (s *Session) SetState(state stt.State, enc stt.Encoding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.encoding = enc
}

// Emit delivers msg to the consumer. It is a no-op after the message stream
// has ended.
func (s *Session) Emit(msg stt.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.msgs <- msg
}

// Terminate simulates a terminal transport close: the state becomes CLOSED
// and the message stream ends.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stt.StateClosed
	if !s.closed {
		s.closed = true
		close(s.msgs)
	}
}

// Chunks returns copies of the accepted chunks in send order. Thread-safe.
func (s *Session) Chunks() []SendAudioCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SendAudioCall
	for _, c := range s.SendAudioCalls {
		if c.Accepted {
			out = append(out, c)
		}
	}
	return out
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// CloseCount returns the number of Close calls. Thread-safe.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Close records the call, ends the message stream and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.state = stt.StateClosed
	if !s.closed {
		s.closed = true
		close(s.msgs)
	}
	return s.CloseErr
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
