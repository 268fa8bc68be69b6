// Package stt defines the Provider interface for streaming speech-recognition
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once connected, a session accepts fixed-size audio chunks and
// emits a single ordered stream of typed [Message] values, including interim
// and final recognition results, voice-activity notices and diagnostics.
//
// A session may switch its wire encoding once during its lifetime (see
// [Encoding]). Callers route audio by inspecting [SessionHandle.State] before
// every send: [StateOpen] takes linear PCM, [StateFallbackOpen] takes the
// compressed container stream, and every other state drops audio.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig carries the per-session parameters for a new recognition
// session.
type StreamConfig struct {
	// APIKey is the credential for this session. When empty the provider falls
	// back to its configured key, if any.
	APIKey string

	// OnStatus, when non-nil, receives short human-readable status strings for
	// operator-visible transport events (fallback transitions, terminal
	// closes, backend diagnostics). It is called from the session's internal
	// goroutines and must not block.
	OnStatus func(text string)
}

// SessionHandle represents an open recognition session. It is an interface so
// that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio hands one chunk to the current connection and never blocks.
	// The chunk must match the session's current [Encoding]. If the session
	// is not in [StateOpen] or [StateFallbackOpen], or the connection's send
	// queue is full, the chunk is silently dropped and SendAudio returns
	// false; dropped chunks are never retried.
	SendAudio(chunk []byte) bool

	// Messages returns the ordered stream of inbound messages. Malformed
	// payloads are never delivered. The channel is closed when the session
	// reaches a terminal state or is closed.
	Messages() <-chan Message

	// State returns the current connection state.
	State() State

	// Encoding returns the wire encoding of the current connection.
	Encoding() Encoding

	// Close terminates the session and releases all associated resources,
	// including the keep-alive timer. After Close returns the Messages
	// channel is closed. Calling Close more than once is safe and returns nil.
	// Closing never triggers the encoding fallback.
	Close() error
}

// Provider is the abstraction over any streaming recognition backend.
type Provider interface {
	// Connect opens a new session in the primary encoding. If the primary
	// connection cannot be established and the fallback encoding is available,
	// the provider transparently tries it before returning.
	//
	// Returns an error if no connection could be established (e.g.,
	// authentication failure, or ctx already cancelled). The caller owns the
	// SessionHandle and must call Close when done.
	Connect(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
