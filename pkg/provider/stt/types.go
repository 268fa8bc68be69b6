package stt

import "time"

// State is the connection state of a recognition session.
type State int

const (
	// StateClosed means no connection exists. It is both the initial and the
	// terminal state.
	StateClosed State = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateOpen means the primary (linear PCM) connection is established.
	StateOpen

	// StateFallbackOpen means the fallback (Opus in WebM) connection is
	// established.
	StateFallbackOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateFallbackOpen:
		return "FALLBACK_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Accepting reports whether audio may be sent in this state.
func (s State) Accepting() bool {
	return s == StateOpen || s == StateFallbackOpen
}

// Encoding is the wire encoding of the audio sent over a session.
type Encoding string

const (
	// EncodingPCM is 16 kHz mono little-endian int16 PCM.
	EncodingPCM Encoding = "linear16"

	// EncodingOpus is Opus packets in a WebM container.
	EncodingOpus Encoding = "opus"
)

// RecognitionEvent is one result message from the recognition backend.
// Interim events (IsFinal == false) may be superseded by later events
// covering the same audio.
type RecognitionEvent struct {
	// Text is the transcript of the best alternative.
	Text string

	// IsFinal indicates the backend will not revise this span again.
	IsFinal bool

	// SpeechFinal indicates the backend detected an endpoint after this span.
	SpeechFinal bool

	// Start is the offset of the span from the start of the stream.
	Start time.Duration

	// Duration is the length of the span.
	Duration time.Duration

	// Confidence is the overall confidence score (0.0–1.0).
	Confidence float64

	// Words holds per-word detail. May be empty.
	Words []Word

	// Languages is the backend's ordered list of languages detected in this
	// span, most prominent first. May be empty.
	Languages []string
}

// Word holds per-word metadata from the recognition backend.
type Word struct {
	Word           string
	PunctuatedWord string
	Start          time.Duration
	End            time.Duration
	Confidence     float64

	// Speaker is the diarization tag, or nil when diarization did not tag
	// this word.
	Speaker *int

	// Language is the detected language tag for this word, or "" when absent.
	Language string
}

// Display returns the punctuated form of the word when present.
func (w Word) Display() string {
	if w.PunctuatedWord != "" {
		return w.PunctuatedWord
	}
	return w.Word
}
