package stt

import (
	"encoding/json"
	"strings"
	"time"
)

// Message is an inbound message from the recognition backend. It is a closed
// sum type; the concrete types are [*Results], [*SpeechStarted],
// [*UtteranceEnd], [*Metadata], [*ErrorMessage], [*Unknown] and [*Malformed].
// Use a type switch to dispatch.
type Message interface {
	// Type returns the backend's type discriminator, or "" for [*Malformed].
	Type() string
	message()
}

// Results carries a recognition result.
type Results struct {
	RecognitionEvent
}

// SpeechStarted signals that voice activity was detected.
type SpeechStarted struct {
	Timestamp time.Duration
}

// UtteranceEnd signals a gap in speech after the last finalised word.
type UtteranceEnd struct {
	LastWordEnd time.Duration
}

// Metadata carries stream metadata, typically sent once when the stream ends.
type Metadata struct {
	RequestID string
	Duration  time.Duration
}

// ErrorMessage is a diagnostic message. Any type discriminator containing
// "error" (case-insensitive) parses to this variant. It does not by itself
// terminate the session.
type ErrorMessage struct {
	Kind        string
	Description string
	Message     string
}

// Text returns the most descriptive human-readable form of the diagnostic.
func (e *ErrorMessage) Text() string {
	switch {
	case e.Description != "":
		return e.Description
	case e.Message != "":
		return e.Message
	default:
		return e.Kind
	}
}

// Unknown is a well-formed message with an unrecognised type.
type Unknown struct {
	Kind string
	Raw  []byte
}

// Malformed is a payload that could not be decoded.
type Malformed struct {
	Raw []byte
	Err error
}

func (*Results) Type() string        { return "Results" }
func (*SpeechStarted) Type() string  { return "SpeechStarted" }
func (*UtteranceEnd) Type() string   { return "UtteranceEnd" }
func (*Metadata) Type() string       { return "Metadata" }
func (e *ErrorMessage) Type() string { return e.Kind }
func (u *Unknown) Type() string      { return u.Kind }
func (*Malformed) Type() string      { return "" }

func (*Results) message()       {}
func (*SpeechStarted) message() {}
func (*UtteranceEnd) message()  {}
func (*Metadata) message()      {}
func (*ErrorMessage) message()  {}
func (*Unknown) message()       {}
func (*Malformed) message()     {}

// ---- wire format ----

type envelope struct {
	Type string `json:"type"`
}

type wireResults struct {
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string   `json:"transcript"`
			Confidence float64  `json:"confidence"`
			Languages  []string `json:"languages"`
			Words      []struct {
				Word           string  `json:"word"`
				PunctuatedWord string  `json:"punctuated_word"`
				Start          float64 `json:"start"`
				End            float64 `json:"end"`
				Confidence     float64 `json:"confidence"`
				Speaker        *int    `json:"speaker"`
				Language       string  `json:"language"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type wireError struct {
	Description string `json:"description"`
	Message     string `json:"message"`
}

// ParseMessage decodes a raw inbound payload. It never fails: undecodable
// payloads yield [*Malformed] and unrecognised types yield [*Unknown].
func ParseMessage(data []byte) Message {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &Malformed{Raw: data, Err: err}
	}

	if strings.Contains(strings.ToLower(env.Type), "error") {
		var w wireError
		if err := json.Unmarshal(data, &w); err != nil {
			return &Malformed{Raw: data, Err: err}
		}
		return &ErrorMessage{Kind: env.Type, Description: w.Description, Message: w.Message}
	}

	switch env.Type {
	case "Results":
		var w wireResults
		if err := json.Unmarshal(data, &w); err != nil {
			return &Malformed{Raw: data, Err: err}
		}
		return &Results{RecognitionEvent: w.event()}
	case "SpeechStarted":
		var w struct {
			Timestamp float64 `json:"timestamp"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return &Malformed{Raw: data, Err: err}
		}
		return &SpeechStarted{Timestamp: seconds(w.Timestamp)}
	case "UtteranceEnd":
		var w struct {
			LastWordEnd float64 `json:"last_word_end"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return &Malformed{Raw: data, Err: err}
		}
		return &UtteranceEnd{LastWordEnd: seconds(w.LastWordEnd)}
	case "Metadata":
		var w struct {
			RequestID string  `json:"request_id"`
			Duration  float64 `json:"duration"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return &Malformed{Raw: data, Err: err}
		}
		return &Metadata{RequestID: w.RequestID, Duration: seconds(w.Duration)}
	default:
		return &Unknown{Kind: env.Type, Raw: data}
	}
}

func (w *wireResults) event() RecognitionEvent {
	ev := RecognitionEvent{
		IsFinal:     w.IsFinal,
		SpeechFinal: w.SpeechFinal,
		Start:       seconds(w.Start),
		Duration:    seconds(w.Duration),
	}
	if len(w.Channel.Alternatives) == 0 {
		return ev
	}

	alt := w.Channel.Alternatives[0]
	ev.Text = alt.Transcript
	ev.Confidence = alt.Confidence
	ev.Languages = alt.Languages
	if len(alt.Words) > 0 {
		ev.Words = make([]Word, 0, len(alt.Words))
	}
	for _, wd := range alt.Words {
		ev.Words = append(ev.Words, Word{
			Word:           wd.Word,
			PunctuatedWord: wd.PunctuatedWord,
			Start:          seconds(wd.Start),
			End:            seconds(wd.End),
			Confidence:     wd.Confidence,
			Speaker:        wd.Speaker,
			Language:       wd.Language,
		})
	}
	return ev
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
