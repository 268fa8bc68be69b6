package stt_test

import (
	"testing"
	"time"

	"github.com/MrWong99/meetcaption/pkg/provider/stt"
)

func TestParseMessage_Results(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"speech_final": true,
		"start": 1.5,
		"duration": 0.75,
		"channel": {"alternatives": [{
			"transcript": "hola world",
			"confidence": 0.93,
			"languages": ["es", "en"],
			"words": [
				{"word": "hola", "punctuated_word": "Hola", "start": 1.5, "end": 1.8, "confidence": 0.9, "speaker": 0, "language": "es"},
				{"word": "world", "start": 1.9, "end": 2.2, "confidence": 0.95, "language": "en"}
			]
		}]}
	}`)

	msg := stt.ParseMessage(raw)
	res, ok := msg.(*stt.Results)
	if !ok {
		t.Fatalf("got %T, want *stt.Results", msg)
	}
	if res.Text != "hola world" || !res.IsFinal || !res.SpeechFinal {
		t.Errorf("unexpected event: %+v", res.RecognitionEvent)
	}
	if res.Start != 1500*time.Millisecond || res.Duration != 750*time.Millisecond {
		t.Errorf("timing: start %v, duration %v", res.Start, res.Duration)
	}
	if len(res.Languages) != 2 || res.Languages[0] != "es" {
		t.Errorf("languages: got %v", res.Languages)
	}
	if len(res.Words) != 2 {
		t.Fatalf("words: got %d, want 2", len(res.Words))
	}
	if res.Words[0].Speaker == nil || *res.Words[0].Speaker != 0 {
		t.Errorf("word 0 speaker: got %v, want 0", res.Words[0].Speaker)
	}
	if res.Words[1].Speaker != nil {
		t.Errorf("word 1 speaker: got %d, want nil", *res.Words[1].Speaker)
	}
	if res.Words[0].Display() != "Hola" || res.Words[1].Display() != "world" {
		t.Errorf("display: %q %q", res.Words[0].Display(), res.Words[1].Display())
	}
}

func TestParseMessage_ResultsWithoutAlternatives(t *testing.T) {
	t.Parallel()

	msg := stt.ParseMessage([]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[]}}`))
	res, ok := msg.(*stt.Results)
	if !ok {
		t.Fatalf("got %T, want *stt.Results", msg)
	}
	if res.Text != "" || len(res.Words) != 0 {
		t.Errorf("expected empty event, got %+v", res.RecognitionEvent)
	}
}

func TestParseMessage_Variants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "speech started", raw: `{"type":"SpeechStarted","timestamp":0.5}`, want: "*stt.SpeechStarted"},
		{name: "utterance end", raw: `{"type":"UtteranceEnd","last_word_end":2.1}`, want: "*stt.UtteranceEnd"},
		{name: "metadata", raw: `{"type":"Metadata","request_id":"abc","duration":12.5}`, want: "*stt.Metadata"},
		{name: "error", raw: `{"type":"Error","description":"bad audio"}`, want: "*stt.ErrorMessage"},
		{name: "error lowercase substring", raw: `{"type":"stream_error"}`, want: "*stt.ErrorMessage"},
		{name: "error uppercase", raw: `{"type":"FATAL_ERROR","message":"quota"}`, want: "*stt.ErrorMessage"},
		{name: "unknown", raw: `{"type":"Warning"}`, want: "*stt.Unknown"},
		{name: "malformed", raw: `{"type":`, want: "*stt.Malformed"},
		{name: "not an object", raw: `[1,2,3]`, want: "*stt.Malformed"},
		{name: "wrong field type", raw: `{"type":"Results","is_final":"yes"}`, want: "*stt.Malformed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg := stt.ParseMessage([]byte(tc.raw))
			var got string
			switch msg.(type) {
			case *stt.Results:
				got = "*stt.Results"
			case *stt.SpeechStarted:
				got = "*stt.SpeechStarted"
			case *stt.UtteranceEnd:
				got = "*stt.UtteranceEnd"
			case *stt.Metadata:
				got = "*stt.Metadata"
			case *stt.ErrorMessage:
				got = "*stt.ErrorMessage"
			case *stt.Unknown:
				got = "*stt.Unknown"
			case *stt.Malformed:
				got = "*stt.Malformed"
			}
			if got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestErrorMessage_Text(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  stt.ErrorMessage
		want string
	}{
		{stt.ErrorMessage{Kind: "Error", Description: "d", Message: "m"}, "d"},
		{stt.ErrorMessage{Kind: "Error", Message: "m"}, "m"},
		{stt.ErrorMessage{Kind: "Error"}, "Error"},
	}
	for _, tc := range tests {
		if got := tc.msg.Text(); got != tc.want {
			t.Errorf("Text() = %q, want %q", got, tc.want)
		}
	}
}

func TestState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s         stt.State
		name      string
		accepting bool
	}{
		{stt.StateClosed, "CLOSED", false},
		{stt.StateConnecting, "CONNECTING", false},
		{stt.StateOpen, "OPEN", true},
		{stt.StateFallbackOpen, "FALLBACK_OPEN", true},
		{stt.State(42), "UNKNOWN", false},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.name {
			t.Errorf("String() = %q, want %q", got, tc.name)
		}
		if got := tc.s.Accepting(); got != tc.accepting {
			t.Errorf("%s.Accepting() = %v, want %v", tc.name, got, tc.accepting)
		}
	}
}
