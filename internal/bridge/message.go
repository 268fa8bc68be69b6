package bridge

import (
	"encoding/json"
	"time"

	"github.com/MrWong99/meetcaption/internal/reconcile"
	"github.com/MrWong99/meetcaption/pkg/provider/stt"
)

// Inbound type discriminators.
const (
	TypeStart       = "OFFSCREEN_START"
	TypeStop        = "OFFSCREEN_STOP"
	TypeSettingsSet = "SETTINGS_SET"
)

// Outbound type discriminators.
const (
	TypeTranscriptFinal   = "DG_TRANSCRIPT_FINAL"
	TypeTranscriptInterim = "DG_TRANSCRIPT_INTERIM"
	TypeStatus            = "STATUS_UPDATE"
	TypeTranslation       = "TRANSLATION"
	TypeTranscriptGroup   = "TRANSCRIPT_GROUP"
)

// ─── Inbound ─────────────────────────────────────────────────────────────────

// Command is a message received from a collaborator. It is a closed sum type;
// the concrete types are [*Start], [*Stop], [*SettingsSet], [*Unknown] and
// [*Malformed].
type Command interface {
	// Type returns the type discriminator, or "" for [*Malformed].
	Type() string
	command()
}

// Start asks the daemon to begin capturing the given stream.
type Start struct {
	StreamID string
	APIKey   string
}

// Stop asks the daemon to end the current capture.
type Stop struct{}

// SettingsSet persists one settings value.
type SettingsSet struct {
	Key   string
	Value string
}

// Unknown is a well-formed command with an unrecognised type.
type Unknown struct {
	Kind string
	Raw  []byte
}

// Malformed is a payload that could not be decoded.
type Malformed struct {
	Raw []byte
	Err error
}

func (*Start) Type() string       { return TypeStart }
func (*Stop) Type() string        { return TypeStop }
func (*SettingsSet) Type() string { return TypeSettingsSet }
func (u *Unknown) Type() string   { return u.Kind }
func (*Malformed) Type() string   { return "" }

func (*Start) command()       {}
func (*Stop) command()        {}
func (*SettingsSet) command() {}
func (*Unknown) command()     {}
func (*Malformed) command()   {}

type inbound struct {
	Type     string `json:"type"`
	StreamID string `json:"streamId"`
	APIKey   string `json:"apiKey"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

// ParseCommand decodes one inbound payload. It never returns nil.
func ParseCommand(data []byte) Command {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return &Malformed{Raw: data, Err: err}
	}
	switch in.Type {
	case TypeStart:
		return &Start{StreamID: in.StreamID, APIKey: in.APIKey}
	case TypeStop:
		return &Stop{}
	case TypeSettingsSet:
		return &SettingsSet{Key: in.Key, Value: in.Value}
	default:
		return &Unknown{Kind: in.Type, Raw: data}
	}
}

// ─── Outbound ────────────────────────────────────────────────────────────────

// Message is a payload pushed to collaborators.
type Message interface {
	MessageType() string
}

// Word is the wire form of one recognised word. Times are in seconds.
type Word struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuatedWord,omitempty"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	Speaker        *int    `json:"speaker,omitempty"`
	Language       string  `json:"language,omitempty"`
}

// Transcript is a DG_TRANSCRIPT_FINAL or DG_TRANSCRIPT_INTERIM message.
type Transcript struct {
	Type              string    `json:"type"`
	Text              string    `json:"text"`
	Speaker           string    `json:"speaker"`
	SpeakerID         int       `json:"speakerId"`
	Language          string    `json:"language"`
	DetectedLanguages []string  `json:"detectedLanguages"`
	Words             []Word    `json:"words"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewTranscript converts a reconciled utterance to its wire form.
func NewTranscript(rec reconcile.UtteranceRecord) *Transcript {
	typ := TypeTranscriptInterim
	if rec.IsFinal {
		typ = TypeTranscriptFinal
	}
	langs := rec.DetectedLanguages
	if langs == nil {
		langs = []string{}
	}
	return &Transcript{
		Type:              typ,
		Text:              rec.Text,
		Speaker:           rec.Speaker,
		SpeakerID:         rec.SpeakerID,
		Language:          rec.DominantLanguage,
		DetectedLanguages: langs,
		Words:             wireWords(rec.Words),
		Timestamp:         rec.Timestamp,
	}
}

func wireWords(words []stt.Word) []Word {
	out := make([]Word, len(words))
	for i, w := range words {
		out[i] = Word{
			Word:           w.Word,
			PunctuatedWord: w.PunctuatedWord,
			Start:          w.Start.Seconds(),
			End:            w.End.Seconds(),
			Confidence:     w.Confidence,
			Speaker:        w.Speaker,
			Language:       w.Language,
		}
	}
	return out
}

// Status is a STATUS_UPDATE message carrying an operator-visible string.
type Status struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewStatus returns a STATUS_UPDATE message.
func NewStatus(text string) *Status {
	return &Status{Type: TypeStatus, Text: text}
}

// Translation carries the translation of one final utterance.
type Translation struct {
	Type           string `json:"type"`
	Text           string `json:"text"`
	Translation    string `json:"translation"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
	Speaker        string `json:"speaker"`
	GroupID        int    `json:"groupId"`
}

// NewTranslation returns a TRANSLATION message.
func NewTranslation(rec reconcile.UtteranceRecord, groupID int, target, translated string) *Translation {
	return &Translation{
		Type:           TypeTranslation,
		Text:           rec.Text,
		Translation:    translated,
		SourceLanguage: rec.DominantLanguage,
		TargetLanguage: target,
		Speaker:        rec.Speaker,
		GroupID:        groupID,
	}
}

// TranscriptGroup is the current state of one display group.
type TranscriptGroup struct {
	Type     string `json:"type"`
	ID       int    `json:"id"`
	Speaker  string `json:"speaker"`
	Language string `json:"language"`
	Text     string `json:"text"`
	Pending  string `json:"pending"`
}

// NewTranscriptGroup returns a TRANSCRIPT_GROUP message for g.
func NewTranscriptGroup(g reconcile.Group) *TranscriptGroup {
	return &TranscriptGroup{
		Type:     TypeTranscriptGroup,
		ID:       g.ID,
		Speaker:  g.Speaker,
		Language: g.Language,
		Text:     g.Text,
		Pending:  g.Pending,
	}
}

func (t *Transcript) MessageType() string    { return t.Type }
func (*Status) MessageType() string          { return TypeStatus }
func (*Translation) MessageType() string     { return TypeTranslation }
func (*TranscriptGroup) MessageType() string { return TypeTranscriptGroup }
