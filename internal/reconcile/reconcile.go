// Package reconcile turns raw recognition events into attributed utterances.
//
// A single [stt.RecognitionEvent] carries word-level diarization and language
// tags that frequently disagree with each other. [Reconcile] collapses them
// into one dominant speaker and one dominant language per utterance, and
// [Grouper] decides how consecutive utterances are merged for display.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/meetcaption/pkg/provider/stt"
)

// UnresolvedSpeaker is the SpeakerID reported when no word carried a
// diarization tag.
const UnresolvedSpeaker = -1

// UtteranceRecord is the reconciled form of one recognition event. It is
// immutable once returned: interim records are superseded by later records,
// never modified.
type UtteranceRecord struct {
	// Text is the trimmed transcript text. Never empty.
	Text string

	// Speaker is the display label, e.g. "Speaker 0", or "" when unresolved.
	Speaker string

	// SpeakerID is the numeric diarization tag, or [UnresolvedSpeaker].
	SpeakerID int

	// DominantLanguage is the resolved language tag, or "" when the backend
	// reported none.
	DominantLanguage string

	// DetectedLanguages lists every language seen in the event, most
	// prominent first.
	DetectedLanguages []string

	// Words is a copy of the event's word detail.
	Words []stt.Word

	// Start is the offset of the span from the start of the stream.
	Start time.Duration

	// Timestamp is the wall-clock time the event was reconciled.
	Timestamp time.Time

	// IsFinal mirrors the event's finality flag.
	IsFinal bool
}

// Reconcile resolves ev into an [UtteranceRecord]. It returns false when the
// event carries no transcript text.
//
// The speaker is the most frequent word-level speaker tag. The dominant
// language starts as the first entry of the event's language list and is
// replaced by the most frequent word-level language tag when words carry
// one. Ties go to the tag encountered first.
func Reconcile(ev stt.RecognitionEvent, at time.Time) (UtteranceRecord, bool) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return UtteranceRecord{}, false
	}

	rec := UtteranceRecord{
		Text:      text,
		SpeakerID: UnresolvedSpeaker,
		Start:     ev.Start,
		Timestamp: at,
		IsFinal:   ev.IsFinal,
	}
	if len(ev.Words) > 0 {
		rec.Words = make([]stt.Word, len(ev.Words))
		copy(rec.Words, ev.Words)
	}

	if id, ok := dominantSpeaker(ev.Words); ok {
		rec.SpeakerID = id
		rec.Speaker = SpeakerLabel(id)
	}

	if len(ev.Languages) > 0 {
		rec.DominantLanguage = ev.Languages[0]
	}
	wordLangs := wordLanguages(ev.Words)
	if lang, ok := majority(wordLangs); ok {
		rec.DominantLanguage = lang
	}

	switch {
	case len(ev.Languages) > 0:
		rec.DetectedLanguages = append([]string(nil), ev.Languages...)
	case len(wordLangs) > 0:
		rec.DetectedLanguages = distinct(wordLangs)
	}
	return rec, true
}

// SpeakerLabel formats a diarization tag for display.
func SpeakerLabel(id int) string {
	return fmt.Sprintf("Speaker %d", id)
}

func dominantSpeaker(words []stt.Word) (int, bool) {
	tags := make([]int, 0, len(words))
	for _, w := range words {
		if w.Speaker != nil {
			tags = append(tags, *w.Speaker)
		}
	}
	return majority(tags)
}

func wordLanguages(words []stt.Word) []string {
	var langs []string
	for _, w := range words {
		if w.Language != "" {
			langs = append(langs, w.Language)
		}
	}
	return langs
}

// majority returns the most frequent key. A later key only wins with a
// strictly higher count, so ties resolve to the first key encountered.
func majority[K comparable](keys []K) (K, bool) {
	var best K
	if len(keys) == 0 {
		return best, false
	}
	counts := make(map[K]int, len(keys))
	order := make([]K, 0, len(keys))
	for _, k := range keys {
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	bestCount := 0
	for _, k := range order {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best, true
}

func distinct(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
