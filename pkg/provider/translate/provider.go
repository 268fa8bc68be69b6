// Package translate defines the Provider interface for text translation
// backends used to translate finalised utterances for the overlay.
//
// Implementations must be safe for concurrent use.
package translate

import (
	"context"
	"fmt"
	"strings"
)

// Request is a single translation request.
type Request struct {
	// Text is the source text.
	Text string

	// SourceLanguage is the BCP-47 tag of Text, or "" if unknown.
	SourceLanguage string

	// TargetLanguage is the BCP-47 tag to translate into. Required.
	TargetLanguage string
}

// Provider is the abstraction over any translation backend.
type Provider interface {
	// Translate returns the translation of req.Text into req.TargetLanguage.
	Translate(ctx context.Context, req Request) (string, error)
}

// SystemPrompt returns the instruction given to chat-model backends for req.
func SystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You translate live meeting captions. ")
	if req.SourceLanguage != "" {
		fmt.Fprintf(&b, "The source language is %q. ", req.SourceLanguage)
	}
	fmt.Fprintf(&b, "Translate the user's message into the language with tag %q. ", req.TargetLanguage)
	b.WriteString("Reply with the translation only, without quotes, notes or explanations.")
	return b.String()
}

// SameLanguage reports whether two language tags share a primary subtag,
// e.g. "en" and "en-US". Empty tags never match.
func SameLanguage(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(primary(a), primary(b))
}

func primary(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return tag[:i]
	}
	return tag
}

// Clean trims whitespace and a single pair of surrounding quotes that chat
// models sometimes add despite instructions.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

// Validate checks that req can be sent to a backend.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("translate: text must not be empty")
	}
	if r.TargetLanguage == "" {
		return fmt.Errorf("translate: target language must not be empty")
	}
	return nil
}
