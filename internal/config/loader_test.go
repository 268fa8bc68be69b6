package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/meetcaption/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		mention string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			mention: "log_level",
		},
		{
			name:    "negative queue depth",
			yaml:    "server:\n  bridge_queue_depth: -1\n",
			mention: "bridge_queue_depth",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			mention: "tls",
		},
		{
			name:    "recognition fallback without name",
			yaml:    "recognition:\n  fallbacks:\n    - api_key: x\n",
			mention: "recognition.fallbacks[0].name",
		},
		{
			name:    "non-integer endpointing",
			yaml:    "recognition:\n  options:\n    endpointing_ms: soon\n",
			mention: "endpointing_ms",
		},
		{
			name:    "translation fallbacks without primary",
			yaml:    "translation:\n  fallbacks:\n    - name: openai\n",
			mention: "translation.primary",
		},
		{
			name:    "negative translation timeout",
			yaml:    "translation:\n  timeout: -2s\n",
			mention: "translation.timeout",
		},
		{
			name:    "target language with spaces",
			yaml:    "translation:\n  target_language: \"en US\"\n",
			mention: "target_language",
		},
		{
			name:    "negative handoff depth",
			yaml:    "capture:\n  handoff_depth: -4\n",
			mention: "handoff_depth",
		},
		{
			name:    "negative max chars",
			yaml:    "grouping:\n  max_chars: -1\n",
			mention: "max_chars",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected a validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error should mention %q, got: %v", tt.mention, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
capture:
  frames_per_buffer: -1
grouping:
  max_gap: -1s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "frames_per_buffer", "max_gap"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderNameIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	yaml := `
recognition:
  name: my-own-recognizer
translation:
  primary:
    name: anyllm:something-new
  target_language: fr
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should not fail validation: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"recognition", "translation", "capture"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}
