package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/meetcaption/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, sampleYAML)

	d := config.Diff(a, b)
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_HotReloadableFields(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, sampleYAML)
	b.Server.LogLevel = config.LogWarn
	b.Translation.TargetLanguage = "ja"
	b.Grouping.MaxGap = 6 * time.Second

	d := config.Diff(a, b)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff = %v/%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.TargetLanguageChanged || d.NewTargetLanguage != "ja" {
		t.Errorf("target language diff = %v/%q", d.TargetLanguageChanged, d.NewTargetLanguage)
	}
	if !d.GroupingChanged || d.NewGrouping.MaxGap != 6*time.Second {
		t.Errorf("grouping diff = %v/%+v", d.GroupingChanged, d.NewGrouping)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, sampleYAML)
	b.Server.AllowedOrigins = append(b.Server.AllowedOrigins, "chrome-extension://other")
	b.Recognition.Options = map[string]any{"language": "en", "endpointing_ms": 100, "keepalive_interval_ms": 5000}
	b.Translation.Fallbacks = nil
	b.Capture.Monitor = false
	b.Settings.PostgresDSN = ""

	d := config.Diff(a, b)
	want := []string{"server", "recognition", "translation", "capture", "settings"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.LogLevelChanged || d.TargetLanguageChanged || d.GroupingChanged {
		t.Errorf("unexpected hot-reload changes: %+v", d)
	}
}

func TestDiff_TLSToggle(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, sampleYAML)
	b.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}

	if d := config.Diff(a, b); !slices.Contains(d.RestartRequired, "server") {
		t.Errorf("enabling TLS should require a restart, got %v", d.RestartRequired)
	}
}
