package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TargetLanguageChanged bool
	NewTargetLanguage     string

	GroupingChanged bool
	NewGrouping     GroupingConfig

	// RestartRequired lists top-level sections that changed in ways that
	// cannot be applied live.
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.TargetLanguageChanged || d.GroupingChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Translation.TargetLanguage != new.Translation.TargetLanguage {
		d.TargetLanguageChanged = true
		d.NewTargetLanguage = new.Translation.TargetLanguage
	}
	if old.Grouping != new.Grouping {
		d.GroupingChanged = true
		d.NewGrouping = new.Grouping
	}

	if !sameServer(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameRecognition(old.Recognition, new.Recognition) {
		d.RestartRequired = append(d.RestartRequired, "recognition")
	}
	if !sameTranslationProviders(old.Translation, new.Translation) {
		d.RestartRequired = append(d.RestartRequired, "translation")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if old.Settings != new.Settings {
		d.RestartRequired = append(d.RestartRequired, "settings")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

// sameServer compares the restart-only parts of the server section.
func sameServer(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.BridgeQueueDepth != b.BridgeQueueDepth {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) || (a.TLS != nil && *a.TLS != *b.TLS) {
		return false
	}
	return slices.Equal(a.AllowedOrigins, b.AllowedOrigins)
}

func sameRecognition(a, b RecognitionConfig) bool {
	return sameEntry(a.ProviderEntry, b.ProviderEntry) && sameEntries(a.Fallbacks, b.Fallbacks)
}

func sameTranslationProviders(a, b TranslationConfig) bool {
	return a.Timeout == b.Timeout && sameEntry(a.Primary, b.Primary) && sameEntries(a.Fallbacks, b.Fallbacks)
}

func sameEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}

// sameEntry compares two entries. Option values are compared shallowly; the
// YAML decoder only produces scalars, slices and maps, so a formatted
// comparison is exact enough for change detection.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
