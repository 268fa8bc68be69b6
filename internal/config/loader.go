package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"recognition": {"deepgram"},
	"translation": {
		"openai",
		"anyllm:openai", "anyllm:anthropic", "anyllm:gemini", "anyllm:ollama", "anyllm:deepseek",
		"anyllm:mistral", "anyllm:groq", "anyllm:llamacpp", "anyllm:llamafile",
	},
	"capture": {"portaudio"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.BridgeQueueDepth < 0 {
		errs = append(errs, fmt.Errorf("server.bridge_queue_depth %d must not be negative", cfg.Server.BridgeQueueDepth))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Recognition
	validateProviderName("recognition", cfg.Recognition.Name)
	for i, fb := range cfg.Recognition.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("recognition.fallbacks[%d].name is required", i))
		}
		validateProviderName("recognition", fb.Name)
	}
	for _, key := range []string{"endpointing_ms", "keepalive_interval_ms"} {
		if v, ok := cfg.Recognition.Options[key]; ok {
			if n, ok := v.(int); !ok || n < 0 {
				errs = append(errs, fmt.Errorf("recognition.options.%s must be a non-negative integer, got %v", key, v))
			}
		}
	}

	// Translation
	tr := cfg.Translation
	validateProviderName("translation", tr.Primary.Name)
	if tr.Primary.Name == "" && len(tr.Fallbacks) > 0 {
		errs = append(errs, errors.New("translation.fallbacks requires translation.primary"))
	}
	for i, fb := range tr.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("translation.fallbacks[%d].name is required", i))
		}
		validateProviderName("translation", fb.Name)
	}
	if tr.Timeout < 0 {
		errs = append(errs, fmt.Errorf("translation.timeout %s must not be negative", tr.Timeout))
	}
	if strings.ContainsAny(tr.TargetLanguage, " \t") {
		errs = append(errs, fmt.Errorf("translation.target_language %q is not a language tag", tr.TargetLanguage))
	}
	if tr.Primary.Name != "" && tr.TargetLanguage == "" {
		slog.Warn("translation.primary is configured but translation.target_language is empty; translation stays idle until a target_language setting is stored")
	}

	// Capture
	validateProviderName("capture", cfg.Capture.Backend)
	if cfg.Capture.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("capture.frames_per_buffer %d must not be negative", cfg.Capture.FramesPerBuffer))
	}
	if cfg.Capture.HandoffDepth < 0 {
		errs = append(errs, fmt.Errorf("capture.handoff_depth %d must not be negative", cfg.Capture.HandoffDepth))
	}

	// Grouping
	if cfg.Grouping.MaxGap < 0 {
		errs = append(errs, fmt.Errorf("grouping.max_gap %s must not be negative", cfg.Grouping.MaxGap))
	}
	if cfg.Grouping.MaxChars < 0 {
		errs = append(errs, fmt.Errorf("grouping.max_chars %d must not be negative", cfg.Grouping.MaxChars))
	}

	// Settings
	if cfg.Settings.PostgresDSN == "" {
		slog.Debug("settings.postgres_dsn is empty; settings are kept in memory")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
