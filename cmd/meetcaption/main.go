// Command meetcaption captures local meeting audio, streams it to a speech
// recognizer and serves live captions to browser clients over a WebSocket
// bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetcaption/internal/app"
	"github.com/MrWong99/meetcaption/internal/config"
	"github.com/MrWong99/meetcaption/internal/observe"
	"github.com/MrWong99/meetcaption/internal/resilience"
	"github.com/MrWong99/meetcaption/pkg/audio"
	"github.com/MrWong99/meetcaption/pkg/audio/portaudio"
	"github.com/MrWong99/meetcaption/pkg/provider/stt"
	"github.com/MrWong99/meetcaption/pkg/provider/stt/deepgram"
	"github.com/MrWong99/meetcaption/pkg/provider/translate"
	"github.com/MrWong99/meetcaption/pkg/provider/translate/anyllm"
	"github.com/MrWong99/meetcaption/pkg/provider/translate/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level is a LevelVar so config hot-reload can change it in place.
	levelVar := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Configuration and hot-reload ──────────────────────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		if application != nil {
			application.ApplyConfig(ctx, old, updated)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "meetcaption: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "meetcaption: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	levelVar.Set(app.ParseLevel(cfg.Server.LogLevel))

	slog.Info("meetcaption starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err = app.New(ctx, cfg, providers, app.WithLevelVar(levelVar))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	application.Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			slog.Info("bridge listening", "addr", srv.Addr, "tls", true)
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("bridge listening", "addr", srv.Addr, "tls", false)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()

		// ── Graceful shutdown ─────────────────────────────────────────────────
		slog.Info("shutdown signal received, stopping…")
		watcher.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		// The app goes first so bridge clients get a close frame before the
		// listener disappears.
		err := application.Shutdown(shutdownCtx)
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			err = errors.Join(err, fmt.Errorf("http server shutdown: %w", serr))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("meetcaption stopped with error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every built-in factory into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Recognition ───────────────────────────────────────────────────────────
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.APIKey != "" {
			opts = append(opts, deepgram.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if ms, ok := optInt(entry.Options, "endpointing_ms"); ok {
			opts = append(opts, deepgram.WithEndpointing(time.Duration(ms)*time.Millisecond))
		}
		if ms, ok := optInt(entry.Options, "keepalive_interval_ms"); ok {
			opts = append(opts, deepgram.WithKeepAliveInterval(time.Duration(ms)*time.Millisecond))
		}
		return deepgram.New(opts...)
	})

	// ── Translation ───────────────────────────────────────────────────────────
	reg.RegisterTranslate("openai", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// anyllm:<backend> share the same pattern: optional APIKey + optional BaseURL.
	for _, backend := range anyllm.SupportedBackends {
		reg.RegisterTranslate("anyllm:"+backend, func(entry config.ProviderEntry) (translate.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── Capture ───────────────────────────────────────────────────────────────
	reg.RegisterCapture("portaudio", func(c config.CaptureConfig) (audio.Capturer, error) {
		var opts []portaudio.Option
		if c.FramesPerBuffer > 0 {
			opts = append(opts, portaudio.WithFramesPerBuffer(c.FramesPerBuffer))
		}
		return portaudio.New(opts...), nil
	})

	for _, kind := range []string{"stt", "translate", "capture"} {
		slog.Debug("registered providers", "kind", kind, "names", strings.Join(reg.Names(kind), ","))
	}
}

// buildProviders instantiates the providers named in cfg. Recognition and
// translation are wrapped in circuit-breaking fallback groups so configured
// fallbacks take over when the primary keeps failing.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	primary, err := reg.CreateSTT(cfg.Recognition.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create recognition provider %q: %w", cfg.Recognition.Name, err)
	}
	sttGroup := resilience.NewSTTFallback(primary, cfg.Recognition.Name, fallbackConfig("recognition"))
	for i, entry := range cfg.Recognition.Fallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create recognition fallback %d %q: %w", i, entry.Name, err)
		}
		sttGroup.AddFallback(entry.Name, p)
	}
	ps.STT = sttGroup
	slog.Info("provider created", "kind", "stt", "name", cfg.Recognition.Name, "fallbacks", len(cfg.Recognition.Fallbacks))

	if entry := cfg.Translation.Primary; entry.Name != "" {
		p, err := reg.CreateTranslate(entry)
		if err != nil {
			return nil, fmt.Errorf("create translation provider %q: %w", entry.Name, err)
		}
		trGroup := resilience.NewTranslateFallback(p, entry.Name, fallbackConfig("translation"))
		for i, fb := range cfg.Translation.Fallbacks {
			fp, err := reg.CreateTranslate(fb)
			if err != nil {
				return nil, fmt.Errorf("create translation fallback %d %q: %w", i, fb.Name, err)
			}
			trGroup.AddFallback(fb.Name, fp)
		}
		ps.Translate = trGroup
		slog.Info("provider created", "kind", "translate", "name", entry.Name, "fallbacks", len(cfg.Translation.Fallbacks))
	} else {
		slog.Info("translation disabled, no provider configured")
	}

	capturer, err := reg.CreateCapture(cfg.Capture)
	if err != nil {
		return nil, fmt.Errorf("create capture backend %q: %w", cfg.Capture.Backend, err)
	}
	ps.Capturer = capturer
	slog.Info("provider created", "kind", "capture", "name", cfg.Capture.Backend)

	return ps, nil
}

func fallbackConfig(kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state changed", "kind", kind, "name", name, "from", from, "to", to)
			},
		},
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML
// decodes whole numbers as int; float64 is accepted for JSON-sourced maps.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
