// Package app wires the meetcaption subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Routes mounts the HTTP surface, HandleCommand serves the
// control bridge, and Shutdown tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithSettingsStore,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/meetcaption/internal/bridge"
	"github.com/MrWong99/meetcaption/internal/capture"
	"github.com/MrWong99/meetcaption/internal/config"
	"github.com/MrWong99/meetcaption/internal/health"
	"github.com/MrWong99/meetcaption/internal/observe"
	"github.com/MrWong99/meetcaption/internal/reconcile"
	"github.com/MrWong99/meetcaption/internal/settings"
	"github.com/MrWong99/meetcaption/internal/settings/postgres"
	"github.com/MrWong99/meetcaption/pkg/audio"
	"github.com/MrWong99/meetcaption/pkg/provider/stt"
	"github.com/MrWong99/meetcaption/pkg/provider/translate"
)

// Operator-facing replies to bridge commands.
const (
	StatusAlreadyRunning = "Capture already running"
	StatusSettingSaved   = "Setting saved: "
	StatusSettingFailed  = "Setting rejected: "
)

// Providers holds one interface value per provider slot. Translate may be
// nil, which disables translation. Populated by main.go via the config
// registry.
type Providers struct {
	STT       stt.Provider
	Translate translate.Provider
	Capturer  audio.Capturer
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics    *observe.Metrics
	levelVar   *slog.LevelVar
	settings   settings.Store
	hub        *bridge.Hub
	sink       *captionSink
	controller *capture.Controller
	health     *health.Handler

	// starts tracks Start calls running in the background.
	starts sync.WaitGroup

	// mu guards cfgTarget, the configured target language, which hot
	// reload may change, and closing, which stops new background starts once
	// Shutdown has begun.
	mu        sync.Mutex
	cfgTarget string
	closing   bool

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSettingsStore injects a settings store instead of creating one from config.
func WithSettingsStore(s settings.Store) Option {
	return func(a *App) { a.settings = s }
}

// WithMetrics injects the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets hot-reloaded log levels take effect on the given handler level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.Capturer == nil {
		return nil, errors.New("app: recognition and capture providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		cfgTarget: cfg.Translation.TargetLanguage,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Settings store ────────────────────────────────────────────────
	if err := a.initSettings(ctx); err != nil {
		return nil, fmt.Errorf("app: init settings: %w", err)
	}

	// ── 2. Bridge + sink ─────────────────────────────────────────────────
	a.hub = bridge.NewHub(a,
		bridge.WithMetrics(a.metrics),
		bridge.WithQueueDepth(cfg.Server.BridgeQueueDepth),
		bridge.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)
	a.sink = newCaptionSink(a.hub, providers.Translate, cfg.Translation.Timeout, a.metrics)
	a.sink.SetGrouping(groupingOptions(cfg.Grouping)...)
	a.sink.Reset()
	a.sink.SetTarget(a.resolveTarget(ctx))
	a.closers = append(a.closers, a.sink.Close)

	// ── 3. Capture controller ────────────────────────────────────────────
	ctrl, err := capture.NewController(capture.Config{
		Capturer:     providers.Capturer,
		Transport:    providers.STT,
		Sink:         a.sink,
		Monitor:      cfg.Capture.Monitor,
		HandoffDepth: cfg.Capture.HandoffDepth,
		Metrics:      a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}
	a.controller = ctrl

	// ── 4. Health ────────────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)

	slog.Info("app initialised",
		"settings_backend", settingsBackend(cfg),
		"translation", providers.Translate != nil,
		"target_language", a.sink.Target(),
	)
	return a, nil
}

func (a *App) initSettings(ctx context.Context) error {
	if a.settings != nil {
		return nil
	}
	dsn := a.cfg.Settings.PostgresDSN
	if dsn == "" {
		a.settings = settings.NewMemStore()
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.settings = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// resolveTarget returns the persisted target language, or the configured
// one when nothing is stored.
func (a *App) resolveTarget(ctx context.Context) string {
	lang, err := settings.Lookup(ctx, a.settings, settings.KeyTargetLanguage, a.configTarget())
	if err != nil {
		slog.Warn("app: reading target language setting failed, using config", "err", err)
	}
	return lang
}

func (a *App) configTarget() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfgTarget
}

func (a *App) checkers() []health.Checker {
	var cs []health.Checker
	if p, ok := a.settings.(interface{ Ping(context.Context) error }); ok {
		cs = append(cs, health.Checker{Name: "settings", Check: p.Ping})
	}
	if h, ok := a.providers.STT.(interface{ Healthy() bool }); ok {
		cs = append(cs, health.Checker{Name: "recognition", Check: health.Healthy(h.Healthy)})
	}
	if h, ok := a.providers.Translate.(interface{ Healthy() bool }); ok {
		cs = append(cs, health.Checker{Name: "translation", Check: health.Healthy(h.Healthy), Optional: true})
	}
	return cs
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the capture controller.
func (a *App) Controller() *capture.Controller { return a.controller }

// Hub returns the control bridge hub.
func (a *App) Hub() *bridge.Hub { return a.hub }

// Routes mounts /ws, /healthz and /readyz on mux.
func (a *App) Routes(mux *http.ServeMux) {
	mux.Handle("GET /ws", a.hub)
	a.health.Register(mux)
}

// ─── Bridge commands ─────────────────────────────────────────────────────────

// HandleCommand implements [bridge.Handler].
func (a *App) HandleCommand(ctx context.Context, clientID string, cmd bridge.Command) {
	switch c := cmd.(type) {
	case *bridge.Start:
		// Start blocks through acquisition and dialling; run it off the
		// read loop so a following OFFSCREEN_STOP can cancel it.
		a.mu.Lock()
		if a.closing {
			a.mu.Unlock()
			slog.Debug("app: ignoring start during shutdown", "client_id", clientID)
			return
		}
		a.starts.Add(1)
		a.mu.Unlock()
		go func() {
			defer a.starts.Done()
			a.start(ctx, clientID, c)
		}()
	case *bridge.Stop:
		a.controller.Stop()
	case *bridge.SettingsSet:
		a.setSetting(ctx, clientID, c)
	default:
		slog.Debug("app: ignoring command", "type", cmd.Type())
	}
}

func (a *App) start(ctx context.Context, clientID string, c *bridge.Start) {
	key := c.APIKey
	if key == "" {
		var err error
		key, err = settings.Lookup(ctx, a.settings, settings.KeyDeepgramAPIKey, "")
		if err != nil {
			slog.Warn("app: reading recognition key setting failed", "err", err)
		}
	}
	// An empty key lets the transport fall back to its configured key.

	if a.controller.State() == capture.StateIdle {
		a.sink.Reset()
	}
	err := a.controller.Start(ctx, capture.StartRequest{StreamID: c.StreamID, APIKey: key})
	switch {
	case errors.Is(err, capture.ErrAlreadyRunning):
		a.reply(clientID, StatusAlreadyRunning)
	case err != nil:
		// The controller has already reported the failure as status.
		slog.Info("app: capture did not start", "stream_id", c.StreamID, "err", err)
	}
}

func (a *App) setSetting(ctx context.Context, clientID string, c *bridge.SettingsSet) {
	log := slog.With("client_id", clientID, "key", c.Key)
	if err := a.settings.Set(ctx, c.Key, c.Value); err != nil {
		log.Warn("app: setting rejected", "err", err)
		a.reply(clientID, StatusSettingFailed+c.Key)
		return
	}
	if c.Key == settings.KeyTargetLanguage {
		target := c.Value
		if target == "" {
			target = a.configTarget()
		}
		a.sink.SetTarget(target)
	}
	if settings.Secret(c.Key) {
		log.Info("app: setting saved")
	} else {
		log.Info("app: setting saved", "value", c.Value)
	}
	a.reply(clientID, StatusSettingSaved+c.Key)
}

func (a *App) reply(clientID, text string) {
	if _, err := a.hub.Send(clientID, bridge.NewStatus(text)); err != nil {
		slog.Warn("app: reply failed", "client_id", clientID, "err", err)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change. Changes
// to other sections are logged as requiring a restart.
func (a *App) ApplyConfig(ctx context.Context, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TargetLanguageChanged {
		a.mu.Lock()
		a.cfgTarget = d.NewTargetLanguage
		a.mu.Unlock()
		a.sink.SetTarget(a.resolveTarget(ctx))
		slog.Info("target language changed", "config", d.NewTargetLanguage, "effective", a.sink.Target())
	}
	if d.GroupingChanged {
		a.sink.SetGrouping(groupingOptions(d.NewGrouping)...)
		slog.Info("grouping changed, applies from the next capture")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, disconnects bridge clients, and runs closers in
// reverse-init order. If ctx expires, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.mu.Lock()
		a.closing = true
		a.mu.Unlock()

		// Closing the hub first guarantees no new commands arrive.
		if err := a.hub.Close(ctx); err != nil {
			slog.Warn("bridge close error", "err", err)
		}

		a.controller.Stop()
		a.starts.Wait()
		// A Start that finished after the first Stop is torn down here.
		a.controller.Stop()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// ParseLevel converts a config log level to its slog equivalent. Unknown
// values map to Info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func groupingOptions(g config.GroupingConfig) []reconcile.GrouperOption {
	return []reconcile.GrouperOption{
		reconcile.WithMaxGap(g.MaxGap),
		reconcile.WithMaxChars(g.MaxChars),
	}
}

func settingsBackend(cfg *config.Config) string {
	if cfg.Settings.PostgresDSN != "" {
		return "postgres"
	}
	return "memory"
}
