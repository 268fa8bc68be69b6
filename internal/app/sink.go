package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetcaption/internal/bridge"
	"github.com/MrWong99/meetcaption/internal/capture"
	"github.com/MrWong99/meetcaption/internal/observe"
	"github.com/MrWong99/meetcaption/internal/reconcile"
	"github.com/MrWong99/meetcaption/pkg/provider/translate"
)

// maxInflightTranslations bounds concurrent translation calls. Finals that
// arrive while the limit is reached are not translated.
const maxInflightTranslations = 4

// broadcaster is the part of [bridge.Hub] the sink needs.
type broadcaster interface {
	Broadcast(msg bridge.Message) (int, error)
}

// captionSink turns capture output into bridge messages: every utterance
// is forwarded as-is and folded into a display group, and finals are
// translated in the background.
type captionSink struct {
	out        broadcaster
	translator translate.Provider
	timeout    time.Duration
	metrics    *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu       sync.Mutex
	grouper  *reconcile.Grouper
	grouping []reconcile.GrouperOption
	target   string
}

var _ capture.Sink = (*captionSink)(nil)

func newCaptionSink(out broadcaster, translator translate.Provider, timeout time.Duration, metrics *observe.Metrics) *captionSink {
	ctx, cancel := context.WithCancel(context.Background())
	s := &captionSink{
		out:        out,
		translator: translator,
		timeout:    timeout,
		metrics:    metrics,
		ctx:        ctx,
		cancel:     cancel,
		grouper:    reconcile.NewGrouper(),
	}
	s.group.SetLimit(maxInflightTranslations)
	return s
}

// Transcript implements [capture.Sink].
func (s *captionSink) Transcript(rec reconcile.UtteranceRecord) {
	s.send(bridge.NewTranscript(rec))

	s.mu.Lock()
	g := s.grouper.Add(rec)
	target := s.target
	s.mu.Unlock()
	s.send(bridge.NewTranscriptGroup(g))

	if rec.IsFinal {
		s.translate(rec, g.ID, target)
	}
}

// Status implements [capture.Sink].
func (s *captionSink) Status(text string) {
	s.send(bridge.NewStatus(text))
}

func (s *captionSink) send(msg bridge.Message) {
	if _, err := s.out.Broadcast(msg); err != nil {
		slog.Warn("app: broadcast failed", "type", msg.MessageType(), "err", err)
	}
}

// SetTarget changes the translation target language. Empty disables
// translation.
func (s *captionSink) SetTarget(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = lang
}

// Target returns the current translation target language.
func (s *captionSink) Target() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// SetGrouping stores grouping options for the next [captionSink.Reset].
func (s *captionSink) SetGrouping(opts ...reconcile.GrouperOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grouping = opts
}

// Reset starts a fresh set of display groups, applying the latest grouping
// options. Called before each capture session.
func (s *captionSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grouper = reconcile.NewGrouper(s.grouping...)
}

func (s *captionSink) translate(rec reconcile.UtteranceRecord, groupID int, target string) {
	if s.translator == nil || target == "" {
		return
	}
	if translate.SameLanguage(rec.DominantLanguage, target) {
		return
	}
	req := translate.Request{Text: rec.Text, SourceLanguage: rec.DominantLanguage, TargetLanguage: target}
	if err := req.Validate(); err != nil {
		slog.Debug("app: translation skipped", "err", err)
		return
	}

	started := s.group.TryGo(func() error {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		ctx, span := observe.StartSpan(ctx, "translate",
			trace.WithAttributes(observe.Attr("target", target), observe.Attr("source", req.SourceLanguage)))
		defer span.End()

		begin := time.Now()
		out, err := s.translator.Translate(ctx, req)
		s.metrics.TranslationDuration.Record(ctx, time.Since(begin).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "translation failed")
			// Translation failures never reach the operator as status.
			s.metrics.RecordProviderRequest(ctx, "translate", "translate", "error")
			s.metrics.RecordProviderError(ctx, "translate", "translate")
			slog.Debug("app: translation failed", "target", target, "err", err)
			return nil
		}
		s.metrics.RecordProviderRequest(ctx, "translate", "translate", "ok")
		s.send(bridge.NewTranslation(rec, groupID, target, translate.Clean(out)))
		return nil
	})
	if !started {
		s.metrics.RecordProviderRequest(s.ctx, "translate", "translate", "skipped")
		slog.Debug("app: translation skipped, too many in flight", "group_id", groupID)
	}
}

// Close cancels in-flight translations and waits for them to return.
func (s *captionSink) Close() error {
	s.cancel()
	return s.group.Wait()
}
