package resilience

import (
	"context"

	"github.com/MrWong99/meetcaption/pkg/provider/translate"
)

// TranslateFallback implements [translate.Provider] with automatic failover
// across multiple translation backends. Each backend has its own circuit
// breaker.
type TranslateFallback struct {
	group *FallbackGroup[translate.Provider]
}

// Compile-time interface assertion.
var _ translate.Provider = (*TranslateFallback)(nil)

// NewTranslateFallback creates a [TranslateFallback] with primary as the
// preferred backend.
func NewTranslateFallback(primary translate.Provider, primaryName string, cfg FallbackConfig) *TranslateFallback {
	return &TranslateFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional translation provider as a fallback.
func (f *TranslateFallback) AddFallback(name string, provider translate.Provider) {
	f.group.AddFallback(name, provider)
}

// Healthy reports whether any backend is currently accepting requests.
func (f *TranslateFallback) Healthy() bool { return f.group.Healthy() }

// Translate sends req to the first healthy backend, failing over to the next
// one on error.
func (f *TranslateFallback) Translate(ctx context.Context, req translate.Request) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p translate.Provider) (string, error) {
		return p.Translate(ctx, req)
	})
}
