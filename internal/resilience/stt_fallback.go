package resilience

import (
	"context"

	"github.com/MrWong99/meetcaption/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// recognition endpoints (e.g. a self-hosted and a cloud Deepgram). Each
// endpoint has its own circuit breaker, so a rejected credential or an
// unreachable host stops being dialled after repeated failures.
//
// Failover only covers Connect. Once a session is established, its own
// encoding fallback governs what happens when the connection drops.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Healthy reports whether any endpoint is currently accepting connections.
func (f *STTFallback) Healthy() bool { return f.group.Healthy() }

// Connect opens a session against the first healthy provider.
func (f *STTFallback) Connect(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.Connect(ctx, cfg)
	})
}
