// Package mock provides a test double for translate.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/meetcaption/pkg/provider/translate"
)

// Provider is a mock implementation of translate.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Translate. When empty, the source text is echoed
	// with the target language as a prefix, e.g. "[de] hello".
	Result string

	// Err, if non-nil, is returned by Translate.
	Err error

	// Calls records every request passed to Translate.
	Calls []translate.Request
}

// Translate records the call and returns Result, Err.
func (p *Provider) Translate(_ context.Context, req translate.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return "", p.Err
	}
	if p.Result != "" {
		return p.Result, nil
	}
	return "[" + req.TargetLanguage + "] " + req.Text, nil
}

// CallCount returns the number of Translate calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ translate.Provider = (*Provider)(nil)
