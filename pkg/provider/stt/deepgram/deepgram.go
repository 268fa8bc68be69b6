// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Sessions start in linear PCM mode. If that connection closes (or cannot be
// established) the session reconnects exactly once in Opus/WebM mode; a close
// in that mode is terminal.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/meetcaption/pkg/audio"
	"github.com/MrWong99/meetcaption/pkg/provider/stt"
)

const (
	deepgramEndpoint         = "wss://api.deepgram.com/v1/listen"
	defaultModel             = "nova-3"
	defaultLanguage          = "multi"
	defaultEndpointing       = 100 * time.Millisecond
	defaultKeepAliveInterval = 5 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithAPIKey sets the credential used when a session is started without one.
func WithAPIKey(key string) Option {
	return func(p *Provider) {
		p.apiKey = key
	}
}

// WithModel sets the Deepgram model to use (e.g., "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithLanguage sets the recognition language. The default "multi" enables
// code-switching between languages within a stream.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		if language != "" {
			p.language = language
		}
	}
}

// WithEndpointing sets the silence duration after which Deepgram finalises
// an utterance.
func WithEndpointing(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.endpointing = d
		}
	}
}

// WithKeepAliveInterval sets how often a KeepAlive message is sent while a
// connection is open.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.keepAlive = d
		}
	}
}

// WithBaseURL overrides the streaming endpoint (ws:// or wss://). Useful for
// testing against a local server.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider used for transport
// metrics. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Provider) {
		p.meterProvider = mp
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey        string
	baseURL       string
	model         string
	language      string
	endpointing   time.Duration
	keepAlive     time.Duration
	meterProvider metric.MeterProvider
	inst          *instruments
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		baseURL:     deepgramEndpoint,
		model:       defaultModel,
		language:    defaultLanguage,
		endpointing: defaultEndpointing,
		keepAlive:   defaultKeepAliveInterval,
	}
	for _, o := range opts {
		o(p)
	}
	if p.meterProvider == nil {
		p.meterProvider = otel.GetMeterProvider()
	}
	inst, err := newInstruments(p.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create instruments: %w", err)
	}
	p.inst = inst
	return p, nil
}

// Connect opens a streaming transcription session with Deepgram in linear
// PCM mode. If the primary dial fails, the one-shot Opus/WebM fallback is
// attempted before Connect returns.
func (p *Provider) Connect(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	key := cfg.APIKey
	if key == "" {
		key = p.apiKey
	}
	if key == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("deepgram: connect: %w", err)
	}

	s := newSession(p, key, cfg.OnStatus)
	if err := s.dial(ctx, stt.EncodingPCM); err != nil {
		if ctx.Err() != nil {
			_ = s.Close()
			return nil, fmt.Errorf("deepgram: connect: %w", err)
		}
		s.log.Warn("deepgram: primary dial failed", "err", err)
		s.handleClose(nil, err)
		if s.State() == stt.StateClosed {
			cause := s.cause()
			_ = s.Close()
			return nil, fmt.Errorf("deepgram: connect: %w", cause)
		}
	}
	return s, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given
// encoding.
func (p *Provider) buildURL(enc stt.Encoding) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("vad_events", "true")
	q.Set("diarize", "true")
	q.Set("endpointing", strconv.FormatInt(p.endpointing.Milliseconds(), 10))

	switch enc {
	case stt.EncodingOpus:
		q.Set("encoding", string(stt.EncodingOpus))
		q.Set("container", "webm")
	default:
		q.Set("encoding", string(stt.EncodingPCM))
		q.Set("sample_rate", strconv.Itoa(audio.TargetSampleRate))
		q.Set("channels", strconv.Itoa(audio.TargetChannels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Provider) headers(key string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token "+key)
	return h
}
