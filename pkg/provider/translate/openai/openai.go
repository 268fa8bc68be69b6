// Package openai provides a translation provider backed by the OpenAI chat
// completions API (or any OpenAI-compatible endpoint).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/meetcaption/pkg/provider/translate"
)

// Provider implements translate.Provider using the OpenAI API.
type Provider struct {
	client      oai.Client
	model       string
	temperature float64
}

var _ translate.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	temperature  float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithTemperature sets the sampling temperature. Zero leaves the model
// default in place.
func WithTemperature(t float64) Option {
	return func(c *config) {
		c.temperature = t
	}
}

// New constructs a new OpenAI translation Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, temperature: cfg.temperature}, nil
}

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return translate.Clean(resp.Choices[0].Message.Content), nil
}

// buildParams converts a translation request into chat completion params.
func (p *Provider) buildParams(req translate.Request) oai.ChatCompletionNewParams {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(translate.SystemPrompt(req)),
			oai.UserMessage(req.Text),
		},
	}
	if p.temperature != 0 {
		params.Temperature = param.NewOpt(p.temperature)
	}
	return params
}
