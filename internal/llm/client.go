package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Supported providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// DefaultMaxOutputTokens is used when Options.MaxOutputTokens is unset.
const DefaultMaxOutputTokens = 16384

var defaultModels = map[string]string{
	ProviderAnthropic: "claude-sonnet-4-5",
	ProviderOpenAI:    "gpt-4.1",
	ProviderGemini:    "gemini-2.5-pro",
}

// ErrMissingAPIKey is returned by New when no key is configured.
var ErrMissingAPIKey = errors.New("missing provider api key")

// Options selects and configures a provider.
type Options struct {
	Provider        string
	Model           string
	BaseURL         string
	APIKey          string
	MaxOutputTokens int
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider string) string {
	return defaultModels[strings.ToLower(strings.TrimSpace(provider))]
}

// New builds a Client for opts.Provider. Every request is logged to logger.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Client, error) {
	opts.Provider = strings.ToLower(strings.TrimSpace(opts.Provider))
	if opts.Provider == "" {
		opts.Provider = ProviderAnthropic
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w for %s", ErrMissingAPIKey, opts.Provider)
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel(opts.Provider)
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var inner Client
	switch opts.Provider {
	case ProviderAnthropic:
		inner = newAnthropic(opts)
	case ProviderOpenAI:
		inner = newOpenAI(opts)
	case ProviderGemini:
		c, err := newGemini(ctx, opts)
		if err != nil {
			return nil, err
		}
		inner = c
	default:
		return nil, fmt.Errorf("unsupported provider %q", opts.Provider)
	}
	return WithLogging(inner, logger.Named("llm").With(
		zap.String("provider", opts.Provider),
		zap.String("model", opts.Model),
	)), nil
}

// WithLogging wraps c so that every request and its outcome is logged.
func WithLogging(c Client, logger *zap.Logger) Client {
	return &loggingClient{next: c, logger: logger}
}

type loggingClient struct {
	next   Client
	logger *zap.Logger
}

func promptSize(messages []Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n
}

func (c *loggingClient) done(op string, start time.Time, messages []Message, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("op", op),
		zap.Int("messages", len(messages)),
		zap.Int("prompt_bytes", promptSize(messages)),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err != nil {
		c.logger.Warn("model request failed", append(fields, zap.Error(err), zap.Bool("transient", IsTransient(err)))...)
		return
	}
	c.logger.Debug("model request finished", fields...)
}

func (c *loggingClient) Complete(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	text, err := c.next.Complete(ctx, messages)
	c.done("complete", start, messages, err, zap.Int("reply_bytes", len(text)))
	return text, err
}

func (c *loggingClient) CallFunction(ctx context.Context, messages []Message, tool Tool) (Response, error) {
	start := time.Now()
	resp, err := c.next.CallFunction(ctx, messages, tool)
	c.done("call_function", start, messages, err,
		zap.String("tool", tool.Name),
		zap.Bool("called", resp.Call != nil))
	return resp, err
}
