package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/parley-cli/parley/errors"
	"github.com/parley-cli/parley/logging"
	"github.com/parley-cli/parley/session"
	"github.com/parley-cli/parley/tools"
)

// Provider identifiers accepted by NewClient.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Provider is the contract each wire-protocol adapter implements. The
// returned stream delivers chunks in backend-emission order and must be
// closed by the caller.
type Provider interface {
	GenerateStream(ctx context.Context, messages []session.Message, catalog []tools.Tool) Stream
}

// Config carries everything needed to construct a Client. The zero value of
// BaseURL selects the provider's default endpoint; a present value has any
// trailing slashes stripped before the adapter sees it.
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Retry     RetryConfig
	Logger    *slog.Logger
}

// Client is the provider-agnostic facade. It selects exactly one adapter at
// construction time and forwards streaming calls to it unchanged.
type Client struct {
	provider Provider
	logger   *slog.Logger
}

// NewClient validates the configuration and constructs the adapter for the
// configured provider. An unrecognized provider identifier is a
// configuration error, reported immediately.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("no model configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	var provider Provider
	switch cfg.Provider {
	case ProviderOpenAI:
		provider = newOpenAIProvider(cfg)
	case ProviderAnthropic:
		provider = newAnthropicProvider(cfg)
	default:
		return nil, errors.New("unknown LLM provider '%s' (supported: %s, %s)",
			cfg.Provider, ProviderOpenAI, ProviderAnthropic)
	}
	return &Client{provider: provider, logger: cfg.Logger}, nil
}

// GenerateStream starts one streaming model turn over the full history and
// tool catalog.
func (c *Client) GenerateStream(ctx context.Context, messages []session.Message, catalog []tools.Tool) Stream {
	return c.provider.GenerateStream(ctx, messages, catalog)
}

// normalizeBaseURL strips trailing slash variation so ".../v1" and ".../v1/"
// configure the same endpoint.
func normalizeBaseURL(raw string) string {
	return strings.TrimRight(raw, "/")
}

// CheckConnection issues a minimal probe turn and reports whether the
// backend answered. Used for startup diagnostics only; failures are
// reported as false, never as an error.
func (c *Client) CheckConnection(ctx context.Context) bool {
	probe := []session.Message{{Role: session.RoleUser, Content: "ping"}}
	stream := c.provider.GenerateStream(ctx, probe, nil)
	defer stream.Close()
	for stream.Next() {
	}
	if err := stream.Err(); err != nil {
		c.logger.Warn("connection check failed", "error", err)
		return false
	}
	return true
}
