package llm

import (
	"context"
	"time"
)

// Provider defines the interface for interacting with LLM backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	// It blocks until the backend answers or ctx is done.
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// DefaultTimeout bounds a single completion when Config.Timeout is unset.
const DefaultTimeout = 60 * time.Second

// RequestTimeout returns the configured timeout or DefaultTimeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}
