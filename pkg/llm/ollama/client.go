// Package ollama adapts a local Ollama server to llm.Provider.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"

	"github.com/user/imagereader/pkg/llm"
)

// DefaultHost is used when Config.BaseURL is empty.
const DefaultHost = "http://localhost:11434"

// Client implements llm.Provider against the Ollama chat endpoint.
type Client struct {
	config *llm.Config
	api    *ollama.Client
}

// New builds a client for the host in config.BaseURL.
func New(config *llm.Config) (*Client, error) {
	host := config.BaseURL
	if host == "" {
		host = DefaultHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	httpClient := &http.Client{Timeout: config.RequestTimeout()}
	return &Client{
		config: config,
		api:    ollama.NewClient(u, httpClient),
	}, nil
}

// Complete issues a non-streaming chat request.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	stream := false
	req := &ollama.ChatRequest{
		Model:    c.config.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if c.config.Temperature != 0 {
		req.Options["temperature"] = c.config.Temperature
	}
	if c.config.MaxTokens > 0 {
		req.Options["num_predict"] = c.config.MaxTokens
	}

	var (
		text strings.Builder
		last ollama.ChatResponse
	)
	err := c.api.Chat(ctx, req, func(cr ollama.ChatResponse) error {
		text.WriteString(cr.Message.Content)
		last = cr
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	return &llm.Response{
		Content: text.String(),
		Usage: llm.Usage{
			InputTokens:  last.PromptEvalCount,
			OutputTokens: last.EvalCount,
			TotalTokens:  last.PromptEvalCount + last.EvalCount,
		},
	}, nil
}
