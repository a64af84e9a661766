// Package anthropic adapts the Anthropic Messages API to llm.Provider.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/user/imagereader/pkg/llm"
)

// DefaultMaxTokens is sent when Config.MaxTokens is unset; the API requires one.
const DefaultMaxTokens = 1024

// Client implements llm.Provider on top of anthropic-sdk-go.
type Client struct {
	config *llm.Config
	api    anthropic.Client
}

// New creates a client. SDK-level retries are disabled so that the gateway's
// retry policy is the only one in play.
func New(config *llm.Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: config.RequestTimeout()}),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Client{
		config: config,
		api:    anthropic.NewClient(opts...),
	}
}

func toMessageParams(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == llm.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// Complete sends the conversation to the Messages API. System messages are
// lifted into the top-level system prompt.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	system, rest := llm.SplitSystem(messages)
	if len(rest) == 0 {
		return nil, errors.New("anthropic: at least one non-system message is required")
	}

	maxTokens := c.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(maxTokens),
		Messages:  toMessageParams(rest),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if c.config.Temperature != 0 {
		params.Temperature = anthropic.Float(float64(c.config.Temperature))
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &llm.Response{
		Content: b.String(),
		Usage: llm.Usage{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
		},
	}, nil
}
