package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/user/imagereader/pkg/llm"
)

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config *llm.Config
	api    *openai.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
// An empty BaseURL selects the public OpenAI endpoint.
func New(config *llm.Config) *Client {
	cc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cc.BaseURL = config.BaseURL
	}
	cc.HTTPClient = &http.Client{Timeout: config.RequestTimeout()}
	return &Client{
		config: config,
		api:    openai.NewClientWithConfig(cc),
	}
}

func toChatMessages(messages []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return out
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: toChatMessages(messages),
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if c.config.Temperature != 0 {
		req.Temperature = c.config.Temperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}

	return &llm.Response{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}
