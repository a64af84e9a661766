// Package gemini adapts Google's Gemini models to llm.Provider.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/user/imagereader/pkg/llm"
)

// Client implements llm.Provider using generative-ai-go.
type Client struct {
	config *llm.Config
	api    *genai.Client
}

// New dials the Gemini API. BaseURL, when set, overrides the endpoint.
func New(ctx context.Context, config *llm.Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini: missing API key")
	}
	opts := []option.ClientOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(config.BaseURL))
	}
	api, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &Client{config: config, api: api}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.api.Close()
}

// toHistory converts all but the final message into chat history and
// returns the final message's text separately.
func toHistory(messages []llm.Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", errors.New("gemini: at least one non-system message is required")
	}
	last := messages[len(messages)-1]
	if last.Role == llm.RoleAssistant {
		return nil, "", errors.New("gemini: conversation must end with a user message")
	}

	history := make([]*genai.Content, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return history, last.Content, nil
}

// Complete runs a single chat turn.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	system, rest := llm.SplitSystem(messages)
	history, prompt, err := toHistory(rest)
	if err != nil {
		return nil, err
	}

	model := c.api.GenerativeModel(c.config.Model)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if c.config.Temperature != 0 {
		model.SetTemperature(c.config.Temperature)
	}
	if c.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(c.config.MaxTokens))
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout())
	defer cancel()

	cs := model.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("gemini: empty response")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	out := &llm.Response{Content: b.String()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}
