// Package backend selects a concrete llm.Provider by name.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/imagereader/pkg/llm"
	"github.com/user/imagereader/pkg/llm/anthropic"
	"github.com/user/imagereader/pkg/llm/gemini"
	"github.com/user/imagereader/pkg/llm/ollama"
	"github.com/user/imagereader/pkg/llm/openai"
)

// Names lists the accepted provider names.
var Names = []string{"openai", "anthropic", "claude", "gemini", "google", "ollama"}

// New returns the provider named by config.Provider. An empty name selects openai.
func New(ctx context.Context, config *llm.Config) (llm.Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "", "openai":
		return openai.New(config), nil
	case "anthropic", "claude":
		return anthropic.New(config), nil
	case "gemini", "google":
		return gemini.New(ctx, config)
	case "ollama":
		return ollama.New(config)
	default:
		return nil, fmt.Errorf("unknown provider: %s", config.Provider)
	}
}
