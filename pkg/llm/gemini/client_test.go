package gemini

import (
	"context"
	"testing"

	genai "github.com/google/generative-ai-go/genai"

	"github.com/user/imagereader/pkg/llm"
)

func TestToHistory(t *testing.T) {
	history, prompt, err := toHistory([]llm.Message{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "reply"},
		{Role: llm.RoleUser, Content: "find the image"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if prompt != "find the image" {
		t.Errorf("unexpected prompt %q", prompt)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "model" {
		t.Errorf("unexpected roles %q, %q", history[0].Role, history[1].Role)
	}
	if text, ok := history[1].Parts[0].(genai.Text); !ok || string(text) != "reply" {
		t.Errorf("unexpected history part %v", history[1].Parts[0])
	}
}

func TestToHistoryRejectsBadShapes(t *testing.T) {
	if _, _, err := toHistory(nil); err == nil {
		t.Error("expected error for empty conversation")
	}
	if _, _, err := toHistory([]llm.Message{{Role: llm.RoleAssistant, Content: "x"}}); err == nil {
		t.Error("expected error when last message is from the model")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), &llm.Config{Model: "gemini-1.5-flash"}); err == nil {
		t.Fatal("expected error without API key")
	}
}
