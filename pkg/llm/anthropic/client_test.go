package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/imagereader/pkg/llm"
)

func TestAnthropicClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("expected path /v1/messages, got %q", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("expected api key header, got %q", r.Header.Get("X-Api-Key"))
		}

		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatal(err)
		}
		if req["model"] != "claude-test" {
			t.Errorf("expected model claude-test, got %v", req["model"])
		}
		if req["max_tokens"] != float64(DefaultMaxTokens) {
			t.Errorf("expected default max_tokens, got %v", req["max_tokens"])
		}
		system, ok := req["system"].([]any)
		if !ok || len(system) != 1 {
			t.Errorf("expected one system block, got %v", req["system"])
		}
		messages, ok := req["messages"].([]any)
		if !ok || len(messages) != 1 {
			t.Errorf("expected one message, got %v", req["messages"])
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content": []map[string]any{
				{"type": "text", "text": `{"image_url": "cat.png"}`},
			},
			"usage": map[string]any{"input_tokens": 12, "output_tokens": 7},
		})
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "test-key", Model: "claude-test"})
	resp, err := client.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "Your task is to read the image path from the message."},
		{Role: llm.RoleUser, Content: "look at cat.png"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != `{"image_url": "cat.png"}` {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 19 {
		t.Errorf("expected 19 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestAnthropicClientRequiresUserMessage(t *testing.T) {
	client := New(&llm.Config{APIKey: "k", Model: "claude-test"})
	_, err := client.Complete(context.Background(), []llm.Message{{Role: llm.RoleSystem, Content: "only system"}})
	if err == nil {
		t.Fatal("expected error without user message")
	}
}
