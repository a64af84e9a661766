package delivery

import (
	"testing"

	"github.com/user/imagereader/internal/types"
)

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var gotKey string
	var gotReply *types.Post
	reg.Register("test:", func(sessionKey string, reply *types.Post) error {
		gotKey = sessionKey
		gotReply = reply
		return nil
	})

	reply := &types.Post{Message: "hello"}
	err := reg.Deliver("test:123", reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "test:123" {
		t.Errorf("expected session key %q, got %q", "test:123", gotKey)
	}
	if gotReply != reply {
		t.Errorf("expected reply to be passed through, got %+v", gotReply)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Deliver("unknown:123", &types.Post{})
	if err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
}

func TestRegistryMultiplePrefixes(t *testing.T) {
	reg := NewRegistry()

	var telegramCalls, groupCalls int
	reg.Register("telegram:", func(string, *types.Post) error {
		telegramCalls++
		return nil
	})
	reg.Register("telegram:group:", func(string, *types.Post) error {
		groupCalls++
		return nil
	})

	if err := reg.Deliver("telegram:42:100", &types.Post{}); err != nil {
		t.Fatalf("telegram deliver error: %v", err)
	}
	if err := reg.Deliver("telegram:group:7", &types.Post{}); err != nil {
		t.Fatalf("group deliver error: %v", err)
	}

	if telegramCalls != 1 {
		t.Errorf("expected 1 telegram call, got %d", telegramCalls)
	}
	if groupCalls != 1 {
		t.Errorf("expected longest prefix to win, got %d group calls", groupCalls)
	}
}
