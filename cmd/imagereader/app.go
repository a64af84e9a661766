package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/user/imagereader/internal/config"
	ctxengine "github.com/user/imagereader/internal/context"
	"github.com/user/imagereader/internal/gateway"
	"github.com/user/imagereader/internal/reader"
	"github.com/user/imagereader/internal/runtime"
	"github.com/user/imagereader/internal/state"
	"github.com/user/imagereader/internal/types"
	"github.com/user/imagereader/pkg/llm"
	"github.com/user/imagereader/pkg/llm/backend"
)

// app holds everything a running reader needs.
type app struct {
	cfg       *config.Config
	sessions  *state.SessionStore
	events    *state.EventStore
	artifacts *state.ArtifactStore
	gateway   *gateway.Gateway
	provider  llm.Provider
}

// newApp wires stores, provider, reader, runtime and gateway. The gateway
// is not started.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("check config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// Stores
	sessions := state.NewSessionStore(cfg.DataDir)
	events := state.NewEventStore(cfg.DataDir)
	artifacts := state.NewArtifactStore(cfg.DataDir)

	// LLM provider
	provider, err := backend.New(ctx, cfg.LLMConfig())
	if err != nil {
		return nil, fmt.Errorf("create llm provider: %w", err)
	}

	// Extraction engine
	opts := ctxengine.Options{
		MaxQueryTokens: cfg.Role.MaxQueryTokens,
		Model:          cfg.LLM.Model,
	}
	if cfg.Role.LenientJSON {
		opts.Strictness = ctxengine.Lenient
	}
	engine, err := ctxengine.New(opts)
	if err != nil {
		return nil, fmt.Errorf("create context engine: %w", err)
	}

	wd, err := cfg.ResolveWorkingDir()
	if err != nil {
		return nil, err
	}

	// Gateway and runtime
	gw := gateway.New(sessions, events, artifacts, int64(cfg.MaxConcurrent))
	gw.SetRetry(cfg.RetryPolicy())
	rd := reader.New(cfg.Role.Alias, provider, engine)
	rt := runtime.New(rd, sessions, events, artifacts, gw.Retry(), wd)
	gw.Queue.SetProcessor(rt.ProcessRun)

	return &app{
		cfg:       cfg,
		sessions:  sessions,
		events:    events,
		artifacts: artifacts,
		gateway:   gw,
		provider:  provider,
	}, nil
}

// Close releases provider resources.
func (a *app) Close() error {
	if c, ok := a.provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// resolve runs event through the gateway and waits for its reply.
func (a *app) resolve(ctx context.Context, event *types.InboundEvent) (*types.Post, error) {
	type result struct {
		reply *types.Post
		err   error
	}
	done := make(chan result, 1)
	if err := a.gateway.HandleInbound(ctx, event, gateway.WithOnComplete(func(reply *types.Post, err error) {
		done <- result{reply, err}
	})); err != nil {
		return nil, err
	}
	select {
	case r := <-done:
		return r.reply, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
