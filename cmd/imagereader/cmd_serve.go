package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/imagereader/internal/delivery"
	"github.com/user/imagereader/internal/telegram"
	"github.com/user/imagereader/internal/types"
	"github.com/user/imagereader/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the imagereader daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := pidFilePath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	a.gateway.Start(ctx)
	defer a.gateway.Stop()

	slog.Info("imagereader started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"role", cfg.Role.Alias,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"pid_file", pidPath,
	)

	// Delivery registry
	deliveryReg := delivery.NewRegistry()

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, a.gateway, a.events, a.sessions)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
		deliveryReg.Register("telegram:", adapter.SendTo)
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// HTTP server
	if cfg.HTTP.Enabled {
		srv := webhook.NewServer(func(rctx context.Context, event *types.InboundEvent) (*types.Post, error) {
			reply, err := a.resolve(rctx, event)
			if err != nil {
				return nil, err
			}
			// requests for a chat session also reach that chat
			if derr := deliveryReg.Deliver(string(event.SessionKey), reply); derr != nil {
				slog.Debug("reply not forwarded", "session_key", event.SessionKey, "error", derr)
			}
			return reply, nil
		}, a.sessions, a.events, a.artifacts)
		httpServer := &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: srv,
		}
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
