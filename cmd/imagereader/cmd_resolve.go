package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/imagereader/internal/types"
)

var (
	resolveMessage    string
	resolveCwd        string
	resolveSessionKey string
)

func init() {
	resolveCmd.Flags().StringVarP(&resolveMessage, "message", "m", "", "message that mentions an image (required)")
	resolveCmd.Flags().StringVar(&resolveCwd, "cwd", "", "directory relative image paths resolve against")
	resolveCmd.Flags().StringVar(&resolveSessionKey, "session-key", "cli:default", "session to record the exchange in")
	resolveCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(resolveCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the image in a message and print the sealed reply as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if resolveMessage == "" {
			return errors.New("--message is required")
		}
		cfg := loadConfig()
		setupLogging(cfg)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		a.gateway.Start(ctx)
		defer a.gateway.Stop()

		reply, err := a.resolve(ctx, &types.InboundEvent{
			Source:     "cli",
			SessionKey: types.SessionKey(resolveSessionKey),
			UserID:     os.Getenv("USER"),
			Text:       resolveMessage,
			WorkingDir: resolveCwd,
		})
		if err != nil {
			return fmt.Errorf("resolve: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	},
}
