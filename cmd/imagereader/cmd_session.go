package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/imagereader/internal/conversation"
	"github.com/user/imagereader/internal/state"
	"github.com/user/imagereader/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		events := state.NewEventStore(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKEY\tSTATUS\tEVENTS\tCREATED")
		for _, s := range list {
			count, err := events.Count(ctx, s.SessionID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				s.SessionID,
				s.SessionKey,
				s.Status,
				count,
				s.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the rounds of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		events := state.NewEventStore(cfg.DataDir)

		ctx := context.Background()
		id := types.SessionID(args[0])
		if _, err := sessions.Get(ctx, id); err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		history, err := conversation.Load(ctx, events, id)
		if err != nil {
			return err
		}
		if len(history.Rounds) == 0 {
			fmt.Println("No rounds recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROUND\tSTATE\tFROM\tTO\tMESSAGE")
		for _, r := range history.Rounds {
			for _, p := range r.Posts {
				msg := p.Message
				if att, ok := p.Attachment(types.AttachmentImageURL); ok {
					msg = att.Content
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.State, p.SendFrom, p.SendTo, truncate(msg, 60))
			}
		}
		return w.Flush()
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Clear a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := state.NewSessionStore(cfg.DataDir)
		events := state.NewEventStore(cfg.DataDir)

		ctx := context.Background()
		var ids []types.SessionID
		if args[0] == "all" {
			list, err := sessions.List(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			for _, s := range list {
				ids = append(ids, s.SessionID)
			}
		} else {
			ids = append(ids, types.SessionID(args[0]))
		}

		for _, id := range ids {
			if err := sessions.Remove(ctx, id); err != nil {
				return fmt.Errorf("clear session %s: %w", id, err)
			}
			events.Forget(id)
		}

		if args[0] == "all" {
			fmt.Printf("%d sessions cleared.\n", len(ids))
		} else {
			fmt.Printf("Session %s cleared.\n", args[0])
		}
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
