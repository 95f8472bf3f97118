package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/agentrelay/internal/state"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd)
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
		history, err := state.NewHistoryStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer history.Close()

		ctx := context.Background()
		users, err := sessions.Users(ctx)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tNAME\tBACKEND\tSTATUS\tMODE\tCWD\tCOST")
		rows := 0
		for _, userID := range users {
			list, err := sessions.ListByUser(ctx, userID)
			if err != nil {
				return fmt.Errorf("list sessions for %d: %w", userID, err)
			}
			for _, s := range list {
				cost, err := history.SessionCost(ctx, s.ID)
				if err != nil {
					cost = 0
				}
				fmt.Fprintf(w, "%d\t%s %s\t%s\t%s\t%s\t%s\t$%.4f\n",
					userID, s.Emoji, s.Name, s.Backend, s.Status, s.Mode, s.Cwd, cost)
				rows++
			}
		}
		if rows == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		return w.Flush()
	},
}
