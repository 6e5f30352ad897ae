package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AmirTlinov/context-finder-mcp/internal/session"
)

// newSessionsCmd creates the sessions command group.
func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage named project sessions",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	cmd.AddCommand(newSessionsPruneCmd())
	return cmd
}

func sessionManager() (*session.Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return session.NewManager(session.ManagerConfig{
		StoragePath: filepath.Join(home, ".contextfinder", "sessions"),
	})
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessionManager()
			if err != nil {
				return err
			}
			sessions, err := mgr.List()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				cmd.Println("No sessions.")
				return nil
			}
			for _, s := range sessions {
				cmd.Printf("%-20s %s (last used %s)\n",
					s.Name, s.ProjectPath, s.LastUsed.Format(time.DateTime))
			}
			return nil
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessionManager()
			if err != nil {
				return err
			}
			if err := mgr.Delete(args[0]); err != nil {
				return err
			}
			cmd.Printf("Deleted session %q\n", args[0])
			return nil
		},
	}
}

func newSessionsPruneCmd() *cobra.Command {
	var olderThanDays int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions unused for a while",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := sessionManager()
			if err != nil {
				return err
			}
			n, err := mgr.Prune(time.Duration(olderThanDays) * 24 * time.Hour)
			if err != nil {
				return err
			}
			cmd.Println(fmt.Sprintf("Pruned %d session(s)", n))
			return nil
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than", 30, "age threshold in days")
	return cmd
}
