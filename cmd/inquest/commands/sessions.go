package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/moolen/inquest/internal/config"
	"github.com/moolen/inquest/internal/debate/checkpoint"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List debate sessions and their status",
	RunE:  runSessions,
}

var sessionsShow string

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().StringVar(&sessionsShow, "show", "",
		"Print the verdict and turn log of one session instead of the list")
}

func runSessions(cmd *cobra.Command, args []string) error {
	if err := setupLog(logLevelFlags); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := checkpoint.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}

	if sessionsShow != "" {
		rt, err := store.LoadState(sessionsShow)
		if err != nil {
			return err
		}
		printOutcome(rt)
		return nil
	}

	entries, err := store.Sessions()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATUS\tSTARTED\tUPDATED")
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			entry.SessionID, entry.Status,
			entry.StartedAt.Format("2006-01-02 15:04:05"),
			entry.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
