package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/moolen/inquest/internal/config"
	"github.com/moolen/inquest/internal/debate/checkpoint"
	"github.com/moolen/inquest/internal/debate/types"
	"github.com/moolen/inquest/internal/lifecycle"
)

var resumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Resume interrupted debate sessions",
	Long: `Resume debate sessions from their checkpoints. With a session id only
that session is resumed; without arguments every session the task registry
still marks as running is resumed, oldest first.`,
	RunE: runResume,
}

var resumeModel string

func init() {
	rootCmd.AddCommand(resumeCmd)
	resumeCmd.Flags().StringVar(&resumeModel, "model", "",
		"Model override; use mock:<scenario.yaml> for a scripted run")
}

func runResume(cmd *cobra.Command, args []string) error {
	if err := setupLog(logLevelFlags); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if resumeModel != "" {
		cfg.Provider.Model = resumeModel
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
	}()

	eng, tracer, err := buildEngine(cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	manager := lifecycle.NewManager()
	manager.Register(lifecycle.NewComponent("tracing", tracer.Start, tracer.Stop))
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = manager.Stop(context.Background()) }()

	var ids []string
	if len(args) > 0 {
		ids = args
	} else {
		entries, err := inFlightSessions(cfg)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			ids = append(ids, entry.SessionID)
		}
		if len(ids) == 0 {
			fmt.Println("no in-flight sessions")
			return nil
		}
	}

	failed := 0
	for _, id := range ids {
		if err := eng.Resume(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "resume %s: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("session %s resumed\n", id)
	}

	for _, id := range ids {
		if err := eng.Wait(ctx, id); err != nil {
			continue
		}
		rt, err := eng.GetState(id)
		if err != nil {
			continue
		}
		printOutcome(rt)
		if rt.Status == types.StatusFailed {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d session(s) did not complete", failed)
	}
	return nil
}

func inFlightSessions(cfg config.Config) ([]checkpoint.TaskEntry, error) {
	store, err := checkpoint.NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return store.InFlightSessions()
}
