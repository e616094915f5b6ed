package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/moolen/inquest/internal/audit"
	"github.com/moolen/inquest/internal/config"
	"github.com/moolen/inquest/internal/debate/types"
	"github.com/moolen/inquest/internal/lifecycle"
)

var debateCmd = &cobra.Command{
	Use:   "debate",
	Short: "Run a root-cause debate over an incident",
	Long: `Run one debate session to completion: the analysts examine the incident
evidence in parallel, the supervisor routes follow-up turns, and the judge
issues the final verdict.

Examples:
  # Describe the incident inline
  inquest debate --context service=checkout --context symptom="latency spike"

  # Load the incident context from a file
  inquest debate --context-file incident.yaml

  # Replay a scripted scenario without calling a real model
  inquest debate --model mock:scenarios/pool-exhaustion.yaml --context service=checkout
`,
	RunE: runDebate,
}

var (
	debateContextPairs []string
	debateContextFile  string
	debateModel        string
	debateSessionID    string
	debateMetricsPort  int
)

func init() {
	rootCmd.AddCommand(debateCmd)

	debateCmd.Flags().StringArrayVar(&debateContextPairs, "context", nil,
		"Incident context as key=value; repeatable")
	debateCmd.Flags().StringVar(&debateContextFile, "context-file", "",
		"YAML file with the incident context")
	debateCmd.Flags().StringVar(&debateModel, "model", "",
		"Model override; use mock:<scenario.yaml> for a scripted run")
	debateCmd.Flags().StringVar(&debateSessionID, "session-id", "",
		"Session id; generated when empty")
	debateCmd.Flags().IntVar(&debateMetricsPort, "metrics-port", 0,
		"Serve Prometheus metrics on this port (0 = disabled)")
}

func runDebate(cmd *cobra.Command, args []string) error {
	if err := setupLog(logLevelFlags); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debateModel != "" {
		cfg.Provider.Model = debateModel
	}

	incident, err := parseContext(debateContextFile, debateContextPairs)
	if err != nil {
		return err
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

	registry := prometheus.NewRegistry()
	eng, tracer, err := buildEngine(cfg, registry)
	if err != nil {
		return err
	}

	manager := lifecycle.NewManager()
	manager.Register(lifecycle.NewComponent("tracing", tracer.Start, tracer.Stop))
	if c := metricsComponent(debateMetricsPort, registry); c != nil {
		manager.Register(c)
	}
	if c, err := routingWatchComponent(configPath, eng); err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	} else if c != nil {
		manager.Register(c)
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = manager.Stop(context.Background()) }()

	id, err := eng.StartSession(ctx, debateSessionID, incident)
	if err != nil {
		return err
	}
	fmt.Printf("session %s started\n", id)

	events, unsubscribe, err := eng.SubscribeEvents(id)
	if err != nil {
		return err
	}
	defer unsubscribe()
	go printEvents(events)

	if err := eng.Wait(ctx, id); err != nil {
		// Interrupted; the checkpoint allows a later resume.
		fmt.Printf("session %s interrupted: %v\n", id, err)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return eng.Shutdown(shutdownCtx)
	}

	rt, err := eng.GetState(id)
	if err != nil {
		return err
	}
	printOutcome(rt)
	if rt.Status == types.StatusFailed {
		return fmt.Errorf("session failed: %s", rt.FailureReason)
	}
	return nil
}

func printEvents(events <-chan audit.Event) {
	for event := range events {
		switch event.Type {
		case audit.EventTypeDecision:
			target, _ := event.Data["target"].(string)
			if stop, _ := event.Data["stop"].(bool); stop {
				target = "stop"
			}
			fmt.Printf("  [decision] %s (%v)\n", target, event.Data["mode"])
		case audit.EventTypeTurnExecuted:
			fmt.Printf("  [turn %v] %s (%s) confidence=%v\n",
				event.Data["round"], event.Agent, event.Data["phase"], event.Data["confidence"])
		case audit.EventTypeTurnDegraded:
			fmt.Printf("  [turn %v] %s degraded\n", event.Data["round"], event.Agent)
		case audit.EventTypeConsensus:
			fmt.Printf("  [consensus] confidence %v reached threshold %v\n",
				event.Data["confidence"], event.Data["threshold"])
		case audit.EventTypeRoundCheckpoint:
			fmt.Printf("  [checkpoint] round %v persisted\n", event.Data["round"])
		}
	}
}

func printOutcome(rt types.RuntimeState) {
	fmt.Printf("\nsession %s: %s after %d turns\n", rt.SessionID, rt.Status, len(rt.Turns))
	if rt.Verdict == nil {
		if rt.FailureReason != "" {
			fmt.Printf("failure: %s\n", rt.FailureReason)
		}
		return
	}
	v := rt.Verdict
	fmt.Printf("\nroot cause: %s\n", v.RootCause)
	fmt.Printf("confidence: %.2f", v.Confidence)
	if v.Degraded {
		fmt.Printf(" (fallback verdict, judge output unusable)")
	}
	fmt.Printf("\nproduced by: %s\n", v.ProducedBy)
	if v.Summary != "" {
		fmt.Printf("summary: %s\n", v.Summary)
	}
	for i, item := range v.EvidenceChain {
		fmt.Printf("  evidence %d: %s\n", i+1, item)
	}
}
