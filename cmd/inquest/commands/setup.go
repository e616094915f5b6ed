package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/moolen/inquest/internal/config"
	"github.com/moolen/inquest/internal/debate/checkpoint"
	"github.com/moolen/inquest/internal/debate/engine"
	"github.com/moolen/inquest/internal/debate/supervisor"
	"github.com/moolen/inquest/internal/lifecycle"
	"github.com/moolen/inquest/internal/metrics"
	"github.com/moolen/inquest/internal/provider"
	"github.com/moolen/inquest/internal/tools"
	"github.com/moolen/inquest/internal/tracing"
)

// buildProvider selects the model backend. A "mock:" prefix loads a scripted
// scenario file instead of calling a real API.
func buildProvider(cfg config.ProviderConfig) (provider.Provider, error) {
	if scenarioPath, ok := strings.CutPrefix(cfg.Model, "mock:"); ok {
		return provider.NewMockProviderFromFile(scenarioPath)
	}
	return provider.NewAnthropicProvider(provider.Config{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
}

// buildEngine wires the full stack: provider, tools, checkpoint store,
// metrics, tracing, and the debate engine itself.
func buildEngine(cfg config.Config, reg prometheus.Registerer) (*engine.Engine, *tracing.Provider, error) {
	p, err := buildProvider(cfg.Provider)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create model provider: %w", err)
	}

	registry, err := tools.NewDefaultRegistry(cfg.EvidenceDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tool registry: %w", err)
	}

	store, err := checkpoint.NewStore(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	tracer, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		TLSCAPath:   cfg.Tracing.TLSCAPath,
		TLSInsecure: cfg.Tracing.TLSInsecure,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Provider: p,
		Tools:    registry,
		Store:    store,
		Metrics:  metrics.NewMetrics(reg),
		Tracing:  tracer,
		Config: engine.Config{
			MaxDiscussionSteps: cfg.Debate.MaxDiscussionSteps,
			MaxRounds:          cfg.Debate.MaxRounds,
			ConsensusThreshold: cfg.Debate.ConsensusThreshold,
			SessionBudget:      cfg.Debate.SessionBudget,
			EnableCritique:     cfg.Debate.EnableCritique,
			DynamicRouting:     cfg.Debate.DynamicRouting,
			Supervisor: supervisor.Config{
				RepetitionCap:    cfg.Routing.RepetitionCap,
				SettleConfidence: cfg.Routing.SettleConfidence,
			},
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, tracer, nil
}

// routingWatchComponent hot-reloads the routing thresholds from the
// config file. Returns nil when no config file is set.
func routingWatchComponent(path string, eng *engine.Engine) (lifecycle.Component, error) {
	if path == "" {
		return nil, nil
	}
	first := true
	watcher, err := config.NewWatcher(config.WatcherConfig{FilePath: path}, func(cfg config.Config) error {
		if first {
			// The initial load already configured the engine.
			first = false
			return nil
		}
		eng.UpdateRouting(supervisor.Config{
			RepetitionCap:    cfg.Routing.RepetitionCap,
			SettleConfidence: cfg.Routing.SettleConfidence,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lifecycle.NewComponent("config-watcher",
		watcher.Start,
		func(ctx context.Context) error { return watcher.Stop() },
	), nil
}

// metricsComponent exposes /metrics on the given port. Returns nil when
// the port is 0.
func metricsComponent(port int, gatherer prometheus.Gatherer) lifecycle.Component {
	if port <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return lifecycle.NewComponent("metrics-server",
		func(ctx context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
				}
			}()
			return nil
		},
		server.Shutdown,
	)
}

// parseContext merges an optional YAML context file with key=value pairs
// from the command line; pairs win on conflict.
func parseContext(filePath string, pairs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if filePath != "" {
		data, err := os.ReadFile(filePath) // #nosec G304 -- operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to read context file: %w", err)
		}
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("failed to parse context file: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("context entry %q is not key=value", pair)
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no incident context given; use --context or --context-file")
	}
	return out, nil
}
