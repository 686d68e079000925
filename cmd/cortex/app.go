package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cortex-sre/cortex/internal/archive"
	"github.com/cortex-sre/cortex/internal/collab"
	"github.com/cortex-sre/cortex/internal/config"
	"github.com/cortex-sre/cortex/internal/hub"
	"github.com/cortex-sre/cortex/internal/logging"
	"github.com/cortex-sre/cortex/internal/metrics"
	"github.com/cortex-sre/cortex/internal/orchestrator"
	"github.com/cortex-sre/cortex/internal/planner"
	"github.com/cortex-sre/cortex/internal/registry"
)

// app bundles the wired core shared by the serve and mcp commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	client   *collab.Client
	registry *registry.Registry
}

// loadConfig reads the config honoring the persistent --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// buildApp wires the full pipeline from configuration.
func buildApp(cfg *config.Config) (*app, error) {
	logger := logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	m := metrics.New()

	routes := collab.DefaultRoutes()
	if cfg.Collaborators.ToolRoutes != "" {
		loaded, err := collab.LoadRoutes(cfg.Collaborators.ToolRoutes)
		if err != nil {
			return nil, fmt.Errorf("loading tool routes: %w", err)
		}
		routes = loaded
	}

	client := collab.NewClient(
		cfg.Collaborators.ToolExecutorURL,
		cfg.Collaborators.DataCollectorURL,
		cfg.Collaborators.Timeout,
		routes,
		collab.WithLogger(logger),
	)

	llm := planner.NewAnthropic(
		cfg.Planner.APIKey,
		cfg.Planner.Model,
		cfg.Planner.Timeout,
		planner.WithMaxTasks(cfg.Orchestrator.MaxTasksPerPlan),
		planner.WithLogger(logger),
	)

	orch := orchestrator.New(llm, llm, client,
		orchestrator.WithMaxDepth(cfg.Orchestrator.MaxDepth),
		orchestrator.WithMaxTasksPerPlan(cfg.Orchestrator.MaxTasksPerPlan),
		orchestrator.WithMetrics(m),
		orchestrator.WithLogger(logger),
	)

	h := hub.New(
		hub.WithQueueBound(cfg.Hub.QueueBound),
		hub.WithMetrics(m),
		hub.WithLogger(logger),
	)

	var store archive.Store
	switch cfg.Archive.Backend {
	case "redis":
		store = archive.NewRedis(cfg.Archive.RedisAddr, cfg.Archive.RedisDB,
			archive.WithRedisTTL(cfg.Archive.TTL))
	default:
		store = archive.NewMemory(archive.WithMemoryTTL(cfg.Archive.TTL))
	}

	reg := registry.New(orch, h, store,
		registry.WithIdleTimeout(cfg.Session.IdleTimeout),
		registry.WithMetrics(m),
		registry.WithLogger(logger),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		client:   client,
		registry: reg,
	}, nil
}
