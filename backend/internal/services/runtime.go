// Package services assembles the long-lived components shared by the CLI and the HTTP server.
package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"vega-agent/backend/internal/adapter"
	"vega-agent/backend/internal/agent"
	"vega-agent/backend/internal/embedding"
	"vega-agent/backend/internal/memory"
	"vega-agent/backend/internal/tools"
	"vega-agent/backend/pkg/config"
	"vega-agent/backend/pkg/logger"
)

// DefaultWorkers bounds concurrent turns across sessions
const DefaultWorkers = 4

// Options selects the surface-specific pieces of a Runtime
type Options struct {
	// Confirmer answers tool confirmation prompts; nil denies them
	Confirmer tools.Confirmer
	// Reporter receives phase events; the broadcaster doubles as the gateway's Pauser when it is one
	Reporter agent.Reporter
	// Backend replaces the configured model backend
	Backend adapter.Backend
	// Embedder replaces the configured embedder
	Embedder embedding.Embedder
	Workers  int
	Logger   *zap.Logger
}

// Runtime owns the store, the tools and the turn controller built from one config
type Runtime struct {
	Config     *config.Config
	Embedder   embedding.Embedder
	Store      memory.Store
	Registry   *tools.Registry
	Gateway    *tools.Gateway
	Controller *agent.Controller
	Pool       *agent.Pool

	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewRuntime wires every component from cfg. Close releases the store.
func NewRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}

	embedder := opts.Embedder
	if embedder == nil {
		var err error
		embedder, err = embedding.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	store, err := memory.Open(ctx, cfg, embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	registry, err := tools.NewDefaultRegistry(tools.Environment{
		Workspace: cfg.Workspace,
		LogFile:   cfg.LogFile,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}

	gatewayOpts := []tools.GatewayOption{
		tools.WithAutoApprove(cfg.Yolo),
		tools.WithTimeout(cfg.ToolTimeout),
		tools.WithLogger(log),
	}
	if p, ok := opts.Reporter.(tools.Pauser); ok {
		gatewayOpts = append(gatewayOpts, tools.WithPauser(p))
	}
	gateway := tools.NewGateway(registry, opts.Confirmer, gatewayOpts...)

	backend := opts.Backend
	if backend == nil {
		backend = adapter.NewLLMAdapter(cfg.Provider, cfg.BaseURL, cfg.APIKey(), cfg.Model)
	}

	retry := agent.DefaultRetryPolicy()
	retry.Attempts = cfg.BackendRetries

	controllerOpts := []agent.Option{
		agent.WithRetryPolicy(retry),
		agent.WithMaxToolRounds(cfg.MaxToolRounds),
		agent.WithRetrievalLimit(cfg.RetrievalLimit),
		agent.WithPromptBuilder(agent.NewPromptBuilder(cfg.Workspace)),
		agent.WithModelName(cfg.Model),
		agent.WithLogger(log),
	}
	if opts.Reporter != nil {
		controllerOpts = append(controllerOpts, agent.WithReporter(opts.Reporter))
	}
	controller := agent.NewController(backend, gateway, store, embedder, controllerOpts...)

	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}

	log.Info("Runtime ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.String("memory_backend", cfg.MemoryBackend),
		zap.String("embedder", embedder.Name()),
		zap.Strings("tools", registry.Names()),
		zap.Bool("yolo", cfg.Yolo),
	)

	return &Runtime{
		Config:     cfg,
		Embedder:   embedder,
		Store:      store,
		Registry:   registry,
		Gateway:    gateway,
		Controller: controller,
		Pool:       agent.NewPool(controller, workers),
		logger:     log,
	}, nil
}

// Close releases the memory store. It is safe to call more than once.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.Store.Close()
		if r.closeErr != nil {
			r.logger.Warn("Failed to close memory store", zap.Error(r.closeErr))
		}
	})
	return r.closeErr
}
