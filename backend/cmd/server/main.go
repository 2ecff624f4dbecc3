package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vega-agent/backend/internal/api"
	"vega-agent/backend/internal/services"
	"vega-agent/backend/internal/tools"
	"vega-agent/backend/pkg/config"
	"vega-agent/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(logger.Options{Env: cfg.Env, Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Nobody can answer a confirmation prompt over HTTP
	rt, err := services.NewRuntime(ctx, cfg, services.Options{
		Confirmer: tools.DenyConfirmer{},
		Logger:    log,
	})
	if err != nil {
		log.Fatal("Failed to initialize runtime", zap.Error(err))
	}
	defer rt.Close()

	router := newRouter(rt, log)
	if err := api.Serve(ctx, ":"+cfg.Port, router, log); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
	}
}

func newRouter(rt *services.Runtime, log *zap.Logger) *gin.Engine {
	return api.NewServer(rt.Store, rt.Embedder, rt.Pool, rt.Registry, log).Router(rt.Config.IsProduction())
}
