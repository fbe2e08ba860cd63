package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/api"
	"dev/bravebird/form-submitter/pkg/app"
	"dev/bravebird/form-submitter/pkg/config"
	"dev/bravebird/form-submitter/pkg/events"
	"dev/bravebird/form-submitter/pkg/models"
	"dev/bravebird/form-submitter/pkg/observability"
)

func main() {
	cfg, err := config.Load(viper.New(), config.GetEnv("SUBMITTER_CONFIG", ""))
	if err != nil {
		observability.GetLogger().Fatal("Failed to load config", zap.Error(err))
	}
	observability.InitializeLogger(cfg.Logger)
	defer observability.Sync()
	logger := observability.GetLogger()

	logger.Info("Starting form submitter API server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr, err := app.OpenTracker(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open tracker", zap.Error(err))
	}
	defer tr.Close()

	targets, err := cfg.LoadTargets()
	if err != nil {
		logger.Warn("No configured targets, summary and run start will be empty", zap.Error(err))
		targets = []models.Target{}
	}

	// Runs are started through Temporal; without it the API is read-only
	var temporalClient client.Client
	if c, err := app.DialTemporal(cfg, logger); err != nil {
		logger.Warn("Temporal not available, run endpoints disabled", zap.Error(err))
	} else {
		temporalClient = c
		defer c.Close()
	}

	hub := api.NewHub()
	if len(cfg.Events.KafkaBrokers) > 0 {
		consumer := events.NewConsumer(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, cfg.Events.ConsumerGroup, hub, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("Event consumer stopped", zap.Error(err))
			}
		}()
	}

	handlers := api.NewHandlers(tr, targets, temporalClient, hub, cfg.Diagnostics.Dir, logger)
	server := api.NewServer(cfg.API.Addr, api.NewRouter(handlers), logger)

	if err := server.Run(ctx); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}
