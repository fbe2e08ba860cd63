package main

import (
	"github.com/spf13/viper"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/app"
	"dev/bravebird/form-submitter/pkg/config"
	"dev/bravebird/form-submitter/pkg/observability"
	"dev/bravebird/form-submitter/pkg/temporal/activities"
	"dev/bravebird/form-submitter/pkg/temporal/workflows"
)

func main() {
	cfg, err := config.Load(viper.New(), config.GetEnv("SUBMITTER_CONFIG", ""))
	if err != nil {
		observability.GetLogger().Fatal("Failed to load config", zap.Error(err))
	}
	observability.InitializeLogger(cfg.Logger)
	defer observability.Sync()
	logger := observability.GetLogger()

	if err := cfg.ValidateForRun(); err != nil {
		// targets come from each workflow, the rest is needed up front
		logger.Warn("Configuration incomplete for runs", zap.Error(err))
	}

	c, err := app.DialTemporal(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create Temporal client", zap.Error(err))
	}
	defer c.Close()

	tr, err := app.OpenTracker(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open tracker", zap.Error(err))
	}
	defer tr.Close()

	newSession, err := app.SessionFactory(cfg, logger)
	if err != nil {
		logger.Fatal("Invalid locator configuration", zap.Error(err))
	}

	opts, sinks := app.OrchestratorOptions(cfg, logger)
	defer sinks.Close()

	acts := activities.NewActivities(newSession, tr, cfg.CredentialsValue(), opts...)

	// One browser per worker; the tracker lock would serialize runs anyway
	w := worker.New(c, workflows.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     1,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(workflows.SubmissionRunWorkflow)
	w.RegisterActivity(acts.RunSubmissionsActivity)

	logger.Info("Starting Temporal worker",
		zap.String("task_queue", workflows.TaskQueue),
		zap.String("temporal_host", cfg.Temporal.Host),
		zap.String("tracker", cfg.Tracker.Backend),
	)

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("Worker failed", zap.Error(err))
	}
}
