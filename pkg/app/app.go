// Package app builds the components the binaries share from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/browser"
	"dev/bravebird/form-submitter/pkg/config"
	"dev/bravebird/form-submitter/pkg/events"
	"dev/bravebird/form-submitter/pkg/observability"
	"dev/bravebird/form-submitter/pkg/submission"
	"dev/bravebird/form-submitter/pkg/tracker"
)

// OpenTracker connects to the configured record store
func OpenTracker(cfg *config.Config, logger *zap.Logger) (*tracker.Tracker, error) {
	opts := cfg.TrackerOptions()
	opts.Logger = logger
	store, err := tracker.NewStore(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s tracker: %w", cfg.Tracker.Backend, err)
	}
	return tracker.New(store, logger), nil
}

// SessionFactory launches a rod browser per call
func SessionFactory(cfg *config.Config, logger *zap.Logger) (func(ctx context.Context) (browser.Session, error), error) {
	strategy, err := cfg.Strategy()
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (browser.Session, error) {
		s, err := browser.NewRodSession(ctx, cfg.Browser, strategy, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, nil
}

// Sinks holds the event sinks built from configuration
type Sinks struct {
	kafka *events.KafkaSink
}

// Close flushes and closes any sink that holds a connection
func (s *Sinks) Close() error {
	if s == nil || s.kafka == nil {
		return nil
	}
	return s.kafka.Close()
}

// OrchestratorOptions turns the retry, pacing, diagnostics and events settings into
// orchestrator options. extra sinks are added after the configured ones.
func OrchestratorOptions(cfg *config.Config, logger *zap.Logger, extra ...submission.EventSink) ([]submission.Option, *Sinks) {
	opts := []submission.Option{
		submission.WithPolicy(cfg.RetryPolicy()),
		submission.WithLogger(logger),
		submission.WithPacing(cfg.Retry.Pacing),
	}
	if cfg.Diagnostics.Dir != "" {
		opts = append(opts, submission.WithDiagnostics(cfg.Diagnostics.Dir))
	}

	sinks := &Sinks{}
	if len(cfg.Events.KafkaBrokers) > 0 {
		sinks.kafka = events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		opts = append(opts, submission.WithSinks(sinks.kafka))
	}
	for _, s := range extra {
		if s != nil {
			opts = append(opts, submission.WithSinks(s))
		}
	}
	return opts, sinks
}

// DialTemporal connects to the configured Temporal frontend
func DialTemporal(cfg *config.Config, logger *zap.Logger) (client.Client, error) {
	if cfg.Temporal.Host == "" {
		return nil, errors.New("temporal.host is not set")
	}
	return client.Dial(client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    observability.TemporalLogger(logger),
	})
}
