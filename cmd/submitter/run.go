package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dev/bravebird/form-submitter/pkg/api"
	"dev/bravebird/form-submitter/pkg/app"
	"dev/bravebird/form-submitter/pkg/config"
	"dev/bravebird/form-submitter/pkg/models"
	"dev/bravebird/form-submitter/pkg/observability"
	"dev/bravebird/form-submitter/pkg/report"
	"dev/bravebird/form-submitter/pkg/submission"
)

func newRunCmd() *cobra.Command {
	var (
		serve        bool
		only         []string
		skipPDFCheck bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit the payload to every target that has not succeeded yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSubmissions(ctx, cmd, only, serve, !skipPDFCheck && cfg.Payload.VerifyPDF)
		},
	}
	cmd.Flags().BoolVar(&serve, "serve", false, "serve the status API while the run is in progress")
	cmd.Flags().StringSliceVar(&only, "only", nil, "only submit to targets matching these glob patterns")
	cmd.Flags().BoolVar(&skipPDFCheck, "skip-pdf-check", false, "do not parse the PDF before starting")
	return cmd
}

func runSubmissions(ctx context.Context, cmd *cobra.Command, only []string, serve, verifyPDF bool) error {
	logger := observability.GetLogger()

	if err := cfg.ValidateForRun(); err != nil {
		return err
	}
	targets, err := cfg.LoadTargets()
	if err != nil {
		return err
	}
	if targets, err = config.FilterTargets(targets, only); err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no targets left to submit to")
	}

	if verifyPDF {
		pages, err := submission.CheckDocument(cfg.Payload.PDFPath)
		if err != nil {
			return err
		}
		logger.Info("Checked document", zap.String("path", cfg.Payload.PDFPath), zap.Int("pages", pages))
	}

	tr, err := app.OpenTracker(cfg, logger)
	if err != nil {
		return err
	}
	defer tr.Close()

	newSession, err := app.SessionFactory(cfg, logger)
	if err != nil {
		return err
	}
	session, err := newSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer session.Close()

	var hub *api.Hub
	if serve {
		hub = api.NewHub()
	}
	opts, sinks := app.OrchestratorOptions(cfg, logger, hubSink(hub))
	defer sinks.Close()

	orch, err := submission.New(session, tr, cfg.CredentialsValue(), opts...)
	if err != nil {
		return err
	}

	var (
		summary models.RunSummary
		runErr  error
	)
	if serve {
		serverCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
		defer stopServer()

		handlers := api.NewHandlers(tr, targets, nil, hub, cfg.Diagnostics.Dir, logger)
		server := api.NewServer(cfg.API.Addr, api.NewRouter(handlers), logger)

		g := new(errgroup.Group)
		g.Go(func() error { return server.Run(serverCtx) })
		g.Go(func() error {
			defer stopServer()
			summary, runErr = orch.Run(ctx, targets)
			return nil
		})
		if err := g.Wait(); err != nil {
			logger.Error("API server failed", zap.Error(err))
		}
	} else {
		summary, runErr = orch.Run(ctx, targets)
	}

	// A run refused by the store lock has nothing to report
	if summary.Total() > 0 || runErr == nil {
		if err := report.Render(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if !summary.Clean() {
		return errUnclean
	}
	return nil
}

// hubSink avoids handing a typed nil to the orchestrator
func hubSink(hub *api.Hub) submission.EventSink {
	if hub == nil {
		return nil
	}
	return hub
}
