package activities

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"dev/bravebird/form-submitter/pkg/browser"
	"dev/bravebird/form-submitter/pkg/models"
	"dev/bravebird/form-submitter/pkg/submission"
	"dev/bravebird/form-submitter/pkg/temporal/workflows"
	"dev/bravebird/form-submitter/pkg/tracker"
)

// SessionFactory starts a fresh browser for one run
type SessionFactory func(ctx context.Context) (browser.Session, error)

// Activities holds activity implementations
type Activities struct {
	NewSession SessionFactory
	Tracker    *tracker.Tracker
	Creds      models.Credentials
	// Options are applied to every orchestrator, before the run's own ones
	Options []submission.Option
}

// NewActivities creates new activities
func NewActivities(newSession SessionFactory, tr *tracker.Tracker, creds models.Credentials, opts ...submission.Option) *Activities {
	return &Activities{
		NewSession: newSession,
		Tracker:    tr,
		Creds:      creds,
		Options:    opts,
	}
}

// RunSubmissionsActivity runs the orchestrator over the input targets with a browser
// session owned by this activity. Every attempt event is recorded as a heartbeat so a
// stalled browser surfaces as a heartbeat timeout.
func (a *Activities) RunSubmissionsActivity(ctx context.Context, input workflows.SubmissionRunInput) (workflows.SubmissionRunResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Starting submission activity", "runID", input.RunID, "targets", len(input.Targets))

	result := workflows.SubmissionRunResult{RunID: input.RunID}
	start := time.Now()

	session, err := a.NewSession(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("Failed to close browser", "error", err)
		}
	}()

	heartbeat := submission.SinkFunc(func(ctx context.Context, ev models.AttemptEvent) error {
		activity.RecordHeartbeat(ctx, ev)
		return nil
	})
	opts := append(slices.Clone(a.Options), submission.WithSinks(heartbeat))
	if input.RunID != "" {
		opts = append(opts, submission.WithRunID(input.RunID))
	}

	orch, err := submission.New(session, a.Tracker, a.Creds, opts...)
	if err != nil {
		return result, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidConfiguration", err)
	}
	result.RunID = orch.RunID()

	summary, runErr := orch.Run(ctx, input.Targets)
	result.Duration = time.Since(start)
	if errors.Is(runErr, models.ErrLocked) {
		return result, temporal.NewNonRetryableApplicationError(runErr.Error(), "StoreLocked", runErr)
	}

	result.Summary = summary
	result.Status = workflows.StatusCompleted
	if runErr != nil {
		logger.Warn("Submission run stopped early", "runID", result.RunID, "error", runErr)
		result.Status = workflows.StatusAborted
		result.ErrorMessage = runErr.Error()
	}
	logger.Info("Submission activity finished",
		"runID", result.RunID,
		"succeeded", len(summary.Succeeded),
		"failed", len(summary.Failed),
	)
	return result, nil
}
