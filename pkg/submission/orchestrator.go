package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dev/bravebird/form-submitter/pkg/browser"
	"dev/bravebird/form-submitter/pkg/models"
	"dev/bravebird/form-submitter/pkg/report"
	"dev/bravebird/form-submitter/pkg/tracker"
)

// Orchestrator submits a payload to each target at most once, across runs.
// It is not safe for concurrent use; one Run at a time.
type Orchestrator struct {
	session browser.Session
	tracker *tracker.Tracker
	creds   models.Credentials
	policy  RetryPolicy
	flow    FlowConfig
	sinks   MultiSink
	diagDir string
	diag    *Diagnostics
	pacer   *rate.Limiter
	logger  *zap.Logger
	runID   string
	now     func() time.Time

	authenticated bool
	uploadPrimed  bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithPolicy(p RetryPolicy) Option { return func(o *Orchestrator) { o.policy = p } }
func WithFlow(f FlowConfig) Option    { return func(o *Orchestrator) { o.flow = f } }
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }
func WithRunID(id string) Option      { return func(o *Orchestrator) { o.runID = id } }

// WithSinks adds event sinks; events are always logged as well
func WithSinks(sinks ...EventSink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// WithDiagnostics saves a page snapshot under dir after every failed attempt
func WithDiagnostics(dir string) Option {
	return func(o *Orchestrator) { o.diagDir = dir }
}

// WithPacing leaves at least d between the starts of consecutive targets
func WithPacing(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pacer = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// New creates an orchestrator that owns session for its lifetime
func New(session browser.Session, tr *tracker.Tracker, creds models.Credentials, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		session: session,
		tracker: tr,
		creds:   creds,
		policy:  DefaultRetryPolicy(),
		flow:    DefaultFlowConfig(),
		logger:  zap.NewNop(),
		runID:   uuid.New().String(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	o.logger = o.logger.Named("orchestrator").With(zap.String("run_id", o.runID))
	o.sinks = append(MultiSink{NewLogSink(o.logger)}, o.sinks...)
	if o.diagDir != "" {
		o.diag = NewDiagnostics(o.diagDir, o.logger)
	}
	return o, nil
}

// RunID identifies this orchestrator's run in events and the store lock
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run processes targets in order and returns the summary. The error is non-nil when the
// run stopped early: rejected credentials, a store failure or cancellation. A summary is
// returned either way.
func (o *Orchestrator) Run(ctx context.Context, targets []models.Target) (models.RunSummary, error) {
	targets = models.UniqueTargets(targets)

	release, err := o.tracker.Open(ctx, o.runID)
	if err != nil {
		return models.RunSummary{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Error("Failed to release tracker lock", zap.Error(err))
		}
	}()

	o.logger.Info("Starting run", zap.Int("targets", len(targets)), zap.Int("max_attempts", o.policy.MaxAttempts))

	var runErr error
	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("Run cancelled", zap.Int("remaining", len(targets)-i))
			runErr = err
			break
		}
		if err := o.submit(ctx, t); err != nil {
			runErr = err
			break
		}
	}

	summary, err := report.Summarize(context.WithoutCancel(ctx), targets, o.tracker)
	if err != nil {
		return models.RunSummary{}, errors.Join(runErr, err)
	}
	o.logger.Info("Run finished",
		zap.Int("succeeded", len(summary.Succeeded)),
		zap.Int("failed", len(summary.Failed)),
		zap.Bool("aborted", runErr != nil),
	)
	return summary, runErr
}

// submit drives one target through its attempts. It returns an error only when the whole
// run has to stop.
func (o *Orchestrator) submit(ctx context.Context, t models.Target) error {
	key := t.Key()
	logger := o.logger.With(zap.String("url", t.URL))

	done, err := o.tracker.IsDone(ctx, key)
	if err != nil {
		return err
	}
	if done {
		o.emit(ctx, models.AttemptEvent{URL: t.URL, Outcome: models.OutcomeSkipped})
		return nil
	}

	if o.pacer != nil {
		if err := o.pacer.Wait(ctx); err != nil {
			return err
		}
	}

	var previous []error
	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := o.backoff(ctx); err != nil {
				logger.Warn("Cancelled before retry", zap.Int("next_attempt", attempt))
				return err
			}
		}

		// A started attempt runs to completion and persists its outcome even if the run
		// is cancelled meanwhile.
		actx := context.WithoutCancel(ctx)

		rec, err := o.tracker.MarkInProgress(actx, key)
		if errors.Is(err, models.ErrAlreadyTerminal) {
			logger.Warn("Target succeeded elsewhere, skipping")
			return nil
		}
		if err != nil {
			return err
		}

		start := o.now()
		uploaded, err := o.attempt(actx, t)
		ev := models.AttemptEvent{
			URL:          t.URL,
			Attempt:      rec.Attempts,
			Elapsed:      o.now().Sub(start),
			UploadedFile: uploaded,
		}

		if err == nil {
			if _, err := o.tracker.MarkSucceeded(actx, key); err != nil {
				if errors.Is(err, models.ErrAlreadyTerminal) {
					logger.Error("Target was already marked succeeded", zap.Error(err))
					return nil
				}
				return err
			}
			ev.Outcome = models.OutcomeSucceeded
			o.emit(ctx, ev)
			return nil
		}

		retryable := o.policy.retryable(err, previous)
		previous = append(previous, err)

		if o.diag != nil {
			ev.SnapshotPath, ev.ScreenshotPath = o.diag.Capture(actx, o.session, key, rec.Attempts)
		}
		if _, merr := o.tracker.MarkFailed(actx, key, err); merr != nil {
			return merr
		}

		ev.Outcome = models.OutcomeFailed
		if retryable && attempt < o.policy.MaxAttempts {
			ev.Outcome = models.OutcomeRetrying
		}
		ev.ErrorKind = models.KindOf(err)
		ev.Error = err.Error()
		o.emit(ctx, ev)

		if models.IsKind(err, models.KindSessionLost) {
			o.recoverSession(actx)
		}
		if models.IsKind(err, models.KindAuth) {
			logger.Error("Login rejected, aborting run", zap.Error(err))
			return err
		}
		if !retryable {
			return nil
		}
	}
	return nil
}

// attempt logs in if needed and fills the form once
func (o *Orchestrator) attempt(ctx context.Context, t models.Target) (string, error) {
	if !o.authenticated {
		if err := o.session.Login(ctx, o.creds); err != nil {
			return "", err
		}
		o.authenticated = true
	}
	return o.fillForm(ctx, t)
}

// recoverSession swaps a dead browser for a new one; the next attempt logs in again
func (o *Orchestrator) recoverSession(ctx context.Context) {
	o.authenticated = false
	if err := o.session.Restart(ctx); err != nil {
		o.logger.Error("Failed to restart browser session", zap.Error(err))
	}
}

func (o *Orchestrator) backoff(ctx context.Context) error {
	if o.policy.Backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.policy.Backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) emit(ctx context.Context, ev models.AttemptEvent) {
	ev.RunID = o.runID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = o.now().UTC()
	}
	if err := o.sinks.Emit(context.WithoutCancel(ctx), ev); err != nil {
		o.logger.Warn("Failed to publish attempt event", zap.Error(err))
	}
}
