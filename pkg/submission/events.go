package submission

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/models"
)

// EventSink receives one event per attempt and per skipped target
type EventSink interface {
	Emit(ctx context.Context, ev models.AttemptEvent) error
}

// SinkFunc adapts a function to EventSink
type SinkFunc func(ctx context.Context, ev models.AttemptEvent) error

func (f SinkFunc) Emit(ctx context.Context, ev models.AttemptEvent) error {
	return f(ctx, ev)
}

// MultiSink fans an event out to every sink
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev models.AttemptEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to a zap logger
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Emit(_ context.Context, ev models.AttemptEvent) error {
	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.String("url", ev.URL),
		zap.Int("attempt", ev.Attempt),
		zap.String("outcome", string(ev.Outcome)),
		zap.Duration("elapsed", ev.Elapsed),
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error_kind", string(ev.ErrorKind)), zap.String("error", ev.Error))
	}
	if ev.UploadedFile != "" {
		fields = append(fields, zap.String("uploaded_file", ev.UploadedFile))
	}
	if ev.SnapshotPath != "" || ev.ScreenshotPath != "" {
		fields = append(fields, zap.String("snapshot", ev.SnapshotPath), zap.String("screenshot", ev.ScreenshotPath))
	}

	switch ev.Outcome {
	case models.OutcomeFailed:
		s.logger.Error("Submission attempt failed", fields...)
	case models.OutcomeRetrying:
		s.logger.Warn("Submission attempt failed, will retry", fields...)
	case models.OutcomeSkipped:
		s.logger.Info("Already submitted, skipping", fields...)
	default:
		s.logger.Info("Submission succeeded", fields...)
	}
	return nil
}
