package observability

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// temporalLogger routes the Temporal SDK's key/value logging into zap
type temporalLogger struct {
	s *zap.SugaredLogger
}

// TemporalLogger adapts l for client.Options.Logger
func TemporalLogger(l *zap.Logger) log.Logger {
	return &temporalLogger{s: l.Named("temporal").WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (t *temporalLogger) Debug(msg string, keyvals ...interface{}) { t.s.Debugw(msg, keyvals...) }
func (t *temporalLogger) Info(msg string, keyvals ...interface{})  { t.s.Infow(msg, keyvals...) }
func (t *temporalLogger) Warn(msg string, keyvals ...interface{})  { t.s.Warnw(msg, keyvals...) }
func (t *temporalLogger) Error(msg string, keyvals ...interface{}) { t.s.Errorw(msg, keyvals...) }

// With implements log.WithLogger so workflow and activity loggers keep their tags
func (t *temporalLogger) With(keyvals ...interface{}) log.Logger {
	return &temporalLogger{s: t.s.With(keyvals...)}
}
