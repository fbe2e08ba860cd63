package submission

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dev/bravebird/form-submitter/pkg/models"
)

func TestDefaultIsRetryable(t *testing.T) {
	cause := errors.New("cause")
	upload := models.UploadError(cause)

	tests := []struct {
		name     string
		err      error
		previous []error
		want     bool
	}{
		{"auth", models.AuthError(cause), nil, false},
		{"already terminal", models.ErrAlreadyTerminal, nil, false},
		{"element missing", models.ElementNotFound("title", false, cause), nil, false},
		{"element missing while loading", models.ElementNotFound("title", true, cause), nil, true},
		{"navigation", models.NavigationError("https://a", cause), nil, true},
		{"timeout", models.TimeoutError("wait", cause), nil, true},
		{"session lost", models.SessionLost("click", cause), nil, true},
		{"first upload failure", upload, nil, true},
		{"second upload failure", upload, []error{models.TimeoutError("wait", cause), upload}, false},
		{"upload after other failures", upload, []error{models.TimeoutError("wait", cause)}, true},
		{"unclassified", cause, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultIsRetryable(tt.err, tt.previous))
		})
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultRetryPolicy().Validate())
	assert.Error(t, RetryPolicy{MaxAttempts: 0}.Validate())
	assert.Error(t, RetryPolicy{MaxAttempts: 1, Backoff: -time.Second}.Validate())

	// a nil classifier falls back to the default one
	p := RetryPolicy{MaxAttempts: 1}
	assert.False(t, p.retryable(models.AuthError(errors.New("x")), nil))
}

func TestLogSinkWritesStructuredFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	err := sink.Emit(context.Background(), models.AttemptEvent{
		RunID:     "run-1",
		URL:       "https://a",
		Attempt:   2,
		Outcome:   models.OutcomeRetrying,
		ErrorKind: models.KindTimeout,
		Error:     "TIMEOUT_ERROR during wait",
	})
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "https://a", fields["url"])
	assert.Equal(t, int64(2), fields["attempt"])
	assert.Equal(t, "retrying", fields["outcome"])
	assert.Equal(t, "TIMEOUT_ERROR", fields["error_kind"])
}

func TestMultiSinkCollectsErrors(t *testing.T) {
	calls := 0
	ok := SinkFunc(func(context.Context, models.AttemptEvent) error { calls++; return nil })
	bad := SinkFunc(func(context.Context, models.AttemptEvent) error { calls++; return errors.New("broker down") })

	err := MultiSink{ok, bad, nil, ok}.Emit(context.Background(), models.AttemptEvent{})
	assert.EqualError(t, err, "broker down")
	assert.Equal(t, 3, calls)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "https_cmt.example_Conference_A_Submission_Create", slug(urlA))
	assert.LessOrEqual(t, len(slug(string(make([]byte, 300)))), 80)
}

func TestCheckDocumentRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a pdf"), 0o644))
	empty := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	for name, path := range map[string]string{
		"missing":   filepath.Join(dir, "missing.pdf"),
		"directory": dir,
		"empty":     empty,
		"garbage":   garbage,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := CheckDocument(path)
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.KindUpload))
			assert.False(t, models.IsTransient(err))
		})
	}
}
