package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/form-submitter/pkg/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		op            string
		err           error
		wantKind      models.ErrorKind
		wantTransient bool
	}{
		{"deadline", "click", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), models.KindTimeout, false},
		{"closed target", "click", errors.New("{-32001 Session with given id not found. }"), models.KindSessionLost, false},
		{"websocket gone", "text", errors.New("websocket: close 1006 (abnormal closure)"), models.KindSessionLost, false},
		{"element missing", "locate", &rod.ElementNotFoundError{}, models.KindElementNotFound, false},
		{"not interactable", "click", &rod.NotInteractableError{}, models.KindElementNotFound, true},
		{"navigation", "navigate", errors.New("net::ERR_NAME_NOT_RESOLVED"), models.KindNavigation, false},
		{"other", "set_text", errors.New("something odd"), models.KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.op, tt.err)
			assert.Equal(t, tt.wantKind, models.KindOf(err))
			assert.Equal(t, tt.wantTransient, models.IsTransient(err))
		})
	}
}

func TestClassifyKeepsCancellationAndTypedErrors(t *testing.T) {
	assert.ErrorIs(t, classify("click", context.Canceled), context.Canceled)
	assert.Equal(t, models.KindOf(classify("click", context.Canceled)), models.KindUnknown)

	typed := models.UploadError(errors.New("bad file"))
	assert.Same(t, typed, classify("click", typed))
	assert.Nil(t, classify("click", nil))
}

func TestUploadErrorKeepsSessionLoss(t *testing.T) {
	assert.Equal(t, models.KindSessionLost, models.KindOf(uploadError(errors.New("target closed"))))
	assert.Equal(t, models.KindUpload, models.KindOf(uploadError(errors.New("file chooser rejected"))))
}

func TestUploadStatePrimesOnce(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "paper.pdf")
	second := filepath.Join(dir, "camera-ready.pdf")
	require.NoError(t, os.WriteFile(first, []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("%PDF-1.4"), 0o644))

	var u uploadState

	plan, err := u.prepare(first, false)
	require.NoError(t, err)
	assert.True(t, plan.primed, "nothing remembered yet")
	assert.Equal(t, first, plan.path)
	assert.Equal(t, first, plan.abs)

	plan, err = u.prepare(second, false)
	require.NoError(t, err)
	assert.False(t, plan.primed)
	assert.Equal(t, second, plan.abs, "the requested file is always the one uploaded")

	plan, err = u.prepare(first, true)
	require.NoError(t, err)
	assert.True(t, plan.primed)
}

func TestUploadStateKeepsRequestedPath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(abs, []byte("%PDF-1.4"), 0o644))
	wd, err := os.Getwd()
	require.NoError(t, err)
	rel, err := filepath.Rel(wd, abs)
	require.NoError(t, err)

	var u uploadState
	plan, err := u.prepare(rel, true)
	require.NoError(t, err)
	assert.Equal(t, rel, plan.path, "callers get back the path they asked for")
	assert.Equal(t, abs, plan.abs)
}

func TestUploadStateDirectoryChange(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	fa := filepath.Join(a, "x.pdf")
	fb := filepath.Join(b, "y.pdf")
	require.NoError(t, os.WriteFile(fa, nil, 0o644))
	require.NoError(t, os.WriteFile(fb, nil, 0o644))

	var u uploadState
	_, err := u.prepare(fa, true)
	require.NoError(t, err)

	plan, err := u.prepare(fb, false)
	require.NoError(t, err)
	assert.True(t, plan.primed, "a different directory must be resolved again")
	assert.Equal(t, fb, plan.abs)
	assert.Equal(t, b, u.directory())

	u.reset()
	assert.Empty(t, u.directory())
}

func TestUploadStateRejectsBadPaths(t *testing.T) {
	var u uploadState
	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"missing", filepath.Join(t.TempDir(), "nope.pdf")},
		{"directory", t.TempDir()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := u.prepare(tt.path, false)
			assert.Error(t, err)
		})
	}
	assert.Empty(t, u.directory())
}

func TestLoginErrors(t *testing.T) {
	cause := errors.New("no rule matched")
	tests := []struct {
		name     string
		err      error
		wantKind models.ErrorKind
	}{
		{"form missing", models.ElementNotFound("username", false, cause), models.KindAuth},
		{"form still loading", models.ElementNotFound("username", true, cause), models.KindElementNotFound},
		{"navigation", models.NavigationError("https://login", cause), models.KindNavigation},
		{"session lost", models.SessionLost("set_text", cause), models.KindSessionLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKind, models.KindOf(loginError(tt.err)))
		})
	}
}

func TestLoginWaitErrors(t *testing.T) {
	timeout := models.TimeoutError("wait", errors.New("url never matched"))
	err := loginWaitError("/Conference/Recent", timeout)
	assert.Equal(t, models.KindAuth, models.KindOf(err))
	assert.False(t, models.IsTransient(err))
	assert.Contains(t, err.Error(), "/Conference/Recent")

	lost := models.SessionLost("wait", errors.New("target closed"))
	assert.Same(t, lost, loginWaitError("/Conference/Recent", lost))
	assert.ErrorIs(t, loginWaitError("/x", context.Canceled), context.Canceled)
}

func TestNavErrors(t *testing.T) {
	const url = "https://cmt.example/Conference/A/Submission/Create"
	tests := []struct {
		name     string
		err      error
		wantKind models.ErrorKind
	}{
		{"dns", errors.New("net::ERR_NAME_NOT_RESOLVED"), models.KindNavigation},
		{"deadline", fmt.Errorf("load: %w", context.DeadlineExceeded), models.KindTimeout},
		{"tab closed", errors.New("target closed"), models.KindSessionLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := navError(url, tt.err)
			assert.Equal(t, tt.wantKind, models.KindOf(err))
		})
	}

	err := navError(url, errors.New("net::ERR_CONNECTION_RESET"))
	assert.Contains(t, err.Error(), url)
	assert.ErrorContains(t, err, "ERR_CONNECTION_RESET")
}

func TestMissingElementTransience(t *testing.T) {
	cause := models.ElementNotFound("", false, errors.New("no rule matched"))
	tests := []struct {
		readyState    string
		wantTransient bool
	}{
		{"loading", true},
		{"interactive", true},
		{"complete", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run("state "+tt.readyState, func(t *testing.T) {
			err := missingElement("title", tt.readyState, cause)
			assert.Equal(t, models.KindElementNotFound, models.KindOf(err))
			assert.Equal(t, tt.wantTransient, models.IsTransient(err))
		})
	}
}

func TestConditionString(t *testing.T) {
	assert.Equal(t, "url contains /Conference/Recent", Condition{URLContains: "/Conference/Recent"}.String())
	assert.Equal(t, "field done_button", Condition{Field: "done_button"}.String())
}
