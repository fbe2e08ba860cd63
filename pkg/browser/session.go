package browser

import (
	"context"
	"time"

	"dev/bravebird/form-submitter/pkg/locator"
	"dev/bravebird/form-submitter/pkg/models"
)

// Element is an opaque handle to a node on the current page
type Element interface {
	// Describe names the element for logs, usually the rule that found it
	Describe() string
}

// ElementState is what the orchestrator needs to know about a control
type ElementState struct {
	Visible bool
	Checked bool
}

// UploadOptions controls the file chooser
type UploadOptions struct {
	// PrimeDirectory makes the adapter resolve the upload directory again instead of
	// reusing the one remembered from an earlier upload. The rod adapter hands files to
	// the chooser directly, so for it this only refreshes the remembered directory.
	PrimeDirectory bool
}

// Condition is one way a page can signal success. Set exactly one field.
type Condition struct {
	URLContains string
	Field       locator.FieldID
}

func (c Condition) String() string {
	if c.URLContains != "" {
		return "url contains " + c.URLContains
	}
	return "field " + string(c.Field)
}

// Snapshot is the page state captured for diagnostics
type Snapshot struct {
	URL        string
	HTML       string
	Screenshot []byte
	TakenAt    time.Time
}

// Session drives one authenticated browser. Every call is bounded by a timeout and
// none of them retry.
type Session interface {
	Login(ctx context.Context, creds models.Credentials) error
	Navigate(ctx context.Context, url string) error
	Locate(ctx context.Context, field locator.FieldID) (Element, error)
	// LocateAll returns every match for the field; an empty result is not an error
	LocateAll(ctx context.Context, field locator.FieldID) ([]Element, error)
	Text(ctx context.Context, el Element) (string, error)
	State(ctx context.Context, el Element) (ElementState, error)
	SetText(ctx context.Context, el Element, value string) error
	Click(ctx context.Context, el Element) error
	// UploadFile attaches path through el and returns the path that was uploaded, as given
	UploadFile(ctx context.Context, el Element, path string, opts UploadOptions) (string, error)
	// WaitUntil blocks until any condition holds and returns it
	WaitUntil(ctx context.Context, timeout time.Duration, conds ...Condition) (Condition, error)
	// DismissDialog closes an open JavaScript dialog, reporting whether there was one
	DismissDialog(ctx context.Context) (bool, error)
	Snapshot(ctx context.Context) (Snapshot, error)
	// AdoptOpenPage moves the session onto another open tab when the current one has
	// closed, reporting whether there was one
	AdoptOpenPage(ctx context.Context) (bool, error)
	// Restart replaces a dead browser with a fresh, unauthenticated one
	Restart(ctx context.Context) error
	Close() error
}
