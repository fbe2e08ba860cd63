package models

import (
	"time"
)

// ==================== Input Types ====================

// Credentials are the account used to log in once per run
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"` // Don't serialize
}

// Payload is what gets submitted to every target
type Payload struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	PDFPath  string `json:"pdf_path"`
	Category string `json:"category"`
	// CategoryFallbacks are tried in order when Category is not offered by the target
	CategoryFallbacks []string `json:"category_fallbacks,omitempty"`
}

// Categories returns Category followed by the fallbacks, skipping blanks and repeats
func (p Payload) Categories() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range append([]string{p.Category}, p.CategoryFallbacks...) {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Target is one submission URL plus the payload to submit there
type Target struct {
	URL     string  `json:"url"`
	Payload Payload `json:"payload"`
}

// Key returns the tracker key for the target
func (t Target) Key() string {
	return t.URL
}

// NewTargets builds one Target per URL, preserving order
func NewTargets(urls []string, payload Payload) []Target {
	targets := make([]Target, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, Target{URL: u, Payload: payload})
	}
	return targets
}

// UniqueTargets drops repeated keys, keeping the first occurrence
func UniqueTargets(targets []Target) []Target {
	seen := make(map[string]bool, len(targets))
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if seen[t.Key()] {
			continue
		}
		seen[t.Key()] = true
		out = append(out, t)
	}
	return out
}

// ==================== Tracker Types ====================

// SubmissionStatus represents the state of a target's submission
type SubmissionStatus string

const (
	StatusNotStarted SubmissionStatus = "not_started"
	StatusInProgress SubmissionStatus = "in_progress"
	StatusSucceeded  SubmissionStatus = "succeeded"
	StatusFailed     SubmissionStatus = "failed"
)

// Valid reports whether s is one of the known statuses
func (s SubmissionStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// SubmissionRecord is the persisted outcome for a single target
type SubmissionRecord struct {
	TargetKey string           `json:"target_key" db:"target_key"`
	Status    SubmissionStatus `json:"status" db:"status"`
	Attempts  int              `json:"attempts" db:"attempts"`
	LastError string           `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
	// Version is bumped on every write and used for compare-and-swap
	Version int64 `json:"version" db:"version"`
}

// IsDone reports whether the record is in the terminal success state
func (r *SubmissionRecord) IsDone() bool {
	return r != nil && r.Status == StatusSucceeded
}

// ==================== Run Types ====================

// AttemptOutcome is the result of one attempt at a target
type AttemptOutcome string

const (
	OutcomeSucceeded AttemptOutcome = "succeeded"
	OutcomeRetrying  AttemptOutcome = "retrying"
	OutcomeFailed    AttemptOutcome = "failed"
	OutcomeSkipped   AttemptOutcome = "skipped"
)

// AttemptEvent is emitted for every attempt (and skip) during a run
type AttemptEvent struct {
	RunID          string         `json:"run_id"`
	URL            string         `json:"url"`
	Attempt        int            `json:"attempt"`
	Outcome        AttemptOutcome `json:"outcome"`
	ErrorKind      ErrorKind      `json:"error_kind,omitempty"`
	Error          string         `json:"error,omitempty"`
	Elapsed        time.Duration  `json:"elapsed_ns"`
	UploadedFile   string         `json:"uploaded_file,omitempty"`
	SnapshotPath   string         `json:"snapshot_path,omitempty"`
	ScreenshotPath string         `json:"screenshot_path,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// FailedTarget pairs a URL with its last recorded error
type FailedTarget struct {
	URL       string `json:"url"`
	LastError string `json:"last_error"`
}

// RunSummary is the final report handed back to the caller
type RunSummary struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []FailedTarget `json:"failed"`
}

// Clean reports whether every target succeeded
func (s RunSummary) Clean() bool {
	return len(s.Failed) == 0
}

// Total is the number of targets covered by the summary
func (s RunSummary) Total() int {
	return len(s.Succeeded) + len(s.Failed)
}
