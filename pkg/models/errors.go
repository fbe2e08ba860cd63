package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures raised while submitting a target
type ErrorKind string

const (
	KindAuth            ErrorKind = "AUTH_ERROR"
	KindElementNotFound ErrorKind = "ELEMENT_NOT_FOUND"
	KindNavigation      ErrorKind = "NAVIGATION_ERROR"
	KindTimeout         ErrorKind = "TIMEOUT_ERROR"
	KindUpload          ErrorKind = "UPLOAD_ERROR"
	KindSessionLost     ErrorKind = "SESSION_LOST"
	KindAlreadyTerminal ErrorKind = "ALREADY_TERMINAL"
	KindUnknown         ErrorKind = "UNKNOWN_ERROR"
)

// ErrAlreadyTerminal is returned when a write would overwrite a Succeeded record
var ErrAlreadyTerminal = errors.New("submission record is already terminal")

// ErrLocked is returned when another run holds the submission store
var ErrLocked = errors.New("submission store is locked by another run")

// SubmissionError carries the kind of a failure and where it happened
type SubmissionError struct {
	Kind  ErrorKind
	Op    string // adapter operation, e.g. "navigate", "locate"
	Field string // logical field for locate failures
	// Transient marks an element lookup that failed while the page was still loading
	Transient bool
	Err       error
}

func (e *SubmissionError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += " during " + e.Op
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// NewError builds a SubmissionError of the given kind
func NewError(kind ErrorKind, op string, err error) *SubmissionError {
	return &SubmissionError{Kind: kind, Op: op, Err: err}
}

// AuthError wraps a login failure
func AuthError(err error) *SubmissionError {
	return NewError(KindAuth, "login", err)
}

// NavigationError wraps a failed page load
func NavigationError(url string, err error) *SubmissionError {
	return NewError(KindNavigation, "navigate", fmt.Errorf("%s: %w", url, err))
}

// TimeoutError wraps a condition that was not met in time
func TimeoutError(op string, err error) *SubmissionError {
	return NewError(KindTimeout, op, err)
}

// UploadError wraps a failed file upload
func UploadError(err error) *SubmissionError {
	return NewError(KindUpload, "upload", err)
}

// SessionLost wraps a driver error meaning the browser window or session is gone
func SessionLost(op string, err error) *SubmissionError {
	return NewError(KindSessionLost, op, err)
}

// ElementNotFound reports that every locator rule for field was exhausted
func ElementNotFound(field string, transient bool, err error) *SubmissionError {
	return &SubmissionError{
		Kind:      KindElementNotFound,
		Op:        "locate",
		Field:     field,
		Transient: transient,
		Err:       err,
	}
}

// KindOf returns the kind of err, KindAlreadyTerminal for the sentinel, KindUnknown otherwise
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrAlreadyTerminal) {
		return KindAlreadyTerminal
	}
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a SubmissionError of kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether err is an element lookup that raced a page load
func IsTransient(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se) && se.Transient
}
