package submission

import (
	"errors"
	"time"

	"dev/bravebird/form-submitter/pkg/models"
)

// RetryPolicy bounds how often a target is attempted within one run
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	// IsRetryable decides from the latest error and the earlier ones for the same target
	IsRetryable func(err error, previous []error) bool
}

// DefaultRetryPolicy is three attempts two seconds apart
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     2 * time.Second,
		IsRetryable: DefaultIsRetryable,
	}
}

// Validate checks the policy can drive a run
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if p.Backoff < 0 {
		return errors.New("backoff must not be negative")
	}
	return nil
}

func (p RetryPolicy) retryable(err error, previous []error) bool {
	if p.IsRetryable == nil {
		return DefaultIsRetryable(err, previous)
	}
	return p.IsRetryable(err, previous)
}

// DefaultIsRetryable classifies by error kind. Upload failures get one more try.
func DefaultIsRetryable(err error, previous []error) bool {
	switch models.KindOf(err) {
	case models.KindAuth, models.KindAlreadyTerminal:
		return false
	case models.KindElementNotFound:
		return models.IsTransient(err)
	case models.KindUpload:
		for _, prev := range previous {
			if models.IsKind(prev, models.KindUpload) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
