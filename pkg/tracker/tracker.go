package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/models"
)

// maxSwapRetries bounds the compare-and-swap loop when another writer races us
const maxSwapRetries = 5

// ErrConflict is returned when a record kept changing under a write
var ErrConflict = errors.New("submission record changed concurrently")

// Tracker enforces the record lifecycle on top of a Store:
// Succeeded is terminal, attempts only grow, records are never deleted.
type Tracker struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a tracker over store
func New(store Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  store,
		logger: logger.Named("tracker"),
		now:    time.Now,
	}
}

// Open takes the store's exclusive run lock and resets records a crashed run left
// InProgress. The returned release must be called when the run ends.
func (t *Tracker) Open(ctx context.Context, owner string) (ReleaseFunc, error) {
	release, err := t.store.Acquire(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire tracker lock: %w", err)
	}

	recovered, err := t.Recover(ctx)
	if err != nil {
		_ = release(context.WithoutCancel(ctx))
		return nil, err
	}
	if recovered > 0 {
		t.logger.Warn("Reset interrupted submissions", zap.Int("count", recovered))
	}
	return release, nil
}

// Close closes the underlying store
func (t *Tracker) Close() error {
	return t.store.Close()
}

// Get returns the record for key and whether one exists
func (t *Tracker) Get(ctx context.Context, key string) (*models.SubmissionRecord, bool, error) {
	rec, err := t.store.Load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load record %s: %w", key, err)
	}
	return rec, rec != nil, nil
}

// IsDone reports whether key has already been submitted successfully
func (t *Tracker) IsDone(ctx context.Context, key string) (bool, error) {
	rec, _, err := t.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return rec.IsDone(), nil
}

// MarkInProgress counts a new attempt for key
func (t *Tracker) MarkInProgress(ctx context.Context, key string) (*models.SubmissionRecord, error) {
	return t.update(ctx, key, func(rec *models.SubmissionRecord) error {
		if rec.Status == models.StatusSucceeded {
			return models.ErrAlreadyTerminal
		}
		rec.Status = models.StatusInProgress
		rec.Attempts++
		return nil
	})
}

// MarkSucceeded moves key to the terminal state
func (t *Tracker) MarkSucceeded(ctx context.Context, key string) (*models.SubmissionRecord, error) {
	return t.update(ctx, key, func(rec *models.SubmissionRecord) error {
		if rec.Status == models.StatusSucceeded {
			return models.ErrAlreadyTerminal
		}
		rec.Status = models.StatusSucceeded
		rec.LastError = ""
		return nil
	})
}

// MarkFailed records cause as the last error for key
func (t *Tracker) MarkFailed(ctx context.Context, key string, cause error) (*models.SubmissionRecord, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return t.update(ctx, key, func(rec *models.SubmissionRecord) error {
		if rec.Status == models.StatusSucceeded {
			return models.ErrAlreadyTerminal
		}
		rec.Status = models.StatusFailed
		rec.LastError = msg
		return nil
	})
}

// Records returns every stored record ordered by key
func (t *Tracker) Records(ctx context.Context) ([]models.SubmissionRecord, error) {
	recs, err := t.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return recs, nil
}

// Recover resets InProgress records to NotStarted, keeping their attempt counts
func (t *Tracker) Recover(ctx context.Context) (int, error) {
	recs, err := t.Records(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, r := range recs {
		if r.Status != models.StatusInProgress {
			continue
		}
		_, err := t.update(ctx, r.TargetKey, func(rec *models.SubmissionRecord) error {
			if rec.Status == models.StatusInProgress {
				rec.Status = models.StatusNotStarted
			}
			return nil
		})
		if err != nil {
			return n, fmt.Errorf("failed to recover record %s: %w", r.TargetKey, err)
		}
		n++
	}
	return n, nil
}

// update applies fn to the current record for key and writes it back with
// compare-and-swap, retrying when another writer got there first.
func (t *Tracker) update(ctx context.Context, key string, fn func(*models.SubmissionRecord) error) (*models.SubmissionRecord, error) {
	for i := 0; i < maxSwapRetries; i++ {
		current, err := t.store.Load(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load record %s: %w", key, err)
		}

		fresh := current == nil
		next := models.SubmissionRecord{TargetKey: key, Status: models.StatusNotStarted}
		if !fresh {
			next = *current
		}
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.Version++
		next.UpdatedAt = t.now().UTC()

		var ok bool
		if fresh {
			ok, err = t.store.Create(ctx, &next)
		} else {
			ok, err = t.store.Swap(ctx, &next, current.Version)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write record %s: %w", key, err)
		}
		if ok {
			return &next, nil
		}
		t.logger.Debug("Record changed during update, retrying", zap.String("key", key), zap.Int("try", i+1))
	}
	return nil, fmt.Errorf("%w: %s", ErrConflict, key)
}
