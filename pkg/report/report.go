package report

import (
	"context"
	"fmt"
	"io"

	"dev/bravebird/form-submitter/pkg/models"
)

const (
	notAttempted = "not attempted"
	interrupted  = "interrupted while in progress"
)

// RecordReader is the read side of the submission tracker
type RecordReader interface {
	Get(ctx context.Context, key string) (*models.SubmissionRecord, bool, error)
}

// Summarize lists targets in input order as succeeded or failed. Targets without a
// Succeeded record count as failed. It only reads.
func Summarize(ctx context.Context, targets []models.Target, records RecordReader) (models.RunSummary, error) {
	summary := models.RunSummary{
		Succeeded: []string{},
		Failed:    []models.FailedTarget{},
	}

	for _, t := range models.UniqueTargets(targets) {
		rec, found, err := records.Get(ctx, t.Key())
		if err != nil {
			return models.RunSummary{}, fmt.Errorf("failed to summarize %s: %w", t.URL, err)
		}
		if found && rec.IsDone() {
			summary.Succeeded = append(summary.Succeeded, t.URL)
			continue
		}
		summary.Failed = append(summary.Failed, models.FailedTarget{URL: t.URL, LastError: lastError(rec)})
	}
	return summary, nil
}

func lastError(rec *models.SubmissionRecord) string {
	switch {
	case rec == nil:
		return notAttempted
	case rec.LastError != "":
		return rec.LastError
	case rec.Status == models.StatusInProgress:
		return interrupted
	default:
		return notAttempted
	}
}

// Render writes one line per target followed by the totals
func Render(w io.Writer, s models.RunSummary) error {
	for _, u := range s.Succeeded {
		if _, err := fmt.Fprintf(w, "✓ %s\n", u); err != nil {
			return err
		}
	}
	for _, f := range s.Failed {
		if _, err := fmt.Fprintf(w, "X %s: %s\n", f.URL, f.LastError); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n%d succeeded, %d failed, %d total\n", len(s.Succeeded), len(s.Failed), s.Total())
	return err
}
