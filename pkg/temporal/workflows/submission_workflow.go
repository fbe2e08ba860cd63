package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"dev/bravebird/form-submitter/pkg/models"
)

const (
	// TaskQueue is shared by the worker and every client that starts runs
	TaskQueue = "form-submitter"

	WorkflowName     = "SubmissionRunWorkflow"
	RunActivityName  = "RunSubmissionsActivity"
	ProgressQuery    = "getProgress"
	defaultRunWindow = 2 * time.Hour
)

// RunStatus is the coarse state reported by the progress query
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusAborted   RunStatus = "aborted"
	StatusFailed    RunStatus = "failed"
)

// SubmissionRunInput is the workflow argument. Targets are processed in order.
type SubmissionRunInput struct {
	RunID   string          `json:"run_id"`
	Targets []models.Target `json:"targets"`
	// Timeout bounds the whole run in seconds; zero means two hours.
	Timeout int `json:"timeout"`
}

// SubmissionRunResult is returned by both the activity and the workflow
type SubmissionRunResult struct {
	RunID        string            `json:"run_id"`
	Status       RunStatus         `json:"status"`
	Summary      models.RunSummary `json:"summary"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Duration     time.Duration     `json:"duration_ns"`
}

// SubmissionRunWorkflow runs one submission pass in a single activity. The browser
// session and the tracker lock live inside that activity, so it is never retried by
// Temporal: a second attempt would race the first one's store lock. Rerunning the
// workflow is safe because the tracker skips targets that already succeeded.
func SubmissionRunWorkflow(ctx workflow.Context, input SubmissionRunInput) (SubmissionRunResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting submission run", "runID", input.RunID, "targets", len(input.Targets))

	result := SubmissionRunResult{
		RunID:  input.RunID,
		Status: StatusRunning,
	}

	err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (SubmissionRunResult, error) {
		return result, nil
	})
	if err != nil {
		logger.Error("Failed to register query handler", "error", err)
	}

	startTime := workflow.Now(ctx)

	window := defaultRunWindow
	if input.Timeout > 0 {
		window = time.Duration(input.Timeout) * time.Second
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: window,
		HeartbeatTimeout:    5 * time.Minute,
		WaitForCancellation: true,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var out SubmissionRunResult
	err = workflow.ExecuteActivity(ctx, RunActivityName, input).Get(ctx, &out)
	result.Duration = workflow.Now(ctx).Sub(startTime)
	if err != nil {
		logger.Error("Submission run failed", "runID", input.RunID, "error", err)
		result.Status = StatusFailed
		result.ErrorMessage = err.Error()
		return result, nil
	}

	result.Status = out.Status
	result.Summary = out.Summary
	result.ErrorMessage = out.ErrorMessage
	logger.Info("Submission run finished",
		"runID", input.RunID,
		"status", result.Status,
		"succeeded", len(result.Summary.Succeeded),
		"failed", len(result.Summary.Failed),
	)
	return result, nil
}
