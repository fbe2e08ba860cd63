package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"dev/bravebird/form-submitter/pkg/models"
)

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(SubmissionRunWorkflow)
	env.RegisterActivityWithOptions(
		func(context.Context, SubmissionRunInput) (SubmissionRunResult, error) {
			return SubmissionRunResult{}, nil
		},
		activity.RegisterOptions{Name: RunActivityName},
	)
	return env
}

func testInput() SubmissionRunInput {
	return SubmissionRunInput{
		RunID:   "run-1",
		Targets: models.NewTargets([]string{"https://a", "https://b"}, models.Payload{Title: "t"}),
	}
}

func TestSubmissionRunWorkflowCompletes(t *testing.T) {
	env := newEnv(t)
	summary := models.RunSummary{
		Succeeded: []string{"https://a"},
		Failed:    []models.FailedTarget{{URL: "https://b", LastError: "TIMEOUT_ERROR during confirm"}},
	}
	env.OnActivity(RunActivityName, mock.Anything, mock.Anything).Return(SubmissionRunResult{
		RunID:   "run-1",
		Status:  StatusCompleted,
		Summary: summary,
	}, nil).Once()

	env.ExecuteWorkflow(SubmissionRunWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SubmissionRunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, summary, result.Summary)
	assert.Equal(t, "run-1", result.RunID)
	env.AssertExpectations(t)
}

func TestSubmissionRunWorkflowActivityFailure(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(RunActivityName, mock.Anything, mock.Anything).
		Return(SubmissionRunResult{}, errors.New("store is locked by another run")).Once()

	env.ExecuteWorkflow(SubmissionRunWorkflow, testInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result SubmissionRunResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "locked")
	env.AssertExpectations(t)
}

func TestSubmissionRunWorkflowProgressQuery(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(RunActivityName, mock.Anything, mock.Anything).Return(SubmissionRunResult{Status: StatusAborted}, nil)

	env.ExecuteWorkflow(SubmissionRunWorkflow, testInput())
	require.True(t, env.IsWorkflowCompleted())

	value, err := env.QueryWorkflow(ProgressQuery)
	require.NoError(t, err)
	var progress SubmissionRunResult
	require.NoError(t, value.Get(&progress))
	assert.Equal(t, StatusAborted, progress.Status)
	assert.Equal(t, "run-1", progress.RunID)
}
