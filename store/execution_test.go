package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordExecution_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := &Execution{
		ID:            "exec-1",
		JobID:         "job-1",
		Status:        ExecutionStatusFailed,
		ExecutedSteps: 3,
		FailedSteps:   2,
	}
	require.NoError(t, s.RecordExecution(ctx, exec))

	// A retried mirror write for the same execution updates in place
	done := time.Now().UTC()
	exec.Status = ExecutionStatusCompleted
	exec.ExecutedSteps = 5
	exec.FailedSteps = 0
	exec.CompletedAt = &done
	exec.DurationMs = 4200
	require.NoError(t, s.RecordExecution(ctx, exec))

	executions, err := s.ListExecutions(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, ExecutionStatusCompleted, executions[0].Status)
	assert.Equal(t, 5, executions[0].ExecutedSteps)
	assert.Zero(t, executions[0].FailedSteps)
	assert.Equal(t, int64(4200), executions[0].DurationMs)
	require.NotNil(t, executions[0].CompletedAt)
}

func TestRecordExecution_Invalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.Error(t, s.RecordExecution(ctx, nil))
	require.Error(t, s.RecordExecution(ctx, &Execution{JobID: "job-1"}))
}

func TestHasCompletedExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("no executions", func(t *testing.T) {
		done, err := s.HasCompletedExecution(ctx, "job-none")
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("completed with zero failed steps", func(t *testing.T) {
		require.NoError(t, s.RecordExecution(ctx, &Execution{
			ID: "exec-clean", JobID: "job-clean",
			Status: ExecutionStatusCompleted, ExecutedSteps: 7,
		}))

		done, err := s.HasCompletedExecution(ctx, "job-clean")
		require.NoError(t, err)
		assert.True(t, done)
	})

	t.Run("completed but with failed steps is not proof", func(t *testing.T) {
		require.NoError(t, s.RecordExecution(ctx, &Execution{
			ID: "exec-partial", JobID: "job-partial",
			Status: ExecutionStatusCompleted, ExecutedSteps: 7, FailedSteps: 2,
		}))

		done, err := s.HasCompletedExecution(ctx, "job-partial")
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("failed execution is not proof", func(t *testing.T) {
		require.NoError(t, s.RecordExecution(ctx, &Execution{
			ID: "exec-failed", JobID: "job-failed",
			Status: ExecutionStatusFailed, ExecutedSteps: 1, FailedSteps: 1,
		}))

		done, err := s.HasCompletedExecution(ctx, "job-failed")
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("later clean run makes it proof", func(t *testing.T) {
		require.NoError(t, s.RecordExecution(ctx, &Execution{
			ID: "exec-retry-1", JobID: "job-retried",
			Status: ExecutionStatusFailed, FailedSteps: 3,
		}))
		require.NoError(t, s.RecordExecution(ctx, &Execution{
			ID: "exec-retry-2", JobID: "job-retried",
			Status: ExecutionStatusCompleted, ExecutedSteps: 9,
		}))

		done, err := s.HasCompletedExecution(ctx, "job-retried")
		require.NoError(t, err)
		assert.True(t, done)
	})
}
