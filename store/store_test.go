package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/flowd/errors"
	flowdtest "github.com/teranos/flowd/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(flowdtest.CreateTestDB(t), zap.NewNop().Sugar())
}

// newObservedStore returns a store whose Warn-and-above log entries are
// captured for assertions.
func newObservedStore(t *testing.T) (*Store, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	return NewStore(flowdtest.CreateTestDB(t), zap.New(core).Sugar()), logs
}

func queuedJob(id string) *Job {
	return &Job{
		ID:        id,
		SessionID: "session-" + id,
		Mode:      "PSYCHODIAGNOSTICS",
		Responses: Input{Fields: map[string]interface{}{"q1": "a"}},
		Status:    JobStatusQueued,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &Job{
		ID:        "job-create",
		SessionID: "session-1",
		Mode:      "CAREER_GUIDANCE",
		Responses: Input{Fields: map[string]interface{}{"q1": "answer", "q2": "other"}},
		UserData:  map[string]interface{}{"locale": "de", "tier": "premium"},
		BatchID:   "batch-1",
		FileName:  "report-01.txt",
	}
	require.NoError(t, s.CreateJob(ctx, job))

	stored, err := s.GetJob(ctx, "job-create")
	require.NoError(t, err)

	assert.Equal(t, "session-1", stored.SessionID)
	assert.Equal(t, "CAREER_GUIDANCE", stored.Mode)
	assert.Equal(t, JobStatusQueued, stored.Status)
	assert.Empty(t, stored.WorkerID)
	assert.Equal(t, "batch-1", stored.BatchID)
	assert.Equal(t, "report-01.txt", stored.FileName)
	assert.Equal(t, "answer", stored.Responses.Fields["q1"])
	assert.Equal(t, "de", stored.UserData["locale"])
	assert.Nil(t, stored.CompletedAt)
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestGetJob_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetJob(context.Background(), "no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestFetchQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	jobs := []*Job{
		{ID: "job-a", SessionID: "s", Mode: "PSYCHODIAGNOSTICS", Status: JobStatusQueued, CreatedAt: base},
		{ID: "job-b", SessionID: "s", Mode: "CAREER_GUIDANCE", Status: JobStatusQueued, CreatedAt: base.Add(time.Minute)},
		{ID: "job-c", SessionID: "s", Mode: "PSYCHODIAGNOSTICS", Status: JobStatusQueued, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "job-d", SessionID: "s", Mode: "PSYCHODIAGNOSTICS", Status: JobStatusProcessing, WorkerID: "worker-x", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, job := range jobs {
		require.NoError(t, s.CreateJob(ctx, job))
	}

	t.Run("arrival order", func(t *testing.T) {
		fetched, err := s.FetchQueued(ctx, 10, "")
		require.NoError(t, err)
		require.Len(t, fetched, 3)
		assert.Equal(t, "job-a", fetched[0].ID)
		assert.Equal(t, "job-b", fetched[1].ID)
		assert.Equal(t, "job-c", fetched[2].ID)
	})

	t.Run("limit", func(t *testing.T) {
		fetched, err := s.FetchQueued(ctx, 2, "")
		require.NoError(t, err)
		require.Len(t, fetched, 2)
		assert.Equal(t, "job-a", fetched[0].ID)
	})

	t.Run("mode filter", func(t *testing.T) {
		fetched, err := s.FetchQueued(ctx, 10, "CAREER_GUIDANCE")
		require.NoError(t, err)
		require.Len(t, fetched, 1)
		assert.Equal(t, "job-b", fetched[0].ID)
	})
}

func TestFetchBatchQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	jobs := []*Job{
		{ID: "job-plain", SessionID: "s", Mode: "PSYCHODIAGNOSTICS", Status: JobStatusQueued},
		{ID: "job-batch-1", SessionID: "s", Mode: "PSYCHODIAGNOSTICS", Status: JobStatusQueued, BatchID: "batch-1", FileName: "a.txt"},
		{ID: "job-batch-2", SessionID: "s", Mode: "CAREER_GUIDANCE", Status: JobStatusQueued, BatchID: "batch-1", FileName: "b.txt"},
		{ID: "job-batch-done", SessionID: "s", Mode: "PSYCHODIAGNOSTICS", Status: JobStatusCompleted, BatchID: "batch-1"},
	}
	for _, job := range jobs {
		require.NoError(t, s.CreateJob(ctx, job))
	}

	fetched, err := s.FetchBatchQueued(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, fetched, 2)
	for _, job := range fetched {
		assert.True(t, job.IsBatch())
		assert.Equal(t, JobStatusQueued, job.Status)
	}

	filtered, err := s.FetchBatchQueued(ctx, 10, "PSYCHODIAGNOSTICS")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "job-batch-1", filtered[0].ID)
}

func TestClaimJob_QueuedRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := queuedJob("job-claim")
	require.NoError(t, s.CreateJob(ctx, job))

	claimed, err := s.ClaimJob(ctx, job.ID, job, "worker-test-0-100")
	require.NoError(t, err)
	require.True(t, claimed)

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusProcessing, stored.Status)
	assert.Equal(t, "worker-test-0-100", stored.WorkerID)

	// Second attempt on the now-owned row loses
	again, err := s.ClaimJob(ctx, job.ID, job, "worker-test-1-200")
	require.NoError(t, err)
	assert.False(t, again)

	stored, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-test-0-100", stored.WorkerID)
}

func TestClaimJob_InsertFromSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snapshot := &Job{
		ID:        "job-from-frontend",
		SessionID: "session-9",
		Mode:      "PSYCHODIAGNOSTICS",
		Responses: Input{Fields: map[string]interface{}{"q1": "a"}},
	}

	claimed, err := s.ClaimJob(ctx, snapshot.ID, snapshot, "worker-test-0-100")
	require.NoError(t, err)
	require.True(t, claimed)

	stored, err := s.GetJob(ctx, snapshot.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusProcessing, stored.Status)
	assert.Equal(t, "worker-test-0-100", stored.WorkerID)
	assert.Equal(t, "session-9", stored.SessionID)
	assert.Equal(t, "a", stored.Responses.Fields["q1"])
}

func TestClaimJob_Contention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := queuedJob("job-contended")
	require.NoError(t, s.CreateJob(ctx, job))

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			workerID := fmt.Sprintf("worker-test-%d-100", n)
			claimed, err := s.ClaimJob(ctx, job.ID, job, workerID)
			if err != nil {
				t.Errorf("claim by %s failed: %v", workerID, err)
				return
			}
			if claimed {
				wins <- workerID
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one concurrent claim must win")

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusProcessing, stored.Status)
	assert.Equal(t, winners[0], stored.WorkerID)
}

func TestClaimJob_ContentionWithoutRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snapshot := queuedJob("job-raced-insert")

	const workers = 4
	var wg sync.WaitGroup
	wins := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			workerID := fmt.Sprintf("worker-test-%d-100", n)
			claimed, err := s.ClaimJob(ctx, snapshot.ID, snapshot, workerID)
			if err != nil {
				t.Errorf("claim by %s failed: %v", workerID, err)
				return
			}
			if claimed {
				wins <- workerID
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one insert-from-snapshot must win")
}

func TestMarkTerminal_Completed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := queuedJob("job-done")
	require.NoError(t, s.CreateJob(ctx, job))
	claimed, err := s.ClaimJob(ctx, job.ID, job, "worker-test-0-100")
	require.NoError(t, err)
	require.True(t, claimed)

	completedAt := time.Now().UTC()
	require.NoError(t, s.MarkTerminal(ctx, job.ID, JobStatusCompleted, "", completedAt))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status)
	assert.Empty(t, stored.WorkerID, "terminal write must release ownership")
	assert.Empty(t, stored.Error)
	require.NotNil(t, stored.CompletedAt)
	assert.WithinDuration(t, completedAt, *stored.CompletedAt, time.Second)
}

func TestMarkTerminal_FailedWithError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := queuedJob("job-failed")
	require.NoError(t, s.CreateJob(ctx, job))
	claimed, err := s.ClaimJob(ctx, job.ID, job, "worker-test-0-100")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, s.MarkTerminal(ctx, job.ID, JobStatusFailed, "Pipeline execution failed", time.Now().UTC()))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, stored.Status)
	assert.Equal(t, "Pipeline execution failed", stored.Error)
	assert.Empty(t, stored.WorkerID)
}

func TestMarkTerminal_IdempotentCompleted(t *testing.T) {
	s, logs := newObservedStore(t)
	ctx := context.Background()

	job := queuedJob("job-twice")
	require.NoError(t, s.CreateJob(ctx, job))
	claimed, err := s.ClaimJob(ctx, job.ID, job, "worker-test-0-100")
	require.NoError(t, err)
	require.True(t, claimed)

	completedAt := time.Now().UTC()
	require.NoError(t, s.MarkTerminal(ctx, job.ID, JobStatusCompleted, "", completedAt))
	require.NoError(t, s.MarkTerminal(ctx, job.ID, JobStatusCompleted, "", completedAt))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status)

	// The second write is an invalid transition: observed, never rejected
	warned := false
	for _, entry := range logs.All() {
		if entry.Message == "Invalid job status transition" {
			warned = true
		}
	}
	assert.True(t, warned, "expected a transition warning for completed -> completed")
}

func TestMarkTerminal_NotFound(t *testing.T) {
	s := newTestStore(t)
	s.terminalRetryDelays = nil // single attempt

	err := s.MarkTerminal(context.Background(), "ghost-job", JobStatusCompleted, "", time.Now().UTC())
	require.Error(t, err)
}

func TestTouch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := time.Now().UTC().Add(-time.Hour)
	job := queuedJob("job-touched")
	job.UpdatedAt = stale
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.Touch(ctx, job.ID))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, stored.UpdatedAt.After(stale.Add(30*time.Minute)),
		"touch must refresh updated_at, got %v", stored.UpdatedAt)
	assert.Equal(t, JobStatusQueued, stored.Status, "touch must not change status")
}

func TestFindStuckProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	maxRuntime := 90 * time.Minute

	jobs := []*Job{
		{ID: "job-stuck", SessionID: "s", Mode: "M", Status: JobStatusProcessing, WorkerID: "worker-dead", UpdatedAt: now.Add(-91 * time.Minute)},
		{ID: "job-alive", SessionID: "s", Mode: "M", Status: JobStatusProcessing, WorkerID: "worker-live", UpdatedAt: now.Add(-89 * time.Minute)},
		{ID: "job-idle", SessionID: "s", Mode: "M", Status: JobStatusQueued, UpdatedAt: now.Add(-5 * time.Hour)},
	}
	for _, job := range jobs {
		require.NoError(t, s.CreateJob(ctx, job))
	}

	stuck, err := s.FindStuckProcessing(ctx, now.Add(-maxRuntime))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "job-stuck", stuck[0].ID)
	assert.Equal(t, "worker-dead", stuck[0].WorkerID)
}

func TestResetToQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := queuedJob("job-reset")
	require.NoError(t, s.CreateJob(ctx, job))
	claimed, err := s.ClaimJob(ctx, job.ID, job, "worker-dead-0-100")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, s.ResetToQueued(ctx, job.ID))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, stored.Status)
	assert.Empty(t, stored.WorkerID)

	// Reclaim and complete: indistinguishable from a first-try success
	claimed, err = s.ClaimJob(ctx, job.ID, job, "worker-test-1-200")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.MarkTerminal(ctx, job.ID, JobStatusCompleted, "", time.Now().UTC()))

	stored, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, stored.Status)
	assert.Empty(t, stored.WorkerID)
}

func TestResetToQueued_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.ResetToQueued(context.Background(), "ghost-job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCountActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	jobs := []*Job{
		{ID: "c1", SessionID: "s", Mode: "M", Status: JobStatusQueued},
		{ID: "c2", SessionID: "s", Mode: "M", Status: JobStatusProcessing, WorkerID: "w"},
		{ID: "c3", SessionID: "s", Mode: "M", Status: JobStatusCompleted},
		{ID: "c4", SessionID: "s", Mode: "M", Status: JobStatusFailed},
		{ID: "c5", SessionID: "s", Mode: "M", Status: JobStatusQueued},
	}
	for _, job := range jobs {
		require.NoError(t, s.CreateJob(ctx, job))
	}

	count, err := s.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCountByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	jobs := []*Job{
		{ID: "s1", SessionID: "s", Mode: "M", Status: JobStatusQueued},
		{ID: "s2", SessionID: "s", Mode: "M", Status: JobStatusQueued},
		{ID: "s3", SessionID: "s", Mode: "M", Status: JobStatusCompleted},
	}
	for _, job := range jobs {
		require.NoError(t, s.CreateJob(ctx, job))
	}

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[JobStatusQueued])
	assert.Equal(t, 1, counts[JobStatusCompleted])
	assert.Zero(t, counts[JobStatusProcessing])
}
