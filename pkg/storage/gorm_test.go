package storage

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/jobflow/pkg/core"
)

func newTestJob(queue, kind string) *core.Job {
	return &core.Job{
		Kind:    kind,
		Queue:   queue,
		Payload: []byte(`{}`),
	}
}

func TestNewGormStorage_IsSQLite(t *testing.T) {
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)

	s := NewGormStorage(db)
	assert.True(t, s.IsSQLite())
	assert.Same(t, db, s.DB())
	assert.False(t, NewGormStorage(nil).IsSQLite())
}

func TestEnqueue_FillsDefaults(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	job := &core.Job{Kind: "send-email"}
	require.NoError(t, s.Enqueue(ctx, job))

	assert.NotEmpty(t, job.ID)
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "default", got.Queue)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Equal(t, "send-email", got.Kind)
}

func TestEnqueueUnique_RejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.EnqueueUnique(ctx, newTestJob("default", "report"), "daily-report"))
	err := s.EnqueueUnique(ctx, newTestJob("default", "report"), "daily-report")
	assert.ErrorIs(t, err, core.ErrDuplicateJob)

	require.NoError(t, s.EnqueueUnique(ctx, newTestJob("default", "report"), "weekly-report"))
}

func TestDequeue_PriorityThenAge(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	low := newTestJob("default", "low")
	require.NoError(t, s.Enqueue(ctx, low))
	high := newTestJob("default", "high")
	high.Priority = 10
	require.NoError(t, s.Enqueue(ctx, high))

	job, err := s.Dequeue(ctx, []string{"default"}, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, high.ID, job.ID)
	assert.Equal(t, core.StatusRunning, job.Status)
	assert.Equal(t, "worker-1", job.LockedBy)
	assert.Equal(t, 1, job.Attempt)
	assert.NotNil(t, job.LockedUntil)

	job, err = s.Dequeue(ctx, []string{"default"}, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, low.ID, job.ID)

	job, err = s.Dequeue(ctx, []string{"default"}, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeue_SkipsOtherQueuesAndFutureJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.Enqueue(ctx, newTestJob("other", "a")))
	future := time.Now().Add(time.Hour)
	later := newTestJob("default", "b")
	later.RunAt = &future
	require.NoError(t, s.Enqueue(ctx, later))

	job, err := s.Dequeue(ctx, []string{"default"}, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestComplete_RequiresOwnership(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.Enqueue(ctx, newTestJob("default", "a")))
	job, err := s.Dequeue(ctx, []string{"default"}, "worker-1")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Complete(ctx, job.ID, "worker-2"), core.ErrJobNotOwned)
	require.NoError(t, s.Complete(ctx, job.ID, "worker-1"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.LockedBy)
	assert.Nil(t, got.LockedUntil)
}

func TestFail_WithRetry(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.Enqueue(ctx, newTestJob("default", "a")))
	job, err := s.Dequeue(ctx, []string{"default"}, "worker-1")
	require.NoError(t, err)

	retryAt := time.Now().Add(time.Minute)
	require.NoError(t, s.Fail(ctx, job.ID, "worker-1", "boom", &retryAt))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Equal(t, "boom", got.LastError)
	require.NotNil(t, got.RunAt)
	assert.WithinDuration(t, retryAt, *got.RunAt, time.Second)
}

func TestFail_Permanent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.Enqueue(ctx, newTestJob("default", "a")))
	job, err := s.Dequeue(ctx, []string{"default"}, "worker-1")
	require.NoError(t, err)

	require.NoError(t, s.Fail(ctx, job.ID, "worker-1", "bad\x00"+strings.Repeat("x", 5000), nil))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.NotContains(t, got.LastError, "\x00")
	assert.LessOrEqual(t, len(got.LastError), 4096)
	assert.ErrorIs(t, s.Fail(ctx, job.ID, "worker-1", "again", nil), core.ErrJobNotOwned)
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.Enqueue(ctx, newTestJob("default", "a")))
	job, err := s.Dequeue(ctx, []string{"default"}, "worker-1")
	require.NoError(t, err)

	require.NoError(t, s.Heartbeat(ctx, job.ID, "worker-1"))
	assert.ErrorIs(t, s.Heartbeat(ctx, job.ID, "worker-2"), core.ErrJobNotOwned)
}

func TestReleaseStaleLocks(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	require.NoError(t, s.Enqueue(ctx, newTestJob("default", "a")))
	job, err := s.Dequeue(ctx, []string{"default"}, "worker-1")
	require.NoError(t, err)

	expired := time.Now().Add(-time.Hour)
	require.NoError(t, s.DB().Model(&core.Job{}).Where("id = ?", job.ID).Update("locked_until", expired).Error)

	n, err := s.ReleaseStaleLocks(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
}

func TestGetJob_Missing(t *testing.T) {
	job, err := newTestStorage(t).GetJob(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestGetJobsByStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Enqueue(ctx, newTestJob("default", "a")))
	}

	jobs, err := s.GetJobsByStatus(ctx, core.StatusPending, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = s.GetJobsByStatus(ctx, core.StatusFailed, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDequeue_PostgreSQL_ConcurrentWorkersNeverShareAJob(t *testing.T) {
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s := newTestStorage(t)
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Enqueue(ctx, newTestJob("work", "task")))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for _, worker := range []string{"w1", "w2"} {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			job, err := s.Dequeue(ctx, []string{"work"}, worker)
			if err == nil && job != nil {
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}(worker)
	}
	wg.Wait()

	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestQueueDepths(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	depths, err := s.QueueDepths(ctx)
	require.NoError(t, err)
	assert.Empty(t, depths)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Enqueue(ctx, newTestJob("default", "a")))
	}
	require.NoError(t, s.Enqueue(ctx, newTestJob("emails", "send-email")))
	_, err = s.Dequeue(ctx, []string{"default"}, "worker-1")
	require.NoError(t, err)

	depths, err = s.QueueDepths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []QueueDepth{
		{Queue: "default", Pending: 2, Running: 1},
		{Queue: "emails", Pending: 1},
	}, depths)
}
