package jobflow_test

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/jobflow"
	"github.com/jdziat/jobflow/pkg/storage"
	"github.com/jdziat/jobflow/pkg/worker"
)

func newStore(t *testing.T) *jobflow.GormStorage {
	t.Helper()
	db, err := storage.Open("sqlite", filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	store, err := storage.NewGormStorageWithPool(db)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

type step struct {
	Name   string `json:"name"`
	TaskID string `json:"taskId"`
}

func terminalStep(ctx context.Context, scope *jobflow.Scope, s step) (jobflow.Result, error) {
	return jobflow.Terminal(map[string]string{"step": s.Name}), nil
}

func projectRegistry(t *testing.T) *jobflow.Registry {
	t.Helper()
	reg, err := jobflow.NewRegistry(
		jobflow.Bind("expand-project", jobflow.Func(func(ctx context.Context, scope *jobflow.Scope, p struct{}) (jobflow.Result, error) {
			g, err := jobflow.NewDAG(
				jobflow.Task{ID: "fetch", Kind: "fetch-repo", Payload: map[string]any{"name": "fetch"}},
				jobflow.Task{ID: "lint", Kind: "run-lint", Payload: map[string]any{"name": "lint"}, DependsOn: []string{"fetch"}},
				jobflow.Task{ID: "report", Kind: "send-email", Payload: map[string]any{"name": "report"}, DependsOn: []string{"lint"}},
			)
			if err != nil {
				return jobflow.Result{}, err
			}
			return jobflow.Continue(g), nil
		})),
		jobflow.Bind("fetch-repo", jobflow.Func(terminalStep)),
		jobflow.Bind("run-lint", jobflow.Func(terminalStep)),
		jobflow.Bind("send-email", jobflow.Func(terminalStep)),
	)
	require.NoError(t, err)
	return reg
}

type eventLog struct {
	mu     sync.Mutex
	events []jobflow.Envelope
}

func (l *eventLog) record(ctx context.Context, e jobflow.Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func startWorker(t *testing.T, engine *jobflow.Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := engine.NewWorker(worker.WithPollInterval(10*time.Millisecond), worker.WithJobBackoff(worker.RetryConfig{
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 1,
	}))
	done := make(chan struct{})
	go func() {
		_ = w.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestEngine_ContinuationRunsToCompletion(t *testing.T) {
	engine, err := jobflow.New(newStore(t), projectRegistry(t), jobflow.WithEventLog(false))
	require.NoError(t, err)
	defer engine.Close()

	log := &eventLog{}
	engine.Bus.On("*", log.record)
	startWorker(t, engine)

	_, err = engine.Enqueue(context.Background(), "expand-project", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return log.count(jobflow.EventRunCompleted) == 1
	}, 10*time.Second, 20*time.Millisecond)

	runs := engine.Scheduler.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, map[string]string{"step": "report"}, runs[0].Results["report"])

	// The expanding job never reports job:finished; its three tasks do.
	assert.Equal(t, 3, log.count(jobflow.EventJobFinished))
	require.Eventually(t, func() bool {
		return log.count(jobflow.EventJobCompleted) == 4
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEngine_UnknownKindFailsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	engine, err := jobflow.New(newStore(t), projectRegistry(t), jobflow.WithLogger(logger))
	require.NoError(t, err)
	defer engine.Close()

	log := &eventLog{}
	engine.Bus.On("*", log.record)
	startWorker(t, engine)

	id, err := engine.Enqueue(context.Background(), "unknown-kind", nil, jobflow.Retries(5))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := engine.Queue.Storage().GetJob(context.Background(), id)
		return err == nil && job != nil && job.Status == jobflow.StatusFailed
	}, 10*time.Second, 20*time.Millisecond)

	job, err := engine.Queue.Storage().GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempt, "unknown kinds are not retried")
	assert.Contains(t, job.LastError, "unknown-kind")
	assert.Equal(t, 1, log.count(jobflow.EventJobFailed))
	assert.Zero(t, log.count(jobflow.EventJobFinished))
}

func TestEngine_MissIgnoreCompletesSilently(t *testing.T) {
	engine, err := jobflow.New(newStore(t), projectRegistry(t),
		jobflow.WithMissPolicy(jobflow.MissIgnore), jobflow.WithEventLog(false))
	require.NoError(t, err)
	defer engine.Close()

	log := &eventLog{}
	engine.Bus.On("*", log.record)
	startWorker(t, engine)

	id, err := engine.Enqueue(context.Background(), "unknown-kind", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := engine.Queue.Storage().GetJob(context.Background(), id)
		return err == nil && job != nil && job.Status == jobflow.StatusCompleted
	}, 10*time.Second, 20*time.Millisecond)
	assert.Zero(t, log.count(jobflow.EventJobFinished))
	assert.Zero(t, log.count(jobflow.EventJobFailed))
	assert.Zero(t, log.count(jobflow.EventRunStarted))
}

func TestEngine_UnregisteredTaskKindFailsRun(t *testing.T) {
	for _, policy := range []jobflow.MissPolicy{jobflow.MissReport, jobflow.MissIgnore} {
		t.Run(policy.String(), func(t *testing.T) {
			reg, err := jobflow.NewRegistry(
				jobflow.Bind("expand-project", jobflow.Func(func(ctx context.Context, scope *jobflow.Scope, p struct{}) (jobflow.Result, error) {
					g, err := jobflow.NewDAG(jobflow.Task{ID: "deploy", Kind: "deploy-site"})
					if err != nil {
						return jobflow.Result{}, err
					}
					return jobflow.Continue(g), nil
				})),
			)
			require.NoError(t, err)
			engine, err := jobflow.New(newStore(t), reg, jobflow.WithMissPolicy(policy), jobflow.WithEventLog(false))
			require.NoError(t, err)
			defer engine.Close()

			log := &eventLog{}
			engine.Bus.On("*", log.record)
			startWorker(t, engine)

			_, err = engine.Enqueue(context.Background(), "expand-project", nil)
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				return log.count(jobflow.EventRunFailed) == 1
			}, 10*time.Second, 20*time.Millisecond)

			runs := engine.Scheduler.Runs()
			require.Len(t, runs, 1)
			assert.Contains(t, runs[0].Error, "deploy")
			assert.Zero(t, log.count(jobflow.EventRunCompleted))
			assert.Equal(t, 1, engine.Scheduler.Prune(0))
		})
	}
}

func TestEngine_SubscribeIsIdempotent(t *testing.T) {
	engine, err := jobflow.New(newStore(t), projectRegistry(t))
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.Consumer.Subscribe(engine.Queue), "second Subscribe is a no-op")
}
