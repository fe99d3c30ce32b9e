// Command jobflow runs the job consumer with a set of demo handlers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdziat/jobflow"
	"github.com/jdziat/jobflow/internal/config"
	"github.com/jdziat/jobflow/internal/logging"
	"github.com/jdziat/jobflow/pkg/observability"
	"github.com/jdziat/jobflow/pkg/schedule"
	"github.com/jdziat/jobflow/pkg/scheduler"
	"github.com/jdziat/jobflow/pkg/storage"
	"github.com/jdziat/jobflow/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	enqueueKind := flag.String("enqueue", "", "enqueue one job of this kind before starting")
	payload := flag.String("payload", "{}", "JSON payload for -enqueue")
	every := flag.String("every", "", "also enqueue expand-project on this schedule, e.g. \"@every 30s\"")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		slog.Error("Failed to build logger", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, *enqueueKind, *payload, *every); err != nil {
		logger.Error("jobflow exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, enqueueKind, payload, every string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	store, err := storage.NewGormStorageWithPool(db, storage.WithPool(cfg.Database.Pool))
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	reg, err := demoRegistry()
	if err != nil {
		return err
	}
	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	stopDepth, err := metrics.ObserveQueueDepth(store)
	if err != nil {
		return err
	}
	defer stopDepth()

	// Graph tasks and demo jobs go to scheduler.task_queue.
	taskQueue := jobflow.QueueOpt(cfg.Scheduler.TaskQueue)
	engine, err := jobflow.New(store, reg,
		jobflow.WithLogger(logger),
		jobflow.WithMissPolicy(cfg.MissPolicy()),
		jobflow.WithMetrics(metrics),
		jobflow.WithSchedulerOptions(scheduler.WithEnqueueOptions(taskQueue)),
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	if every != "" {
		sched, err := schedule.Parse(every)
		if err != nil {
			return err
		}
		if err := engine.Queue.Schedule("expand-project", "expand-project", sched, map[string]string{"name": "jobflow"}, taskQueue); err != nil {
			return err
		}
	}

	if enqueueKind != "" {
		if !json.Valid([]byte(payload)) {
			return errInvalidPayload
		}
		id, err := engine.Enqueue(ctx, enqueueKind, json.RawMessage(payload), taskQueue)
		if err != nil {
			return err
		}
		logger.Info("enqueued job", "job_id", id, "kind", enqueueKind)
	}

	w := engine.NewWorker(workerOptions(cfg, every != "")...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Start(gctx)
	})
	g.Go(func() error {
		return prune(gctx, engine, cfg.Scheduler.PruneInterval, cfg.Scheduler.RunRetention)
	})

	logger.Info("jobflow started", "worker_id", w.ID(), "driver", cfg.Database.Driver, "kinds", reg.Kinds())
	err = g.Wait()
	logger.Info("jobflow stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func workerOptions(cfg *config.Config, scheduler bool) []worker.WorkerOption {
	opts := make([]worker.WorkerOption, 0, len(cfg.Worker.Queues)+6)
	for name, n := range cfg.Worker.Queues {
		opts = append(opts, worker.WorkerQueue(name, worker.Concurrency(n)))
	}
	opts = append(opts,
		worker.WithPollInterval(cfg.Worker.PollInterval),
		worker.WithJobTimeout(cfg.Worker.JobTimeout),
		worker.WithHeartbeatInterval(cfg.Worker.HeartbeatInterval),
		worker.WithStaleLockReaper(cfg.Worker.StaleLockAfter),
		worker.WithScheduler(cfg.Worker.Scheduler || scheduler),
	)
	if cfg.Worker.ID != "" {
		opts = append(opts, worker.WithWorkerID(cfg.Worker.ID))
	}
	return opts
}

func prune(ctx context.Context, engine *jobflow.Engine, interval, retention time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			engine.Scheduler.Prune(retention)
		}
	}
}
