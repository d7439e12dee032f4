package worker

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	jobrt "github.com/yungbote/storybook-backend/internal/jobs/runtime"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type Config struct {
	Concurrency  int
	PollInterval time.Duration
	// MaxAttempts bounds re-claims of failed rows. 1 means a failed run is
	// never picked up again; retries create a new run.
	MaxAttempts       int
	RetryDelay        time.Duration
	StaleRunning      time.Duration
	HeartbeatInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 30 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	return c
}

// Worker claims queued job runs from the database. It is the execution path
// when Temporal is not configured.
type Worker struct {
	log    *logger.Logger
	repo   repos.JobRunRepo
	runner *jobrt.Runner
	cfg    Config
	wg     sync.WaitGroup
}

func NewWorker(baseLog *logger.Logger, repo repos.JobRunRepo, runner *jobrt.Runner, cfg Config) *Worker {
	return &Worker{
		log:    baseLog.With("component", "JobWorker"),
		repo:   repo,
		runner: runner,
		cfg:    cfg.withDefaults(),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
}

// Wait blocks until every loop started by Start has returned.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			for w.RunOnce(ctx) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// RunOnce claims and executes at most one job. It reports whether a job ran.
func (w *Worker) RunOnce(ctx context.Context) bool {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.cfg.MaxAttempts, w.cfg.RetryDelay, w.cfg.StaleRunning)
	if err != nil {
		w.log.Warn("ClaimNextRunnable failed", "error", err)
		return false
	}
	if job == nil {
		return false
	}
	stop := w.heartbeat(ctx, func(hctx context.Context) {
		_ = w.repo.Heartbeat(dbctx.Context{Ctx: hctx}, job.ID)
	})
	defer stop()

	out, err := w.runner.Execute(ctx, job)
	if err != nil {
		w.log.Error("Job execution failed", "job_id", job.ID, "job_type", job.JobType, "error", err)
		return true
	}
	w.log.Debug("Job finished", "job_id", out.ID, "job_type", out.JobType, "status", out.Status, "stage", out.Stage)
	return true
}

func (w *Worker) heartbeat(ctx context.Context, beat func(context.Context)) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(w.cfg.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				beat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
