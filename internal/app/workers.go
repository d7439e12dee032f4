package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	storygenerate "github.com/yungbote/storybook-backend/internal/jobs/pipeline/story_generate"
	jobrt "github.com/yungbote/storybook-backend/internal/jobs/runtime"
	"github.com/yungbote/storybook-backend/internal/jobs/worker"
	storiesmod "github.com/yungbote/storybook-backend/internal/modules/stories"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/temporalx/temporalworker"
)

// Workers executes job runs and the periodic maintenance tasks. Exactly one
// of Temporal and Local is set.
type Workers struct {
	log      *logger.Logger
	cfg      Config
	services Services

	Runner   *jobrt.Runner
	Temporal *temporalworker.Runner
	Local    *worker.Worker
}

func wireWorkers(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, serviceset Services, clients Clients) (*Workers, error) {
	log.Info("Wiring workers...")

	registry := jobrt.NewRegistry()
	if err := registry.Register(storygenerate.New(log, serviceset.Stories)); err != nil {
		return nil, fmt.Errorf("register story pipeline: %w", err)
	}
	runner := &jobrt.Runner{
		Log:      log.With("component", "JobRunner"),
		DB:       db,
		Repo:     reposet.JobRun,
		Registry: registry,
		Notify:   serviceset.Notify,
	}

	w := &Workers{log: log, cfg: cfg, services: serviceset, Runner: runner}
	if clients.Temporal != nil {
		tr, err := temporalworker.NewRunner(log, clients.TemporalCfg, clients.Temporal, reposet.JobRun, runner, cfg.WorkerConcurrency, cfg.StaleAfter)
		if err != nil {
			return nil, fmt.Errorf("init temporal worker: %w", err)
		}
		w.Temporal = tr
		return w, nil
	}
	w.Local = worker.NewWorker(log, reposet.JobRun, runner, worker.Config{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.JobPollInterval,
		MaxAttempts:  cfg.JobMaxAttempts,
	})
	return w, nil
}

func (w *Workers) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if w.Temporal != nil {
		if err := w.Temporal.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	} else if w.Local != nil {
		w.Local.Start(ctx)
	}

	go w.services.Outbox.Run(ctx, w.cfg.OutboxInterval)

	stories := w.services.Stories
	worker.StartMaintenance(ctx, w.log,
		worker.Task{
			Name:     "story_sweep_stale",
			Interval: w.cfg.SweepInterval,
			Run: func(ctx context.Context) error {
				out, err := stories.SweepStale(ctx, storiesmod.SweepInput{StaleAfter: w.cfg.StaleAfter, Limit: w.cfg.SweepLimit})
				if err != nil {
					return err
				}
				if len(out.Failed) > 0 {
					w.log.Warn("Stale stories failed", "count", len(out.Failed))
				}
				return nil
			},
		},
	)
	return nil
}

// Wait blocks until the local pool has drained after ctx is done.
func (w *Workers) Wait() {
	if w != nil && w.Local != nil {
		w.Local.Wait()
	}
}
