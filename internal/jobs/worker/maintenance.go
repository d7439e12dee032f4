package worker

import (
	"context"
	"time"

	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

// Task is periodic housekeeping run next to the job loops.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// StartMaintenance runs each task on its own ticker until ctx is done.
// Tasks run once immediately.
func StartMaintenance(ctx context.Context, baseLog *logger.Logger, tasks ...Task) {
	log := baseLog.With("component", "Maintenance")
	for _, task := range tasks {
		if task.Run == nil || task.Interval <= 0 {
			continue
		}
		go runTask(ctx, log.With("task", task.Name), task)
	}
}

func runTask(ctx context.Context, log *logger.Logger, task Task) {
	tick := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("maintenance task panic", "panic", r)
			}
		}()
		if err := task.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn("maintenance task failed", "error", err)
		}
	}
	tick()
	t := time.NewTicker(task.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			tick()
		}
	}
}
