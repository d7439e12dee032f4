package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"gorm.io/gorm"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainjobs "github.com/yungbote/storybook-backend/internal/domain/jobs"
	jobrt "github.com/yungbote/storybook-backend/internal/jobs/runtime"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type Activities struct {
	Log    *logger.Logger
	Jobs   repos.JobRunRepo
	Runner *jobrt.Runner

	// StaleRunning is how long a running row may go without a heartbeat
	// before a tick takes it over.
	StaleRunning time.Duration
	// Heartbeat, when set, replaces the Temporal heartbeat (tests).
	Heartbeat func(ctx context.Context)
}

func (a *Activities) Tick(ctx context.Context, jobID string) (TickResult, error) {
	res := TickResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.Jobs == nil || a.Runner == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("jobrun: invalid job_id %q", jobID)
	}

	job, err := a.Jobs.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return res, err
	}
	if job == nil {
		return res, fmt.Errorf("jobrun: job %s not found", id)
	}
	if job.IsTerminal() || a.liveElsewhere(job) {
		return fill(res, job), nil
	}

	now := time.Now().UTC()
	ok, err := a.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, id, []string{domainjobs.StatusCanceled}, map[string]interface{}{
		"status":       domainjobs.StatusRunning,
		"attempts":     gorm.Expr("attempts + 1"),
		"locked_at":    now,
		"heartbeat_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return res, err
	}
	if !ok {
		job.Status = domainjobs.StatusCanceled
		return fill(res, job), nil
	}
	job.Status = domainjobs.StatusRunning
	job.Attempts++
	job.LockedAt = &now
	job.HeartbeatAt = &now

	stop := a.startHeartbeat(ctx, id)
	updated, err := a.Runner.Execute(ctx, job)
	stop()
	if err != nil {
		return res, err
	}
	return fill(res, updated), nil
}

func (a *Activities) liveElsewhere(job *types.JobRun) bool {
	if job.Status != domainjobs.StatusRunning || job.HeartbeatAt == nil {
		return false
	}
	stale := a.StaleRunning
	if stale <= 0 {
		stale = 30 * time.Minute
	}
	return time.Since(*job.HeartbeatAt) < stale
}

func fill(res TickResult, job *types.JobRun) TickResult {
	res.Status = job.Status
	res.Stage = job.Stage
	res.Progress = job.Progress
	res.Message = job.Message
	return res
}

func (a *Activities) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	beat := a.Heartbeat
	if beat == nil {
		beat = func(ctx context.Context) { activity.RecordHeartbeat(ctx) }
	}
	done := make(chan struct{})
	go func() {
		temporalHB := time.NewTicker(10 * time.Second)
		defer temporalHB.Stop()
		dbHB := time.NewTicker(30 * time.Second)
		defer dbHB.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-temporalHB.C:
				beat(ctx)
			case <-dbHB.C:
				if err := a.Jobs.Heartbeat(dbctx.Context{Ctx: ctx}, jobID); err != nil && a.Log != nil {
					a.Log.Warn("job heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}
