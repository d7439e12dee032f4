package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainjobs "github.com/yungbote/storybook-backend/internal/domain/jobs"
	"github.com/yungbote/storybook-backend/internal/observability"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/services"
)

// Runner executes one claimed job run against the registry. The local worker
// and the Temporal activity both go through it.
type Runner struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Repo     repos.JobRunRepo
	Registry *Registry
	Notify   services.JobNotifier
}

// Execute runs the handler for job, which must already be marked running,
// and returns the reloaded row.
func (r *Runner) Execute(ctx context.Context, job *types.JobRun) (*types.JobRun, error) {
	if r == nil || r.Repo == nil || r.Registry == nil {
		return nil, fmt.Errorf("job runner not configured")
	}
	if job == nil || job.ID == uuid.Nil {
		return nil, fmt.Errorf("missing job")
	}
	log := r.Log.With("job_id", job.ID, "job_type", job.JobType)
	started := time.Now()

	jc := NewContext(ctx, r.DB, job, r.Repo, r.Notify)
	h, ok := r.Registry.Get(job.JobType)
	returnedNil := false
	if !ok {
		log.Warn("No handler registered for job_type")
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
	} else {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("Job handler panic", "panic", rec)
					jc.Fail("panic", fmt.Errorf("panic: unexpected error"))
				}
			}()
			if err := h.Run(jc); err != nil {
				if !jc.Terminal() {
					jc.Fail("run", err)
				}
				return
			}
			returnedNil = true
		}()
	}

	updated, err := r.Repo.GetByID(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, job.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("job %s not found after run", job.ID)
	}

	// A handler that returns nil without a terminal status would leave the row
	// running until the stale sweep; close it as succeeded.
	if returnedNil && updated.Status == domainjobs.StatusRunning {
		log.Warn("Job handler returned nil without terminal status; marking succeeded", "stage", updated.Stage)
		finalStage := "done"
		if s := strings.TrimSpace(updated.Stage); s != "" && s != domainjobs.StatusQueued && s != domainjobs.StatusRunning {
			finalStage = s
		}
		var result any
		if raw := strings.TrimSpace(string(updated.Result)); raw != "" && raw != "null" {
			result = json.RawMessage(updated.Result)
		}
		jc.Job = updated
		jc.Succeed(finalStage, result)
		if again, rerr := r.Repo.GetByID(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, job.ID); rerr == nil && again != nil {
			updated = again
		}
	}
	observability.Current().ObserveJob(job.JobType, updated.Status, time.Since(started))
	return updated, nil
}
