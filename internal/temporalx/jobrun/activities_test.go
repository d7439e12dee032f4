package jobrun

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	"github.com/yungbote/storybook-backend/internal/data/repos/testutil"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainjobs "github.com/yungbote/storybook-backend/internal/domain/jobs"
	jobrt "github.com/yungbote/storybook-backend/internal/jobs/runtime"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
)

type doneHandler struct{ runs int }

func (h *doneHandler) Type() string { return "noop" }
func (h *doneHandler) Run(jc *jobrt.Context) error {
	h.runs++
	jc.Succeed("done", map[string]any{"ok": true})
	return nil
}

func newActivities(t *testing.T) (*Activities, repos.JobRunRepo, *doneHandler) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := repos.NewJobRunRepo(db, log)
	reg := jobrt.NewRegistry()
	h := &doneHandler{}
	if err := reg.Register(h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return &Activities{
		Log:       log,
		Jobs:      repo,
		Runner:    &jobrt.Runner{Log: log, DB: db, Repo: repo, Registry: reg},
		Heartbeat: func(context.Context) {},
	}, repo, h
}

func seed(t *testing.T, repo repos.JobRunRepo, status string, heartbeat *time.Time) *types.JobRun {
	t.Helper()
	now := time.Now().UTC()
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerID:     uuid.New(),
		JobType:     "noop",
		Status:      status,
		Stage:       "queued",
		HeartbeatAt: heartbeat,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := repo.Create(dbctx.Context{Ctx: context.Background()}, []*types.JobRun{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func TestTickRunsQueuedJob(t *testing.T) {
	a, repo, h := newActivities(t)
	job := seed(t, repo, domainjobs.StatusQueued, nil)

	out, err := a.Tick(context.Background(), job.ID.String())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if out.Status != domainjobs.StatusSucceeded || out.Progress != 100 || h.runs != 1 {
		t.Fatalf("tick: status=%s progress=%d runs=%d", out.Status, out.Progress, h.runs)
	}
	got, _ := repo.GetByID(dbctx.Context{Ctx: context.Background()}, job.ID)
	if got.Attempts != 1 {
		t.Fatalf("attempts: want=1 got=%d", got.Attempts)
	}

	again, err := a.Tick(context.Background(), job.ID.String())
	if err != nil || again.Status != domainjobs.StatusSucceeded || h.runs != 1 {
		t.Fatalf("second tick: status=%s runs=%d err=%v", again.Status, h.runs, err)
	}
}

func TestTickLeavesLiveRunAlone(t *testing.T) {
	a, repo, h := newActivities(t)
	recent := time.Now().UTC().Add(-time.Minute)
	job := seed(t, repo, domainjobs.StatusRunning, &recent)

	out, err := a.Tick(context.Background(), job.ID.String())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if out.Status != domainjobs.StatusRunning || h.runs != 0 {
		t.Fatalf("tick: status=%s runs=%d", out.Status, h.runs)
	}
}

func TestTickRejectsBadJobID(t *testing.T) {
	a, _, _ := newActivities(t)
	if _, err := a.Tick(context.Background(), "not-a-uuid"); err == nil {
		t.Fatalf("Tick: want error for bad id")
	}
	if _, err := a.Tick(context.Background(), uuid.New().String()); err == nil {
		t.Fatalf("Tick: want error for unknown job")
	}
}
