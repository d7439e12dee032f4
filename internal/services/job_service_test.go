package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	"github.com/yungbote/storybook-backend/internal/data/repos/testutil"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	domainjobs "github.com/yungbote/storybook-backend/internal/domain/jobs"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
)

type fakeStarter struct {
	err   error
	calls []temporalsdkclient.StartWorkflowOptions
}

func (f *fakeStarter) ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error) {
	f.calls = append(f.calls, options)
	return nil, f.err
}

type recordingNotifier struct {
	created, failed, done int
	lastStage            string
}

func (n *recordingNotifier) JobCreated(ownerID uuid.UUID, job *types.JobRun) { n.created++ }
func (n *recordingNotifier) JobProgress(ownerID uuid.UUID, job *types.JobRun, stage string, progress int, message string) {
	n.lastStage = stage
}
func (n *recordingNotifier) JobFailed(ownerID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	n.failed++
	n.lastStage = stage
}
func (n *recordingNotifier) JobDone(ownerID uuid.UUID, job *types.JobRun) { n.done++ }

func newTestJobService(t *testing.T, starter WorkflowStarter) (JobService, repos.JobRunRepo, *recordingNotifier, *gorm.DB) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := repos.NewJobRunRepo(db, log)
	notify := &recordingNotifier{}
	return NewJobService(db, log, repo, notify, starter, "storybook-test"), repo, notify, db
}

func TestJobServiceEnqueueDispatchesOutsideTransaction(t *testing.T) {
	starter := &fakeStarter{}
	svc, repo, notify, _ := newTestJobService(t, starter)
	ctx := context.Background()
	owner := uuid.New()
	storyID := uuid.New()

	job, err := svc.Enqueue(dbctx.Context{Ctx: ctx}, owner, "story_generate", "story", &storyID, map[string]any{"story_id": storyID.String()})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != domainjobs.StatusQueued {
		t.Fatalf("status: want=%s got=%s", domainjobs.StatusQueued, job.Status)
	}
	if len(starter.calls) != 1 {
		t.Fatalf("workflow starts: want=1 got=%d", len(starter.calls))
	}
	if starter.calls[0].ID != job.ID.String() || starter.calls[0].TaskQueue != "storybook-test" {
		t.Fatalf("start options: got id=%s queue=%s", starter.calls[0].ID, starter.calls[0].TaskQueue)
	}
	if notify.created != 1 {
		t.Fatalf("JobCreated notifications: want=1 got=%d", notify.created)
	}
	stored, err := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetByID: job=%v err=%v", stored, err)
	}
}

func TestJobServiceEnqueueInsideTransactionDefersDispatch(t *testing.T) {
	starter := &fakeStarter{}
	svc, _, _, db := newTestJobService(t, starter)
	ctx := context.Background()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := svc.Enqueue(dbctx.Context{Ctx: ctx, Tx: tx}, uuid.New(), "story_generate", "story", nil, nil)
		return err
	})
	if err != nil {
		t.Fatalf("Enqueue in tx: %v", err)
	}
	if len(starter.calls) != 0 {
		t.Fatalf("workflow starts inside tx: want=0 got=%d", len(starter.calls))
	}
}

func TestJobServiceDispatchFailureMarksJobFailed(t *testing.T) {
	starter := &fakeStarter{err: errors.New("temporal unavailable")}
	svc, repo, notify, _ := newTestJobService(t, starter)
	ctx := context.Background()

	job, err := svc.Enqueue(dbctx.Context{Ctx: ctx}, uuid.New(), "story_generate", "story", nil, nil)
	if err == nil {
		t.Fatalf("Enqueue: expected dispatch error")
	}
	stored, gerr := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	if gerr != nil || stored == nil {
		t.Fatalf("GetByID: job=%v err=%v", stored, gerr)
	}
	if stored.Status != domainjobs.StatusFailed || stored.Stage != "dispatch" {
		t.Fatalf("job after failed dispatch: status=%s stage=%s", stored.Status, stored.Stage)
	}
	if notify.failed != 1 || notify.lastStage != "dispatch" {
		t.Fatalf("JobFailed: count=%d stage=%s", notify.failed, notify.lastStage)
	}
}

func TestJobServiceDispatchIgnoresAlreadyStarted(t *testing.T) {
	starter := &fakeStarter{err: &serviceerror.WorkflowExecutionAlreadyStarted{Message: "already started"}}
	svc, _, _, _ := newTestJobService(t, starter)
	if err := svc.Dispatch(dbctx.Context{Ctx: context.Background()}, uuid.New()); err != nil {
		t.Fatalf("Dispatch: want=nil got=%v", err)
	}
}

func TestJobServiceWithoutTemporalLeavesJobQueued(t *testing.T) {
	svc, repo, _, _ := newTestJobService(t, nil)
	ctx := context.Background()
	job, err := svc.Enqueue(dbctx.Context{Ctx: ctx}, uuid.New(), "story_generate", "story", nil, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	stored, _ := repo.GetByID(dbctx.Context{Ctx: ctx}, job.ID)
	if stored == nil || stored.Status != domainjobs.StatusQueued {
		t.Fatalf("job: want queued got=%v", stored)
	}
}

func TestJobServiceGetByIDForOwnerHidesOtherOwners(t *testing.T) {
	svc, _, _, _ := newTestJobService(t, nil)
	ctx := context.Background()
	owner := uuid.New()
	job, err := svc.Enqueue(dbctx.Context{Ctx: ctx}, owner, "story_generate", "story", nil, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := svc.GetByIDForOwner(dbctx.Context{Ctx: ctx}, owner, job.ID); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	_, err = svc.GetByIDForOwner(dbctx.Context{Ctx: ctx}, uuid.New(), job.ID)
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("other owner: want=not_found got=%v", err)
	}
}
