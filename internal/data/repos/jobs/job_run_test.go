package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/storybook-backend/internal/data/repos/testutil"
	types "github.com/yungbote/storybook-backend/internal/domain"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
)

func TestJobRunRepo(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	ownerID := uuid.New()

	queued := &types.JobRun{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		JobType:    "test_job",
		EntityType: "story",
		EntityID:   testutil.PtrUUID(uuid.New()),
		Status:     "queued",
		Stage:      "queued",
		Payload:    datatypes.JSON([]byte("{}")),
		Result:     datatypes.JSON([]byte("{}")),
		CreatedAt:  now.Add(-3 * time.Hour),
		UpdatedAt:  now.Add(-3 * time.Hour),
	}
	failed := &types.JobRun{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		JobType:     "test_job",
		EntityType:  "story",
		EntityID:    testutil.PtrUUID(uuid.New()),
		Status:      "failed",
		Stage:       "failed",
		LastErrorAt: testutil.PtrTime(now.Add(-2 * time.Hour)),
		Payload:     datatypes.JSON([]byte("{}")),
		Result:      datatypes.JSON([]byte("{}")),
		CreatedAt:   now.Add(-2 * time.Hour),
		UpdatedAt:   now.Add(-2 * time.Hour),
	}
	staleRunning := &types.JobRun{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		JobType:     "test_job",
		EntityType:  "story",
		EntityID:    testutil.PtrUUID(uuid.New()),
		Status:      "running",
		Stage:       "running",
		HeartbeatAt: testutil.PtrTime(now.Add(-10 * time.Hour)),
		Payload:     datatypes.JSON([]byte("{}")),
		Result:      datatypes.JSON([]byte("{}")),
		CreatedAt:   now.Add(-1 * time.Hour),
		UpdatedAt:   now.Add(-1 * time.Hour),
	}

	created, err := repo.Create(dbc, []*types.JobRun{queued, failed, staleRunning})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("Create: want=3 got=%d", len(created))
	}

	if rows, err := repo.GetByIDs(dbc, []uuid.UUID{queued.ID, failed.ID, staleRunning.ID}); err != nil || len(rows) != 3 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}
	if row, err := repo.GetByID(dbc, queued.ID); err != nil || row == nil || row.Status != "queued" {
		t.Fatalf("GetByID: err=%v row=%v", err, row)
	}

	entityID := uuid.New()
	older := &types.JobRun{
		ID: uuid.New(), OwnerID: ownerID, JobType: "build", EntityType: "story", EntityID: &entityID,
		Status: "succeeded", Stage: "done", CreatedAt: now.Add(-5 * time.Hour), UpdatedAt: now.Add(-5 * time.Hour),
	}
	newer := &types.JobRun{
		ID: uuid.New(), OwnerID: ownerID, JobType: "build", EntityType: "story", EntityID: &entityID,
		Status: "succeeded", Stage: "done", CreatedAt: now.Add(-4 * time.Hour), UpdatedAt: now.Add(-4 * time.Hour),
	}
	if _, err := repo.Create(dbc, []*types.JobRun{older, newer}); err != nil {
		t.Fatalf("seed latest: %v", err)
	}
	latest, err := repo.GetLatestByEntity(dbc, ownerID, "story", entityID, "build")
	if err != nil {
		t.Fatalf("GetLatestByEntity: %v", err)
	}
	if latest == nil || latest.ID != newer.ID {
		t.Fatalf("GetLatestByEntity: want=%v got=%v", newer.ID, latest)
	}

	// The runnable set is walked in created_at ASC order.
	for i, want := range []uuid.UUID{queued.ID, failed.ID, staleRunning.ID} {
		claim, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour)
		if err != nil {
			t.Fatalf("ClaimNextRunnable #%d: %v", i+1, err)
		}
		if claim == nil || claim.ID != want {
			t.Fatalf("ClaimNextRunnable #%d: want=%v got=%v", i+1, want, claim)
		}
		if claim.Status != "running" {
			t.Fatalf("ClaimNextRunnable #%d: status want=running got=%s", i+1, claim.Status)
		}
	}
	if claim, err := repo.ClaimNextRunnable(dbc, 3, time.Hour, time.Hour); err != nil || claim != nil {
		t.Fatalf("ClaimNextRunnable #4: err=%v claim=%v", err, claim)
	}

	// maxAttempts=1 keeps failed jobs failed.
	failedOnce := &types.JobRun{
		ID: uuid.New(), OwnerID: ownerID, JobType: "test_job", Status: "failed", Stage: "failed",
		Attempts: 1, LastErrorAt: testutil.PtrTime(now.Add(-5 * time.Hour)),
		CreatedAt: now.Add(-6 * time.Hour), UpdatedAt: now.Add(-6 * time.Hour),
	}
	if _, err := repo.Create(dbc, []*types.JobRun{failedOnce}); err != nil {
		t.Fatalf("seed failedOnce: %v", err)
	}
	if claim, err := repo.ClaimNextRunnable(dbc, 1, time.Hour, time.Hour); err != nil || claim != nil {
		t.Fatalf("ClaimNextRunnable(maxAttempts=1): err=%v claim=%v", err, claim)
	}

	if err := repo.UpdateFields(dbc, queued.ID, map[string]interface{}{"stage": "text", "progress": 10}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if err := repo.Heartbeat(dbc, queued.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	ok, err := repo.UpdateFieldsUnlessStatus(dbc, queued.ID, []string{"canceled"}, map[string]interface{}{"status": "canceled"})
	if err != nil || !ok {
		t.Fatalf("UpdateFieldsUnlessStatus: err=%v ok=%v", err, ok)
	}
	ok, err = repo.UpdateFieldsUnlessStatus(dbc, queued.ID, []string{"canceled"}, map[string]interface{}{"status": "succeeded"})
	if err != nil || ok {
		t.Fatalf("UpdateFieldsUnlessStatus(canceled): err=%v ok=%v", err, ok)
	}

	rEntityID := uuid.New()
	runnable := &types.JobRun{
		ID: uuid.New(), OwnerID: ownerID, JobType: "rebuild", EntityType: "story", EntityID: &rEntityID,
		Status: "queued", Stage: "queued", CreatedAt: now, UpdatedAt: now,
	}
	if _, err := repo.Create(dbc, []*types.JobRun{runnable}); err != nil {
		t.Fatalf("seed runnable: %v", err)
	}
	has, err := repo.HasRunnableForEntity(dbc, ownerID, "story", rEntityID, "rebuild")
	if err != nil || !has {
		t.Fatalf("HasRunnableForEntity: err=%v has=%v", err, has)
	}
}
