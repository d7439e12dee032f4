package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	"github.com/yungbote/storybook-backend/internal/data/repos/testutil"
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
)

func TestQuotaOracleCountsCurrentMonth(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	owner := uuid.New()

	testutil.SeedStory(t, ctx, db, owner, domainstories.StatusCompleted)
	testutil.SeedStory(t, ctx, db, owner, domainstories.StatusFailed)
	old := testutil.SeedStory(t, ctx, db, owner, domainstories.StatusCompleted)
	lastYear := time.Now().UTC().AddDate(-1, 0, 0)
	if err := db.Model(old).Update("created_at", lastYear).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	q := NewQuotaOracle(log, repos.NewStoryRepo(db, log), QuotaConfig{MonthlyLimit: 3})
	snap, err := q.GetQuota(ctx, owner)
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if snap.StoriesCreatedThisMonth != 2 {
		t.Fatalf("created: want=2 got=%d", snap.StoriesCreatedThisMonth)
	}
	if snap.Remaining == nil || *snap.Remaining != 1 || !snap.CanCreate {
		t.Fatalf("remaining: want=1 can_create=true got=%v can_create=%v", snap.Remaining, snap.CanCreate)
	}

	q = NewQuotaOracle(log, repos.NewStoryRepo(db, log), QuotaConfig{MonthlyLimit: 2})
	snap, err = q.GetQuota(ctx, owner)
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if snap.CanCreate {
		t.Fatalf("can_create at limit: want=false got=true")
	}
	_, reset := domainstories.MonthWindow(time.Now())
	if !snap.ResetDate.Equal(reset) {
		t.Fatalf("reset: want=%v got=%v", reset, snap.ResetDate)
	}
}

func TestQuotaOracleUnlimited(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	vip := uuid.New()
	testutil.SeedStory(t, ctx, db, vip, domainstories.StatusCompleted)

	q := NewQuotaOracle(log, repos.NewStoryRepo(db, log), QuotaConfig{MonthlyLimit: 1, UnlimitedOwners: []uuid.UUID{vip}})
	snap, err := q.GetQuota(ctx, vip)
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if !snap.IsUnlimited || !snap.CanCreate || snap.Limit != nil {
		t.Fatalf("listed owner: want unlimited got=%+v", snap)
	}

	q = NewQuotaOracle(log, repos.NewStoryRepo(db, log), QuotaConfig{MonthlyLimit: 0})
	snap, err = q.GetQuota(ctx, uuid.New())
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if !snap.IsUnlimited {
		t.Fatalf("limit 0: want unlimited got=%+v", snap)
	}
	if _, err := q.GetQuota(ctx, uuid.Nil); err == nil {
		t.Fatalf("expected error for nil owner")
	}
}
