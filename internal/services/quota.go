package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type QuotaOracle interface {
	GetQuota(ctx context.Context, ownerID uuid.UUID) (types.QuotaSnapshot, error)
}

type QuotaConfig struct {
	// MonthlyLimit <= 0 means unlimited for everyone.
	MonthlyLimit    int
	UnlimitedOwners []uuid.UUID
}

// monthlyQuota counts stories created since the start of the UTC month.
// Failed stories count: a retry reuses the aggregate rather than creating one.
type monthlyQuota struct {
	log       *logger.Logger
	stories   repos.StoryRepo
	limit     int
	unlimited map[uuid.UUID]struct{}
	now       func() time.Time
}

func NewQuotaOracle(baseLog *logger.Logger, stories repos.StoryRepo, cfg QuotaConfig) QuotaOracle {
	unlimited := make(map[uuid.UUID]struct{}, len(cfg.UnlimitedOwners))
	for _, id := range cfg.UnlimitedOwners {
		if id != uuid.Nil {
			unlimited[id] = struct{}{}
		}
	}
	return &monthlyQuota{
		log:       baseLog.With("service", "QuotaOracle"),
		stories:   stories,
		limit:     cfg.MonthlyLimit,
		unlimited: unlimited,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (q *monthlyQuota) GetQuota(ctx context.Context, ownerID uuid.UUID) (types.QuotaSnapshot, error) {
	if ownerID == uuid.Nil {
		return types.QuotaSnapshot{}, fmt.Errorf("missing owner_id")
	}
	start, reset := domainstories.MonthWindow(q.now())
	created, err := q.stories.CountCreatedSince(dbctx.Context{Ctx: ctx}, ownerID, start)
	if err != nil {
		return types.QuotaSnapshot{}, fmt.Errorf("count stories: %w", err)
	}

	var limit *int
	if _, ok := q.unlimited[ownerID]; !ok && q.limit > 0 {
		l := q.limit
		limit = &l
	}
	snap := domainstories.NewQuotaSnapshot(created, limit, reset)
	q.log.Debug("quota computed", "owner_id", ownerID, "created", created, "can_create", snap.CanCreate)
	return snap, nil
}
