package events

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/storybook-backend/internal/domain"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type DomainEventRepo interface {
	Create(dbc dbctx.Context, rows []*types.DomainEvent) error
	ListUnpublished(dbc dbctx.Context, limit int) ([]*types.DomainEvent, error)
	MarkPublished(dbc dbctx.Context, ids []uuid.UUID, at time.Time) error
	MarkAttemptFailed(dbc dbctx.Context, id uuid.UUID, reason string) error
	ListByAggregate(dbc dbctx.Context, aggregateType string, aggregateID uuid.UUID) ([]*types.DomainEvent, error)
}

type domainEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDomainEventRepo(db *gorm.DB, baseLog *logger.Logger) DomainEventRepo {
	return &domainEventRepo{db: db, log: baseLog.With("repo", "DomainEventRepo")}
}

func (r *domainEventRepo) Create(dbc dbctx.Context, rows []*types.DomainEvent) error {
	if len(rows) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&rows).Error
}

func (r *domainEventRepo) ListUnpublished(dbc dbctx.Context, limit int) ([]*types.DomainEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.DomainEvent
	err := dbc.DB(r.db).
		Where("published_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *domainEventRepo) MarkPublished(dbc dbctx.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.DomainEvent{}).
		Where("id IN ? AND published_at IS NULL", ids).
		Update("published_at", at).Error
}

func (r *domainEventRepo) MarkAttemptFailed(dbc dbctx.Context, id uuid.UUID, reason string) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.DomainEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
		}).Error
}

func (r *domainEventRepo) ListByAggregate(dbc dbctx.Context, aggregateType string, aggregateID uuid.UUID) ([]*types.DomainEvent, error) {
	var out []*types.DomainEvent
	err := dbc.DB(r.db).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
