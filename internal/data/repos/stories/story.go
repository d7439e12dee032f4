package stories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/storybook-backend/internal/domain"
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type StoryRepo interface {
	Create(dbc dbctx.Context, story *types.Story) error
	Save(dbc dbctx.Context, story *types.Story) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Story, error)
	GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Story, error)
	FindActiveByOwnerID(dbc dbctx.Context, ownerID uuid.UUID) (*types.Story, error)
	ExistsBySlug(dbc dbctx.Context, slug string, excludeID uuid.UUID) (bool, error)
	CountCreatedSince(dbc dbctx.Context, ownerID uuid.UUID, since time.Time) (int, error)
	ListStaleProcessing(dbc dbctx.Context, updatedBefore time.Time, limit int) ([]*types.Story, error)
}

type storyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStoryRepo(db *gorm.DB, baseLog *logger.Logger) StoryRepo {
	return &storyRepo{db: db, log: baseLog.With("repo", "StoryRepo")}
}

func (r *storyRepo) Create(dbc dbctx.Context, story *types.Story) error {
	if story == nil {
		return nil
	}
	return dbc.DB(r.db).Create(story).Error
}

// Save writes the aggregate and its chapter list. Chapters that are no
// longer part of the aggregate are removed.
func (r *storyRepo) Save(dbc dbctx.Context, story *types.Story) error {
	if story == nil || story.ID == uuid.Nil {
		return nil
	}
	save := func(tx *gorm.DB) error {
		keep := make([]uuid.UUID, 0, len(story.Chapters))
		for _, ch := range story.Chapters {
			if ch == nil {
				continue
			}
			if ch.ID == uuid.Nil {
				ch.ID = uuid.New()
			}
			ch.StoryID = story.ID
			keep = append(keep, ch.ID)
		}
		del := tx.Where("story_id = ?", story.ID)
		if len(keep) > 0 {
			del = del.Where("id NOT IN ?", keep)
		}
		if err := del.Delete(&types.Chapter{}).Error; err != nil {
			return err
		}
		return tx.Session(&gorm.Session{FullSaveAssociations: true}).Save(story).Error
	}
	if dbc.Tx != nil {
		return save(dbc.DB(r.db))
	}
	return dbc.DB(r.db).Transaction(save)
}

func (r *storyRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Story, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Story
	err := dbc.DB(r.db).
		Preload("Chapters", orderByPosition).
		Where("id = ?", id).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

// GetByIDForUpdate is GetByID with the story row locked until the caller's
// transaction ends. Only meaningful inside dbc.Tx.
func (r *storyRepo) GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Story, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Story
	err := dbc.DB(r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Chapters", orderByPosition).
		Where("id = ?", id).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *storyRepo) FindActiveByOwnerID(dbc dbctx.Context, ownerID uuid.UUID) (*types.Story, error) {
	if ownerID == uuid.Nil {
		return nil, nil
	}
	var out types.Story
	err := dbc.DB(r.db).
		Preload("Chapters", orderByPosition).
		Where("owner_id = ? AND generation_status IN ?", ownerID, domainstories.ActiveStatuses).
		Order("created_at DESC").
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *storyRepo) ExistsBySlug(dbc dbctx.Context, slug string, excludeID uuid.UUID) (bool, error) {
	if slug == "" {
		return false, nil
	}
	q := dbc.DB(r.db).Model(&types.Story{}).Where("slug = ?", slug)
	if excludeID != uuid.Nil {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *storyRepo) CountCreatedSince(dbc dbctx.Context, ownerID uuid.UUID, since time.Time) (int, error) {
	if ownerID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := dbc.DB(r.db).
		Model(&types.Story{}).
		Where("owner_id = ? AND created_at >= ?", ownerID, since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *storyRepo) ListStaleProcessing(dbc dbctx.Context, updatedBefore time.Time, limit int) ([]*types.Story, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.Story
	err := dbc.DB(r.db).
		Where("generation_status = ? AND updated_at < ?", domainstories.StatusProcessing, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func orderByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}
