package stories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/storybook-backend/internal/domain"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type CatalogRepo interface {
	GetTheme(dbc dbctx.Context, id uuid.UUID) (*types.Theme, error)
	GetLanguage(dbc dbctx.Context, id uuid.UUID) (*types.Language, error)
	GetTone(dbc dbctx.Context, id uuid.UUID) (*types.Tone, error)
	ListThemes(dbc dbctx.Context) ([]*types.Theme, error)
	ListLanguages(dbc dbctx.Context) ([]*types.Language, error)
	ListTones(dbc dbctx.Context) ([]*types.Tone, error)
	Upsert(dbc dbctx.Context, seed Seed) error
}

type catalogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCatalogRepo(db *gorm.DB, baseLog *logger.Logger) CatalogRepo {
	return &catalogRepo{db: db, log: baseLog.With("repo", "CatalogRepo")}
}

func (r *catalogRepo) GetTheme(dbc dbctx.Context, id uuid.UUID) (*types.Theme, error) {
	var out types.Theme
	if err := firstActive(dbc.DB(r.db), id, &out); err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *catalogRepo) GetLanguage(dbc dbctx.Context, id uuid.UUID) (*types.Language, error) {
	var out types.Language
	if err := firstActive(dbc.DB(r.db), id, &out); err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *catalogRepo) GetTone(dbc dbctx.Context, id uuid.UUID) (*types.Tone, error) {
	var out types.Tone
	if err := firstActive(dbc.DB(r.db), id, &out); err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *catalogRepo) ListThemes(dbc dbctx.Context) ([]*types.Theme, error) {
	var out []*types.Theme
	if err := dbc.DB(r.db).Where("is_active = ?", true).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *catalogRepo) ListLanguages(dbc dbctx.Context) ([]*types.Language, error) {
	var out []*types.Language
	if err := dbc.DB(r.db).Where("is_active = ?", true).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *catalogRepo) ListTones(dbc dbctx.Context) ([]*types.Tone, error) {
	var out []*types.Tone
	if err := dbc.DB(r.db).Where("is_active = ?", true).Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert inserts seed rows keyed by their natural key (name, or code for
// languages) and refreshes descriptions of existing rows. IDs of existing
// rows are kept.
func (r *catalogRepo) Upsert(dbc dbctx.Context, seed Seed) error {
	now := time.Now().UTC()
	db := dbc.DB(r.db)
	for _, t := range seed.Themes {
		row := &types.Theme{ID: uuid.New(), Name: t.Name, Description: t.Description, IsActive: true, CreatedAt: now, UpdatedAt: now}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "updated_at"}),
		}).Create(row).Error; err != nil {
			return err
		}
	}
	for _, l := range seed.Languages {
		row := &types.Language{ID: uuid.New(), Name: l.Name, Code: l.Code, IsActive: true, CreatedAt: now, UpdatedAt: now}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).Create(row).Error; err != nil {
			return err
		}
	}
	for _, t := range seed.Tones {
		row := &types.Tone{ID: uuid.New(), Name: t.Name, Description: t.Description, IsActive: true, CreatedAt: now, UpdatedAt: now}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "updated_at"}),
		}).Create(row).Error; err != nil {
			return err
		}
	}
	return nil
}

func firstActive(db *gorm.DB, id uuid.UUID, out interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	return db.Where("id = ? AND is_active = ?", id, true).Limit(1).Find(out).Error
}
