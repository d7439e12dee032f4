package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/storybook-backend/internal/data/repos/events"
	"github.com/yungbote/storybook-backend/internal/data/repos/jobs"
	"github.com/yungbote/storybook-backend/internal/data/repos/stories"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type StoryRepo = stories.StoryRepo
type CatalogRepo = stories.CatalogRepo
type CatalogSeed = stories.Seed

type JobRunRepo = jobs.JobRunRepo

type DomainEventRepo = events.DomainEventRepo

func NewStoryRepo(db *gorm.DB, baseLog *logger.Logger) StoryRepo {
	return stories.NewStoryRepo(db, baseLog)
}

func NewCatalogRepo(db *gorm.DB, baseLog *logger.Logger) CatalogRepo {
	return stories.NewCatalogRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}

func NewDomainEventRepo(db *gorm.DB, baseLog *logger.Logger) DomainEventRepo {
	return events.NewDomainEventRepo(db, baseLog)
}

// DefaultCatalogSeed is the catalog shipped with the binary.
func DefaultCatalogSeed() (CatalogSeed, error) { return stories.DefaultSeed() }

func LoadCatalogSeedFile(path string) (CatalogSeed, error) { return stories.LoadSeedFile(path) }
