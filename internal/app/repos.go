package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type Repos struct {
	Story       repos.StoryRepo
	Catalog     repos.CatalogRepo
	JobRun      repos.JobRunRepo
	DomainEvent repos.DomainEventRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Story:       repos.NewStoryRepo(db, log),
		Catalog:     repos.NewCatalogRepo(db, log),
		JobRun:      repos.NewJobRunRepo(db, log),
		DomainEvent: repos.NewDomainEventRepo(db, log),
	}
}
