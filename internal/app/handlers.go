package app

import (
	"gorm.io/gorm"

	httpH "github.com/yungbote/storybook-backend/internal/http/handlers"
	httpMW "github.com/yungbote/storybook-backend/internal/http/middleware"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/realtime"
)

type Handlers struct {
	Story    *httpH.StoryHandler
	Catalog  *httpH.CatalogHandler
	Realtime *httpH.RealtimeHandler
	Health   *httpH.HealthHandler
	Auth     *httpMW.AuthMiddleware
}

func wireHandlers(db *gorm.DB, log *logger.Logger, reposet Repos, serviceset Services, hub *realtime.Hub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Story:    httpH.NewStoryHandler(log, serviceset.Stories),
		Catalog:  httpH.NewCatalogHandler(reposet.Catalog),
		Realtime: httpH.NewRealtimeHandler(log, hub),
		Health:   httpH.NewHealthHandler(db),
		Auth:     httpMW.NewAuthMiddleware(log, serviceset.Auth),
	}
}
