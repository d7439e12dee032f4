package app

import (
	apphttp "github.com/yungbote/storybook-backend/internal/http"
	"github.com/yungbote/storybook-backend/internal/observability"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, h Handlers, clients Clients) *apphttp.Server {
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:             log,
		Metrics:         observability.Current(),
		ServiceName:     "storybook",
		AllowedOrigins:  cfg.AllowedOrigins,
		AuthMiddleware:  h.Auth,
		StoryHandler:    h.Story,
		CatalogHandler:  h.Catalog,
		RealtimeHandler: h.Realtime,
		HealthHandler:   h.Health,
		MediaPrefix:     clients.Media.LocalPrefix,
		MediaDir:        clients.Media.LocalDir,
	})
}
