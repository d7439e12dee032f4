package http

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/storybook-backend/internal/http/handlers"
	httpMW "github.com/yungbote/storybook-backend/internal/http/middleware"
	"github.com/yungbote/storybook-backend/internal/observability"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AllowedOrigins []string

	AuthMiddleware *httpMW.AuthMiddleware

	StoryHandler    *httpH.StoryHandler
	CatalogHandler  *httpH.CatalogHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler

	// MediaDir is served under MediaPrefix when local media storage is used.
	MediaPrefix string
	MediaDir    string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "storybook"
	}
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	if cfg.MediaPrefix != "" && cfg.MediaDir != "" {
		r.Static(cfg.MediaPrefix, cfg.MediaDir)
	}

	api := r.Group("/api")
	{
		if cfg.CatalogHandler != nil {
			api.GET("/catalog", cfg.CatalogHandler.GetCatalog)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			protected.GET("/events", cfg.RealtimeHandler.Stream)
		}

		// Stories
		if cfg.StoryHandler != nil {
			protected.POST("/stories", cfg.StoryHandler.CreateStory)
			protected.GET("/stories/quota", cfg.StoryHandler.GetQuota)
			protected.POST("/stories/:id/retry", cfg.StoryHandler.RetryStory)
			protected.GET("/stories/:id/generation", cfg.StoryHandler.GetGeneration)
		}
	}

	return r
}
