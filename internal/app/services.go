package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/storybook-backend/internal/data/aggregates"
	storiesmod "github.com/yungbote/storybook-backend/internal/modules/stories"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/realtime"
	"github.com/yungbote/storybook-backend/internal/services"
)

type Services struct {
	Auth   services.AuthService
	Notify services.JobNotifier
	Jobs   services.JobService
	Quota  services.QuotaOracle
	Events services.DomainEventPublisher
	Outbox *services.OutboxRelay

	Text   services.TextGenerationProvider
	Images services.ImageGenerationProvider

	Stories storiesmod.Usecases
}

// notifierEmitter picks where job lifecycle messages go. A worker process has
// no connected clients, so it publishes to the bus; an api-only process
// broadcasts straight to its hub.
func notifierEmitter(cfg Config, log *logger.Logger, clients Clients, hub *realtime.Hub) services.RealtimeEmitter {
	if cfg.RunsWorker() {
		return &services.BusEmitter{Bus: clients.Bus, Log: log}
	}
	return &services.HubEmitter{Hub: hub}
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, clients Clients, hub *realtime.Hub) (Services, error) {
	log.Info("Wiring services...")

	notify := services.NewJobNotifier(notifierEmitter(cfg, log, clients, hub))

	var starter services.WorkflowStarter
	if clients.Temporal != nil {
		starter = clients.Temporal
	}
	jobs := services.NewJobService(db, log, reposet.JobRun, notify, starter, clients.TemporalCfg.TaskQueue)

	quota := services.NewQuotaOracle(log, reposet.Story, services.QuotaConfig{
		MonthlyLimit:    cfg.MonthlyLimit,
		UnlimitedOwners: cfg.UnlimitedOwners,
	})
	events := services.NewDomainEventPublisher(log, reposet.DomainEvent)
	outbox := services.NewOutboxRelay(log, reposet.DomainEvent, clients.Bus, cfg.OutboxBatch)

	var text services.TextGenerationProvider
	switch cfg.TextProvider {
	case "openai":
		text = services.NewOpenAITextProvider(log, clients.OpenAI)
	default:
		text = services.NewTemplateTextProvider()
	}

	var images services.ImageGenerationProvider
	switch cfg.ImageProvider {
	case "openai":
		images = services.NewOpenAIImageProvider(log, clients.OpenAI, clients.Media.Store, cfg.ChapterImageConcurrency)
	default:
		p, err := services.NewPlaceholderImageProvider(log, clients.Media.Store, cfg.PlaceholderFontPath, cfg.ChapterImageConcurrency)
		if err != nil {
			return Services{}, fmt.Errorf("init placeholder image provider: %w", err)
		}
		images = p
	}
	log.Info("Generation providers selected", "text", text.Name(), "images", images.Name(), "storage", clients.Media.Provider)

	stories := storiesmod.New(storiesmod.UsecasesDeps{
		Log:     log.With("module", "stories"),
		Writer:  aggregates.NewWriter(aggregates.NewGormTxRunner(db), aggregates.NewLogHooks(log)),
		Stories: reposet.Story,
		Catalog: reposet.Catalog,
		JobRuns: reposet.JobRun,
		Quota:   quota,
		Jobs:    jobs,
		Events:  events,
		Text:    text,
		Images:  images,
	})

	return Services{
		Auth:    services.NewAuthService(log, cfg.JWTSecretKey, cfg.AccessTokenTTL),
		Notify:  notify,
		Jobs:    jobs,
		Quota:   quota,
		Events:  events,
		Outbox:  outbox,
		Text:    text,
		Images:  images,
		Stories: stories,
	}, nil
}
