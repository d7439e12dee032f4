package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/platform/openai"
	"github.com/yungbote/storybook-backend/internal/realtime/bus"
	"github.com/yungbote/storybook-backend/internal/temporalx"
)

type Clients struct {
	Bus      bus.Bus
	Temporal temporalsdkclient.Client
	OpenAI   openai.Client
	Media    imageStore

	TemporalCfg temporalx.Config
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	// Realtime bus. Without redis every process fans out in memory, which
	// only reaches clients when api and worker share a process.
	if cfg.RedisAddr != "" {
		b, err := bus.NewRedisBus(log, bus.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		})
		if err != nil {
			return out, fmt.Errorf("init redis bus: %w", err)
		}
		out.Bus = b
	} else {
		if cfg.Mode != ModeAll {
			log.Warn("REDIS_ADDR not set; realtime events stay inside this process", "mode", cfg.Mode)
		}
		out.Bus = bus.NewMemoryBus()
	}

	// Temporal
	out.TemporalCfg = temporalx.LoadConfig()
	if out.TemporalCfg.Enabled() {
		tc, err := temporalx.NewClient(ctx, log, out.TemporalCfg)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init temporal client: %w", err)
		}
		out.Temporal = tc
	}

	// OpenAI, only when a provider needs it.
	if cfg.TextProvider == "openai" || cfg.ImageProvider == "openai" {
		oc, err := openai.NewClient(log, openai.ConfigFromEnv())
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init openai client: %w", err)
		}
		out.OpenAI = oc
	}

	// Image storage
	media, err := resolveImageStore(ctx, log, cfg)
	if err != nil {
		out.Close()
		return Clients{}, err
	}
	out.Media = media

	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
}
