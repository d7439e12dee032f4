package steps

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/data/aggregates"
	"github.com/yungbote/storybook-backend/internal/data/repos"
	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
	"github.com/yungbote/storybook-backend/internal/observability"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/services"
)

const staleTimeoutReason = "generation timed out"

type SweepDeps struct {
	Log     *logger.Logger
	Writer  *aggregates.Writer
	Stories repos.StoryRepo
	Events  services.DomainEventPublisher
	Now     func() time.Time
}

type SweepInput struct {
	StaleAfter time.Duration
	Limit      int
}

type SweepOutput struct {
	Failed []uuid.UUID `json:"failed"`
}

// SweepStale fails stories that have sat in processing without a checkpoint
// for longer than StaleAfter, so their owners can retry.
func SweepStale(ctx context.Context, deps SweepDeps, in SweepInput) (SweepOutput, error) {
	const op = "story.sweep_stale"
	out := SweepOutput{}
	if deps.Log == nil || deps.Writer == nil || deps.Stories == nil || deps.Events == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "missing deps", nil)
	}
	if in.StaleAfter <= 0 {
		return out, nil
	}
	now := nowFrom(deps.Now)
	stale, err := deps.Stories.ListStaleProcessing(dbctx.Context{Ctx: ctx}, now.Add(-in.StaleAfter), in.Limit)
	if err != nil {
		return out, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	for _, candidate := range stale {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		id := candidate.ID
		failed := false
		err := deps.Writer.Execute(ctx, op, func(tx dbctx.Context) error {
			// Reload locked with chapters; Save rewrites the chapter list and a
			// running pass may be checkpointing the same row.
			story, err := deps.Stories.GetByIDForUpdate(tx, id)
			if err != nil {
				return err
			}
			if story == nil || !story.GenerationStatus.IsProcessing() || !story.UpdatedAt.Before(now.Add(-in.StaleAfter)) {
				return nil
			}
			if err := story.MarkFailed(staleTimeoutReason, now); err != nil {
				return err
			}
			if err := deps.Stories.Save(tx, story); err != nil {
				return err
			}
			failed = true
			return deps.Events.Publish(tx, domainstories.FailedEvent(story, now))
		})
		if err != nil {
			deps.Log.Warn("failed to sweep stale story", "story_id", id, "error", err)
			continue
		}
		if failed {
			observability.Current().IncStoryOutcome("timed_out")
			out.Failed = append(out.Failed, id)
		}
	}
	if len(out.Failed) > 0 {
		deps.Log.Info("swept stale stories", "count", len(out.Failed))
	}
	return out, nil
}
