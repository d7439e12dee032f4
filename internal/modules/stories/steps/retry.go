package steps

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/data/aggregates"
	"github.com/yungbote/storybook-backend/internal/data/repos"
	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/services"
)

type RetryDeps struct {
	Log     *logger.Logger
	Writer  *aggregates.Writer
	Stories repos.StoryRepo
	Jobs    services.JobService
	Events  services.DomainEventPublisher
	Now     func() time.Time
}

type RetryInput struct {
	OwnerID uuid.UUID `json:"owner_id"`
	StoryID uuid.UUID `json:"story_id"`
}

// Retry re-runs generation for a failed story under a new job. Work already
// checkpointed on the story is kept and skipped by the pipeline.
func Retry(ctx context.Context, deps RetryDeps, in RetryInput) (Result, error) {
	const op = "story.retry"
	var out Result
	if deps.Log == nil || deps.Writer == nil || deps.Stories == nil || deps.Jobs == nil || deps.Events == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "missing deps", nil)
	}
	story, err := loadStory(ctx, deps.Stories, op, in.StoryID)
	if err != nil {
		return out, err
	}
	if !story.IsOwnedBy(in.OwnerID) {
		return out, domainagg.NewError(domainagg.CodeUnauthorized, op, "not the owner of this story", nil)
	}
	if !story.GenerationStatus.IsFailed() {
		return out, domainagg.NewError(domainagg.CodeInvalidState, op, "only failed stories can be retried", nil)
	}

	now := nowFrom(deps.Now)
	err = deps.Writer.Execute(ctx, op, func(tx dbctx.Context) error {
		// A concurrent retry may have won since the read above.
		current, err := deps.Stories.GetByIDForUpdate(tx, story.ID)
		if err != nil {
			return err
		}
		if current == nil || !current.GenerationStatus.IsFailed() {
			return domainagg.NewError(domainagg.CodeInvalidState, op, "only failed stories can be retried", nil)
		}
		story = current
		if err := story.TransitionTo(domainstories.StatusPending, now); err != nil {
			return err
		}
		job, err := deps.Jobs.Enqueue(tx, story.OwnerID, domainstories.GenerateJobType, domainstories.AggregateType, &story.ID, map[string]any{
			"story_id": story.ID.String(),
			"retry":    true,
		})
		if err != nil {
			return err
		}
		if err := story.StartProcessing(job.ID, now); err != nil {
			return err
		}
		if err := deps.Stories.Save(tx, story); err != nil {
			return err
		}
		return deps.Events.Publish(tx, domainstories.RetriedEvent(story, now))
	})
	if err != nil {
		return out, err
	}

	dispatchAfterCommit(ctx, deps.Log, deps.Jobs, deps.Writer, deps.Stories, deps.Events, story, now)
	deps.Log.Info("story generation retried", "story_id", story.ID, "job_id", story.JobID, "attempts", story.GenerationAttempts)
	return resultOf(story), nil
}
