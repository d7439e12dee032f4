package steps

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
)

type StatusDeps struct {
	Stories repos.StoryRepo
	JobRuns repos.JobRunRepo
}

type StatusInput struct {
	OwnerID uuid.UUID
	StoryID uuid.UUID
}

type GenerationStatusView struct {
	ID          uuid.UUID              `json:"id"`
	Status      types.GenerationStatus `json:"status"`
	JobID       *uuid.UUID             `json:"job_id,omitempty"`
	Slug        *string                `json:"slug,omitempty"`
	Attempts    int                    `json:"attempts"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Stage       string                 `json:"stage,omitempty"`
	Progress    *int                   `json:"progress,omitempty"`
	Message     string                 `json:"message,omitempty"`
}

// GetGenerationStatus is the owner-scoped poll read model. Stage and progress
// come from the story's current job run when it still exists, or the latest
// generate run for the story when none is recorded.
func GetGenerationStatus(ctx context.Context, deps StatusDeps, in StatusInput) (GenerationStatusView, error) {
	const op = "story.status"
	var out GenerationStatusView
	if deps.Stories == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "missing deps", nil)
	}
	story, err := loadStory(ctx, deps.Stories, op, in.StoryID)
	if err != nil {
		return out, err
	}
	if !story.IsOwnedBy(in.OwnerID) {
		return out, domainagg.NewError(domainagg.CodeUnauthorized, op, "not the owner of this story", nil)
	}
	out = GenerationStatusView{
		ID:          story.ID,
		Status:      story.GenerationStatus,
		JobID:       story.JobID,
		Slug:        story.Slug,
		Attempts:    story.GenerationAttempts,
		StartedAt:   story.GenerationStartedAt,
		CompletedAt: story.GenerationCompletedAt,
		Error:       story.GenerationError,
	}
	if deps.JobRuns == nil {
		return out, nil
	}
	dbc := dbctx.Context{Ctx: ctx}
	var job *types.JobRun
	if story.JobID != nil {
		job, err = deps.JobRuns.GetByID(dbc, *story.JobID)
	} else {
		// Stories queued before a job id was recorded on them.
		job, err = deps.JobRuns.GetLatestByEntity(dbc, story.OwnerID, domainstories.AggregateType, story.ID, domainstories.GenerateJobType)
	}
	if err != nil {
		return out, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if job != nil {
		p := job.Progress
		out.Stage = job.Stage
		out.Progress = &p
		out.Message = job.Message
	}
	return out, nil
}
