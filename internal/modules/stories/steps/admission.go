package steps

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/data/aggregates"
	"github.com/yungbote/storybook-backend/internal/data/repos"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
	"github.com/yungbote/storybook-backend/internal/observability"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/services"
)

type AdmitDeps struct {
	Log     *logger.Logger
	Writer  *aggregates.Writer
	Stories repos.StoryRepo
	Catalog repos.CatalogRepo
	Quota   services.QuotaOracle
	Jobs    services.JobService
	Events  services.DomainEventPublisher
	Now     func() time.Time
}

type AdmitInput struct {
	OwnerID    uuid.UUID   `json:"owner_id"`
	Brief      types.Brief `json:"brief"`
	ThemeID    uuid.UUID   `json:"theme_id"`
	LanguageID uuid.UUID   `json:"language_id"`
	ToneID     uuid.UUID   `json:"tone_id"`
	IsPublic   bool        `json:"is_public"`
}

type AdmitOutput struct {
	Result
	// Existing is set when an in-flight story was returned instead of a new one.
	Existing bool `json:"existing"`
}

// Admit creates a story and starts its generation job. An owner with a
// story still pending or processing gets that story back unchanged.
func Admit(ctx context.Context, deps AdmitDeps, in AdmitInput) (AdmitOutput, error) {
	const op = "story.admit"
	var out AdmitOutput
	if deps.Log == nil || deps.Writer == nil || deps.Stories == nil || deps.Catalog == nil || deps.Quota == nil || deps.Jobs == nil || deps.Events == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "missing deps", nil)
	}
	if in.OwnerID == uuid.Nil {
		return out, domainagg.NewError(domainagg.CodeUnauthorized, op, "not authenticated", nil)
	}
	brief := in.Brief.Normalize()
	if err := brief.Validate(); err != nil {
		return out, err
	}

	dbc := dbctx.Context{Ctx: ctx}
	active, err := deps.Stories.FindActiveByOwnerID(dbc, in.OwnerID)
	if err != nil {
		return out, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if active != nil {
		observability.Current().IncAdmission("active")
		deps.Log.Info("active story returned instead of admitting", "owner_id", in.OwnerID, "story_id", active.ID, "status", active.GenerationStatus)
		return AdmitOutput{Result: resultOf(active), Existing: true}, nil
	}

	quota, err := deps.Quota.GetQuota(ctx, in.OwnerID)
	if err != nil {
		return out, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if !quota.CanCreate {
		observability.Current().IncAdmission("quota_exceeded")
		return out, domainagg.NewError(domainagg.CodeQuotaExceeded, op, "monthly story limit reached", nil)
	}

	theme, language, tone, err := resolveCatalog(dbc, deps.Catalog, in)
	if err != nil {
		return out, err
	}

	now := nowFrom(deps.Now)
	var story *types.Story
	err = deps.Writer.Execute(ctx, op, func(tx dbctx.Context) error {
		s, err := domainstories.NewStory(domainstories.NewStoryParams{
			OwnerID:  in.OwnerID,
			Brief:    brief,
			Theme:    theme.Ref(),
			Language: language.Ref(),
			Tone:     tone.Ref(),
			IsPublic: in.IsPublic,
			Now:      now,
		})
		if err != nil {
			return err
		}
		if err := deps.Stories.Create(tx, s); err != nil {
			return err
		}
		if err := deps.Events.Publish(tx, domainstories.CreatedEvent(s, now)); err != nil {
			return err
		}
		job, err := deps.Jobs.Enqueue(tx, in.OwnerID, domainstories.GenerateJobType, domainstories.AggregateType, &s.ID, map[string]any{
			"story_id": s.ID.String(),
		})
		if err != nil {
			return err
		}
		if err := s.StartProcessing(job.ID, now); err != nil {
			return err
		}
		if err := deps.Stories.Save(tx, s); err != nil {
			return err
		}
		story = s
		return nil
	})
	if domainagg.IsCode(err, domainagg.CodeConflict) {
		// Lost the race against a concurrent admission for the same owner.
		if again, rerr := deps.Stories.FindActiveByOwnerID(dbc, in.OwnerID); rerr == nil && again != nil {
			return AdmitOutput{Result: resultOf(again), Existing: true}, nil
		}
	}
	if err != nil {
		return out, err
	}

	dispatchAfterCommit(ctx, deps.Log, deps.Jobs, deps.Writer, deps.Stories, deps.Events, story, now)
	observability.Current().IncAdmission("created")
	deps.Log.Info("story admitted", "owner_id", in.OwnerID, "story_id", story.ID, "job_id", story.JobID)
	return AdmitOutput{Result: resultOf(story)}, nil
}

func resolveCatalog(dbc dbctx.Context, catalog repos.CatalogRepo, in AdmitInput) (*types.Theme, *types.Language, *types.Tone, error) {
	const op = "story.admit"
	theme, err := catalog.GetTheme(dbc, in.ThemeID)
	if err != nil {
		return nil, nil, nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if theme == nil {
		return nil, nil, nil, domainagg.NewError(domainagg.CodeNotFound, op, "theme not found", nil)
	}
	language, err := catalog.GetLanguage(dbc, in.LanguageID)
	if err != nil {
		return nil, nil, nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if language == nil {
		return nil, nil, nil, domainagg.NewError(domainagg.CodeNotFound, op, "language not found", nil)
	}
	tone, err := catalog.GetTone(dbc, in.ToneID)
	if err != nil {
		return nil, nil, nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if tone == nil {
		return nil, nil, nil, domainagg.NewError(domainagg.CodeNotFound, op, "tone not found", nil)
	}
	return theme, language, tone, nil
}

// dispatchAfterCommit starts the committed job. When the start itself fails
// the job row is already failed, so the story is failed too and the owner
// can retry instead of waiting on a job that will never run.
func dispatchAfterCommit(
	ctx context.Context,
	log *logger.Logger,
	jobs services.JobService,
	writer *aggregates.Writer,
	stories repos.StoryRepo,
	events services.DomainEventPublisher,
	story *types.Story,
	now time.Time,
) {
	if story == nil || story.JobID == nil {
		return
	}
	derr := jobs.Dispatch(dbctx.Context{Ctx: ctx}, *story.JobID)
	if derr == nil {
		return
	}
	log.Warn("job dispatch failed; failing story", "story_id", story.ID, "job_id", *story.JobID, "error", derr)
	jobID := *story.JobID
	err := writer.Execute(ctx, "story.dispatch_failed", func(tx dbctx.Context) error {
		current, err := stories.GetByIDForUpdate(tx, story.ID)
		if err != nil {
			return err
		}
		// Already settled by whoever picked the job up.
		if current == nil || !current.GenerationStatus.IsActive() || current.JobID == nil || *current.JobID != jobID {
			return nil
		}
		if err := current.MarkFailed("could not start generation: "+derr.Error(), now); err != nil {
			return err
		}
		if err := stories.Save(tx, current); err != nil {
			return err
		}
		*story = *current
		return events.Publish(tx, domainstories.FailedEvent(current, now))
	})
	if err != nil {
		log.Error("failed to record dispatch failure", "story_id", story.ID, "error", err)
	}
}
