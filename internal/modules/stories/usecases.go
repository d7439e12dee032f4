package stories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/data/aggregates"
	"github.com/yungbote/storybook-backend/internal/data/repos"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	"github.com/yungbote/storybook-backend/internal/modules/stories/steps"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/services"
)

type UsecasesDeps struct {
	Log    *logger.Logger
	Writer *aggregates.Writer

	Stories repos.StoryRepo
	Catalog repos.CatalogRepo
	JobRuns repos.JobRunRepo

	Quota  services.QuotaOracle
	Jobs   services.JobService
	Events services.DomainEventPublisher

	// Generation only.
	Text   services.TextGenerationProvider
	Images services.ImageGenerationProvider

	Now func() time.Time
}

type Usecases struct {
	deps UsecasesDeps
}

func New(deps UsecasesDeps) Usecases { return Usecases{deps: deps} }

func (u Usecases) WithLog(log *logger.Logger) Usecases {
	u.deps.Log = log
	return u
}

type (
	Result = steps.Result

	AdmitInput  = steps.AdmitInput
	AdmitOutput = steps.AdmitOutput

	RetryInput = steps.RetryInput

	StatusInput          = steps.StatusInput
	GenerationStatusView = steps.GenerationStatusView

	GenerateInput  = steps.GenerateInput
	GenerateOutput = steps.GenerateOutput
	ProgressFunc   = steps.ProgressFunc

	SweepInput  = steps.SweepInput
	SweepOutput = steps.SweepOutput
)

func (u Usecases) Admit(ctx context.Context, in AdmitInput) (AdmitOutput, error) {
	return steps.Admit(ctx, steps.AdmitDeps{
		Log:     u.deps.Log,
		Writer:  u.deps.Writer,
		Stories: u.deps.Stories,
		Catalog: u.deps.Catalog,
		Quota:   u.deps.Quota,
		Jobs:    u.deps.Jobs,
		Events:  u.deps.Events,
		Now:     u.deps.Now,
	}, in)
}

func (u Usecases) Retry(ctx context.Context, in RetryInput) (Result, error) {
	return steps.Retry(ctx, steps.RetryDeps{
		Log:     u.deps.Log,
		Writer:  u.deps.Writer,
		Stories: u.deps.Stories,
		Jobs:    u.deps.Jobs,
		Events:  u.deps.Events,
		Now:     u.deps.Now,
	}, in)
}

func (u Usecases) GetGenerationStatus(ctx context.Context, in StatusInput) (GenerationStatusView, error) {
	return steps.GetGenerationStatus(ctx, steps.StatusDeps{
		Stories: u.deps.Stories,
		JobRuns: u.deps.JobRuns,
	}, in)
}

func (u Usecases) GetQuota(ctx context.Context, ownerID uuid.UUID) (types.QuotaSnapshot, error) {
	if u.deps.Quota == nil {
		return types.QuotaSnapshot{}, domainagg.NewError(domainagg.CodeInternal, "story.quota", "missing deps", nil)
	}
	if ownerID == uuid.Nil {
		return types.QuotaSnapshot{}, domainagg.NewError(domainagg.CodeUnauthorized, "story.quota", "not authenticated", nil)
	}
	q, err := u.deps.Quota.GetQuota(ctx, ownerID)
	if err != nil {
		return types.QuotaSnapshot{}, domainagg.Wrap(domainagg.CodeInternal, "story.quota", err)
	}
	return q, nil
}

func (u Usecases) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	return steps.Generate(ctx, steps.GenerateDeps{
		Log:     u.deps.Log,
		Writer:  u.deps.Writer,
		Stories: u.deps.Stories,
		Events:  u.deps.Events,
		Text:    u.deps.Text,
		Images:  u.deps.Images,
		Now:     u.deps.Now,
	}, in)
}

func (u Usecases) SweepStale(ctx context.Context, in SweepInput) (SweepOutput, error) {
	return steps.SweepStale(ctx, steps.SweepDeps{
		Log:     u.deps.Log,
		Writer:  u.deps.Writer,
		Stories: u.deps.Stories,
		Events:  u.deps.Events,
		Now:     u.deps.Now,
	}, in)
}
