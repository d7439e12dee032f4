package steps

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/storybook-backend/internal/data/repos"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
)

const tracerName = "github.com/yungbote/storybook-backend/internal/modules/stories"

// Result is what admission and retry hand back to the caller.
type Result struct {
	ID     uuid.UUID              `json:"id"`
	JobID  uuid.UUID              `json:"job_id"`
	Status types.GenerationStatus `json:"status"`
}

func resultOf(s *types.Story) Result {
	out := Result{ID: s.ID, Status: s.GenerationStatus}
	if s.JobID != nil {
		out.JobID = *s.JobID
	}
	return out
}

func nowFrom(fn func() time.Time) time.Time {
	if fn == nil {
		return time.Now().UTC()
	}
	return fn().UTC()
}

func loadStory(ctx context.Context, stories repos.StoryRepo, op string, id uuid.UUID) (*types.Story, error) {
	if id == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "missing story id", nil)
	}
	s, err := stories.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeInternal, op, err)
	}
	if s == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "story not found", nil)
	}
	return s, nil
}

func startSpan(ctx context.Context, name string, storyID uuid.UUID) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attribute.String("story.id", storyID.String())))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
