package stories

import (
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/domain/events"
)

const AggregateType = "story"

// GenerateJobType is the job_run type that drives the generation pipeline.
// Its payload carries "story_id".
const GenerateJobType = "story_generate"

const (
	EventStoryCreated        = "story.created"
	EventGenerationRetried   = "story.generation.retried"
	EventGenerationCompleted = "story.generation.completed"
	EventGenerationFailed    = "story.generation.failed"
)

func CreatedEvent(s *Story, now time.Time) events.Event {
	return storyEvent(s, EventStoryCreated, now, map[string]any{
		"story_id":      s.ID.String(),
		"chapter_count": s.ChapterCount,
		"is_public":     s.IsPublic,
	})
}

func RetriedEvent(s *Story, now time.Time) events.Event {
	return storyEvent(s, EventGenerationRetried, now, map[string]any{
		"story_id": s.ID.String(),
	})
}

func CompletedEvent(s *Story, now time.Time, imagesOK, imagesTotal int) events.Event {
	payload := map[string]any{
		"story_id":             s.ID.String(),
		"chapter_images":       imagesOK,
		"chapter_images_total": imagesTotal,
	}
	if s.Slug != nil {
		payload["slug"] = *s.Slug
	}
	return storyEvent(s, EventGenerationCompleted, now, payload)
}

func FailedEvent(s *Story, now time.Time) events.Event {
	return storyEvent(s, EventGenerationFailed, now, map[string]any{
		"story_id": s.ID.String(),
		"error":    s.GenerationError,
	})
}

func storyEvent(s *Story, name string, now time.Time, payload map[string]any) events.Event {
	if s.JobID != nil && *s.JobID != uuid.Nil {
		payload["job_id"] = s.JobID.String()
	}
	return events.Event{
		Name:          name,
		AggregateType: AggregateType,
		AggregateID:   s.ID,
		OwnerID:       s.OwnerID,
		Payload:       payload,
		OccurredAt:    now,
	}
}
