package domain

import (
	"github.com/yungbote/storybook-backend/internal/domain/events"
	"github.com/yungbote/storybook-backend/internal/domain/jobs"
	"github.com/yungbote/storybook-backend/internal/domain/stories"
)

type (
	Story              = stories.Story
	Chapter            = stories.Chapter
	CharacterReference = stories.CharacterReference
	GenerationStatus   = stories.GenerationStatus
	Brief              = stories.Brief
	QuotaSnapshot      = stories.QuotaSnapshot
	Theme              = stories.Theme
	Language           = stories.Language
	Tone               = stories.Tone

	JobRun = jobs.JobRun

	DomainEvent = events.DomainEvent
	Event       = events.Event
)

// Models lists every persisted table in migration order.
func Models() []interface{} {
	return []interface{}{
		&stories.Theme{},
		&stories.Language{},
		&stories.Tone{},
		&stories.Story{},
		&stories.Chapter{},
		&jobs.JobRun{},
		&events.DomainEvent{},
	}
}
