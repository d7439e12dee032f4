package story_generate

import (
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
	storiesmod "github.com/yungbote/storybook-backend/internal/modules/stories"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type Pipeline struct {
	log     *logger.Logger
	stories storiesmod.Usecases
}

func New(baseLog *logger.Logger, stories storiesmod.Usecases) *Pipeline {
	log := baseLog.With("job", domainstories.GenerateJobType)
	return &Pipeline{
		log:     log,
		stories: stories.WithLog(log),
	}
}

func (p *Pipeline) Type() string { return domainstories.GenerateJobType }
