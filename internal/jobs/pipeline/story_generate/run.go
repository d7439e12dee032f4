package story_generate

import (
	"fmt"

	jobrt "github.com/yungbote/storybook-backend/internal/jobs/runtime"
	storiesmod "github.com/yungbote/storybook-backend/internal/modules/stories"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	storyID, ok := jc.PayloadUUID("story_id")
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing story_id"))
		return nil
	}

	stage := "start"
	out, err := p.stories.Generate(jc.Ctx, storiesmod.GenerateInput{
		StoryID: storyID,
		JobID:   jc.Job.ID,
		Progress: func(s string, pct int, msg string) {
			stage = s
			jc.Progress(s, pct, msg)
		},
	})
	if err != nil {
		p.log.Warn("story generation failed", "story_id", storyID, "stage", stage, "error", err)
		jc.Fail(stage, err)
		return nil
	}
	if out.Skipped {
		jc.Succeed("skipped", out)
		return nil
	}
	jc.Succeed("done", out)
	return nil
}
