package steps

import (
	"context"
	"errors"
	"fmt"
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

// Pipeline stage names, also used as job_run stages.
const (
	StageStart     = "start"
	StageText      = "text"
	StageCharacter = "character_reference"
	StageCover     = "cover"
	StageChapters  = "chapter_images"
	StageFinalize  = "finalize"
)

type GenerateDeps struct {
	Log     *logger.Logger
	Writer  *aggregates.Writer
	Stories repos.StoryRepo
	Events  services.DomainEventPublisher
	Text    services.TextGenerationProvider
	Images  services.ImageGenerationProvider
	Now     func() time.Time
}

// ProgressFunc reports stage progress to whoever runs the pipeline.
type ProgressFunc func(stage string, pct int, msg string)

type GenerateInput struct {
	StoryID uuid.UUID
	// JobID is the job run executing this pass. A story now pointing at a
	// different job was retried underneath us and this pass stands down.
	JobID    uuid.UUID
	Progress ProgressFunc
}

type GenerateOutput struct {
	StoryID uuid.UUID              `json:"story_id"`
	Status  types.GenerationStatus `json:"status"`
	Slug    string                 `json:"slug,omitempty"`

	// Skipped is set when the story was already terminal or superseded.
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`

	Resumed         []string                    `json:"resumed,omitempty"`
	ChapterMismatch bool                        `json:"chapter_mismatch,omitempty"`
	CharacterRef    bool                        `json:"character_reference"`
	ChapterImages   services.ChapterImagesResult `json:"chapter_images"`
	Error           string                      `json:"error,omitempty"`
}

// errStoodDown refuses a write because the stored story is no longer this
// pass's to change: the sweep failed it or a retry handed it to another job.
var errStoodDown = errors.New("story is no longer owned by this generation pass")

type generation struct {
	ctx   context.Context
	deps  GenerateDeps
	in    GenerateInput
	log   *logger.Logger
	story *types.Story
	out   *GenerateOutput
	jobID uuid.UUID
}

// Generate runs text, character reference, cover and chapter images in
// order. Each stage is skipped when the story already carries its output, so
// a retried story resumes where the failed pass stopped. Text and cover
// failures fail the story; character reference and individual chapter image
// failures do not.
func Generate(ctx context.Context, deps GenerateDeps, in GenerateInput) (GenerateOutput, error) {
	const op = "story.generate"
	out := GenerateOutput{StoryID: in.StoryID}
	if deps.Log == nil || deps.Writer == nil || deps.Stories == nil || deps.Events == nil || deps.Text == nil || deps.Images == nil {
		return out, domainagg.NewError(domainagg.CodeInternal, op, "missing deps", nil)
	}
	if in.Progress == nil {
		in.Progress = func(string, int, string) {}
	}
	ctx, span := startSpan(ctx, "story.generate", in.StoryID)
	var runErr error
	defer func() { endSpan(span, runErr) }()

	story, err := loadStory(ctx, deps.Stories, op, in.StoryID)
	if err != nil {
		runErr = err
		return out, err
	}
	g := &generation{
		ctx:   ctx,
		deps:  deps,
		in:    in,
		log:   deps.Log.With("story_id", story.ID, "job_id", in.JobID),
		story: story,
		out:   &out,
		jobID: in.JobID,
	}
	if g.jobID == uuid.Nil && story.JobID != nil {
		g.jobID = *story.JobID
	}
	out.Status = story.GenerationStatus

	if story.GenerationStatus.IsTerminal() {
		out.Skipped, out.SkipReason = true, "story already "+story.GenerationStatus.String()
		g.log.Info("generation skipped", "reason", out.SkipReason)
		return out, nil
	}
	if in.JobID != uuid.Nil && story.JobID != nil && *story.JobID != in.JobID {
		out.Skipped, out.SkipReason = true, "superseded by job "+story.JobID.String()
		g.log.Info("generation skipped", "reason", out.SkipReason)
		return out, nil
	}

	runErr = g.run()
	if !out.Skipped {
		out.Status = g.story.GenerationStatus
	}
	if g.story.Slug != nil {
		out.Slug = *g.story.Slug
	}
	return out, runErr
}

func (g *generation) run() error {
	if g.story.GenerationStatus.IsPending() {
		if err := g.startProcessing(); err != nil {
			if errors.Is(err, errStoodDown) {
				return nil
			}
			return err
		}
	}
	g.in.Progress(StageStart, 2, "Starting story generation")

	stages := []struct {
		name string
		done func() bool
		run  func() error
	}{
		{StageText, g.story.HasText, g.generateText},
		{StageCharacter, g.story.HasCharacterReference, g.createCharacterReference},
		{StageCover, g.story.HasCover, g.generateCover},
		{StageChapters, g.story.HasChapterImages, g.generateChapterImages},
	}
	for _, st := range stages {
		if err := g.ctx.Err(); err != nil {
			return g.fail(st.name, err)
		}
		if st.done() {
			g.out.Resumed = append(g.out.Resumed, st.name)
			g.log.Debug("stage already checkpointed", "stage", st.name)
			continue
		}
		if err := g.stage(st.name, st.run); err != nil {
			if errors.Is(err, errStoodDown) {
				return nil
			}
			return g.fail(st.name, err)
		}
	}
	if len(g.out.Resumed) > 0 && g.out.ChapterImages.TotalChapters == 0 {
		g.out.ChapterImages = existingChapterImages(g.story)
	}
	return g.finalize()
}

func (g *generation) stage(name string, fn func() error) error {
	ctx, span := startSpan(g.ctx, "story.generate."+name, g.story.ID)
	started := time.Now()
	prev := g.ctx
	g.ctx = ctx
	err := fn()
	g.ctx = prev
	endSpan(span, err)
	observability.Current().ObserveStoryStage(name, err, time.Since(started))
	return err
}

// startProcessing covers stories picked up while still pending, e.g. a
// queued row claimed by the local worker after a crash between commit and
// transition.
func (g *generation) startProcessing() error {
	now := nowFrom(g.deps.Now)
	return g.write("story.checkpoint."+StageStart, []types.GenerationStatus{domainstories.StatusPending}, func(tx dbctx.Context) error {
		if err := g.story.StartProcessing(g.jobID, now); err != nil {
			return err
		}
		return g.deps.Stories.Save(tx, g.story)
	})
}

func (g *generation) generateText() error {
	g.in.Progress(StageText, 10, "Writing the story")
	text, err := g.deps.Text.Generate(g.ctx, services.StoryPrompt{
		Brief:    g.story.Brief(),
		Theme:    g.story.Theme,
		Language: g.story.Language,
		Tone:     g.story.Tone,
	})
	if err != nil {
		return err
	}
	requested := g.story.ChapterCount
	mismatch, err := g.story.ApplyGeneratedText(text, nowFrom(g.deps.Now))
	if err != nil {
		return err
	}
	if mismatch {
		g.out.ChapterMismatch = true
		g.log.Warn("chapter count mismatch", "requested", requested, "generated", len(text.Chapters), "kept", g.story.ChapterCount)
	}
	if g.story.Slug == nil || *g.story.Slug == "" {
		id := g.story.ID
		slug, err := domainstories.AllocateSlug(g.ctx, g.story.Title, func(ctx context.Context, candidate string) (bool, error) {
			return g.deps.Stories.ExistsBySlug(dbctx.Context{Ctx: ctx}, candidate, id)
		})
		if err != nil {
			return err
		}
		if err := g.story.AssignSlug(slug); err != nil {
			return err
		}
	}
	return g.save(StageText)
}

func (g *generation) createCharacterReference() error {
	g.in.Progress(StageCharacter, 30, "Designing the main character")
	ref, err := g.deps.Images.CreateCharacterReference(g.ctx, services.NewIllustrationContext(g.story))
	if err != nil {
		g.log.Warn("character reference failed; continuing without one", "error", err)
		return nil
	}
	if ref == nil || !ref.Present() {
		return nil
	}
	g.story.CharacterReference = *ref
	g.out.CharacterRef = true
	return g.save(StageCharacter)
}

func (g *generation) generateCover() error {
	g.in.Progress(StageCover, 45, "Painting the cover")
	url, err := g.deps.Images.GenerateCover(g.ctx, services.NewIllustrationContext(g.story), g.reference())
	if err != nil {
		return err
	}
	if url == "" {
		return domainagg.NewError(domainagg.CodeProvider, "story.cover", "provider returned no cover url", nil)
	}
	g.story.CoverImageURL = url
	return g.save(StageCover)
}

func (g *generation) generateChapterImages() error {
	missing := g.story.ChaptersMissingImages()
	g.in.Progress(StageChapters, 60, fmt.Sprintf("Illustrating %d chapters", len(missing)))
	res, err := g.deps.Images.GenerateChapterImages(g.ctx, services.NewIllustrationContext(g.story), services.ChapterPrompts(missing), g.reference())
	if err != nil {
		// A batch-level error loses every image in it but never the story.
		g.log.Warn("chapter image batch failed", "error", err)
		res = services.ChapterImagesResult{TotalChapters: len(missing)}
		for _, ch := range missing {
			res.Errors = append(res.Errors, services.ChapterImageError{Position: ch.Position, Error: err.Error()})
		}
	}
	for pos, url := range res.Images {
		g.story.AttachChapterImage(pos, url)
	}
	g.story.UpdatedAt = nowFrom(g.deps.Now)
	observability.Current().ObserveChapterImages(len(res.Images), len(res.Errors))
	if len(res.Errors) > 0 {
		g.log.Warn("some chapter images failed", "failed", len(res.Errors), "total", res.TotalChapters)
	}
	withImages := g.story.ChapterCount - len(g.story.ChaptersMissingImages())
	res.SuccessfulGeneration = withImages
	res.TotalChapters = g.story.ChapterCount
	g.out.ChapterImages = res
	return g.save(StageChapters)
}

func (g *generation) finalize() error {
	g.in.Progress(StageFinalize, 95, "Binding the book")
	now := nowFrom(g.deps.Now)
	err := g.write("story.complete", []types.GenerationStatus{domainstories.StatusProcessing}, func(tx dbctx.Context) error {
		if err := g.story.MarkCompleted(now); err != nil {
			return err
		}
		if err := g.deps.Stories.Save(tx, g.story); err != nil {
			return err
		}
		return g.deps.Events.Publish(tx, domainstories.CompletedEvent(g.story, now, g.out.ChapterImages.SuccessfulGeneration, g.out.ChapterImages.TotalChapters))
	})
	if errors.Is(err, errStoodDown) {
		return nil
	}
	if err != nil {
		return g.fail(StageFinalize, err)
	}
	observability.Current().IncStoryOutcome("completed")
	g.log.Info("story generation completed",
		"chapters", g.story.ChapterCount,
		"chapter_images", g.out.ChapterImages.SuccessfulGeneration,
		"resumed", g.out.Resumed,
	)
	return nil
}

// fail records the error on the stored story, not the in-memory copy, so
// output that never reached a checkpoint is not persisted with it. The
// returned error is what the job reports; a failure to persist the failed
// state is joined onto it.
func (g *generation) fail(stage string, cause error) error {
	reason := fmt.Sprintf("%s: %v", stage, cause)
	g.out.Error = reason
	g.log.Error("story generation failed", "stage", stage, "error", cause)

	// Detached from the pass context so a cancelled run can still record why.
	ctx := context.WithoutCancel(g.ctx)
	now := nowFrom(g.deps.Now)
	var failed *types.Story
	err := g.deps.Writer.Execute(ctx, "story.fail", func(tx dbctx.Context) error {
		current, err := g.claim(tx, domainstories.StatusPending, domainstories.StatusProcessing)
		if err != nil {
			return err
		}
		if err := current.MarkFailed(reason, now); err != nil {
			return err
		}
		if err := g.deps.Stories.Save(tx, current); err != nil {
			return err
		}
		failed = current
		return g.deps.Events.Publish(tx, domainstories.FailedEvent(current, now))
	})
	if errors.Is(err, errStoodDown) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w (recording failure: %v)", stage, cause, err)
	}
	g.story = failed
	observability.Current().IncStoryOutcome("failed")
	return fmt.Errorf("%s: %w", stage, cause)
}

func (g *generation) save(stage string) error {
	return g.write("story.checkpoint."+stage, []types.GenerationStatus{domainstories.StatusProcessing}, func(tx dbctx.Context) error {
		return g.deps.Stories.Save(tx, g.story)
	})
}

// write runs fn in a transaction once claim confirms the stored story is
// still this pass's. In-memory changes fn makes are undone if the
// transaction does not commit.
func (g *generation) write(op string, allowed []types.GenerationStatus, fn func(tx dbctx.Context) error) error {
	snapshot := *g.story
	err := g.deps.Writer.Execute(g.ctx, op, func(tx dbctx.Context) error {
		if _, err := g.claim(tx, allowed...); err != nil {
			return err
		}
		return fn(tx)
	})
	if err != nil {
		*g.story = snapshot
	}
	return err
}

// claim locks and reloads the story, and checks that it is in one of the
// allowed statuses and still points at this pass's job. Otherwise the pass
// is marked skipped and errStoodDown is returned.
func (g *generation) claim(tx dbctx.Context, allowed ...types.GenerationStatus) (*types.Story, error) {
	current, err := g.deps.Stories.GetByIDForUpdate(tx, g.story.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, "story.claim", "story not found", nil)
	}
	if g.jobID != uuid.Nil && current.JobID != nil && *current.JobID != g.jobID {
		return nil, g.standDown(current, "superseded by job "+current.JobID.String())
	}
	for _, st := range allowed {
		if current.GenerationStatus == st {
			return current, nil
		}
	}
	return nil, g.standDown(current, "story already "+current.GenerationStatus.String())
}

func (g *generation) standDown(current *types.Story, reason string) error {
	g.out.Skipped, g.out.SkipReason = true, reason
	g.out.Status = current.GenerationStatus
	g.log.Warn("generation stood down", "reason", reason, "stored_status", current.GenerationStatus)
	return errors.Join(aggregates.ErrConflict, errStoodDown)
}

func (g *generation) reference() *types.CharacterReference {
	if !g.story.HasCharacterReference() {
		return nil
	}
	ref := g.story.CharacterReference
	return &ref
}

func existingChapterImages(s *types.Story) services.ChapterImagesResult {
	res := services.ChapterImagesResult{Images: map[int]string{}, TotalChapters: len(s.Chapters)}
	for _, ch := range s.Chapters {
		if ch.HasImage() {
			res.Images[ch.Position] = ch.ImageURL
			res.SuccessfulGeneration++
		}
	}
	return res
}
