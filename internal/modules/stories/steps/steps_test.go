package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/yungbote/storybook-backend/internal/data/aggregates"
	"github.com/yungbote/storybook-backend/internal/data/repos"
	"github.com/yungbote/storybook-backend/internal/data/repos/testutil"
	types "github.com/yungbote/storybook-backend/internal/domain"
	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
	"github.com/yungbote/storybook-backend/internal/services"
)

type fakeStarter struct {
	err   error
	calls int
}

func (f *fakeStarter) ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error) {
	f.calls++
	return nil, f.err
}

type fakeText struct {
	mu    sync.Mutex
	calls int
	err   error
	text  domainstories.GeneratedText
	// during runs while the text is being written, before the first checkpoint.
	during func()
}

func (f *fakeText) Name() string { return "fake" }

func (f *fakeText) Generate(ctx context.Context, p services.StoryPrompt) (domainstories.GeneratedText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return domainstories.GeneratedText{}, f.err
	}
	return f.text, nil
}

type fakeImages struct {
	mu          sync.Mutex
	refErr      error
	coverErr    error
	failChapter map[int]bool
	refCalls    int
	coverCalls  int
	chapterReqs []int
}

func (f *fakeImages) Name() string { return "fake" }

func (f *fakeImages) CreateCharacterReference(ctx context.Context, ic services.IllustrationContext) (*types.CharacterReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refCalls++
	if f.refErr != nil {
		return nil, f.refErr
	}
	return &types.CharacterReference{Description: "a small red fox in a blue scarf"}, nil
}

func (f *fakeImages) GenerateCover(ctx context.Context, ic services.IllustrationContext, ref *types.CharacterReference) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coverCalls++
	if f.coverErr != nil {
		return "", f.coverErr
	}
	return "https://cdn.test/" + ic.StoryID.String() + "/cover.png", nil
}

func (f *fakeImages) GenerateChapterImages(ctx context.Context, ic services.IllustrationContext, chapters []services.ChapterPrompt, ref *types.CharacterReference) (services.ChapterImagesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := services.ChapterImagesResult{Images: map[int]string{}, TotalChapters: len(chapters)}
	for _, ch := range chapters {
		f.chapterReqs = append(f.chapterReqs, ch.Position)
		if f.failChapter[ch.Position] {
			res.Errors = append(res.Errors, services.ChapterImageError{Position: ch.Position, Error: "boom"})
			continue
		}
		res.Images[ch.Position] = fmt.Sprintf("https://cdn.test/%s/chapter-%d.png", ic.StoryID, ch.Position)
		res.SuccessfulGeneration++
	}
	return res, nil
}

// failingPublisher fails events named failOn.
type failingPublisher struct {
	services.DomainEventPublisher
	failOn string
}

func (p failingPublisher) Publish(dbc dbctx.Context, event types.Event) error {
	if event.Name == p.failOn {
		return errors.New("outbox insert failed")
	}
	return p.DomainEventPublisher.Publish(dbc, event)
}

type harness struct {
	db      *gorm.DB
	writer  *aggregates.Writer
	stories repos.StoryRepo
	catalog repos.CatalogRepo
	jobRuns repos.JobRunRepo
	outbox  repos.DomainEventRepo
	events  services.DomainEventPublisher
	jobs    services.JobService
	starter *fakeStarter
	cat     testutil.Catalog
	text    *fakeText
	images  *fakeImages
}

func newHarness(t *testing.T, withStarter bool) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	h := &harness{
		db:      db,
		writer:  aggregates.NewWriter(aggregates.NewGormTxRunner(db), aggregates.NewLogHooks(log)),
		stories: repos.NewStoryRepo(db, log),
		catalog: repos.NewCatalogRepo(db, log),
		jobRuns: repos.NewJobRunRepo(db, log),
		outbox:  repos.NewDomainEventRepo(db, log),
		cat:     testutil.SeedCatalog(t, context.Background(), db),
		text:    &fakeText{text: threeChapters()},
		images:  &fakeImages{},
	}
	h.events = services.NewDomainEventPublisher(log, h.outbox)
	var starter services.WorkflowStarter
	if withStarter {
		h.starter = &fakeStarter{}
		starter = h.starter
	}
	h.jobs = services.NewJobService(db, log, h.jobRuns, services.NewJobNotifier(nil), starter, "")
	return h
}

func threeChapters() domainstories.GeneratedText {
	return domainstories.GeneratedText{
		Title:    "Milo and the Lantern",
		Synopsis: "A fox finds a lantern.",
		Chapters: []domainstories.GeneratedChapter{
			{Title: "The Find", Content: "Milo found a lantern under the oak."},
			{Title: "The Glow", Content: "The lantern glowed whenever Milo was brave."},
			{Title: "Home", Content: "Milo carried the light home to his family."},
		},
		Conclusion: "Bravery shines brightest when shared.",
	}
}

func (h *harness) admitDeps(t *testing.T, limit int) AdmitDeps {
	log := testutil.Logger(t)
	return AdmitDeps{
		Log:     log,
		Writer:  h.writer,
		Stories: h.stories,
		Catalog: h.catalog,
		Quota:   services.NewQuotaOracle(log, h.stories, services.QuotaConfig{MonthlyLimit: limit}),
		Jobs:    h.jobs,
		Events:  h.events,
	}
}

func (h *harness) generateDeps(t *testing.T) GenerateDeps {
	return GenerateDeps{
		Log:     testutil.Logger(t),
		Writer:  h.writer,
		Stories: h.stories,
		Events:  h.events,
		Text:    h.text,
		Images:  h.images,
	}
}

func (h *harness) retryDeps(t *testing.T) RetryDeps {
	return RetryDeps{
		Log:     testutil.Logger(t),
		Writer:  h.writer,
		Stories: h.stories,
		Jobs:    h.jobs,
		Events:  h.events,
	}
}

func (h *harness) admitInput(owner uuid.UUID) AdmitInput {
	return AdmitInput{
		OwnerID: owner,
		Brief: types.Brief{
			ProtagonistName: "Milo",
			Species:         "fox",
			TargetAge:       5,
			ChapterCount:    3,
		},
		ThemeID:    h.cat.Theme.ID,
		LanguageID: h.cat.Language.ID,
		ToneID:     h.cat.Tone.ID,
	}
}

func (h *harness) admit(t *testing.T, owner uuid.UUID) AdmitOutput {
	t.Helper()
	out, err := Admit(context.Background(), h.admitDeps(t, 0), h.admitInput(owner))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	return out
}

func (h *harness) story(t *testing.T, id uuid.UUID) *types.Story {
	t.Helper()
	s, err := h.stories.GetByID(dbctx.Context{Ctx: context.Background()}, id)
	if err != nil || s == nil {
		t.Fatalf("GetByID: story=%v err=%v", s, err)
	}
	return s
}

func (h *harness) eventNames(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	rows, err := h.outbox.ListByAggregate(dbctx.Context{Ctx: context.Background()}, domainstories.AggregateType, id)
	if err != nil {
		t.Fatalf("ListByAggregate: %v", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.EventName)
	}
	return names
}

func (h *harness) countJobRuns(t *testing.T, owner uuid.UUID) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(&types.JobRun{}).Where("owner_id = ?", owner).Count(&n).Error; err != nil {
		t.Fatalf("count job runs: %v", err)
	}
	return n
}

func (h *harness) countStories(t *testing.T, owner uuid.UUID) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(&types.Story{}).Where("owner_id = ?", owner).Count(&n).Error; err != nil {
		t.Fatalf("count stories: %v", err)
	}
	return n
}

func TestAdmitCreatesProcessingStoryWithJob(t *testing.T) {
	h := newHarness(t, true)
	owner := uuid.New()

	out := h.admit(t, owner)
	if out.Existing {
		t.Fatalf("Existing: want=false got=true")
	}
	if out.Status != domainstories.StatusProcessing {
		t.Fatalf("status: want=%s got=%s", domainstories.StatusProcessing, out.Status)
	}
	if out.JobID == uuid.Nil {
		t.Fatalf("job id: want non-nil")
	}
	if h.starter.calls != 1 {
		t.Fatalf("dispatch calls: want=1 got=%d", h.starter.calls)
	}

	s := h.story(t, out.ID)
	if s.GenerationAttempts != 1 || s.JobID == nil || *s.JobID != out.JobID {
		t.Fatalf("story: attempts=%d job=%v", s.GenerationAttempts, s.JobID)
	}
	if s.Theme.ID != h.cat.Theme.ID || s.Language.Code != "en" {
		t.Fatalf("catalog refs not copied: theme=%v language=%v", s.Theme, s.Language)
	}
	job, err := h.jobRuns.GetByID(dbctx.Context{Ctx: context.Background()}, out.JobID)
	if err != nil || job == nil {
		t.Fatalf("job: %v %v", job, err)
	}
	if job.JobType != domainstories.GenerateJobType || job.EntityID == nil || *job.EntityID != out.ID {
		t.Fatalf("job: type=%s entity=%v", job.JobType, job.EntityID)
	}
	if names := h.eventNames(t, out.ID); len(names) != 1 || names[0] != domainstories.EventStoryCreated {
		t.Fatalf("events: want=[%s] got=%v", domainstories.EventStoryCreated, names)
	}
}

func TestAdmitReturnsActiveStory(t *testing.T) {
	h := newHarness(t, true)
	owner := uuid.New()

	first := h.admit(t, owner)
	second := h.admit(t, owner)
	if !second.Existing {
		t.Fatalf("Existing: want=true got=false")
	}
	if second.ID != first.ID || second.JobID != first.JobID {
		t.Fatalf("dedup: want=%s/%s got=%s/%s", first.ID, first.JobID, second.ID, second.JobID)
	}
	if n := h.countStories(t, owner); n != 1 {
		t.Fatalf("stories: want=1 got=%d", n)
	}
	if n := h.countJobRuns(t, owner); n != 1 {
		t.Fatalf("job runs: want=1 got=%d", n)
	}
	if h.starter.calls != 1 {
		t.Fatalf("dispatch calls: want=1 got=%d", h.starter.calls)
	}
	if names := h.eventNames(t, first.ID); len(names) != 1 || names[0] != domainstories.EventStoryCreated {
		t.Fatalf("events: want=[%s] got=%v", domainstories.EventStoryCreated, names)
	}
}

func TestAdmitQuotaExceeded(t *testing.T) {
	h := newHarness(t, true)
	owner := uuid.New()
	testutil.SeedStory(t, context.Background(), h.db, owner, domainstories.StatusFailed)

	_, err := Admit(context.Background(), h.admitDeps(t, 1), h.admitInput(owner))
	if !domainagg.IsCode(err, domainagg.CodeQuotaExceeded) {
		t.Fatalf("err: want=%s got=%v", domainagg.CodeQuotaExceeded, err)
	}
	if n := h.countStories(t, owner); n != 1 {
		t.Fatalf("stories: want=1 got=%d", n)
	}
	if n := h.countJobRuns(t, owner); n != 0 {
		t.Fatalf("job runs: want=0 got=%d", n)
	}
	if h.starter.calls != 0 {
		t.Fatalf("dispatch calls: want=0 got=%d", h.starter.calls)
	}
}

func TestAdmitRejectsUnknownCatalogEntry(t *testing.T) {
	h := newHarness(t, false)
	in := h.admitInput(uuid.New())
	in.ToneID = uuid.New()

	_, err := Admit(context.Background(), h.admitDeps(t, 0), in)
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("err: want=%s got=%v", domainagg.CodeNotFound, err)
	}
}

func TestAdmitValidatesBriefAndOwner(t *testing.T) {
	h := newHarness(t, false)

	in := h.admitInput(uuid.New())
	in.Brief.TargetAge = 42
	if _, err := Admit(context.Background(), h.admitDeps(t, 0), in); !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("bad brief: want=%s got=%v", domainagg.CodeValidation, err)
	}
	if _, err := Admit(context.Background(), h.admitDeps(t, 0), h.admitInput(uuid.Nil)); !domainagg.IsCode(err, domainagg.CodeUnauthorized) {
		t.Fatalf("no owner: want=%s got=%v", domainagg.CodeUnauthorized, err)
	}
}

func TestAdmitDispatchFailureFailsStory(t *testing.T) {
	h := newHarness(t, true)
	h.starter.err = errors.New("temporal unavailable")

	out := h.admit(t, uuid.New())
	if out.Status != domainstories.StatusFailed {
		t.Fatalf("status: want=%s got=%s", domainstories.StatusFailed, out.Status)
	}
	s := h.story(t, out.ID)
	if !strings.HasPrefix(s.GenerationError, "could not start generation") {
		t.Fatalf("error: got=%q", s.GenerationError)
	}
	names := h.eventNames(t, out.ID)
	if len(names) != 2 || names[1] != domainstories.EventGenerationFailed {
		t.Fatalf("events: got=%v", names)
	}
}

func TestGenerateCompletesStory(t *testing.T) {
	h := newHarness(t, false)
	admitted := h.admit(t, uuid.New())

	var stages []string
	out, err := Generate(context.Background(), h.generateDeps(t), GenerateInput{
		StoryID:  admitted.ID,
		JobID:    admitted.JobID,
		Progress: func(stage string, pct int, msg string) { stages = append(stages, stage) },
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Status != domainstories.StatusCompleted || out.Slug != "milo-and-the-lantern" {
		t.Fatalf("out: status=%s slug=%q", out.Status, out.Slug)
	}
	if out.ChapterImages.SuccessfulGeneration != 3 || out.ChapterImages.TotalChapters != 3 {
		t.Fatalf("chapter images: %d/%d", out.ChapterImages.SuccessfulGeneration, out.ChapterImages.TotalChapters)
	}
	want := []string{StageStart, StageText, StageCharacter, StageCover, StageChapters, StageFinalize}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Fatalf("stages: want=%v got=%v", want, stages)
	}

	s := h.story(t, admitted.ID)
	if s.GenerationStatus != domainstories.StatusCompleted || s.GenerationCompletedAt == nil {
		t.Fatalf("story: status=%s completed_at=%v", s.GenerationStatus, s.GenerationCompletedAt)
	}
	if !s.HasCover() || !s.HasChapterImages() || !s.HasCharacterReference() {
		t.Fatalf("story outputs missing: cover=%v chapters=%v ref=%v", s.HasCover(), s.HasChapterImages(), s.HasCharacterReference())
	}
	names := h.eventNames(t, admitted.ID)
	if names[len(names)-1] != domainstories.EventGenerationCompleted {
		t.Fatalf("events: got=%v", names)
	}
}

func TestGenerateToleratesChapterImageFailures(t *testing.T) {
	h := newHarness(t, false)
	h.images.failChapter = map[int]bool{2: true}
	admitted := h.admit(t, uuid.New())

	out, err := Generate(context.Background(), h.generateDeps(t), GenerateInput{StoryID: admitted.ID, JobID: admitted.JobID})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Status != domainstories.StatusCompleted {
		t.Fatalf("status: want=%s got=%s", domainstories.StatusCompleted, out.Status)
	}
	if out.ChapterImages.SuccessfulGeneration != 2 || out.ChapterImages.TotalChapters != 3 || len(out.ChapterImages.Errors) != 1 {
		t.Fatalf("chapter images: %+v", out.ChapterImages)
	}
	s := h.story(t, admitted.ID)
	missing := s.ChaptersMissingImages()
	if len(missing) != 1 || missing[0].Position != 2 {
		t.Fatalf("missing images: got=%v", missing)
	}
}

func TestGenerateToleratesCharacterReferenceFailure(t *testing.T) {
	h := newHarness(t, false)
	h.images.refErr = errors.New("reference model down")
	admitted := h.admit(t, uuid.New())

	out, err := Generate(context.Background(), h.generateDeps(t), GenerateInput{StoryID: admitted.ID, JobID: admitted.JobID})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Status != domainstories.StatusCompleted || out.CharacterRef {
		t.Fatalf("out: status=%s ref=%v", out.Status, out.CharacterRef)
	}
}

func TestGenerateTextFailureFailsStory(t *testing.T) {
	h := newHarness(t, false)
	h.text.err = errors.New("model overloaded")
	admitted := h.admit(t, uuid.New())

	out, err := Generate(context.Background(), h.generateDeps(t), GenerateInput{StoryID: admitted.ID, JobID: admitted.JobID})
	if err == nil {
		t.Fatalf("Generate: want error")
	}
	if out.Status != domainstories.StatusFailed {
		t.Fatalf("status: want=%s got=%s", domainstories.StatusFailed, out.Status)
	}
	s := h.story(t, admitted.ID)
	if !strings.HasPrefix(s.GenerationError, StageText+":") {
		t.Fatalf("error: got=%q", s.GenerationError)
	}
	if h.images.coverCalls != 0 {
		t.Fatalf("cover calls: want=0 got=%d", h.images.coverCalls)
	}
}

func TestRetryResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t, false)
	owner := uuid.New()
	h.images.coverErr = errors.New("content filter")
	admitted := h.admit(t, owner)

	if _, err := Generate(context.Background(), h.generateDeps(t), GenerateInput{StoryID: admitted.ID, JobID: admitted.JobID}); err == nil {
		t.Fatalf("first pass: want error")
	}
	failed := h.story(t, admitted.ID)
	if failed.GenerationStatus != domainstories.StatusFailed || !failed.HasText() {
		t.Fatalf("after failure: status=%s text=%v", failed.GenerationStatus, failed.HasText())
	}

	if _, err := Retry(context.Background(), h.retryDeps(t), RetryInput{OwnerID: uuid.New(), StoryID: admitted.ID}); !domainagg.IsCode(err, domainagg.CodeUnauthorized) {
		t.Fatalf("retry by stranger: want=%s got=%v", domainagg.CodeUnauthorized, err)
	}
	retried, err := Retry(context.Background(), h.retryDeps(t), RetryInput{OwnerID: owner, StoryID: admitted.ID})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Status != domainstories.StatusProcessing || retried.JobID == admitted.JobID {
		t.Fatalf("retry: status=%s job=%s", retried.Status, retried.JobID)
	}
	if _, err := Retry(context.Background(), h.retryDeps(t), RetryInput{OwnerID: owner, StoryID: admitted.ID}); !domainagg.IsCode(err, domainagg.CodeInvalidState) {
		t.Fatalf("retry while processing: want=%s got=%v", domainagg.CodeInvalidState, err)
	}

	// The old job must not touch the story any more.
	stale, err := Generate(context.Background(), h.generateDeps(t), GenerateInput{StoryID: admitted.ID, JobID: admitted.JobID})
	if err != nil || !stale.Skipped {
		t.Fatalf("superseded pass: skipped=%v err=%v", stale.Skipped, err)
	}

	h.images.coverErr = nil
	out, err := Generate(context.Background(), h.generateDeps(t), GenerateInput{StoryID: admitted.ID, JobID: retried.JobID})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if out.Status != domainstories.StatusCompleted {
		t.Fatalf("status: want=%s got=%s", domainstories.StatusCompleted, out.Status)
	}
	if h.text.calls != 1 || h.images.refCalls != 1 {
		t.Fatalf("resume: text calls=%d ref calls=%d", h.text.calls, h.images.refCalls)
	}
	if strings.Join(out.Resumed, ",") != StageText+","+StageCharacter {
		t.Fatalf("resumed: got=%v", out.Resumed)
	}
	s := h.story(t, admitted.ID)
	if s.GenerationAttempts != 2 || s.GenerationError != "" {
		t.Fatalf("story: attempts=%d error=%q", s.GenerationAttempts, s.GenerationError)
	}
	names := h.eventNames(t, admitted.ID)
	want := []string{
		domainstories.EventStoryCreated,
		domainstories.EventGenerationFailed,
		domainstories.EventGenerationRetried,
		domainstories.EventGenerationCompleted,
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("events: want=%v got=%v", want, names)
	}
}

func TestGenerateFinalizeFailureFailsStory(t *testing.T) {
	h := newHarness(t, false)
	admitted := h.admit(t, uuid.New())
	deps := h.generateDeps(t)
	deps.Events = failingPublisher{DomainEventPublisher: h.events, failOn: domainstories.EventGenerationCompleted}

	out, err := Generate(context.Background(), deps, GenerateInput{StoryID: admitted.ID, JobID: admitted.JobID})
	if err == nil {
		t.Fatalf("Generate: want error")
	}
	if out.Status != domainstories.StatusFailed {
		t.Fatalf("out status: want=%s got=%s", domainstories.StatusFailed, out.Status)
	}
	s := h.story(t, admitted.ID)
	if s.GenerationStatus != domainstories.StatusFailed || !strings.HasPrefix(s.GenerationError, StageFinalize+":") {
		t.Fatalf("story: status=%s error=%q", s.GenerationStatus, s.GenerationError)
	}
	if s.GenerationCompletedAt == nil || !s.HasCover() || !s.HasChapterImages() {
		t.Fatalf("story: completed_at=%v cover=%v chapters=%v", s.GenerationCompletedAt, s.HasCover(), s.HasChapterImages())
	}
	names := h.eventNames(t, admitted.ID)
	if names[len(names)-1] != domainstories.EventGenerationFailed {
		t.Fatalf("events: got=%v", names)
	}
	for _, n := range names {
		if n == domainstories.EventGenerationCompleted {
			t.Fatalf("events: completed event persisted: %v", names)
		}
	}
}

func TestGenerateStandsDownWhenStoryFailedUnderneath(t *testing.T) {
	h := newHarness(t, false)
	admitted := h.admit(t, uuid.New())
	h.text.during = func() {
		if err := h.db.Exec("UPDATE story SET generation_status = ?, generation_error = ? WHERE id = ?",
			domainstories.StatusFailed, staleTimeoutReason, admitted.ID).Error; err != nil {
			t.Errorf("fail story: %v", err)
		}
	}

	out, err := Generate(context.Background(), h.generateDeps(t), GenerateInput{StoryID: admitted.ID, JobID: admitted.JobID})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !out.Skipped || out.Status != domainstories.StatusFailed {
		t.Fatalf("out: skipped=%v status=%s", out.Skipped, out.Status)
	}
	s := h.story(t, admitted.ID)
	if s.GenerationStatus != domainstories.StatusFailed || s.GenerationError != staleTimeoutReason || s.HasText() {
		t.Fatalf("story: status=%s error=%q text=%v", s.GenerationStatus, s.GenerationError, s.HasText())
	}
	if h.images.coverCalls != 0 {
		t.Fatalf("cover calls: want=0 got=%d", h.images.coverCalls)
	}
	if names := h.eventNames(t, admitted.ID); len(names) != 1 || names[0] != domainstories.EventStoryCreated {
		t.Fatalf("events: want=[%s] got=%v", domainstories.EventStoryCreated, names)
	}
}

func TestGenerateStandsDownWhenRetriedUnderneath(t *testing.T) {
	h := newHarness(t, false)
	owner := uuid.New()
	admitted := h.admit(t, owner)
	var retried Result
	h.text.during = func() {
		h.text.during = nil
		if err := h.db.Exec("UPDATE story SET generation_status = ? WHERE id = ?", domainstories.StatusFailed, admitted.ID).Error; err != nil {
			t.Errorf("fail story: %v", err)
			return
		}
		var err error
		retried, err = Retry(context.Background(), h.retryDeps(t), RetryInput{OwnerID: owner, StoryID: admitted.ID})
		if err != nil {
			t.Errorf("Retry: %v", err)
		}
	}

	out, err := Generate(context.Background(), h.generateDeps(t), GenerateInput{StoryID: admitted.ID, JobID: admitted.JobID})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !out.Skipped || !strings.HasPrefix(out.SkipReason, "superseded") {
		t.Fatalf("out: skipped=%v reason=%q", out.Skipped, out.SkipReason)
	}
	s := h.story(t, admitted.ID)
	if s.GenerationStatus != domainstories.StatusProcessing || s.JobID == nil || *s.JobID != retried.JobID {
		t.Fatalf("story: status=%s job=%v want job=%s", s.GenerationStatus, s.JobID, retried.JobID)
	}

	// The retried job still owns the story and completes it.
	next, err := Generate(context.Background(), h.generateDeps(t), GenerateInput{StoryID: admitted.ID, JobID: retried.JobID})
	if err != nil || next.Skipped || next.Status != domainstories.StatusCompleted {
		t.Fatalf("retried pass: status=%s skipped=%v err=%v", next.Status, next.Skipped, err)
	}
}

func TestRetryRejectsActiveStories(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	owner := uuid.New()
	pending := testutil.SeedStory(t, ctx, h.db, owner, domainstories.StatusPending)

	_, err := Retry(ctx, h.retryDeps(t), RetryInput{OwnerID: owner, StoryID: pending.ID})
	if !domainagg.IsCode(err, domainagg.CodeInvalidState) {
		t.Fatalf("retry pending: want=%s got=%v", domainagg.CodeInvalidState, err)
	}
	if s := h.story(t, pending.ID); s.GenerationStatus != domainstories.StatusPending || s.GenerationAttempts != pending.GenerationAttempts {
		t.Fatalf("pending story changed: status=%s attempts=%d", s.GenerationStatus, s.GenerationAttempts)
	}
	if n := h.countJobRuns(t, owner); n != 0 {
		t.Fatalf("job runs: want=0 got=%d", n)
	}
}

func TestRetryConflictsWithOwnersActiveStory(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	owner := uuid.New()
	failed := testutil.SeedStory(t, ctx, h.db, owner, domainstories.StatusFailed)
	active := h.admit(t, owner)

	_, err := Retry(ctx, h.retryDeps(t), RetryInput{OwnerID: owner, StoryID: failed.ID})
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("retry: want=%s got=%v", domainagg.CodeConflict, err)
	}
	if s := h.story(t, failed.ID); s.GenerationStatus != domainstories.StatusFailed {
		t.Fatalf("failed story: status=%s", s.GenerationStatus)
	}
	if s := h.story(t, active.ID); s.GenerationStatus != domainstories.StatusProcessing || *s.JobID != active.JobID {
		t.Fatalf("active story: status=%s job=%v", s.GenerationStatus, s.JobID)
	}
	if n := h.countJobRuns(t, owner); n != 1 {
		t.Fatalf("job runs: want=1 got=%d", n)
	}
	if names := h.eventNames(t, failed.ID); len(names) != 0 {
		t.Fatalf("events: want none got=%v", names)
	}
}

func TestGenerateSkipsTerminalStory(t *testing.T) {
	h := newHarness(t, false)
	s := testutil.SeedStory(t, context.Background(), h.db, uuid.New(), domainstories.StatusCompleted)

	out, err := Generate(context.Background(), h.generateDeps(t), GenerateInput{StoryID: s.ID})
	if err != nil || !out.Skipped {
		t.Fatalf("Generate: skipped=%v err=%v", out.Skipped, err)
	}
	if h.text.calls != 0 {
		t.Fatalf("text calls: want=0 got=%d", h.text.calls)
	}
}

func TestGetGenerationStatusReadsJobProgress(t *testing.T) {
	h := newHarness(t, false)
	owner := uuid.New()
	admitted := h.admit(t, owner)
	if err := h.jobRuns.UpdateFields(dbctx.Context{Ctx: context.Background()}, admitted.JobID, map[string]interface{}{
		"stage":    StageCover,
		"progress": 45,
		"message":  "Painting the cover",
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	deps := StatusDeps{Stories: h.stories, JobRuns: h.jobRuns}
	view, err := GetGenerationStatus(context.Background(), deps, StatusInput{OwnerID: owner, StoryID: admitted.ID})
	if err != nil {
		t.Fatalf("GetGenerationStatus: %v", err)
	}
	if view.Stage != StageCover || view.Progress == nil || *view.Progress != 45 {
		t.Fatalf("view: stage=%s progress=%v", view.Stage, view.Progress)
	}
	if _, err := GetGenerationStatus(context.Background(), deps, StatusInput{OwnerID: uuid.New(), StoryID: admitted.ID}); !domainagg.IsCode(err, domainagg.CodeUnauthorized) {
		t.Fatalf("stranger: want=%s got=%v", domainagg.CodeUnauthorized, err)
	}
	if _, err := GetGenerationStatus(context.Background(), deps, StatusInput{OwnerID: owner, StoryID: uuid.New()}); !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("missing: want=%s got=%v", domainagg.CodeNotFound, err)
	}
}

func TestGetGenerationStatusFallsBackToLatestJob(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	owner := uuid.New()
	s := testutil.SeedStory(t, ctx, h.db, owner, domainstories.StatusPending)
	job, err := h.jobs.Enqueue(dbctx.Context{Ctx: ctx}, owner, domainstories.GenerateJobType, domainstories.AggregateType, &s.ID, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := h.jobRuns.UpdateFields(dbctx.Context{Ctx: ctx}, job.ID, map[string]interface{}{"stage": StageText, "progress": 10}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	view, err := GetGenerationStatus(ctx, StatusDeps{Stories: h.stories, JobRuns: h.jobRuns}, StatusInput{OwnerID: owner, StoryID: s.ID})
	if err != nil {
		t.Fatalf("GetGenerationStatus: %v", err)
	}
	if view.JobID != nil || view.Stage != StageText || view.Progress == nil || *view.Progress != 10 {
		t.Fatalf("view: job=%v stage=%s progress=%v", view.JobID, view.Stage, view.Progress)
	}
}

func TestSweepStaleFailsAbandonedStories(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	stale := testutil.SeedStory(t, ctx, h.db, uuid.New(), domainstories.StatusProcessing)
	fresh := testutil.SeedStory(t, ctx, h.db, uuid.New(), domainstories.StatusProcessing)
	if err := h.db.Exec("UPDATE story SET updated_at = ? WHERE id = ?", time.Now().UTC().Add(-3*time.Hour), stale.ID).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}

	out, err := SweepStale(ctx, SweepDeps{
		Log:     testutil.Logger(t),
		Writer:  h.writer,
		Stories: h.stories,
		Events:  h.events,
	}, SweepInput{StaleAfter: 2 * time.Hour})
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if len(out.Failed) != 1 || out.Failed[0] != stale.ID {
		t.Fatalf("failed: want=[%s] got=%v", stale.ID, out.Failed)
	}
	if s := h.story(t, stale.ID); s.GenerationStatus != domainstories.StatusFailed || s.GenerationError != staleTimeoutReason {
		t.Fatalf("stale story: status=%s error=%q", s.GenerationStatus, s.GenerationError)
	}
	if s := h.story(t, fresh.ID); s.GenerationStatus != domainstories.StatusProcessing {
		t.Fatalf("fresh story: status=%s", s.GenerationStatus)
	}
}
