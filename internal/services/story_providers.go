package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/storybook-backend/internal/domain"
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
)

// DefaultChapterImageConcurrency bounds Stage D fan-out when unset.
const DefaultChapterImageConcurrency = 4

// StoryPrompt is everything the text provider needs to write a story.
type StoryPrompt struct {
	Brief    types.Brief
	Theme    domainstories.ThemeRef
	Language domainstories.LanguageRef
	Tone     domainstories.ToneRef
}

// IllustrationContext is the story-level context shared by every image.
type IllustrationContext struct {
	StoryID         uuid.UUID
	Title           string
	Synopsis        string
	ProtagonistName string
	Species         string
	TargetAge       int
	Theme           domainstories.ThemeRef
	Tone            domainstories.ToneRef
}

func NewIllustrationContext(s *types.Story) IllustrationContext {
	return IllustrationContext{
		StoryID:         s.ID,
		Title:           s.Title,
		Synopsis:        s.Synopsis,
		ProtagonistName: s.ProtagonistName,
		Species:         s.Species,
		TargetAge:       s.TargetAge,
		Theme:           s.Theme,
		Tone:            s.Tone,
	}
}

type ChapterPrompt struct {
	Position int
	Title    string
	Content  string
}

func ChapterPrompts(chapters []*types.Chapter) []ChapterPrompt {
	out := make([]ChapterPrompt, 0, len(chapters))
	for _, ch := range chapters {
		if ch == nil {
			continue
		}
		out = append(out, ChapterPrompt{Position: ch.Position, Title: ch.Title, Content: ch.Content})
	}
	return out
}

type ChapterImageError struct {
	Position int    `json:"position"`
	Error    string `json:"error"`
}

// ChapterImagesResult reports a Stage D batch. Images is keyed by chapter
// position and only holds successes.
type ChapterImagesResult struct {
	Images               map[int]string      `json:"images"`
	SuccessfulGeneration int                 `json:"successful_generation"`
	TotalChapters        int                 `json:"total_chapters"`
	Errors               []ChapterImageError `json:"errors,omitempty"`
}

func (r ChapterImagesResult) Failed() int { return r.TotalChapters - r.SuccessfulGeneration }

type TextGenerationProvider interface {
	Name() string
	Generate(ctx context.Context, in StoryPrompt) (domainstories.GeneratedText, error)
}

// ImageGenerationProvider returns public URLs for generated illustrations.
// CreateCharacterReference returns nil when the provider has no notion of a
// reference; callers proceed without one.
type ImageGenerationProvider interface {
	Name() string
	CreateCharacterReference(ctx context.Context, ic IllustrationContext) (*types.CharacterReference, error)
	GenerateCover(ctx context.Context, ic IllustrationContext, ref *types.CharacterReference) (string, error)
	GenerateChapterImages(ctx context.Context, ic IllustrationContext, chapters []ChapterPrompt, ref *types.CharacterReference) (ChapterImagesResult, error)
}

// ImageStore persists rendered bytes and returns a public URL. Both the GCS
// media bucket and the local media store satisfy it.
type ImageStore interface {
	Upload(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// chapterImageFunc produces the URL for one chapter.
type chapterImageFunc func(ctx context.Context, ch ChapterPrompt) (string, error)

// fanOutChapterImages runs fn for every chapter with at most limit in flight.
// One chapter failing never cancels the others; each task writes only its own
// slot and results are merged by position afterwards.
func fanOutChapterImages(ctx context.Context, chapters []ChapterPrompt, limit int, fn chapterImageFunc) ChapterImagesResult {
	if limit <= 0 {
		limit = DefaultChapterImageConcurrency
	}
	type outcome struct {
		url string
		err error
	}
	outcomes := make([]outcome, len(chapters))

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range chapters {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = outcome{err: err}
				return nil
			}
			url, err := fn(ctx, chapters[i])
			if err == nil && strings.TrimSpace(url) == "" {
				err = fmt.Errorf("provider returned no image url")
			}
			outcomes[i] = outcome{url: url, err: err}
			return nil
		})
	}
	_ = g.Wait()

	res := ChapterImagesResult{
		Images:        make(map[int]string, len(chapters)),
		TotalChapters: len(chapters),
	}
	for i, o := range outcomes {
		pos := chapters[i].Position
		if o.err != nil {
			res.Errors = append(res.Errors, ChapterImageError{Position: pos, Error: o.err.Error()})
			continue
		}
		res.Images[pos] = o.url
		res.SuccessfulGeneration++
	}
	sort.Slice(res.Errors, func(a, b int) bool { return res.Errors[a].Position < res.Errors[b].Position })
	return res
}

// mediaKey versions every object so CDNs never serve a stale image after a retry.
func mediaKey(storyID uuid.UUID, name string, ext string) string {
	return fmt.Sprintf("stories/%s/%s-%d.%s", storyID, name, time.Now().UnixNano(), ext)
}

func extForMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
