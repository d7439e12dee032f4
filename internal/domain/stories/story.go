package stories

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
)

// Story is the generation aggregate: the brief, what the pipeline has produced
// so far, and where the request is in its lifecycle.
type Story struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`

	Title           string `gorm:"column:title;size:255" json:"title"`
	Synopsis        string `gorm:"column:synopsis;type:text" json:"synopsis"`
	Conclusion      string `gorm:"column:conclusion;type:text" json:"conclusion,omitempty"`
	ProtagonistName string `gorm:"column:protagonist_name;size:100;not null" json:"protagonist_name"`
	Species         string `gorm:"column:species;size:100" json:"species,omitempty"`
	TargetAge       int    `gorm:"column:target_age;not null" json:"target_age"`
	ChapterCount    int    `gorm:"column:chapter_count;not null" json:"chapter_count"`

	Theme    ThemeRef    `gorm:"embedded;embeddedPrefix:theme_" json:"theme"`
	Language LanguageRef `gorm:"embedded;embeddedPrefix:language_" json:"language"`
	Tone     ToneRef     `gorm:"embedded;embeddedPrefix:tone_" json:"tone"`

	Slug     *string    `gorm:"column:slug;uniqueIndex" json:"slug,omitempty"`
	Chapters []*Chapter `gorm:"foreignKey:StoryID;constraint:OnDelete:CASCADE" json:"chapters"`

	CharacterReference CharacterReference `gorm:"embedded;embeddedPrefix:character_ref_" json:"character_reference"`
	CoverImageURL      string             `gorm:"column:cover_image_url" json:"cover_image_url,omitempty"`

	GenerationStatus      GenerationStatus `gorm:"column:generation_status;not null;index" json:"generation_status"`
	JobID                 *uuid.UUID       `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	GenerationAttempts    int              `gorm:"column:generation_attempts;not null;default:0" json:"generation_attempts"`
	GenerationStartedAt   *time.Time       `gorm:"column:generation_started_at" json:"generation_started_at,omitempty"`
	GenerationCompletedAt *time.Time       `gorm:"column:generation_completed_at" json:"generation_completed_at,omitempty"`
	GenerationError       string           `gorm:"column:generation_error;type:text" json:"generation_error,omitempty"`

	IsPublic    bool       `gorm:"column:is_public;not null;default:false" json:"is_public"`
	PublishedAt *time.Time `gorm:"column:published_at" json:"published_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (Story) TableName() string { return "story" }

type Chapter struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	StoryID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_story_chapter_position,priority:1" json:"story_id"`
	Position  int       `gorm:"column:position;not null;uniqueIndex:idx_story_chapter_position,priority:2" json:"position"`
	Title     string    `gorm:"column:title;size:255" json:"title"`
	Content   string    `gorm:"column:content;type:text" json:"content"`
	ImageURL  string    `gorm:"column:image_url" json:"image_url,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Chapter) TableName() string { return "story_chapter" }

func (c *Chapter) HasImage() bool { return c != nil && strings.TrimSpace(c.ImageURL) != "" }

// CharacterReference is the visual anchor used to keep the protagonist
// consistent across the cover and chapter illustrations.
type CharacterReference struct {
	Description string `gorm:"column:description;type:text" json:"description,omitempty"`
	ImageURL    string `gorm:"column:image_url" json:"image_url,omitempty"`
}

func (r CharacterReference) Present() bool {
	return strings.TrimSpace(r.Description) != "" || strings.TrimSpace(r.ImageURL) != ""
}

// GeneratedText is the parsed output of the text provider.
type GeneratedText struct {
	Title      string             `json:"title"`
	Synopsis   string             `json:"synopsis"`
	Chapters   []GeneratedChapter `json:"chapters"`
	Conclusion string             `json:"conclusion"`
}

type GeneratedChapter struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type NewStoryParams struct {
	OwnerID  uuid.UUID
	Brief    Brief
	Theme    ThemeRef
	Language LanguageRef
	Tone     ToneRef
	IsPublic bool
	Now      time.Time
}

// NewStory validates the brief and returns a pending aggregate.
func NewStory(p NewStoryParams) (*Story, error) {
	if p.OwnerID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, "story.new", "owner id is required", nil)
	}
	brief := p.Brief.Normalize()
	if err := brief.Validate(); err != nil {
		return nil, err
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	s := &Story{
		ID:               uuid.New(),
		OwnerID:          p.OwnerID,
		Title:            brief.Title,
		Synopsis:         brief.Synopsis,
		ProtagonistName:  brief.ProtagonistName,
		Species:          brief.Species,
		TargetAge:        brief.TargetAge,
		ChapterCount:     brief.ChapterCount,
		Theme:            p.Theme,
		Language:         p.Language,
		Tone:             p.Tone,
		GenerationStatus: StatusPending,
		IsPublic:         p.IsPublic,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if p.IsPublic {
		published := now
		s.PublishedAt = &published
	}
	return s, nil
}

// Brief reconstructs the caller's brief from the aggregate.
func (s *Story) Brief() Brief {
	return Brief{
		Title:           s.Title,
		Synopsis:        s.Synopsis,
		ProtagonistName: s.ProtagonistName,
		Species:         s.Species,
		TargetAge:       s.TargetAge,
		ChapterCount:    s.ChapterCount,
	}
}

// TransitionTo moves the aggregate along the status table and stamps the
// lifecycle timestamps. Disallowed edges return invalid_state and leave the
// aggregate untouched.
func (s *Story) TransitionTo(next GenerationStatus, now time.Time) error {
	if err := s.GenerationStatus.ValidateTransition(next); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	switch next {
	case StatusPending:
		s.GenerationError = ""
		s.GenerationCompletedAt = nil
	case StatusProcessing:
		started := now
		s.GenerationStartedAt = &started
		s.GenerationCompletedAt = nil
		s.GenerationError = ""
	case StatusCompleted, StatusFailed:
		done := now
		s.GenerationCompletedAt = &done
	}
	s.GenerationStatus = next
	s.UpdatedAt = now
	return nil
}

// StartProcessing records the job that will produce this story and moves it
// to processing.
func (s *Story) StartProcessing(jobID uuid.UUID, now time.Time) error {
	if jobID == uuid.Nil {
		return domainagg.NewError(domainagg.CodeInternal, "story.start_processing", "job id is required", nil)
	}
	if err := s.TransitionTo(StatusProcessing, now); err != nil {
		return err
	}
	id := jobID
	s.JobID = &id
	s.GenerationAttempts++
	return nil
}

// MarkFailed moves the story to failed and records why.
func (s *Story) MarkFailed(reason string, now time.Time) error {
	if err := s.TransitionTo(StatusFailed, now); err != nil {
		return err
	}
	s.GenerationError = strings.TrimSpace(reason)
	return nil
}

// MarkCompleted requires text, a cover and a full chapter list.
func (s *Story) MarkCompleted(now time.Time) error {
	if !s.HasText() {
		return domainagg.NewError(domainagg.CodeInvalidState, "story.complete", "story has no generated text", nil)
	}
	if !s.HasCover() {
		return domainagg.NewError(domainagg.CodeInvalidState, "story.complete", "story has no cover image", nil)
	}
	if len(s.Chapters) != s.ChapterCount {
		return domainagg.NewError(domainagg.CodeInvalidState, "story.complete",
			fmt.Sprintf("story has %d chapters, expected %d", len(s.Chapters), s.ChapterCount), nil)
	}
	return s.TransitionTo(StatusCompleted, now)
}

// IsOwnedBy reports whether owner created this story.
func (s *Story) IsOwnedBy(owner uuid.UUID) bool {
	return s != nil && owner != uuid.Nil && s.OwnerID == owner
}

// HasText is the Stage A checkpoint: a title and every chapter with content.
func (s *Story) HasText() bool {
	if s == nil || strings.TrimSpace(s.Title) == "" || len(s.Chapters) == 0 {
		return false
	}
	for _, ch := range s.Chapters {
		if ch == nil || strings.TrimSpace(ch.Content) == "" {
			return false
		}
	}
	return true
}

func (s *Story) HasCharacterReference() bool { return s != nil && s.CharacterReference.Present() }

func (s *Story) HasCover() bool { return s != nil && strings.TrimSpace(s.CoverImageURL) != "" }

// HasChapterImages reports whether every chapter carries an image.
func (s *Story) HasChapterImages() bool {
	return s.HasText() && len(s.ChaptersMissingImages()) == 0
}

func (s *Story) ChaptersMissingImages() []*Chapter {
	if s == nil {
		return nil
	}
	out := make([]*Chapter, 0, len(s.Chapters))
	for _, ch := range s.Chapters {
		if ch != nil && !ch.HasImage() {
			out = append(out, ch)
		}
	}
	return out
}

// SortChapters orders chapters by position.
func (s *Story) SortChapters() {
	sort.SliceStable(s.Chapters, func(i, j int) bool {
		return s.Chapters[i].Position < s.Chapters[j].Position
	})
}

// AssignSlug sets the slug once. Re-assigning the same value is a no-op;
// a different value is rejected.
func (s *Story) AssignSlug(slug string) error {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return domainagg.NewError(domainagg.CodeValidation, "story.assign_slug", "slug is empty", nil)
	}
	if s.Slug != nil && *s.Slug != "" {
		if *s.Slug == slug {
			return nil
		}
		return domainagg.NewError(domainagg.CodeInvalidState, "story.assign_slug", "slug already assigned", nil)
	}
	s.Slug = &slug
	return nil
}

// ApplyGeneratedText replaces the brief's draft text with the provider's
// output and rebuilds the chapter list. Extra chapters beyond the declared
// count are dropped; a shorter list lowers the declared count so the
// completed aggregate stays consistent. It reports whether the count differed.
func (s *Story) ApplyGeneratedText(text GeneratedText, now time.Time) (mismatch bool, err error) {
	if strings.TrimSpace(text.Title) == "" {
		return false, domainagg.NewError(domainagg.CodeProvider, "story.apply_text", "generated text has no title", nil)
	}
	chapters := make([]GeneratedChapter, 0, len(text.Chapters))
	for _, ch := range text.Chapters {
		if strings.TrimSpace(ch.Content) == "" {
			continue
		}
		chapters = append(chapters, ch)
	}
	if len(chapters) == 0 {
		return false, domainagg.NewError(domainagg.CodeProvider, "story.apply_text", "generated text has no chapters", nil)
	}
	mismatch = len(chapters) != s.ChapterCount
	if len(chapters) > s.ChapterCount {
		chapters = chapters[:s.ChapterCount]
	} else if len(chapters) < s.ChapterCount {
		s.ChapterCount = len(chapters)
	}

	title := strings.TrimSpace(text.Title)
	if r := []rune(title); len(r) > MaxTitleLength {
		title = string(r[:MaxTitleLength])
	}
	s.Title = title
	s.Synopsis = strings.TrimSpace(text.Synopsis)
	s.Conclusion = strings.TrimSpace(text.Conclusion)

	existing := make(map[int]*Chapter, len(s.Chapters))
	for _, ch := range s.Chapters {
		if ch != nil {
			existing[ch.Position] = ch
		}
	}
	out := make([]*Chapter, 0, len(chapters))
	for i, gc := range chapters {
		pos := i + 1
		ch := existing[pos]
		if ch == nil {
			ch = &Chapter{ID: uuid.New(), StoryID: s.ID, Position: pos, CreatedAt: now}
		}
		ch.Title = strings.TrimSpace(gc.Title)
		if ch.Title == "" {
			ch.Title = fmt.Sprintf("Chapter %d", pos)
		}
		ch.Content = strings.TrimSpace(gc.Content)
		ch.UpdatedAt = now
		out = append(out, ch)
	}
	s.Chapters = out
	s.UpdatedAt = now
	return mismatch, nil
}

// AttachChapterImage sets the image for the chapter at position.
func (s *Story) AttachChapterImage(position int, url string) bool {
	for _, ch := range s.Chapters {
		if ch != nil && ch.Position == position {
			ch.ImageURL = strings.TrimSpace(url)
			return true
		}
	}
	return false
}
