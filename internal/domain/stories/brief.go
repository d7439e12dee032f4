package stories

import (
	"fmt"
	"strings"
	"unicode/utf8"

	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
)

const (
	MinTargetAge = 3
	MaxTargetAge = 10

	MinChapterCount = 1
	MaxChapterCount = 20

	MaxTitleLength           = 255
	MinProtagonistNameLength = 1
	MaxProtagonistNameLength = 100
	MaxSpeciesLength         = 100
	MaxSynopsisLength        = 4000
)

// Brief is what the caller asks for. Title and synopsis are optional hints;
// the text provider produces the final ones.
type Brief struct {
	Title           string `json:"title,omitempty"`
	Synopsis        string `json:"synopsis,omitempty"`
	ProtagonistName string `json:"protagonist_name"`
	Species         string `json:"species,omitempty"`
	TargetAge       int    `json:"target_age"`
	ChapterCount    int    `json:"chapter_count"`
}

// Normalize trims free-text fields.
func (b Brief) Normalize() Brief {
	b.Title = strings.TrimSpace(b.Title)
	b.Synopsis = strings.TrimSpace(b.Synopsis)
	b.ProtagonistName = strings.TrimSpace(b.ProtagonistName)
	b.Species = strings.TrimSpace(b.Species)
	return b
}

func (b Brief) Validate() error {
	var problems []string
	if n := utf8.RuneCountInString(b.Title); n > MaxTitleLength {
		problems = append(problems, fmt.Sprintf("title must be at most %d characters", MaxTitleLength))
	}
	if n := utf8.RuneCountInString(b.ProtagonistName); n < MinProtagonistNameLength || n > MaxProtagonistNameLength {
		problems = append(problems, fmt.Sprintf("protagonist_name must be %d-%d characters", MinProtagonistNameLength, MaxProtagonistNameLength))
	}
	if utf8.RuneCountInString(b.Species) > MaxSpeciesLength {
		problems = append(problems, fmt.Sprintf("species must be at most %d characters", MaxSpeciesLength))
	}
	if utf8.RuneCountInString(b.Synopsis) > MaxSynopsisLength {
		problems = append(problems, fmt.Sprintf("synopsis must be at most %d characters", MaxSynopsisLength))
	}
	if b.TargetAge < MinTargetAge || b.TargetAge > MaxTargetAge {
		problems = append(problems, fmt.Sprintf("target_age must be between %d and %d", MinTargetAge, MaxTargetAge))
	}
	if b.ChapterCount < MinChapterCount || b.ChapterCount > MaxChapterCount {
		problems = append(problems, fmt.Sprintf("chapter_count must be between %d and %d", MinChapterCount, MaxChapterCount))
	}
	if len(problems) == 0 {
		return nil
	}
	return domainagg.NewError(domainagg.CodeValidation, "story.brief", strings.Join(problems, "; "), nil)
}
