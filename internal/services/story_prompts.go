package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	types "github.com/yungbote/storybook-backend/internal/domain"
)

const storySystemPrompt = `You write illustrated children's stories.
Write warm, age-appropriate prose with a clear beginning, middle and end.
Every chapter advances the plot and ends on a natural pause.
Respond only with JSON matching the provided schema.`

// storyTextSchema is strict-mode compatible: every property required and no
// additional properties at any level.
func storyTextSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"title", "synopsis", "chapters", "conclusion"},
		"properties": map[string]any{
			"title":      map[string]any{"type": "string", "minLength": 1},
			"synopsis":   map[string]any{"type": "string"},
			"conclusion": map[string]any{"type": "string"},
			"chapters": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []any{"title", "content"},
					"properties": map[string]any{
						"title":   map[string]any{"type": "string"},
						"content": map[string]any{"type": "string", "minLength": 1},
					},
				},
			},
		},
	}
}

func storyUserPrompt(in StoryPrompt) string {
	b := in.Brief
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a story in %s", nonEmpty(in.Language.Name, "English"))
	if in.Language.Code != "" {
		fmt.Fprintf(&sb, " (%s)", in.Language.Code)
	}
	sb.WriteString(".\n")
	fmt.Fprintf(&sb, "Reader age: %d.\n", b.TargetAge)
	fmt.Fprintf(&sb, "Chapters: exactly %d.\n", b.ChapterCount)
	fmt.Fprintf(&sb, "Protagonist: %s", b.ProtagonistName)
	if b.Species != "" {
		fmt.Fprintf(&sb, ", a %s", b.Species)
	}
	sb.WriteString(".\n")
	if in.Theme.Name != "" {
		fmt.Fprintf(&sb, "Theme: %s. %s\n", in.Theme.Name, in.Theme.Description)
	}
	if in.Tone.Name != "" {
		fmt.Fprintf(&sb, "Tone: %s. %s\n", in.Tone.Name, in.Tone.Description)
	}
	if b.Title != "" {
		fmt.Fprintf(&sb, "Working title: %s\n", b.Title)
	}
	if b.Synopsis != "" {
		fmt.Fprintf(&sb, "Idea from the reader: %s\n", b.Synopsis)
	}
	return sb.String()
}

func characterDescription(ic IllustrationContext) string {
	who := ic.ProtagonistName
	if ic.Species != "" {
		who = fmt.Sprintf("%s the %s", ic.ProtagonistName, ic.Species)
	}
	return fmt.Sprintf("%s, the main character of %q, drawn for a %d-year-old reader", who, ic.Title, ic.TargetAge)
}

func characterSheetPrompt(ic IllustrationContext) string {
	return fmt.Sprintf(
		"Character reference sheet, plain white background, full body, front view. %s. Children's book illustration, %s mood. No text.",
		characterDescription(ic), strings.ToLower(nonEmpty(ic.Tone.Name, "gentle")),
	)
}

func coverPrompt(ic IllustrationContext, ref *types.CharacterReference) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Cover illustration for the children's book %q. ", ic.Title)
	if ic.Synopsis != "" {
		fmt.Fprintf(&sb, "Story: %s ", truncateRunes(ic.Synopsis, 400))
	}
	writeStyle(&sb, ic, ref)
	return sb.String()
}

func chapterPrompt(ic IllustrationContext, ch ChapterPrompt, ref *types.CharacterReference) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Illustration for chapter %d (%s) of the children's book %q. ", ch.Position, ch.Title, ic.Title)
	fmt.Fprintf(&sb, "Scene: %s ", truncateRunes(ch.Content, 600))
	writeStyle(&sb, ic, ref)
	return sb.String()
}

func writeStyle(sb *strings.Builder, ic IllustrationContext, ref *types.CharacterReference) {
	if ref != nil && ref.Description != "" {
		fmt.Fprintf(sb, "Keep the main character consistent: %s. ", ref.Description)
	}
	if ic.Theme.Name != "" {
		fmt.Fprintf(sb, "Theme: %s. ", ic.Theme.Name)
	}
	fmt.Fprintf(sb, "Soft watercolor picture-book style, %s mood, no text or lettering.", strings.ToLower(nonEmpty(ic.Tone.Name, "gentle")))
}

func truncateRunes(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "..."
}

func nonEmpty(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
