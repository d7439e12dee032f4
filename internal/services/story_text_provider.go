package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	domainstories "github.com/yungbote/storybook-backend/internal/domain/stories"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/platform/openai"
)

type openAITextProvider struct {
	log    *logger.Logger
	client openai.Client
}

func NewOpenAITextProvider(log *logger.Logger, client openai.Client) TextGenerationProvider {
	return &openAITextProvider{log: log.With("provider", "OpenAITextProvider"), client: client}
}

func (p *openAITextProvider) Name() string { return "openai" }

func (p *openAITextProvider) Generate(ctx context.Context, in StoryPrompt) (domainstories.GeneratedText, error) {
	var out domainstories.GeneratedText
	obj, err := p.client.GenerateJSON(ctx, storySystemPrompt, storyUserPrompt(in), "story_text", storyTextSchema())
	if err != nil {
		return out, domainagg.NewError(domainagg.CodeProvider, "text.generate", "story text generation failed", err)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return out, fmt.Errorf("re-encode story text: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, domainagg.NewError(domainagg.CodeProvider, "text.generate", "story text has unexpected shape", err)
	}
	p.log.Debug("story text generated", "chapters", len(out.Chapters), "requested", in.Brief.ChapterCount)
	return out, nil
}

// templateTextProvider writes a deterministic story from the brief alone.
// It backs local development and tests when no model is configured.
type templateTextProvider struct{}

func NewTemplateTextProvider() TextGenerationProvider { return templateTextProvider{} }

func (templateTextProvider) Name() string { return "template" }

func (templateTextProvider) Generate(ctx context.Context, in StoryPrompt) (domainstories.GeneratedText, error) {
	if err := ctx.Err(); err != nil {
		return domainstories.GeneratedText{}, err
	}
	b := in.Brief
	hero := b.ProtagonistName
	if b.Species != "" {
		hero = fmt.Sprintf("%s the %s", b.ProtagonistName, strings.ToLower(b.Species))
	}
	theme := strings.ToLower(nonEmpty(in.Theme.Name, "adventure"))
	title := b.Title
	if title == "" {
		title = fmt.Sprintf("%s and the %s", b.ProtagonistName, cases.Title(language.English).String(theme))
	}
	beats := []string{
		"wakes to a morning that feels different from all the others",
		"meets a new friend who needs help",
		"faces a problem that seems far too big",
		"remembers something a grandparent once said",
		"tries, fails, and tries again",
		"discovers that courage can be quiet",
		"finds the way home by starlight",
	}
	chapters := make([]domainstories.GeneratedChapter, 0, b.ChapterCount)
	for i := 0; i < b.ChapterCount; i++ {
		beat := beats[i%len(beats)]
		chapters = append(chapters, domainstories.GeneratedChapter{
			Title:   fmt.Sprintf("Chapter %d", i+1),
			Content: fmt.Sprintf("In this part of the %s, %s %s.", theme, hero, beat),
		})
	}
	return domainstories.GeneratedText{
		Title:      title,
		Synopsis:   fmt.Sprintf("A %s story about %s.", theme, hero),
		Chapters:   chapters,
		Conclusion: fmt.Sprintf("And so %s learned what the %s had been about all along.", b.ProtagonistName, theme),
	}, nil
}
