package services

import (
	"context"
	"fmt"
	"strings"

	types "github.com/yungbote/storybook-backend/internal/domain"
	domainagg "github.com/yungbote/storybook-backend/internal/domain/aggregates"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/platform/openai"
)

type openAIImageProvider struct {
	log         *logger.Logger
	client      openai.Client
	store       ImageStore
	concurrency int
}

func NewOpenAIImageProvider(log *logger.Logger, client openai.Client, store ImageStore, concurrency int) ImageGenerationProvider {
	return &openAIImageProvider{
		log:         log.With("provider", "OpenAIImageProvider"),
		client:      client,
		store:       store,
		concurrency: concurrency,
	}
}

func (p *openAIImageProvider) Name() string { return "openai" }

func (p *openAIImageProvider) CreateCharacterReference(ctx context.Context, ic IllustrationContext) (*types.CharacterReference, error) {
	url, err := p.render(ctx, ic, "character", characterSheetPrompt(ic))
	if err != nil {
		return nil, err
	}
	return &types.CharacterReference{Description: characterDescription(ic), ImageURL: url}, nil
}

func (p *openAIImageProvider) GenerateCover(ctx context.Context, ic IllustrationContext, ref *types.CharacterReference) (string, error) {
	return p.render(ctx, ic, "cover", coverPrompt(ic, ref))
}

func (p *openAIImageProvider) GenerateChapterImages(ctx context.Context, ic IllustrationContext, chapters []ChapterPrompt, ref *types.CharacterReference) (ChapterImagesResult, error) {
	res := fanOutChapterImages(ctx, chapters, p.concurrency, func(ctx context.Context, ch ChapterPrompt) (string, error) {
		return p.render(ctx, ic, fmt.Sprintf("chapter-%d", ch.Position), chapterPrompt(ic, ch, ref))
	})
	for _, e := range res.Errors {
		p.log.Warn("chapter image failed", "story_id", ic.StoryID, "position", e.Position, "error", e.Error)
	}
	return res, nil
}

func (p *openAIImageProvider) render(ctx context.Context, ic IllustrationContext, name string, prompt string) (string, error) {
	img, err := p.client.GenerateImage(ctx, prompt)
	if err != nil {
		return "", domainagg.NewError(domainagg.CodeProvider, "image."+name, "image generation failed", err)
	}
	mime := strings.TrimSpace(img.MimeType)
	url, err := p.store.Upload(ctx, mediaKey(ic.StoryID, name, extForMime(mime)), mime, img.Bytes)
	if err != nil {
		return "", fmt.Errorf("store %s image: %w", name, err)
	}
	return url, nil
}
