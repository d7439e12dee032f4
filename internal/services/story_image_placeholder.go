package services

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image/color"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	types "github.com/yungbote/storybook-backend/internal/domain"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

const (
	placeholderWidth  = 1024
	placeholderHeight = 768
)

var placeholderPalette = []color.NRGBA{
	{R: 0x5B, G: 0x8D, B: 0xEF, A: 0xFF},
	{R: 0xF2, G: 0x99, B: 0x4A, A: 0xFF},
	{R: 0x6F, G: 0xCF, B: 0x97, A: 0xFF},
	{R: 0xBB, G: 0x6B, B: 0xD9, A: 0xFF},
	{R: 0xEB, G: 0x57, B: 0x57, A: 0xFF},
	{R: 0x2D, G: 0x9C, B: 0xDB, A: 0xFF},
}

// placeholderImageProvider renders title cards instead of calling a model.
type placeholderImageProvider struct {
	log         *logger.Logger
	store       ImageStore
	face        font.Face
	concurrency int
}

// NewPlaceholderImageProvider loads the TTF at fontPath, or falls back to the
// built-in bitmap face when fontPath is empty.
func NewPlaceholderImageProvider(log *logger.Logger, store ImageStore, fontPath string, concurrency int) (ImageGenerationProvider, error) {
	serviceLog := log.With("provider", "PlaceholderImageProvider")
	var face font.Face = basicfont.Face7x13
	if p := strings.TrimSpace(fontPath); p != "" {
		f, err := loadFontFace(p, 48)
		if err != nil {
			return nil, fmt.Errorf("could not load placeholder font: %w", err)
		}
		serviceLog.Info("Loaded placeholder font", "font", p)
		face = f
	}
	return &placeholderImageProvider{log: serviceLog, store: store, face: face, concurrency: concurrency}, nil
}

func (p *placeholderImageProvider) Name() string { return "placeholder" }

func (p *placeholderImageProvider) CreateCharacterReference(ctx context.Context, ic IllustrationContext) (*types.CharacterReference, error) {
	return nil, nil
}

func (p *placeholderImageProvider) GenerateCover(ctx context.Context, ic IllustrationContext, ref *types.CharacterReference) (string, error) {
	return p.render(ctx, ic, "cover", ic.Title, ic.ProtagonistName)
}

func (p *placeholderImageProvider) GenerateChapterImages(ctx context.Context, ic IllustrationContext, chapters []ChapterPrompt, ref *types.CharacterReference) (ChapterImagesResult, error) {
	return fanOutChapterImages(ctx, chapters, p.concurrency, func(ctx context.Context, ch ChapterPrompt) (string, error) {
		return p.render(ctx, ic, fmt.Sprintf("chapter-%d", ch.Position), ch.Title, ic.Title)
	}), nil
}

func (p *placeholderImageProvider) render(ctx context.Context, ic IllustrationContext, name, headline, subline string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	png, err := p.Render(ic.StoryID.String()+name, headline, subline)
	if err != nil {
		return "", err
	}
	return p.store.Upload(ctx, mediaKey(ic.StoryID, name, "png"), "image/png", png)
}

// Render draws a flat card with centered, wrapped text. seed picks the colour.
func (p *placeholderImageProvider) Render(seed, headline, subline string) ([]byte, error) {
	dc := gg.NewContext(placeholderWidth, placeholderHeight)
	dc.SetColor(pickPlaceholderColor(seed))
	dc.DrawRectangle(0, 0, placeholderWidth, placeholderHeight)
	dc.Fill()

	dc.SetFontFace(p.face)
	dc.SetColor(color.White)
	w := float64(placeholderWidth)
	h := float64(placeholderHeight)
	dc.DrawStringWrapped(nonEmpty(headline, "Untitled"), w/2, h/2-40, 0.5, 0.5, w*0.8, 1.4, gg.AlignCenter)
	if subline != "" {
		dc.DrawStringWrapped(subline, w/2, h/2+80, 0.5, 0.5, w*0.8, 1.4, gg.AlignCenter)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func pickPlaceholderColor(seed string) color.NRGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return placeholderPalette[int(h.Sum32()%uint32(len(placeholderPalette)))]
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}
