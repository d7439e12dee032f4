package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/storybook-backend/internal/domain"
	"github.com/yungbote/storybook-backend/internal/domain/stories"
)

type Catalog struct {
	Theme    *types.Theme
	Language *types.Language
	Tone     *types.Tone
}

func SeedCatalog(tb testing.TB, ctx context.Context, db *gorm.DB) Catalog {
	tb.Helper()
	now := time.Now().UTC()
	c := Catalog{
		Theme:    &types.Theme{ID: uuid.New(), Name: "Adventure", Description: "a journey", IsActive: true, CreatedAt: now, UpdatedAt: now},
		Language: &types.Language{ID: uuid.New(), Name: "English", Code: "en", IsActive: true, CreatedAt: now, UpdatedAt: now},
		Tone:     &types.Tone{ID: uuid.New(), Name: "Calm", Description: "soft", IsActive: true, CreatedAt: now, UpdatedAt: now},
	}
	for _, row := range []interface{}{c.Theme, c.Language, c.Tone} {
		if err := db.WithContext(ctx).Create(row).Error; err != nil {
			tb.Fatalf("seed catalog: %v", err)
		}
	}
	return c
}

// SeedStory persists a story in the given status with chapterCount empty chapters.
func SeedStory(tb testing.TB, ctx context.Context, db *gorm.DB, ownerID uuid.UUID, status stories.GenerationStatus) *types.Story {
	tb.Helper()
	s, err := stories.NewStory(stories.NewStoryParams{
		OwnerID: ownerID,
		Brief: stories.Brief{
			ProtagonistName: "Milo",
			Species:         "fox",
			TargetAge:       5,
			ChapterCount:    3,
		},
		Theme:    stories.ThemeRef{ID: uuid.New(), Name: "Adventure"},
		Language: stories.LanguageRef{ID: uuid.New(), Name: "English", Code: "en"},
		Tone:     stories.ToneRef{ID: uuid.New(), Name: "Calm"},
	})
	if err != nil {
		tb.Fatalf("new story: %v", err)
	}
	s.GenerationStatus = status
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed story: %v", err)
	}
	return s
}

func PtrUUID(id uuid.UUID) *uuid.UUID { return &id }

func PtrTime(t time.Time) *time.Time { return &t }
