package stories

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/storybook-backend/internal/data/repos/testutil"
	"github.com/yungbote/storybook-backend/internal/platform/dbctx"
)

func TestDefaultSeed(t *testing.T) {
	seed, err := DefaultSeed()
	if err != nil {
		t.Fatalf("DefaultSeed: %v", err)
	}
	if len(seed.Themes) == 0 || len(seed.Languages) == 0 || len(seed.Tones) == 0 {
		t.Fatalf("DefaultSeed: empty section %+v", seed)
	}
}

func TestParseSeed_RejectsUnknownFields(t *testing.T) {
	_, err := ParseSeed(strings.NewReader("themes:\n  - name: A\n    colour: red\n"))
	if err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestCatalogRepo_UpsertIsIdempotent(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.Context{Ctx: context.Background()}
	repo := NewCatalogRepo(db, testutil.Logger(t))

	seed, err := DefaultSeed()
	if err != nil {
		t.Fatalf("DefaultSeed: %v", err)
	}
	if err := repo.Upsert(dbc, seed); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	themes, err := repo.ListThemes(dbc)
	if err != nil {
		t.Fatalf("ListThemes: %v", err)
	}
	first := themes[0].ID

	if err := repo.Upsert(dbc, seed); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	again, err := repo.ListThemes(dbc)
	if err != nil {
		t.Fatalf("ListThemes: %v", err)
	}
	if len(again) != len(seed.Themes) {
		t.Fatalf("themes: want=%d got=%d", len(seed.Themes), len(again))
	}
	if again[0].ID != first {
		t.Fatalf("theme id changed on upsert: want=%s got=%s", first, again[0].ID)
	}

	got, err := repo.GetTheme(dbc, first)
	if err != nil || got == nil {
		t.Fatalf("GetTheme: err=%v got=%v", err, got)
	}
	if missing, err := repo.GetTone(dbc, uuid.New()); err != nil || missing != nil {
		t.Fatalf("GetTone(missing): err=%v got=%v", err, missing)
	}
	langs, err := repo.ListLanguages(dbc)
	if err != nil || len(langs) != len(seed.Languages) {
		t.Fatalf("ListLanguages: err=%v len=%d", err, len(langs))
	}
}
