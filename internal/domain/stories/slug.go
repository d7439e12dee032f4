package stories

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	defaultSlug      = "story"
	maxSlugSuffix    = 100
	maxSlugBaseRunes = 200
)

// SlugExistsFunc reports whether slug is already taken by another story.
type SlugExistsFunc func(ctx context.Context, slug string) (bool, error)

// Slugify folds accents, lowercases and keeps [a-z0-9] separated by single
// hyphens. An empty result becomes "story".
func Slugify(title string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), title)
	if err != nil {
		folded = title
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	pendingHyphen := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	out := b.String()
	if len(out) > maxSlugBaseRunes {
		out = strings.TrimRight(out[:maxSlugBaseRunes], "-")
	}
	if out == "" {
		return defaultSlug
	}
	return out
}

// AllocateSlug returns the first free candidate among base, base-2 ... base-100.
// When every candidate collides it falls back to base-<unix nanos>.
func AllocateSlug(ctx context.Context, title string, exists SlugExistsFunc) (string, error) {
	return allocateSlug(ctx, title, exists, time.Now)
}

func allocateSlug(ctx context.Context, title string, exists SlugExistsFunc, now func() time.Time) (string, error) {
	base := Slugify(title)
	if exists == nil {
		return base, nil
	}
	taken, err := exists(ctx, base)
	if err != nil {
		return "", fmt.Errorf("check slug %q: %w", base, err)
	}
	if !taken {
		return base, nil
	}
	for i := 2; i <= maxSlugSuffix; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := fmt.Sprintf("%s-%d", base, i)
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return fmt.Sprintf("%s-%d", base, now().UnixNano()), nil
}
