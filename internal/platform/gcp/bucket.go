package gcp

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

// MediaBucket stores generated illustrations and hands back public URLs.
type MediaBucket interface {
	Upload(ctx context.Context, key string, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

type mediaBucket struct {
	log    *logger.Logger
	client *storage.Client
	cfg    MediaConfig
}

func NewMediaBucket(ctx context.Context, log *logger.Logger, cfg MediaConfig) (MediaBucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := newStorageClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	serviceLog := log.With("service", "MediaBucket")
	serviceLog.Info("Object storage initialized",
		"mode", cfg.Mode,
		"bucket", cfg.Bucket,
		"emulator_host", cfg.EmulatorHost,
		"cdn_domain", cfg.CDNDomain,
	)
	return &mediaBucket{log: serviceLog, client: client, cfg: cfg}, nil
}

func newStorageClient(ctx context.Context, cfg MediaConfig) (*storage.Client, error) {
	if cfg.IsEmulator() {
		// The storage client only honours the emulator through the env var.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	return storage.NewClient(ctx, opts...)
}

func (b *mediaBucket) Upload(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	key = cleanKey(key)
	if key == "" {
		return "", fmt.Errorf("missing object key")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty object %q", key)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := b.client.Bucket(b.cfg.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if w.ContentType == "" {
		w.ContentType = ContentTypeForKey(key)
	}
	w.CacheControl = "public, max-age=31536000, immutable"
	if _, err := bytes.NewReader(data).WriteTo(w); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write GCS object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer for %q: %w", key, err)
	}
	return b.PublicURL(key), nil
}

func (b *mediaBucket) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := b.client.Bucket(b.cfg.Bucket).Object(cleanKey(key)).Delete(ctx); err != nil {
		return fmt.Errorf("delete GCS object %q in bucket %q: %w", key, b.cfg.Bucket, err)
	}
	return nil
}

func (b *mediaBucket) PublicURL(key string) string {
	return publicURL(b.cfg, key)
}

// publicURL prefers the CDN, then the emulator media endpoint, then the
// configured base URL, then storage.googleapis.com.
func publicURL(cfg MediaConfig, key string) string {
	key = cleanKey(key)
	if cfg.CDNDomain != "" {
		return fmt.Sprintf("https://%s/%s", strings.TrimRight(cfg.CDNDomain, "/"), key)
	}
	if cfg.IsEmulator() {
		base := cfg.PublicBaseURL
		if base == "" {
			base = cfg.EmulatorHost
		}
		return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", base, url.PathEscape(cfg.Bucket), url.PathEscape(key))
	}
	if cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", cfg.PublicBaseURL, cfg.Bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.Bucket, key)
}

func cleanKey(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return ""
	}
	return path.Clean(key)
}

func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
