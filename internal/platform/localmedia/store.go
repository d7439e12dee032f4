package localmedia

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yungbote/storybook-backend/internal/platform/envutil"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type Config struct {
	// Dir is the root directory illustrations are written under.
	Dir string
	// BaseURL is the public prefix the HTTP server mounts Dir at.
	BaseURL string
}

func ConfigFromEnv() Config {
	return Config{
		Dir:     envutil.String("LOCAL_MEDIA_DIR", "./media"),
		BaseURL: envutil.String("LOCAL_MEDIA_BASE_URL", "/media"),
	}
}

// Store writes media to local disk for development and single-node setups.
type Store struct {
	log  *logger.Logger
	root string
	base string
}

func New(log *logger.Logger, cfg Config) (*Store, error) {
	root := strings.TrimSpace(cfg.Dir)
	if root == "" {
		return nil, fmt.Errorf("missing LOCAL_MEDIA_DIR")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve media dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "/media"
	}
	return &Store{log: log.With("service", "LocalMediaStore"), root: abs, base: base}, nil
}

func (s *Store) Root() string { return s.root }

// Upload writes data atomically (temp file + rename) and returns its public URL.
func (s *Store) Upload(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, rel, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty object %q", rel)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create media subdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write %q: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close %q: %w", rel, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename %q: %w", rel, err)
	}
	s.log.Debug("media stored", "key", rel, "bytes", len(data), "content_type", contentType)
	return s.PublicURL(rel), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	path, _, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) PublicURL(key string) string {
	return s.base + "/" + strings.TrimLeft(filepath.ToSlash(filepath.Clean("/"+key)), "/")
}

// resolve maps key to a path under root, rejecting traversal.
func (s *Store) resolve(key string) (string, string, error) {
	rel := strings.TrimLeft(filepath.ToSlash(filepath.Clean("/"+strings.TrimSpace(key))), "/")
	if rel == "" || rel == "." {
		return "", "", fmt.Errorf("missing object key")
	}
	path := filepath.Join(s.root, filepath.FromSlash(rel))
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", "", fmt.Errorf("object key %q escapes media dir", key)
	}
	return path, rel, nil
}
