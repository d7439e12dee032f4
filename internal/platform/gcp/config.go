package gcp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/yungbote/storybook-backend/internal/platform/envutil"
)

type StorageMode string

const (
	StorageModeGCS         StorageMode = "gcs"
	StorageModeGCSEmulator StorageMode = "gcs_emulator"
)

// MediaConfig describes the bucket story illustrations are written to.
type MediaConfig struct {
	Bucket    string
	CDNDomain string

	Mode         StorageMode
	EmulatorHost string
	// PublicBaseURL overrides the host in public URLs, e.g. when the
	// emulator is reachable under a different name from the browser.
	PublicBaseURL string
}

func (cfg MediaConfig) IsEmulator() bool { return cfg.Mode == StorageModeGCSEmulator }

// MediaConfigFromEnv reads GCS_BUCKET_NAME, CDN_DOMAIN, OBJECT_STORAGE_MODE,
// STORAGE_EMULATOR_HOST and OBJECT_STORAGE_PUBLIC_BASE_URL. An emulator host
// without an explicit mode selects emulator mode.
func MediaConfigFromEnv() (MediaConfig, error) {
	cfg := MediaConfig{
		Bucket:        envutil.String("GCS_BUCKET_NAME", ""),
		CDNDomain:     envutil.String("CDN_DOMAIN", ""),
		EmulatorHost:  strings.TrimRight(envutil.String("STORAGE_EMULATOR_HOST", ""), "/"),
		PublicBaseURL: strings.TrimRight(envutil.String("OBJECT_STORAGE_PUBLIC_BASE_URL", ""), "/"),
	}
	raw := envutil.String("OBJECT_STORAGE_MODE", "")
	switch mode := StorageMode(strings.ToLower(raw)); mode {
	case "":
		cfg.Mode = StorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeGCSEmulator
		}
	case StorageModeGCS, StorageModeGCSEmulator:
		cfg.Mode = mode
	default:
		return cfg, fmt.Errorf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q)", raw, StorageModeGCS, StorageModeGCSEmulator)
	}
	return cfg, cfg.Validate()
}

func (cfg MediaConfig) Validate() error {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return fmt.Errorf("missing env var GCS_BUCKET_NAME")
	}
	switch cfg.Mode {
	case StorageModeGCS:
	case StorageModeGCSEmulator:
		if cfg.EmulatorHost == "" {
			return fmt.Errorf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST", StorageModeGCSEmulator)
		}
		if !isAbsoluteURL(cfg.EmulatorHost) {
			return fmt.Errorf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", cfg.EmulatorHost)
		}
	default:
		return fmt.Errorf("invalid storage mode %q", cfg.Mode)
	}
	if cfg.PublicBaseURL != "" && !isAbsoluteURL(cfg.PublicBaseURL) {
		return fmt.Errorf("invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q", cfg.PublicBaseURL)
	}
	return nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && strings.TrimSpace(u.Scheme) != "" && strings.TrimSpace(u.Host) != ""
}
