package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/yungbote/storybook-backend/internal/platform/gcp"
	"github.com/yungbote/storybook-backend/internal/platform/localmedia"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/services"
)

var (
	newMediaBucket = gcp.NewMediaBucket
	newLocalMedia  = localmedia.New
)

const (
	StorageProviderLocal = "local"
	StorageProviderGCS   = "gcs"
)

type StorageProviderBootstrapErrorCode string

const (
	StorageProviderBootstrapErrorInvalidProvider     StorageProviderBootstrapErrorCode = "invalid_provider"
	StorageProviderBootstrapErrorInvalidMode         StorageProviderBootstrapErrorCode = "invalid_mode"
	StorageProviderBootstrapErrorMissingBucket       StorageProviderBootstrapErrorCode = "missing_bucket"
	StorageProviderBootstrapErrorMissingEmulatorHost StorageProviderBootstrapErrorCode = "missing_emulator_host"
	StorageProviderBootstrapErrorInvalidEmulatorHost StorageProviderBootstrapErrorCode = "invalid_emulator_host"
	StorageProviderBootstrapErrorInvalidConfig       StorageProviderBootstrapErrorCode = "invalid_config"
	StorageProviderBootstrapErrorLocalDirFailed      StorageProviderBootstrapErrorCode = "local_dir_failed"
	StorageProviderBootstrapErrorConnectFailed       StorageProviderBootstrapErrorCode = "connect_failed"
)

type StorageProviderBootstrapError struct {
	Code         StorageProviderBootstrapErrorCode
	Provider     string
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *StorageProviderBootstrapError) Error() string {
	if e == nil {
		return "image storage bootstrap failed"
	}
	return fmt.Sprintf(
		"image storage bootstrap failed (code=%s provider=%q mode=%q emulator_host=%q): %v",
		e.Code,
		e.Provider,
		e.Mode,
		e.EmulatorHost,
		e.Cause,
	)
}

func (e *StorageProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// imageStore is the selected backend plus, for local storage, the directory
// the HTTP server has to expose.
type imageStore struct {
	Store       services.ImageStore
	Provider    string
	LocalDir    string
	LocalPrefix string
}

func resolveImageStore(ctx context.Context, log *logger.Logger, cfg Config) (imageStore, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.StorageProvider))
	switch provider {
	case StorageProviderLocal:
		store, err := newLocalMedia(log, localmedia.Config{Dir: cfg.LocalMediaDir, BaseURL: cfg.LocalMediaBaseURL})
		if err != nil {
			berr := &StorageProviderBootstrapError{
				Code:     StorageProviderBootstrapErrorLocalDirFailed,
				Provider: provider,
				Cause:    err,
			}
			log.Error("Image storage bootstrap failed", "provider", provider, "dir", cfg.LocalMediaDir, "error_code", berr.Code, "error", berr)
			return imageStore{}, berr
		}
		log.Info("Selecting image storage provider", "provider", provider, "dir", store.Root(), "base_url", cfg.LocalMediaBaseURL)
		return imageStore{
			Store:       store,
			Provider:    provider,
			LocalDir:    store.Root(),
			LocalPrefix: mountPath(cfg.LocalMediaBaseURL),
		}, nil

	case StorageProviderGCS:
		mediaCfg, err := mediaConfigFrom(cfg)
		if err != nil {
			log.Error("Image storage provider selection failed", "provider", provider, "mode", cfg.ObjectStorageMode, "error_code", storageProviderBootstrapErrorCode(err), "error", err)
			return imageStore{}, err
		}
		log.Info(
			"Selecting image storage provider",
			"provider", provider,
			"mode", mediaCfg.Mode,
			"bucket", mediaCfg.Bucket,
			"emulator_host", mediaCfg.EmulatorHost,
		)
		bucket, err := newMediaBucket(ctx, log, mediaCfg)
		if err != nil {
			classified := &StorageProviderBootstrapError{
				Code:         StorageProviderBootstrapErrorConnectFailed,
				Provider:     provider,
				Mode:         string(mediaCfg.Mode),
				EmulatorHost: mediaCfg.EmulatorHost,
				Cause:        err,
			}
			log.Error("Image storage bootstrap failed", "provider", provider, "mode", mediaCfg.Mode, "error_code", classified.Code, "error", classified)
			return imageStore{}, classified
		}
		return imageStore{Store: bucket, Provider: provider}, nil

	default:
		err := &StorageProviderBootstrapError{
			Code:     StorageProviderBootstrapErrorInvalidProvider,
			Provider: provider,
			Cause:    fmt.Errorf("unsupported STORAGE_PROVIDER %q (allowed: %q, %q)", cfg.StorageProvider, StorageProviderLocal, StorageProviderGCS),
		}
		log.Error("Image storage provider selection failed", "provider", provider, "error_code", err.Code, "error", err)
		return imageStore{}, err
	}
}

// mediaConfigFrom builds the bucket config and classifies what is wrong with
// it. An emulator host without an explicit mode selects emulator mode.
func mediaConfigFrom(cfg Config) (gcp.MediaConfig, error) {
	mc := gcp.MediaConfig{
		Bucket:        strings.TrimSpace(cfg.GCSBucket),
		CDNDomain:     strings.TrimSpace(cfg.CDNDomain),
		EmulatorHost:  strings.TrimRight(strings.TrimSpace(cfg.StorageEmulatorHost), "/"),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.ObjectStoragePublicBaseURL), "/"),
	}
	fail := func(code StorageProviderBootstrapErrorCode, cause error) (gcp.MediaConfig, error) {
		return mc, &StorageProviderBootstrapError{
			Code:         code,
			Provider:     StorageProviderGCS,
			Mode:         string(mc.Mode),
			EmulatorHost: mc.EmulatorHost,
			Cause:        cause,
		}
	}

	raw := strings.ToLower(strings.TrimSpace(cfg.ObjectStorageMode))
	switch mode := gcp.StorageMode(raw); mode {
	case "":
		mc.Mode = gcp.StorageModeGCS
		if mc.EmulatorHost != "" {
			mc.Mode = gcp.StorageModeGCSEmulator
		}
	case gcp.StorageModeGCS, gcp.StorageModeGCSEmulator:
		mc.Mode = mode
	default:
		mc.Mode = mode
		return fail(StorageProviderBootstrapErrorInvalidMode, fmt.Errorf("unsupported OBJECT_STORAGE_MODE %q", cfg.ObjectStorageMode))
	}

	if mc.Bucket == "" {
		return fail(StorageProviderBootstrapErrorMissingBucket, fmt.Errorf("missing GCS_BUCKET_NAME"))
	}
	if mc.IsEmulator() && mc.EmulatorHost == "" {
		return fail(StorageProviderBootstrapErrorMissingEmulatorHost, fmt.Errorf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST", mc.Mode))
	}
	if err := mc.Validate(); err != nil {
		if mc.IsEmulator() && strings.Contains(err.Error(), "STORAGE_EMULATOR_HOST") {
			return fail(StorageProviderBootstrapErrorInvalidEmulatorHost, err)
		}
		return fail(StorageProviderBootstrapErrorInvalidConfig, err)
	}
	return mc, nil
}

// mountPath is the route local media is served under. An absolute base URL
// contributes only its path.
func mountPath(baseURL string) string {
	raw := strings.TrimSpace(baseURL)
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		raw = u.Path
	}
	raw = "/" + strings.Trim(raw, "/")
	if raw == "/" {
		return "/media"
	}
	return raw
}

func storageProviderBootstrapErrorCode(err error) StorageProviderBootstrapErrorCode {
	var bootstrapErr *StorageProviderBootstrapError
	if errors.As(err, &bootstrapErr) {
		if bootstrapErr.Code != "" {
			return bootstrapErr.Code
		}
	}
	return StorageProviderBootstrapErrorConnectFailed
}
