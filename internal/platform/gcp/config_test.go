package gcp

import "testing"

func TestMediaConfigFromEnvDefaultsToGCS(t *testing.T) {
	t.Setenv("GCS_BUCKET_NAME", "stories")
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	cfg, err := MediaConfigFromEnv()
	if err != nil {
		t.Fatalf("MediaConfigFromEnv: %v", err)
	}
	if cfg.Mode != StorageModeGCS {
		t.Fatalf("mode: want=%q got=%q", StorageModeGCS, cfg.Mode)
	}
}

func TestMediaConfigFromEnvEmulatorHostImpliesEmulator(t *testing.T) {
	t.Setenv("GCS_BUCKET_NAME", "stories")
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443/")

	cfg, err := MediaConfigFromEnv()
	if err != nil {
		t.Fatalf("MediaConfigFromEnv: %v", err)
	}
	if !cfg.IsEmulator() {
		t.Fatalf("mode: want=%q got=%q", StorageModeGCSEmulator, cfg.Mode)
	}
	if cfg.EmulatorHost != "http://fake-gcs:4443" {
		t.Fatalf("emulator host: want=%q got=%q", "http://fake-gcs:4443", cfg.EmulatorHost)
	}
}

func TestMediaConfigFromEnvRejectsBadInput(t *testing.T) {
	cases := []struct {
		name, bucket, mode, host string
	}{
		{"missing bucket", "", "gcs", ""},
		{"invalid mode", "stories", "local", ""},
		{"emulator without host", "stories", "gcs_emulator", ""},
		{"relative emulator host", "stories", "gcs_emulator", "fake-gcs:4443"},
	}
	for _, tc := range cases {
		t.Setenv("GCS_BUCKET_NAME", tc.bucket)
		t.Setenv("OBJECT_STORAGE_MODE", tc.mode)
		t.Setenv("STORAGE_EMULATOR_HOST", tc.host)
		if _, err := MediaConfigFromEnv(); err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
	}
}

func TestPublicURL(t *testing.T) {
	cases := []struct {
		name string
		cfg  MediaConfig
		want string
	}{
		{
			name: "cdn",
			cfg:  MediaConfig{Bucket: "stories", CDNDomain: "cdn.example.com", Mode: StorageModeGCS},
			want: "https://cdn.example.com/s/1/cover.png",
		},
		{
			name: "gcs default",
			cfg:  MediaConfig{Bucket: "stories", Mode: StorageModeGCS},
			want: "https://storage.googleapis.com/stories/s/1/cover.png",
		},
		{
			name: "emulator",
			cfg:  MediaConfig{Bucket: "stories", Mode: StorageModeGCSEmulator, EmulatorHost: "http://fake-gcs:4443"},
			want: "http://fake-gcs:4443/storage/v1/b/stories/o/s%2F1%2Fcover.png?alt=media",
		},
		{
			name: "emulator public override",
			cfg:  MediaConfig{Bucket: "stories", Mode: StorageModeGCSEmulator, EmulatorHost: "http://fake-gcs:4443", PublicBaseURL: "http://localhost:4443"},
			want: "http://localhost:4443/storage/v1/b/stories/o/s%2F1%2Fcover.png?alt=media",
		},
	}
	for _, tc := range cases {
		if got := publicURL(tc.cfg, "/s/1/cover.png"); got != tc.want {
			t.Fatalf("%s: want=%q got=%q", tc.name, tc.want, got)
		}
	}
}

func TestContentTypeForKey(t *testing.T) {
	if got := ContentTypeForKey("a/b.PNG"); got != "image/png" {
		t.Fatalf("png: want=%q got=%q", "image/png", got)
	}
	if got := ContentTypeForKey("a/b.jpeg?x=1"); got != "image/jpeg" {
		t.Fatalf("jpeg: want=%q got=%q", "image/jpeg", got)
	}
	if got := ContentTypeForKey("a/b"); got != "application/octet-stream" {
		t.Fatalf("unknown: want=%q got=%q", "application/octet-stream", got)
	}
}
