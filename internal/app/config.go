package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ModeAPI    = "api"
	ModeWorker = "worker"
	ModeAll    = "all"
)

type Config struct {
	Mode        string
	LogMode     string
	Environment string
	Version     string

	HTTPAddr       string
	MetricsAddr    string
	ShutdownGrace  time.Duration
	AllowedOrigins []string

	DBDriver       string
	DatabaseURL    string
	DBMaxOpenConns int
	DBSlowQuery    time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	JWTSecretKey   string
	AccessTokenTTL time.Duration

	TextProvider            string
	ImageProvider           string
	PlaceholderFontPath     string
	ChapterImageConcurrency int

	StorageProvider            string
	LocalMediaDir              string
	LocalMediaBaseURL          string
	GCSBucket                  string
	CDNDomain                  string
	ObjectStorageMode          string
	StorageEmulatorHost        string
	ObjectStoragePublicBaseURL string

	MonthlyLimit    int
	UnlimitedOwners []uuid.UUID

	WorkerConcurrency int
	JobPollInterval   time.Duration
	JobMaxAttempts    int

	StaleAfter    time.Duration
	SweepInterval time.Duration
	SweepLimit    int

	OutboxInterval time.Duration
	OutboxBatch    int

	CatalogSeedFile string
}

func (c Config) RunsAPI() bool    { return c.Mode == ModeAPI || c.Mode == ModeAll }
func (c Config) RunsWorker() bool { return c.Mode == ModeWorker || c.Mode == ModeAll }

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_MODE", ModeAll)
	v.SetDefault("LOG_MODE", "development")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_VERSION", "dev")

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("SHUTDOWN_GRACE", "15s")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", 0)
	v.SetDefault("DB_SLOW_QUERY", "500ms")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CHANNEL", "storybook:realtime")

	v.SetDefault("JWT_SECRET_KEY", "")
	v.SetDefault("ACCESS_TOKEN_TTL", "1h")

	v.SetDefault("TEXT_PROVIDER", "template")
	v.SetDefault("IMAGE_PROVIDER", "placeholder")
	v.SetDefault("PLACEHOLDER_FONT_PATH", "")
	v.SetDefault("CHAPTER_IMAGE_CONCURRENCY", 4)

	v.SetDefault("STORAGE_PROVIDER", StorageProviderLocal)
	v.SetDefault("LOCAL_MEDIA_DIR", "./media")
	v.SetDefault("LOCAL_MEDIA_BASE_URL", "/media")
	v.SetDefault("GCS_BUCKET_NAME", "")
	v.SetDefault("CDN_DOMAIN", "")
	v.SetDefault("OBJECT_STORAGE_MODE", "")
	v.SetDefault("STORAGE_EMULATOR_HOST", "")
	v.SetDefault("OBJECT_STORAGE_PUBLIC_BASE_URL", "")

	v.SetDefault("STORY_MONTHLY_LIMIT", 5)
	v.SetDefault("STORY_UNLIMITED_OWNERS", "")

	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("JOB_POLL_INTERVAL", "1s")
	v.SetDefault("JOB_MAX_ATTEMPTS", 1)

	v.SetDefault("STORY_STALE_AFTER", "2h")
	v.SetDefault("STORY_SWEEP_INTERVAL", "5m")
	v.SetDefault("STORY_SWEEP_LIMIT", 100)

	v.SetDefault("OUTBOX_INTERVAL", "2s")
	v.SetDefault("OUTBOX_BATCH", 100)

	v.SetDefault("CATALOG_SEED_FILE", "")
}

// LoadConfig layers .env files, an optional CONFIG_FILE and the environment
// over the defaults. Env always wins. Packages that read their own env vars
// (openai, temporal, otel, metrics) see the .env values as well.
func LoadConfig() (Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return configFrom(v)
}

func configFrom(v *viper.Viper) (Config, error) {
	cfg := Config{
		Mode:        strings.ToLower(strings.TrimSpace(v.GetString("APP_MODE"))),
		LogMode:     strings.TrimSpace(v.GetString("LOG_MODE")),
		Environment: strings.TrimSpace(v.GetString("APP_ENV")),
		Version:     strings.TrimSpace(v.GetString("APP_VERSION")),

		HTTPAddr:       strings.TrimSpace(v.GetString("HTTP_ADDR")),
		MetricsAddr:    strings.TrimSpace(v.GetString("METRICS_ADDR")),
		ShutdownGrace:  durationOf(v, "SHUTDOWN_GRACE"),
		AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),

		DBDriver:       strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		DatabaseURL:    strings.TrimSpace(v.GetString("DATABASE_URL")),
		DBMaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		DBSlowQuery:    durationOf(v, "DB_SLOW_QUERY"),

		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RedisChannel:  strings.TrimSpace(v.GetString("REDIS_CHANNEL")),

		JWTSecretKey:   v.GetString("JWT_SECRET_KEY"),
		AccessTokenTTL: durationOf(v, "ACCESS_TOKEN_TTL"),

		TextProvider:            strings.ToLower(strings.TrimSpace(v.GetString("TEXT_PROVIDER"))),
		ImageProvider:           strings.ToLower(strings.TrimSpace(v.GetString("IMAGE_PROVIDER"))),
		PlaceholderFontPath:     strings.TrimSpace(v.GetString("PLACEHOLDER_FONT_PATH")),
		ChapterImageConcurrency: v.GetInt("CHAPTER_IMAGE_CONCURRENCY"),

		StorageProvider:            strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_PROVIDER"))),
		LocalMediaDir:              strings.TrimSpace(v.GetString("LOCAL_MEDIA_DIR")),
		LocalMediaBaseURL:          strings.TrimSpace(v.GetString("LOCAL_MEDIA_BASE_URL")),
		GCSBucket:                  strings.TrimSpace(v.GetString("GCS_BUCKET_NAME")),
		CDNDomain:                  strings.TrimSpace(v.GetString("CDN_DOMAIN")),
		ObjectStorageMode:          strings.TrimSpace(v.GetString("OBJECT_STORAGE_MODE")),
		StorageEmulatorHost:        strings.TrimSpace(v.GetString("STORAGE_EMULATOR_HOST")),
		ObjectStoragePublicBaseURL: strings.TrimSpace(v.GetString("OBJECT_STORAGE_PUBLIC_BASE_URL")),

		MonthlyLimit: v.GetInt("STORY_MONTHLY_LIMIT"),

		WorkerConcurrency: v.GetInt("WORKER_CONCURRENCY"),
		JobPollInterval:   durationOf(v, "JOB_POLL_INTERVAL"),
		JobMaxAttempts:    v.GetInt("JOB_MAX_ATTEMPTS"),

		StaleAfter:    durationOf(v, "STORY_STALE_AFTER"),
		SweepInterval: durationOf(v, "STORY_SWEEP_INTERVAL"),
		SweepLimit:    v.GetInt("STORY_SWEEP_LIMIT"),

		OutboxInterval: durationOf(v, "OUTBOX_INTERVAL"),
		OutboxBatch:    v.GetInt("OUTBOX_BATCH"),

		CatalogSeedFile: strings.TrimSpace(v.GetString("CATALOG_SEED_FILE")),
	}

	owners, err := parseOwnerIDs(v.GetString("STORY_UNLIMITED_OWNERS"))
	if err != nil {
		return cfg, err
	}
	cfg.UnlimitedOwners = owners

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeAPI, ModeWorker, ModeAll:
	default:
		return fmt.Errorf("invalid APP_MODE=%q (allowed: %q, %q, %q)", c.Mode, ModeAPI, ModeWorker, ModeAll)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("missing DATABASE_URL")
	}
	if c.RunsAPI() && strings.TrimSpace(c.JWTSecretKey) == "" {
		return fmt.Errorf("missing JWT_SECRET_KEY")
	}
	switch c.TextProvider {
	case "openai", "template":
	default:
		return fmt.Errorf("invalid TEXT_PROVIDER=%q (allowed: openai, template)", c.TextProvider)
	}
	switch c.ImageProvider {
	case "openai", "placeholder":
	default:
		return fmt.Errorf("invalid IMAGE_PROVIDER=%q (allowed: openai, placeholder)", c.ImageProvider)
	}
	return nil
}

// durationOf accepts Go duration strings or a bare number of seconds.
func durationOf(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseOwnerIDs(raw string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, part := range splitList(raw) {
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("invalid STORY_UNLIMITED_OWNERS entry %q: %w", part, err)
		}
		out = append(out, id)
	}
	return out, nil
}
