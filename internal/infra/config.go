package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	DBMaxConns       int
	JWTSecret        string
	RedisURL         string
	PublicBaseURL    string
	DefaultLocale    string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string

	ReplicateAPIToken      string
	ReplicateBaseURL       string
	ReplicateWebhookSecret string
	GenerationModelVersion string
	UpscaleModelVersion    string
	TrainingModelVersion   string
	TrainingDestination    string
	ProviderRPS            int

	CronSecret    string
	PollSchedule  string
	PollInProcess bool
	PollMinAge    time.Duration
	PollMaxAge    time.Duration
	PollBatchSize int
	PollBudget    time.Duration
	PollItemDelay time.Duration
	LockTTL       time.Duration
	LockWait      time.Duration

	StoragePath            string
	StorageBaseURL         string
	SupabaseURL            string
	SupabaseServiceKey     string
	SupabaseBucket         string
	MaterializeConcurrency int
	MaterializeMaxBytes    int64
	MaterializeMaxTotal    int64
	DownloadTimeout        time.Duration
	ThumbnailWidth         int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		RedisURL:         strings.TrimSpace(os.Getenv("REDIS_URL")),
		PublicBaseURL:    strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "pt-BR"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 90)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSOrigins:      splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		ReplicateAPIToken:      os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:       getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateWebhookSecret: os.Getenv("REPLICATE_WEBHOOK_SECRET"),
		GenerationModelVersion: os.Getenv("GENERATION_MODEL_VERSION"),
		UpscaleModelVersion:    os.Getenv("UPSCALE_MODEL_VERSION"),
		TrainingModelVersion:   os.Getenv("TRAINING_MODEL_VERSION"),
		TrainingDestination:    os.Getenv("TRAINING_DESTINATION_OWNER"),
		ProviderRPS:            getEnvInt("PROVIDER_RPS", 5),

		CronSecret:    os.Getenv("CRON_SECRET"),
		PollSchedule:  getEnv("POLL_SCHEDULE", "@every 1m"),
		PollInProcess: getEnvBool("POLL_IN_PROCESS", false),
		PollMinAge:    time.Second * time.Duration(getEnvInt("POLL_MIN_AGE_SECONDS", 120)),
		PollMaxAge:    time.Hour * time.Duration(getEnvInt("POLL_MAX_AGE_HOURS", 24)),
		PollBatchSize: getEnvInt("POLL_BATCH_SIZE", 15),
		PollBudget:    time.Second * time.Duration(getEnvInt("POLL_BUDGET_SECONDS", 60)),
		PollItemDelay: time.Millisecond * time.Duration(getEnvInt("POLL_ITEM_DELAY_MS", 500)),
		LockTTL:       time.Second * time.Duration(getEnvInt("LOCK_TTL_SECONDS", 300)),
		LockWait:      time.Second * time.Duration(getEnvInt("LOCK_WAIT_SECONDS", 10)),

		StoragePath:            getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:         os.Getenv("STORAGE_BASE_URL"),
		SupabaseURL:            strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseServiceKey:     os.Getenv("SUPABASE_SERVICE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "generations"),
		MaterializeConcurrency: getEnvInt("MATERIALIZE_CONCURRENCY", 4),
		MaterializeMaxBytes:    int64(getEnvInt("MATERIALIZE_MAX_BYTES", 50*1024*1024)),
		MaterializeMaxTotal:    int64(getEnvInt("MATERIALIZE_MAX_TOTAL_BYTES", 200*1024*1024)),
		DownloadTimeout:        time.Second * time.Duration(getEnvInt("DOWNLOAD_TIMEOUT_SECONDS", 30)),
		ThumbnailWidth:         getEnvInt("THUMBNAIL_WIDTH", 400),
	}

	if cfg.StorageBaseURL == "" {
		cfg.StorageBaseURL = cfg.PublicBaseURL + "/v1/files"
	}
	cfg.StorageBaseURL = strings.TrimRight(cfg.StorageBaseURL, "/")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.PollMinAge >= cfg.PollMaxAge {
		return nil, fmt.Errorf("POLL_MIN_AGE_SECONDS must be below POLL_MAX_AGE_HOURS")
	}

	return cfg, nil
}

// SupabaseEnabled reports whether the Supabase storage tier is configured.
func (c *Config) SupabaseEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// WebhookURL is the callback the provider is asked to notify.
func (c *Config) WebhookURL() string {
	return c.PublicBaseURL + "/v1/webhooks/replicate"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
