package infra

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigDefaultStorageBaseURLFollowsPublicURL(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "1919")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PublicBaseURL != "http://localhost:1919" {
		t.Fatalf("PublicBaseURL mismatch: got %q", cfg.PublicBaseURL)
	}
	expected := "http://localhost:1919/v1/files"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
	if cfg.WebhookURL() != "http://localhost:1919/v1/webhooks/replicate" {
		t.Fatalf("WebhookURL mismatch: got %q", cfg.WebhookURL())
	}
}

func TestLoadConfigPollingDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PollMinAge != 2*time.Minute {
		t.Fatalf("PollMinAge = %s, want 2m", cfg.PollMinAge)
	}
	if cfg.PollMaxAge != 24*time.Hour {
		t.Fatalf("PollMaxAge = %s, want 24h", cfg.PollMaxAge)
	}
	if cfg.PollBatchSize != 15 {
		t.Fatalf("PollBatchSize = %d, want 15", cfg.PollBatchSize)
	}
	if cfg.PollBudget != time.Minute {
		t.Fatalf("PollBudget = %s, want 1m", cfg.PollBudget)
	}
	if cfg.SupabaseEnabled() {
		t.Fatalf("supabase tier should be disabled without credentials")
	}
}

func TestLoadConfigRejectsInvertedPollWindow(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_MIN_AGE_SECONDS", "90000")
	t.Setenv("POLL_MAX_AGE_HOURS", "24")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for min age above max age")
	}
}

func TestLoadConfigParsesBooleans(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_IN_PROCESS", "true")
	t.Setenv("SUPABASE_URL", "https://project.supabase.co/storage/v1/")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.PollInProcess {
		t.Fatalf("PollInProcess should be true")
	}
	if cfg.SupabaseURL != "https://project.supabase.co/storage/v1" {
		t.Fatalf("SupabaseURL mismatch: got %q", cfg.SupabaseURL)
	}
	if !cfg.SupabaseEnabled() {
		t.Fatalf("supabase tier should be enabled")
	}
}

func TestLoadConfigSplitsCORSOrigins(t *testing.T) {
	setRequired(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, ,https://admin.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://admin.example.com" {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}
