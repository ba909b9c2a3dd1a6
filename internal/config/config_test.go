package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "PATH_MAX_DEPTH", "CROSS_PRODUCT_WINDOW_SECONDS", "HIGH_VALUE_THRESHOLD", "CERTNODE_ENV"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTPAddr)
	}
	if cfg.PathMaxDepth != 10 {
		t.Fatalf("expected path depth 10, got %d", cfg.PathMaxDepth)
	}
	if cfg.CrossProductWindow() != 24*time.Hour {
		t.Fatalf("expected 24h window, got %s", cfg.CrossProductWindow())
	}
	if cfg.HighValueThreshold != 10000 {
		t.Fatalf("expected high value threshold 10000, got %v", cfg.HighValueThreshold)
	}
	if cfg.Production() {
		t.Fatal("default env must not be production")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PATH_MAX_DEPTH", "4")
	t.Setenv("CROSS_PRODUCT_WINDOW_SECONDS", "60")
	t.Setenv("HIGH_VALUE_THRESHOLD", "250.5")
	t.Setenv("RATE_LIMIT_FAIL_CLOSED", "yes")
	t.Setenv("CERTNODE_ENV", "production")

	cfg := FromEnv()
	if cfg.PathMaxDepth != 4 {
		t.Fatalf("expected 4, got %d", cfg.PathMaxDepth)
	}
	if cfg.CrossProductWindow() != time.Minute {
		t.Fatalf("expected 1m, got %s", cfg.CrossProductWindow())
	}
	if cfg.HighValueThreshold != 250.5 {
		t.Fatalf("expected 250.5, got %v", cfg.HighValueThreshold)
	}
	if !cfg.RateLimitFailClosed {
		t.Fatal("expected fail closed")
	}
	if !cfg.Production() {
		t.Fatal("expected production")
	}
}

func TestFromEnv_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("PATH_MAX_DEPTH", "-3")
	t.Setenv("HIGH_VALUE_THRESHOLD", "lots")
	cfg := FromEnv()
	if cfg.PathMaxDepth != 10 {
		t.Fatalf("expected fallback 10, got %d", cfg.PathMaxDepth)
	}
	if cfg.HighValueThreshold != 10000 {
		t.Fatalf("expected fallback threshold, got %v", cfg.HighValueThreshold)
	}
}
