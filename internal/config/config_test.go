package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("expected default env dev, got %q", cfg.Env)
	}
	if cfg.CacheVersion != "v1" {
		t.Errorf("expected default cache version v1, got %q", cfg.CacheVersion)
	}
	if cfg.SyncDebounce != 2*time.Second {
		t.Errorf("expected default debounce 2s, got %v", cfg.SyncDebounce)
	}
	if cfg.SyncFailureRate != 0.1 {
		t.Errorf("expected default failure rate 0.1, got %v", cfg.SyncFailureRate)
	}
	if cfg.MaxImageSize != 10*1024*1024 {
		t.Errorf("expected 10MB image cap, got %d", cfg.MaxImageSize)
	}
	if len(cfg.ShellAssets) == 0 {
		t.Error("expected a default shell asset manifest")
	}
	if len(cfg.AllowedImageTypes) != 3 {
		t.Errorf("expected 3 default image types, got %v", cfg.AllowedImageTypes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FISHNET_PORT", "9090")
	t.Setenv("FISHNET_SYNC_DEBOUNCE", "250ms")
	t.Setenv("FISHNET_SHELL_ASSETS", "/index.html, /app.js ,/style.css")
	t.Setenv("FISHNET_CORS_ALLOWED_ORIGINS", "https://fishnet.app,https://staging.fishnet.app")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("expected port override, got %q", cfg.Port)
	}
	if cfg.SyncDebounce != 250*time.Millisecond {
		t.Errorf("expected debounce override, got %v", cfg.SyncDebounce)
	}
	want := []string{"/index.html", "/app.js", "/style.css"}
	if len(cfg.ShellAssets) != len(want) {
		t.Fatalf("expected %d shell assets, got %v", len(want), cfg.ShellAssets)
	}
	for i, asset := range want {
		if cfg.ShellAssets[i] != asset {
			t.Errorf("shell asset %d: expected %q, got %q", i, asset, cfg.ShellAssets[i])
		}
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Errorf("expected 2 CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("FISHNET_SYNC_DEBOUNCE", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SyncDebounce != 2*time.Second {
		t.Errorf("expected fallback debounce, got %v", cfg.SyncDebounce)
	}
}

func TestLoadRejectsLonesomeJWTIssuer(t *testing.T) {
	t.Setenv("FISHNET_JWT_ISSUER", "https://auth.fishnet.app")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when issuer is set without audience")
	}
}

func TestLoadRejectsFailureRateOutOfRange(t *testing.T) {
	t.Setenv("FISHNET_SYNC_FAILURE_RATE", "1.5")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for failure rate above 1")
	}
}
