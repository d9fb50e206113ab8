package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":8000" || cfg.Server.CookieName != "proxy" {
		t.Fatalf("defaults not applied: %#v", cfg.Server)
	}
	if !cfg.Moderation.ModerateResponses {
		t.Fatalf("response moderation should default on")
	}
	if cfg.GetCompletionTimeout() != 120*time.Second {
		t.Fatalf("unexpected completion timeout: %s", cfg.GetCompletionTimeout())
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imbotguard.yaml")
	data := []byte(`
upstream:
  base_url: https://guard.internal
  timeout: 5s
auth:
  jwt_secret: from-file
audit:
  driver: sqlite
  sqlite_path: /var/lib/guard/audit.db
moderation:
  timeout: 2s
  moderate_responses: false
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("JWT_SECRET_KEY", "from-env")
	t.Setenv("LOG_DIRECTORY", "/tmp/guard-logs")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Upstream.BaseURL != "https://guard.internal" || cfg.GetUpstreamTimeout() != 5*time.Second {
		t.Fatalf("upstream not loaded: %#v", cfg.Upstream)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("env override ignored: %s", cfg.Auth.JWTSecret)
	}
	if cfg.Audit.Dir != "/tmp/guard-logs" || cfg.Audit.Driver != "sqlite" {
		t.Fatalf("audit config wrong: %#v", cfg.Audit)
	}
	if cfg.Moderation.ModerateResponses || cfg.GetModerationTimeout() != 2*time.Second {
		t.Fatalf("moderation config wrong: %#v", cfg.Moderation)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("missing secret accepted")
	}
	cfg.Auth.JWTSecret = "s"
	cfg.Audit.Driver = "redis"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("redis without address accepted")
	}
	cfg.Audit.Driver = "mongo"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestInvalidDurationFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Completion.Timeout = "soon"
	if cfg.GetCompletionTimeout() != 120*time.Second {
		t.Fatalf("expected fallback, got %s", cfg.GetCompletionTimeout())
	}
}
