package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/garnizeh/taskgate/internal/config"
)

func TestValidate_InsecureJWT_FailsWhenNotDevelopment(t *testing.T) {
	t.Setenv("TASKGATE_ENV", "production")

	cfg := &config.Config{
		Addr:         ":8080",
		JWTSecret:    "supersecretkey",
		DatabasePath: "taskgate.db",
	}

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to fail for insecure JWT in non-development env")
	}
}

func TestValidate_InsecureJWT_AllowsDevelopment(t *testing.T) {
	t.Setenv("TASKGATE_ENV", "development")

	cfg := &config.Config{
		Addr:         ":8080",
		JWTSecret:    "supersecretkey",
		DatabasePath: "taskgate.db",
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected Validate to succeed in development env, got: %v", err)
	}
}

func TestValidate_DefaultsPopulated(t *testing.T) {
	cfg := &config.Config{
		Addr:         ":8080",
		JWTSecret:    "strongsecret",
		DatabasePath: "taskgate.db",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed unexpectedly: %v", err)
	}

	if cfg.Engine.ClaimTTL != 2*time.Hour {
		t.Fatalf("unexpected ClaimTTL: %v", cfg.Engine.ClaimTTL)
	}
	if cfg.Evidence.MaxBytes != 10<<20 {
		t.Fatalf("unexpected MaxBytes: %d", cfg.Evidence.MaxBytes)
	}
	if len(cfg.Evidence.AllowedMIMETypes) == 0 {
		t.Fatalf("expected default MIME allow-list")
	}
	if cfg.Jobs.Workers <= 0 {
		t.Fatalf("expected default worker count")
	}
	if _, ok := cfg.Cooldowns["linkedin"]; !ok {
		t.Fatalf("expected default cooldown table, got %v", cfg.Cooldowns)
	}
}

func TestValidate_RejectsNegativeCooldown(t *testing.T) {
	neg := int64(-1)
	cfg := &config.Config{
		JWTSecret:    "strongsecret",
		DatabasePath: "taskgate.db",
		Cooldowns: map[string]config.ActionCooldown{
			"email": {
				CooldownMS: 1000,
				Categories: map[string]config.CooldownOverride{"product_a": {CooldownMS: &neg}},
			},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative override to fail validation")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TASKGATE_ADDR", "")
	t.Setenv("TASKGATE_JWT_SECRET", "")
	t.Setenv("TASKGATE_DATABASE_PATH", "")

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error for empty path: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected Addr: got %q want %q", cfg.Addr, ":8080")
	}
	if cfg.DatabasePath != "taskgate.db" {
		t.Fatalf("unexpected DatabasePath: got %q", cfg.DatabasePath)
	}
	if cfg.APITimeout != 15*time.Second {
		t.Fatalf("unexpected APITimeout: got %v", cfg.APITimeout)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`addr: ":9090"
jwt_secret: "filekey"
timeout: "30s"
database_path: "test.db"
engine:
  claim_ttl: "45m"
  allow_resubmission: true
evidence:
  max_bytes: 2048
  system_wide_dedup: true
cooldowns:
  linkedin:
    cooldown_ms: 604800000
    daily_limit: 10
    required_actions: 2
    strict_order: true
    categories:
      product_a:
        daily_limit: 1
    sub_actions:
      connect:
        cooldown_ms: 86400000
        categories:
          product_a:
            cooldown_ms: 172800000
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error for file: %v", err)
	}

	if cfg.Addr != ":9090" || cfg.JWTSecret != "filekey" || cfg.DatabasePath != "test.db" {
		t.Fatalf("unexpected top-level values: %+v", cfg)
	}
	if cfg.APITimeout != 30*time.Second {
		t.Fatalf("unexpected APITimeout: %v", cfg.APITimeout)
	}
	if cfg.Engine.ClaimTTL != 45*time.Minute || !cfg.Engine.AllowResubmission {
		t.Fatalf("unexpected engine config: %+v", cfg.Engine)
	}
	if cfg.Evidence.MaxBytes != 2048 || !cfg.Evidence.SystemWideDedup {
		t.Fatalf("unexpected evidence config: %+v", cfg.Evidence)
	}

	li := cfg.Cooldowns["linkedin"]
	if li.CooldownMS != 604800000 || li.RequiredActions != 2 || !li.StrictOrder {
		t.Fatalf("unexpected linkedin cooldown: %+v", li)
	}
	if o := li.Categories["product_a"]; o.DailyLimit == nil || *o.DailyLimit != 1 {
		t.Fatalf("unexpected category override: %+v", o)
	}
	conn := li.SubActions["connect"]
	if conn.CooldownMS == nil || *conn.CooldownMS != 86400000 {
		t.Fatalf("unexpected sub-action inline override: %+v", conn)
	}
	if o := conn.Categories["product_a"]; o.CooldownMS == nil || *o.CooldownMS != 172800000 {
		t.Fatalf("unexpected sub-action category override: %+v", o)
	}
}

func TestLoadConfig_BadPath(t *testing.T) {
	if _, err := config.LoadConfig("/path/that/does/not/exist.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent path, got nil")
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("addr: [unclosed\n"), 0o600); err != nil {
		t.Fatalf("failed to write bad yaml: %v", err)
	}

	if _, err := config.LoadConfig(path); err == nil {
		t.Fatalf("expected YAML decode error, got nil")
	}
}
