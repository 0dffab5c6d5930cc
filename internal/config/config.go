package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const insecureDefaultSecret = "supersecretkey"

type Config struct {
	Addr           string                    `yaml:"addr"`
	JWTSecret      string                    `yaml:"jwt_secret"`
	APITimeout     time.Duration             `yaml:"timeout"`
	DatabasePath   string                    `yaml:"database_path"`
	MigrateOnStart bool                      `yaml:"migrate_on_start"`
	Engine         EngineConfig              `yaml:"engine"`
	Evidence       EvidenceConfig            `yaml:"evidence"`
	Jobs           JobsConfig                `yaml:"jobs"`
	Cooldowns      map[string]ActionCooldown `yaml:"cooldowns"`
}

type EngineConfig struct {
	// ClaimTTL is how long a claim stays live without a submission.
	ClaimTTL           time.Duration `yaml:"claim_ttl"`
	AllowResubmission  bool          `yaml:"allow_resubmission"`
	ClaimSweepInterval time.Duration `yaml:"claim_sweep_interval"`
}

type EvidenceConfig struct {
	MaxBytes         int64    `yaml:"max_bytes"`
	AllowedMIMETypes []string `yaml:"allowed_mime_types"`
	// SystemWideDedup extends duplicate search past (action type, category).
	SystemWideDedup bool `yaml:"system_wide_dedup"`
}

type JobsConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ActionCooldown is the static default for a top-level action type.
type ActionCooldown struct {
	CooldownMS         int64                        `yaml:"cooldown_ms"`
	DailyLimit         int                          `yaml:"daily_limit"`
	RequiredActions    int                          `yaml:"required_actions"`
	ScreenshotRequired *bool                        `yaml:"screenshot_required"`
	StrictOrder        bool                         `yaml:"strict_order"`
	Categories         map[string]CooldownOverride  `yaml:"categories"`
	SubActions         map[string]SubActionCooldown `yaml:"sub_actions"`
}

// CooldownOverride replaces the non-nil fields of the rule it applies to.
type CooldownOverride struct {
	CooldownMS         *int64 `yaml:"cooldown_ms"`
	DailyLimit         *int   `yaml:"daily_limit"`
	RequiredActions    *int   `yaml:"required_actions"`
	ScreenshotRequired *bool  `yaml:"screenshot_required"`
	StrictOrder        *bool  `yaml:"strict_order"`
}

type SubActionCooldown struct {
	CooldownOverride `yaml:",inline"`
	Categories       map[string]CooldownOverride `yaml:"categories"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Addr:         getEnv("TASKGATE_ADDR", ":8080"),
		JWTSecret:    getEnv("TASKGATE_JWT_SECRET", insecureDefaultSecret),
		APITimeout:   15 * time.Second,
		DatabasePath: getEnv("TASKGATE_DATABASE_PATH", "taskgate.db"),
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks the configuration and fills unset values with defaults.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.JWTSecret == insecureDefaultSecret && os.Getenv("TASKGATE_ENV") != "development" {
		return fmt.Errorf("insecure default jwt_secret outside development")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.APITimeout <= 0 {
		c.APITimeout = 15 * time.Second
	}

	if c.Engine.ClaimTTL <= 0 {
		c.Engine.ClaimTTL = 2 * time.Hour
	}
	if c.Engine.ClaimSweepInterval <= 0 {
		c.Engine.ClaimSweepInterval = time.Minute
	}

	if c.Evidence.MaxBytes <= 0 {
		c.Evidence.MaxBytes = 10 << 20
	}
	if len(c.Evidence.AllowedMIMETypes) == 0 {
		c.Evidence.AllowedMIMETypes = []string{"image/png", "image/jpeg", "image/webp"}
	}

	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 2
	}
	if c.Jobs.PollInterval <= 0 {
		c.Jobs.PollInterval = 500 * time.Millisecond
	}

	if c.Cooldowns == nil {
		c.Cooldowns = DefaultCooldowns()
	}
	for action, ac := range c.Cooldowns {
		if err := ac.validate(); err != nil {
			return fmt.Errorf("cooldowns.%s: %w", action, err)
		}
	}

	return nil
}

func (a ActionCooldown) validate() error {
	if a.CooldownMS < 0 {
		return fmt.Errorf("cooldown_ms must not be negative")
	}
	if a.DailyLimit < 0 {
		return fmt.Errorf("daily_limit must not be negative")
	}
	if a.RequiredActions < 0 {
		return fmt.Errorf("required_actions must not be negative")
	}
	for cat, o := range a.Categories {
		if err := o.validate(); err != nil {
			return fmt.Errorf("categories.%s: %w", cat, err)
		}
	}
	for sub, s := range a.SubActions {
		if err := s.CooldownOverride.validate(); err != nil {
			return fmt.Errorf("sub_actions.%s: %w", sub, err)
		}
		for cat, o := range s.Categories {
			if err := o.validate(); err != nil {
				return fmt.Errorf("sub_actions.%s.categories.%s: %w", sub, cat, err)
			}
		}
	}
	return nil
}

func (o CooldownOverride) validate() error {
	if o.CooldownMS != nil && *o.CooldownMS < 0 {
		return fmt.Errorf("cooldown_ms must not be negative")
	}
	if o.DailyLimit != nil && *o.DailyLimit < 0 {
		return fmt.Errorf("daily_limit must not be negative")
	}
	if o.RequiredActions != nil && *o.RequiredActions < 1 {
		return fmt.Errorf("required_actions must be at least 1")
	}
	return nil
}

const day = int64(24 * time.Hour / time.Millisecond)

// DefaultCooldowns is the built-in static rule table used when the config
// file carries no cooldowns section.
func DefaultCooldowns() map[string]ActionCooldown {
	return map[string]ActionCooldown{
		"linkedin": {
			CooldownMS:      30 * day,
			DailyLimit:      20,
			RequiredActions: 2,
			StrictOrder:     true,
			SubActions: map[string]SubActionCooldown{
				"connect": {CooldownOverride: CooldownOverride{CooldownMS: ptr(7 * day), RequiredActions: ptr(1)}},
				"message": {CooldownOverride: CooldownOverride{CooldownMS: ptr(3 * day), DailyLimit: ptr(50), RequiredActions: ptr(1)}},
			},
		},
		"email": {
			CooldownMS:      14 * day,
			DailyLimit:      50,
			RequiredActions: 1,
		},
		"website_form": {
			CooldownMS:      30 * day,
			DailyLimit:      30,
			RequiredActions: 1,
		},
		"research": {
			CooldownMS:      day,
			DailyLimit:      100,
			RequiredActions: 1,
		},
	}
}

func ptr[T any](v T) *T { return &v }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}
