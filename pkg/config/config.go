package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the proxy configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Auth       AuthConfig       `yaml:"auth"`
	Engines    EnginesConfig    `yaml:"engines"`
	Completion CompletionConfig `yaml:"completion"`
	Moderation ModerationConfig `yaml:"moderation"`
	Audit      AuditConfig      `yaml:"audit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	CookieName      string   `yaml:"cookie_name"`
	CORSOrigins     []string `yaml:"cors_origins"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

// UpstreamConfig points at the guard platform (auth, policies, config, moderation).
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// AuthConfig configures token verification.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	JWTAlgorithm string `yaml:"jwt_algorithm"`
}

// EnginesConfig holds optional per-engine endpoint overrides.
type EnginesConfig struct {
	OpenAIBaseURL    string `yaml:"openai_base_url,omitempty"`
	AnthropicBaseURL string `yaml:"anthropic_base_url,omitempty"`
}

// CompletionConfig configures the completion call.
type CompletionConfig struct {
	Timeout string `yaml:"timeout"`
}

// ModerationConfig configures the background moderation stage.
type ModerationConfig struct {
	Timeout           string `yaml:"timeout"`
	ModerateResponses bool   `yaml:"moderate_responses"`
}

// AuditConfig selects and configures the audit log driver.
type AuditConfig struct {
	Driver     string `yaml:"driver"` // file | sqlite | redis
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	KeyPrefix  string `yaml:"key_prefix"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8000",
			CookieName:      "proxy",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: "15s",
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://chat.tmryk.com",
			Timeout: "30s",
		},
		Auth: AuthConfig{
			JWTAlgorithm: "HS256",
		},
		Completion: CompletionConfig{
			Timeout: "120s",
		},
		Moderation: ModerationConfig{
			Timeout:           "60s",
			ModerateResponses: true,
		},
		Audit: AuditConfig{
			Driver:     "file",
			Dir:        "logs",
			SQLitePath: "logs/audit.db",
			KeyPrefix:  "audit:",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment variables override file values in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("BASE_URL"); url != "" {
		c.Upstream.BaseURL = url
	}
	if secret := os.Getenv("JWT_SECRET_KEY"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if alg := os.Getenv("JWT_ALGORITHM"); alg != "" {
		c.Auth.JWTAlgorithm = alg
	}
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		c.Server.Listen = addr
	}
	if dir := os.Getenv("LOG_DIRECTORY"); dir != "" {
		c.Audit.Dir = dir
	}
	if driver := os.Getenv("AUDIT_DRIVER"); driver != "" {
		c.Audit.Driver = driver
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Audit.RedisAddr = addr
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			c.Audit.RedisDB = n
		}
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
		c.Engines.OpenAIBaseURL = url
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (or set JWT_SECRET_KEY)")
	}
	if c.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url is required (or set BASE_URL)")
	}
	switch strings.ToLower(c.Audit.Driver) {
	case "file", "":
		if c.Audit.Dir == "" {
			return errors.New("audit.dir is required for the file driver")
		}
	case "sqlite":
		if c.Audit.SQLitePath == "" {
			return errors.New("audit.sqlite_path is required for the sqlite driver")
		}
	case "redis":
		if c.Audit.RedisAddr == "" {
			return errors.New("audit.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown audit driver: %s", c.Audit.Driver)
	}
	return nil
}

// GetUpstreamTimeout returns the guard platform request timeout.
func (c *Config) GetUpstreamTimeout() time.Duration {
	return parseDuration(c.Upstream.Timeout, 30*time.Second)
}

// GetCompletionTimeout returns the completion call timeout.
func (c *Config) GetCompletionTimeout() time.Duration {
	return parseDuration(c.Completion.Timeout, 120*time.Second)
}

// GetModerationTimeout returns the background moderation timeout.
func (c *Config) GetModerationTimeout() time.Duration {
	return parseDuration(c.Moderation.Timeout, 60*time.Second)
}

// GetShutdownTimeout returns the graceful shutdown timeout.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 15*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
