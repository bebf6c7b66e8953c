package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ribera-group/coordina-cli/internal/match"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig         `yaml:"store" mapstructure:"store"`
	Bridge    BridgeConfig        `yaml:"bridge" mapstructure:"bridge"`
	Sessions  SessionsConfig      `yaml:"sessions" mapstructure:"sessions"`
	Doctypes  DoctypesConfig      `yaml:"doctypes" mapstructure:"doctypes"`
	Match     match.ScoringConfig `yaml:"match" mapstructure:"match"`
	Snapshot  SnapshotConfig      `yaml:"snapshot" mapstructure:"snapshot"`
	Planner   PlannerConfig       `yaml:"planner" mapstructure:"planner"`
	Execution ExecutionConfig     `yaml:"execution" mapstructure:"execution"`
	Confirm   ConfirmConfig       `yaml:"confirm" mapstructure:"confirm"`
	Artifacts ArtifactsConfig     `yaml:"artifacts" mapstructure:"artifacts"`
	Notify    NotifyConfig        `yaml:"notify" mapstructure:"notify"`
	Server    ServerConfig        `yaml:"server" mapstructure:"server"`
	Log       LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the catalog database backend.
type StoreConfig struct {
	Backend  string `yaml:"backend" mapstructure:"backend"`
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BridgeConfig configures the browser bridge client.
type BridgeConfig struct {
	URL         string        `yaml:"url" mapstructure:"url"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Breaker     BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// BreakerConfig configures the circuit breaker guarding the bridge.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// SessionsConfig locates saved browser sessions.
type SessionsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// DoctypesConfig points at an optional document-type registry file.
// When File is empty the built-in registry is used.
type DoctypesConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// SnapshotConfig bounds pending-grid reads.
type SnapshotConfig struct {
	MaxPages int `yaml:"max_pages" mapstructure:"max_pages"`
	MaxItems int `yaml:"max_items" mapstructure:"max_items"`
}

// PlannerConfig configures plan building.
type PlannerConfig struct {
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
}

// ExecutionConfig holds the default guardrail limits for executions.
// Each execute request may narrow them, never widen.
type ExecutionConfig struct {
	MaxUploads       int      `yaml:"max_uploads" mapstructure:"max_uploads"`
	AllowlistTypes   []string `yaml:"allowlist_types" mapstructure:"allowlist_types"`
	MinConfidence    float64  `yaml:"min_confidence" mapstructure:"min_confidence"`
	RateLimitSeconds int      `yaml:"rate_limit_seconds" mapstructure:"rate_limit_seconds"`
	StopOnFirstError bool     `yaml:"stop_on_first_error" mapstructure:"stop_on_first_error"`
}

// ConfirmConfig configures the confirmation gate.
type ConfirmConfig struct {
	TokenTTLMinutes int `yaml:"token_ttl_minutes" mapstructure:"token_ttl_minutes"`
}

// ArtifactsConfig configures the run artifact directory.
type ArtifactsConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
}

// NotifyConfig configures optional run-outcome channels.
type NotifyConfig struct {
	Webhook WebhookConfig      `yaml:"webhook" mapstructure:"webhook"`
	Notion  NotionNotifyConfig `yaml:"notion" mapstructure:"notion"`
}

// WebhookConfig holds the run-summary webhook settings.
type WebhookConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// NotionNotifyConfig holds Notion API credentials and the runs database.
type NotionNotifyConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	RunsDB string `yaml:"runs_db" mapstructure:"runs_db"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.coordina")

	// Environment
	v.SetEnvPrefix("COORDINA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.dsn", ".coordina/coordina.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("bridge.url", "http://127.0.0.1:8377")
	v.SetDefault("bridge.timeout_secs", 120)
	v.SetDefault("bridge.breaker.failure_threshold", 5)
	v.SetDefault("bridge.breaker.reset_timeout_secs", 30)
	v.SetDefault("sessions.dir", ".coordina/sessions")
	v.SetDefault("match.period_partial_penalty", 0.15)
	v.SetDefault("match.period_miss_penalty", 0.35)
	v.SetDefault("match.subject_near_penalty", 0.20)
	v.SetDefault("match.no_identifier_penalty", 0.10)
	v.SetDefault("snapshot.max_pages", 20)
	v.SetDefault("snapshot.max_items", 500)
	v.SetDefault("planner.min_confidence", 0.8)
	v.SetDefault("execution.max_uploads", 20)
	v.SetDefault("execution.min_confidence", 0.8)
	v.SetDefault("execution.rate_limit_seconds", 2)
	v.SetDefault("execution.stop_on_first_error", false)
	v.SetDefault("confirm.token_ttl_minutes", 60)
	v.SetDefault("artifacts.dir", ".coordina/runs")
	v.SetDefault("artifacts.retention_days", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given mode.
// Modes: "plan", "execute", "import", "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Backend {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.backend must be sqlite or postgres, got %q", c.Store.Backend))
	}
	if c.Store.DSN == "" {
		errs = append(errs, "store.dsn is required")
	}

	if err := match.ValidateConfig(c.Match); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Snapshot.MaxPages < 0 || c.Snapshot.MaxItems < 0 {
		errs = append(errs, "snapshot bounds must be >= 0")
	}
	if c.Planner.MinConfidence < 0 || c.Planner.MinConfidence > 1 {
		errs = append(errs, "planner.min_confidence must be between 0 and 1")
	}
	if c.Execution.MinConfidence < 0 || c.Execution.MinConfidence > 1 {
		errs = append(errs, "execution.min_confidence must be between 0 and 1")
	}
	if c.Execution.MaxUploads < 1 || c.Execution.MaxUploads > 500 {
		errs = append(errs, "execution.max_uploads must be between 1 and 500")
	}
	if c.Execution.RateLimitSeconds < 0 {
		errs = append(errs, "execution.rate_limit_seconds must be >= 0")
	}
	if c.Confirm.TokenTTLMinutes <= 0 {
		errs = append(errs, "confirm.token_ttl_minutes must be > 0")
	}
	if c.Artifacts.Dir == "" {
		errs = append(errs, "artifacts.dir is required")
	}

	switch mode {
	case "plan":
		if c.Bridge.URL == "" {
			errs = append(errs, "bridge.url is required")
		}
	case "execute":
		if c.Bridge.URL == "" {
			errs = append(errs, "bridge.url is required")
		}
		if c.Sessions.Dir == "" {
			errs = append(errs, "sessions.dir is required")
		}
	case "import":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Bridge.URL == "" {
			errs = append(errs, "bridge.url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s mode: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
