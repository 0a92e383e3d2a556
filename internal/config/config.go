// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Gateway modes.
const (
	ModeRemote     = "remote"
	ModeStandalone = "standalone"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config represents the complete streamchat configuration.
type Config struct {
	Version string `toml:"version" json:"version" yaml:"version"`

	// Mode selects the sync gateway: "remote" or "standalone"
	Mode string `toml:"mode" json:"mode" yaml:"mode"`

	// Defaults for new sessions
	DefaultTitle string              `toml:"default_title" json:"default_title" yaml:"default_title"`
	DefaultModel string              `toml:"default_model" json:"default_model" yaml:"default_model"`
	Models       []model.ModelOption `toml:"models" json:"models" yaml:"models"`

	Remote     RemoteConfig     `toml:"remote" json:"remote" yaml:"remote"`
	Standalone StandaloneConfig `toml:"standalone" json:"standalone" yaml:"standalone"`
	Storage    StorageConfig    `toml:"storage" json:"storage" yaml:"storage"`
	Server     ServerConfig     `toml:"server" json:"server" yaml:"server"`
	Auth       AuthConfig       `toml:"auth" json:"auth" yaml:"auth"`
	Log        LogConfig        `toml:"log" json:"log" yaml:"log"`
	UI         UIConfig         `toml:"ui" json:"ui" yaml:"ui"`
}

// RemoteConfig configures the HTTP gateway.
type RemoteConfig struct {
	// BaseURL is the backend origin; "/api" is appended by the client
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`
	// Token is sent as "Authorization: Bearer <token>" when set
	Token string `toml:"token" json:"token" yaml:"token"`
	// CookieName/CookieValue are sent as a session cookie when Token is empty
	CookieName  string `toml:"cookie_name" json:"cookie_name" yaml:"cookie_name"`
	CookieValue string `toml:"cookie_value" json:"cookie_value" yaml:"cookie_value"`
	// TimeoutSecs bounds non-streaming calls
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`
	// RateLimit is the sustained request rate per second (0 = unlimited)
	RateLimit float64 `toml:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst" yaml:"rate_burst"`
}

// StandaloneConfig configures the local synthesized reply stream.
type StandaloneConfig struct {
	MinDelayMs int `toml:"min_delay_ms" json:"min_delay_ms" yaml:"min_delay_ms"`
	MaxDelayMs int `toml:"max_delay_ms" json:"max_delay_ms" yaml:"max_delay_ms"`
}

// StorageConfig selects and configures the key-value backend.
type StorageConfig struct {
	// Backend is "file", "sqlite" or "redis"
	Backend     string `toml:"backend" json:"backend" yaml:"backend"`
	Dir         string `toml:"dir" json:"dir" yaml:"dir"`
	SQLitePath  string `toml:"sqlite_path" json:"sqlite_path" yaml:"sqlite_path"`
	RedisURL    string `toml:"redis_url" json:"redis_url" yaml:"redis_url"`
	RedisPrefix string `toml:"redis_prefix" json:"redis_prefix" yaml:"redis_prefix"`
}

// ServerConfig configures the reference backend.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
	// BodyLimitKB caps request bodies
	BodyLimitKB int `toml:"body_limit_kb" json:"body_limit_kb" yaml:"body_limit_kb"`
	// CORSOrigins is a comma-separated allowlist; "*" allows any origin
	CORSOrigins string `toml:"cors_origins" json:"cors_origins" yaml:"cors_origins"`
}

// AuthConfig configures backend authentication.
type AuthConfig struct {
	// JWTSecret enables HS256 token validation
	JWTSecret string `toml:"jwt_secret" json:"jwt_secret" yaml:"jwt_secret"`
	// StaticToken enables a fixed bearer token
	StaticToken string `toml:"static_token" json:"static_token" yaml:"static_token"`
	// AllowMint exposes POST /api/auth/token (development only)
	AllowMint     bool   `toml:"allow_mint" json:"allow_mint" yaml:"allow_mint"`
	TokenTTLHours int    `toml:"token_ttl_hours" json:"token_ttl_hours" yaml:"token_ttl_hours"`
	CookieName    string `toml:"cookie_name" json:"cookie_name" yaml:"cookie_name"`
}

// LogConfig configures the zap logger and its file rotation.
type LogConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	File       string `toml:"file" json:"file" yaml:"file"`
	Console    bool   `toml:"console" json:"console" yaml:"console"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// UIConfig contains TUI preferences.
type UIConfig struct {
	SidebarWidth int  `toml:"sidebar_width" json:"sidebar_width" yaml:"sidebar_width"`
	Markdown     bool `toml:"markdown" json:"markdown" yaml:"markdown"`
	NoColor      bool `toml:"no_color" json:"no_color" yaml:"no_color"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	dir := defaultDir()
	return &Config{
		Version:      "1",
		Mode:         ModeStandalone,
		DefaultTitle: model.DefaultTitle,
		DefaultModel: model.DefaultModel,
		Models:       model.DefaultCatalog(),
		Remote: RemoteConfig{
			BaseURL:     "http://localhost:8001",
			CookieName:  "session",
			TimeoutSecs: 30,
			RateLimit:   10,
			RateBurst:   20,
		},
		Standalone: StandaloneConfig{
			MinDelayMs: 30,
			MaxDelayMs: 100,
		},
		Storage: StorageConfig{
			Backend:     BackendFile,
			Dir:         filepath.Join(dir, "data"),
			SQLitePath:  filepath.Join(dir, "streamchat.db"),
			RedisURL:    "redis://localhost:6379/0",
			RedisPrefix: "streamchat:",
		},
		Server: ServerConfig{
			Addr:        ":8001",
			BodyLimitKB: 1024,
			CORSOrigins: "*",
		},
		Auth: AuthConfig{
			TokenTTLHours: 24,
			CookieName:    "session",
		},
		Log: LogConfig{
			Level:      "info",
			File:       filepath.Join(dir, "logs", "streamchat.log"),
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		UI: UIConfig{
			SidebarWidth: 28,
			Markdown:     true,
		},
	}
}

func defaultDir() string {
	dir, err := ConfigDir()
	if err != nil {
		return ".streamchat"
	}
	return dir
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Version == "" {
		cfg.Version = d.Version
	}
	if cfg.Mode == "" {
		cfg.Mode = d.Mode
	}
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = d.DefaultTitle
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = d.DefaultModel
	}
	if len(cfg.Models) == 0 {
		cfg.Models = d.Models
	}

	// Remote
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = d.Remote.BaseURL
	}
	if cfg.Remote.CookieName == "" {
		cfg.Remote.CookieName = d.Remote.CookieName
	}
	if cfg.Remote.TimeoutSecs == 0 {
		cfg.Remote.TimeoutSecs = d.Remote.TimeoutSecs
	}
	if cfg.Remote.RateBurst == 0 {
		cfg.Remote.RateBurst = d.Remote.RateBurst
	}

	// Standalone
	if cfg.Standalone.MinDelayMs == 0 && cfg.Standalone.MaxDelayMs == 0 {
		cfg.Standalone = d.Standalone
	}

	// Storage
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = d.Storage.Backend
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = d.Storage.Dir
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = d.Storage.SQLitePath
	}
	if cfg.Storage.RedisURL == "" {
		cfg.Storage.RedisURL = d.Storage.RedisURL
	}
	if cfg.Storage.RedisPrefix == "" {
		cfg.Storage.RedisPrefix = d.Storage.RedisPrefix
	}

	// Server / auth
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.BodyLimitKB == 0 {
		cfg.Server.BodyLimitKB = d.Server.BodyLimitKB
	}
	if cfg.Server.CORSOrigins == "" {
		cfg.Server.CORSOrigins = d.Server.CORSOrigins
	}
	if cfg.Auth.TokenTTLHours == 0 {
		cfg.Auth.TokenTTLHours = d.Auth.TokenTTLHours
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = d.Auth.CookieName
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.File == "" {
		cfg.Log.File = d.Log.File
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = d.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = d.Log.MaxBackups
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = d.Log.MaxAgeDays
	}

	// UI
	if cfg.UI.SidebarWidth == 0 {
		cfg.UI.SidebarWidth = d.UI.SidebarWidth
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the streamchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine home directory")
	}
	return filepath.Join(home, ".streamchat"), nil
}

// ConfigPath returns the path of the config file with the given extension
// ("toml", "yaml" or "json") inside ConfigDir.
func ConfigPath(ext string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config."+ext), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the first config file found in ConfigDir,
// trying TOML, then YAML, then JSON, and falls back to defaults. A .env file
// in the working directory is read first so its variables take part in the
// environment overrides.
func Load() (*Config, error) {
	loadDotEnv()

	for _, ext := range []string{"toml", "yaml", "json"} {
		path, err := ConfigPath(ext)
		if err != nil {
			break
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file. The format is chosen
// by extension; anything that is not .json, .yaml or .yml is read as TOML.
func LoadFromPath(path string) (*Config, error) {
	// Decode over the defaults so booleans left out of the file keep their
	// default value.
	cfg := Default()

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = LoadJSON(cfg, path)
	case ".yaml", ".yml":
		err = LoadYAML(cfg, path)
	default:
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config from %s", path)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return errors.Wrap(err, "failed to decode TOML file")
	}
	fillDefaults(cfg)
	return nil
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read YAML file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, "failed to decode YAML file")
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read JSON file")
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, "failed to decode JSON file")
	}
	fillDefaults(cfg)
	return nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env: %v\n", err)
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration as TOML.
// SECURITY: 0600 because the file may hold tokens and secrets.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# streamchat configuration file\n")
	b.WriteString("# Generated by streamchat - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	switch c.Mode {
	case ModeRemote, ModeStandalone:
	default:
		errs = append(errs, ValidationError{
			Field:   "mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: remote, standalone", c.Mode),
		})
	}

	if c.Mode == ModeRemote {
		u, err := url.Parse(c.Remote.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "remote.base_url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Remote.BaseURL),
			})
		}
	}
	if c.Remote.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "remote.timeout_secs", Message: "cannot be negative"})
	}
	if c.Remote.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "remote.rate_limit", Message: "cannot be negative"})
	}

	if c.Standalone.MinDelayMs < 0 || c.Standalone.MaxDelayMs < c.Standalone.MinDelayMs {
		errs = append(errs, ValidationError{
			Field:   "standalone",
			Message: fmt.Sprintf("delay range %d..%d ms is invalid", c.Standalone.MinDelayMs, c.Standalone.MaxDelayMs),
		})
	}

	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendRedis:
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: file, sqlite, redis", c.Storage.Backend),
		})
	}

	if len(c.Models) == 0 {
		errs = append(errs, ValidationError{Field: "models", Message: "at least one model is required"})
	}
	for i, m := range c.Models {
		if strings.TrimSpace(m.ID) == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("models[%d].id", i), Message: "cannot be empty"})
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}

	if c.UI.SidebarWidth < 10 || c.UI.SidebarWidth > 80 {
		errs = append(errs, ValidationError{Field: "ui.sidebar_width", Message: "must be between 10 and 80"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - STREAMCHAT_MODE: overrides mode
//   - STREAMCHAT_DEFAULT_MODEL: overrides default_model
//   - STREAMCHAT_BASE_URL: overrides remote.base_url
//   - STREAMCHAT_TOKEN: overrides remote.token
//   - STREAMCHAT_COOKIE: overrides remote.cookie_value
//   - STREAMCHAT_STORAGE: overrides storage.backend
//   - STREAMCHAT_REDIS_URL: overrides storage.redis_url
//   - STREAMCHAT_SERVER_ADDR: overrides server.addr
//   - STREAMCHAT_JWT_SECRET: overrides auth.jwt_secret
//   - STREAMCHAT_LOG_LEVEL: overrides log.level
//   - STREAMCHAT_LOG_CONSOLE: overrides log.console
//   - NO_COLOR: sets ui.no_color
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("STREAMCHAT_MODE"); v != "" {
		c.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("STREAMCHAT_DEFAULT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("STREAMCHAT_BASE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("STREAMCHAT_TOKEN"); v != "" {
		c.Remote.Token = v
	}
	if v := os.Getenv("STREAMCHAT_COOKIE"); v != "" {
		c.Remote.CookieValue = v
	}
	if v := os.Getenv("STREAMCHAT_STORAGE"); v != "" {
		c.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("STREAMCHAT_REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	if v := os.Getenv("STREAMCHAT_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = v
	}
	if v := os.Getenv("STREAMCHAT_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("STREAMCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("STREAMCHAT_LOG_CONSOLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Log.Console = b
		}
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		c.UI.NoColor = true
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// RemoteTimeout returns the non-streaming request timeout.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSecs) * time.Second
}

// TokenTTL returns the lifetime of minted tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.Models = append([]model.ModelOption(nil), c.Models...)
	return &out
}
