package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every environment key, e.g. WPP_PASSPHRASE.
const EnvPrefix = "WPP"

// MinPassphraseLen is the shortest passphrase Validate accepts.
const MinPassphraseLen = 12

var ErrPassphraseTooShort = fmt.Errorf("passphrase must be at least %d characters", MinPassphraseLen)

var sessionRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Config holds every runtime setting. Sources in increasing precedence:
// built-in defaults, <store>/config.toml, .env, the process environment.
type Config struct {
	Passphrase string `toml:"-" envconfig:"PASSPHRASE"`
	Session    string `toml:"session" envconfig:"SESSION"`
	StoreDir   string `toml:"store_dir" envconfig:"STORE_DIR"`

	// HistorySyncDays nil means full replay, 0 disables replay. Other values
	// are passed through; the server decides how much it sends.
	HistorySyncDays *int `toml:"history_sync_days" envconfig:"HISTORY_SYNC_DAYS"`

	MaxQueryLimit     int           `toml:"max_query_limit" envconfig:"MAX_QUERY_LIMIT"`
	DefaultQueryLimit int           `toml:"default_query_limit" envconfig:"DEFAULT_QUERY_LIMIT"`
	RateLimit         int           `toml:"rate_limit" envconfig:"RATE_LIMIT"`
	IdleTimeout       time.Duration `toml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	LogLevel          string        `toml:"log_level" envconfig:"LOG_LEVEL"`
	HTTPAddr          string        `toml:"http_addr" envconfig:"HTTP_ADDR"`

	EmbedProvider string `toml:"embed_provider" envconfig:"EMBED_PROVIDER"`
	EmbedModel    string `toml:"embed_model" envconfig:"EMBED_MODEL"`
	EmbedURL      string `toml:"embed_url" envconfig:"EMBED_URL"`
	EmbedAPIKey   string `toml:"-" envconfig:"EMBED_API_KEY"`

	SchedulerInterval time.Duration `toml:"scheduler_interval" envconfig:"SCHEDULER_INTERVAL"`

	ReconnectBase        time.Duration `toml:"reconnect_base" envconfig:"RECONNECT_BASE"`
	ReconnectMax         time.Duration `toml:"reconnect_max" envconfig:"RECONNECT_MAX"`
	ReconnectJitter      time.Duration `toml:"reconnect_jitter" envconfig:"RECONNECT_JITTER"`
	ReconnectMaxAttempts int           `toml:"reconnect_max_attempts" envconfig:"RECONNECT_MAX_ATTEMPTS"`

	// CredentialsFlush re-encrypts the session this often while connected.
	// Zero leaves only event-driven and shutdown persistence.
	CredentialsFlush time.Duration `toml:"credentials_flush" envconfig:"CREDENTIALS_FLUSH"`

	MediaAutoDownload bool `toml:"media_auto_download" envconfig:"MEDIA_AUTO_DOWNLOAD"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Session:              "main",
		StoreDir:             filepath.Join(home, ".wpp"),
		MaxQueryLimit:        100,
		DefaultQueryLimit:    20,
		RateLimit:            30,
		IdleTimeout:          5 * time.Minute,
		LogLevel:             "info",
		HTTPAddr:             "127.0.0.1:8089",
		SchedulerInterval:    30 * time.Second,
		ReconnectBase:        time.Second,
		ReconnectMax:         time.Minute,
		ReconnectJitter:      time.Second,
		ReconnectMaxAttempts: 10,
		CredentialsFlush:     5 * time.Minute,
	}
}

// Load resolves the configuration. dotenv names the .env file; empty means
// ".env" in the working directory. A missing .env or TOML file is not an
// error. Load does not validate.
func Load(dotenv string) (*Config, error) {
	if dotenv == "" {
		dotenv = ".env"
	}
	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", dotenv, err)
	}

	cfg := Defaults()
	storeDir := cfg.StoreDir
	if v, ok := os.LookupEnv(EnvPrefix + "_STORE_DIR"); ok && v != "" {
		storeDir = v
	}
	if err := cfg.loadFile(filepath.Join(storeDir, "config.toml")); err != nil {
		return nil, err
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	if len(c.Passphrase) < MinPassphraseLen {
		return ErrPassphraseTooShort
	}
	if !sessionRegexp.MatchString(c.Session) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", c.Session)
	}
	if c.StoreDir == "" {
		return errors.New("store dir is empty")
	}
	if c.MaxQueryLimit <= 0 || c.DefaultQueryLimit <= 0 {
		return errors.New("query limits must be positive")
	}
	if c.DefaultQueryLimit > c.MaxQueryLimit {
		return fmt.Errorf("default query limit %d exceeds max %d", c.DefaultQueryLimit, c.MaxQueryLimit)
	}
	if c.SchedulerInterval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	if c.ReconnectBase <= 0 || c.ReconnectMax < c.ReconnectBase {
		return fmt.Errorf("reconnect backoff %s..%s is invalid", c.ReconnectBase, c.ReconnectMax)
	}
	if c.ReconnectMaxAttempts <= 0 {
		return errors.New("reconnect max attempts must be positive")
	}
	if c.HistorySyncDays != nil && *c.HistorySyncDays < 0 {
		return errors.New("history sync days cannot be negative")
	}
	switch c.EmbedProvider {
	case "", "ollama", "openai":
	default:
		return fmt.Errorf("unknown embed provider %q", c.EmbedProvider)
	}
	return nil
}

// HistoryReplay reports whether history sync should be requested. Only an
// explicit 0 disables it.
func (c *Config) HistoryReplay() bool {
	return c.HistorySyncDays == nil || *c.HistorySyncDays != 0
}

// ClampLimit maps a requested page size onto the configured bounds.
func (c *Config) ClampLimit(n int) int {
	if n <= 0 {
		return c.DefaultQueryLimit
	}
	return min(n, c.MaxQueryLimit)
}
