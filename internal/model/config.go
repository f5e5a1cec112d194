package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultSessionURL is Fastmail's JMAP session resource.
const DefaultSessionURL = "https://api.fastmail.com/jmap/session"

// EnvPrefix is the prefix for environment variable overrides
// (e.g., TMAIL_TOKEN, TMAIL_LOG_LEVEL).
const EnvPrefix = "TMAIL"

// CredentialConfig selects where the API token is persisted.
type CredentialConfig struct {
	// Backend is one of "auto", "keyring" or "file".
	Backend string `mapstructure:"backend" yaml:"backend"`

	// FileDir is the directory used by the encrypted file backend.
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// CacheConfig controls the local SQLite cache of masked emails.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// BrowseConfig holds preferences for the interactive browser.
type BrowseConfig struct {
	RefreshIntervalSec int `mapstructure:"refresh_interval_sec" yaml:"refresh_interval_sec"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`

	// File, when set, receives log output instead of stderr.
	File string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// SessionURL is the JMAP session endpoint used to discover the account.
	SessionURL string `mapstructure:"session_url" yaml:"session_url"`

	// APIURL is the JMAP API endpoint, filled from the session on login.
	APIURL string `mapstructure:"api_url" yaml:"api_url"`

	// AccountID is the primary account for the masked email capability.
	AccountID string `mapstructure:"account_id" yaml:"account_id"`

	// Username is the account's login name as reported by the session.
	Username string `mapstructure:"username" yaml:"username"`

	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	Credential CredentialConfig `mapstructure:"credential" yaml:"credential"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Browse     BrowseConfig     `mapstructure:"browse" yaml:"browse"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// LoggedIn reports whether login has resolved an account.
func (c *AppConfig) LoggedIn() bool {
	return c.AccountID != ""
}

// Timeout returns the HTTP timeout as a duration.
func (c *AppConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// RefreshInterval returns the browse view's refresh interval.
func (c *AppConfig) RefreshInterval() time.Duration {
	return time.Duration(c.Browse.RefreshIntervalSec) * time.Second
}

// ConfigDir returns ~/.config/tmail, or the working directory when the
// home directory cannot be determined.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tmail")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/tmail/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	dir := ConfigDir()
	return &AppConfig{
		SessionURL: DefaultSessionURL,
		TimeoutSec: 30,
		MaxRetries: 3,
		Credential: CredentialConfig{
			Backend: "auto",
			FileDir: filepath.Join(dir, "credentials"),
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "cache.db"),
		},
		Browse: BrowseConfig{
			RefreshIntervalSec: 120,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// setDefaults registers every default on v so missing keys resolve to
// sensible values.
func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("session_url", d.SessionURL)
	v.SetDefault("api_url", "")
	v.SetDefault("account_id", "")
	v.SetDefault("username", "")
	v.SetDefault("timeout_sec", d.TimeoutSec)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("credential.backend", d.Credential.Backend)
	v.SetDefault("credential.file_dir", d.Credential.FileDir)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("browse.refresh_interval_sec", d.Browse.RefreshIntervalSec)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", "")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
// Environment variables prefixed with TMAIL_ override file values.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.Credential.FileDir = expandHome(cfg.Credential.FileDir)
	cfg.Cache.Path = expandHome(cfg.Cache.Path)
	cfg.Log.File = expandHome(cfg.Log.File)

	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 30
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Browse.RefreshIntervalSec <= 0 {
		cfg.Browse.RefreshIntervalSec = 120
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("session_url", cfg.SessionURL)
	v.Set("api_url", cfg.APIURL)
	v.Set("account_id", cfg.AccountID)
	v.Set("username", cfg.Username)
	v.Set("timeout_sec", cfg.TimeoutSec)
	v.Set("max_retries", cfg.MaxRetries)
	v.Set("credential", map[string]interface{}{
		"backend":  cfg.Credential.Backend,
		"file_dir": cfg.Credential.FileDir,
	})
	v.Set("cache", map[string]interface{}{
		"enabled": cfg.Cache.Enabled,
		"path":    cfg.Cache.Path,
	})
	v.Set("browse", map[string]interface{}{
		"refresh_interval_sec": cfg.Browse.RefreshIntervalSec,
	})
	v.Set("log", map[string]interface{}{
		"level": cfg.Log.Level,
		"file":  cfg.Log.File,
	})

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return os.Chmod(path, 0o600)
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
