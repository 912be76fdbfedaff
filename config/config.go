// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPath is looked up in the working directory, then one level up so
// binaries under cmd/ find the root config.
const DefaultPath = "config.yaml"

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Model    ModelConfig    `yaml:"model"`
	Session  SessionConfig  `yaml:"session"`
	Upload   UploadConfig   `yaml:"upload"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxUploadMB    int64         `yaml:"max_upload_mb"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
	// SeedUsers creates the default admin, teacher and student accounts.
	SeedUsers bool `yaml:"seed_users"`
}

// LogConfig feeds both the zap level and the lumberjack rotation settings.
type LogConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	File       string `yaml:"file"`  // empty disables file output
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type ModelConfig struct {
	Dir       string `yaml:"dir"`
	ID        string `yaml:"id"`
	CacheSize int    `yaml:"cache_size"`
	Watch     bool   `yaml:"watch"`
}

type SessionConfig struct {
	CookieName  string        `yaml:"cookie_name"`
	MaxSessions int           `yaml:"max_sessions"`
	TTL         time.Duration `yaml:"ttl"`
}

type UploadConfig struct {
	MaxRows int `yaml:"max_rows"`
	// Sheet picks a workbook sheet by name; empty means the first one.
	Sheet string `yaml:"sheet"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:           8000,
			Timeout:        30 * time.Second,
			MaxUploadMB:    20,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Path:      "./data/edupredict.db",
			SeedUsers: true,
		},
		Log: LogConfig{
			Level:      "info",
			File:       "./logs/edupredict.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Model: ModelConfig{
			Dir:       "./models",
			ID:        "latest",
			CacheSize: 8,
			Watch:     true,
		},
		Session: SessionConfig{
			CookieName:  "edupredict_session",
			MaxSessions: 1024,
			TTL:         2 * time.Hour,
		},
	}
}

// Resolve returns path if it exists, otherwise the same name one directory
// up. The second return reports whether the parent was used.
func Resolve(path string) (string, bool) {
	if _, err := os.Stat(path); err == nil || filepath.IsAbs(path) {
		return path, false
	}
	parent := filepath.Join("..", path)
	if _, err := os.Stat(parent); err == nil {
		return parent, true
	}
	return path, false
}

// Load reads path over the defaults. A missing file yields the defaults.
// Relative data paths are rebased when the config came from the parent dir.
func Load(path string) (*Config, error) {
	cfg := Default()
	resolved, fromParent := Resolve(path)

	file, err := os.Open(resolved)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, cfg.applyEnv()
	case err != nil:
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", resolved, err)
	}
	if fromParent {
		cfg.rebase("..")
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) rebase(dir string) {
	for _, p := range []*string{&c.Database.Path, &c.Log.File, &c.Model.Dir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// applyEnv lets deployments override a few settings without a file.
func (c *Config) applyEnv() error {
	if v := os.Getenv("EDUPREDICT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EDUPREDICT_PORT: %w", err)
		}
		c.HTTP.Port = port
	}
	if v := os.Getenv("EDUPREDICT_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("EDUPREDICT_MODEL_DIR"); v != "" {
		c.Model.Dir = v
	}
	if v := os.Getenv("EDUPREDICT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http.port %d", c.HTTP.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Model.Dir == "" {
		return errors.New("model.dir is required")
	}
	if c.Session.CookieName == "" {
		return errors.New("session.cookie_name is required")
	}
	return nil
}
