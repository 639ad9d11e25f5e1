// Package config resolves treestore tool settings from defaults, an optional
// YAML file and environment variables. The result is a plain struct handed to
// constructors; nothing here is global.
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

// Environment variables that override file settings.
const (
	EnvURL        = "TREESTORE_URL"
	EnvAuth       = "TREESTORE_AUTH"
	EnvMode       = "TREESTORE_MODE"
	EnvSeed       = "TREESTORE_SEED"
	EnvTimeout    = "TREESTORE_TIMEOUT"
	EnvRoot       = "TREESTORE_ROOT"
	EnvBackupDir  = "TREESTORE_BACKUP_DIR"
	EnvCollection = "TREESTORE_COLLECTION"
)

// Runtime modes.
const (
	ModeAuto = "auto"
	ModeHTTP = "http"
	ModeMock = "mock"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "treectl.yaml"

// StoreConfig describes how to reach the tree store.
type StoreConfig struct {
	// URL is the store base URL, e.g. https://project.firebaseio.com.
	URL string `yaml:"url"`

	// Auth is sent as the "auth" query parameter when set.
	Auth string `yaml:"auth,omitempty"`

	// Mode selects auto, http or mock.
	Mode string `yaml:"mode"`

	// Seed pre-populates the mock store (JSON or YAML file).
	Seed string `yaml:"seed,omitempty"`

	// Timeout bounds every remote call.
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond throttles outgoing calls; 0 disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`

	// MaxRetries retries idempotent calls on transient failures.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// LogConfig mirrors logging.Config for file-based settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the full tool configuration.
type Config struct {
	Store StoreConfig `yaml:"store"`

	// Root is the tree path captured by snapshots.
	Root string `yaml:"root"`

	// BackupDir holds snapshot files.
	BackupDir string `yaml:"backup_dir"`

	// Collection is the sub-tree holding defect reports.
	Collection string `yaml:"collection"`

	Log LogConfig `yaml:"log"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Mode:    ModeAuto,
			Timeout: 10 * time.Second,
		},
		Root:       "/",
		BackupDir:  "backup",
		Collection: "/potholes/",
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path reads DefaultFile when it exists and
// skips it otherwise.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Read is Load without validation, for callers that apply further overrides
// such as command-line flags.
func Read(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvURL, &c.Store.URL)
	str(EnvAuth, &c.Store.Auth)
	str(EnvMode, &c.Store.Mode)
	str(EnvSeed, &c.Store.Seed)
	str(EnvRoot, &c.Root)
	str(EnvBackupDir, &c.BackupDir)
	str(EnvCollection, &c.Collection)

	if v, ok := lookup(EnvTimeout); ok && strings.TrimSpace(v) != "" {
		d, err := parseTimeout(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvTimeout, err)
		}
		c.Store.Timeout = d
	}
	return nil
}

// parseTimeout accepts Go durations ("5s") or plain seconds ("5").
func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// Validate checks field values after all sources are merged.
func (c Config) Validate() error {
	c.Store.Mode = strings.ToLower(c.Store.Mode)
	switch c.Store.Mode {
	case "", ModeAuto, ModeMock:
	case ModeHTTP:
		if c.Store.URL == "" {
			return fmt.Errorf("config: http mode requires a store URL (%s)", EnvURL)
		}
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Store.Mode)
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("config: store timeout must be positive, got %v", c.Store.Timeout)
	}
	if c.Store.RequestsPerSecond < 0 {
		return fmt.Errorf("config: requests_per_second must not be negative")
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must not be negative")
	}
	if strings.TrimSpace(c.BackupDir) == "" {
		return errors.New("config: backup_dir is required")
	}
	return nil
}

// Marshal renders c as YAML with the auth token masked.
func (c Config) Marshal() ([]byte, error) {
	if c.Store.Auth != "" {
		c.Store.Auth = "********"
	}
	return yaml.Marshal(c)
}
