// Package config loads npassword settings from defaults, an optional YAML
// file, and environment variables, in that order of precedence (lowest
// first).
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/npassword/npassword/pkg/crypto"
)

// FileName is the config file looked up inside the data directory.
const FileName = "config.yaml"

// DefaultDirName is the data directory created under the user's home.
const DefaultDirName = ".npassword_manager"

// Environment variables
const (
	EnvDataDir  = "NPASSWORD_DATA_DIR"
	EnvLogLevel = "NPASSWORD_LOG_LEVEL"
)

// Errors
var (
	ErrNotFound    = errors.New("config: file not found")
	ErrInsecure    = errors.New("config: file has insecure permissions")
	ErrSymlink     = errors.New("config: file is a symlink")
	ErrNotOwned    = errors.New("config: file not owned by current user")
	ErrInvalidConf = errors.New("config: invalid configuration")
)

// Argon2 holds credential hashing cost parameters.
type Argon2 struct {
	Memory  uint32 `yaml:"memory"` // KiB
	Time    uint32 `yaml:"time"`
	Threads uint8  `yaml:"threads"`
}

// Audit controls the operator audit log.
type Audit struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the resolved configuration.
type Config struct {
	DataDir     string        `yaml:"data_dir"`
	LogLevel    string        `yaml:"log_level"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	Argon2      Argon2        `yaml:"argon2"`
	Audit       Audit         `yaml:"audit"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := DefaultDirName
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, DefaultDirName)
	}
	return &Config{
		DataDir:     dir,
		LogLevel:    "warn",
		BusyTimeout: 5 * time.Second,
		Argon2: Argon2{
			Memory:  crypto.DefaultParams.Memory,
			Time:    crypto.DefaultParams.Time,
			Threads: crypto.DefaultParams.Threads,
		},
		Audit: Audit{Enabled: true},
	}
}

// Load resolves the configuration. If path is empty, <dataDir>/config.yaml
// is read when present; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.DataDir = dir
	}

	explicit := path != ""
	if !explicit {
		path = filepath.Join(expandHome(cfg.DataDir), FileName)
	}
	if err := cfg.readFile(path); err != nil {
		if !errors.Is(err, ErrNotFound) || explicit {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.DataDir = expandHome(cfg.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile overlays the YAML file at path onto cfg.
func (c *Config) readFile(path string) error {
	f, err := openConfigFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// fstat the opened descriptor, not the path
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrInvalidConf, path)
	}
	if err := checkFileSecurity(info); err != nil {
		return err
	}

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.DataDir = dir
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%w: data_dir is empty", ErrInvalidConf)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalidConf, c.LogLevel)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("%w: busy_timeout %s", ErrInvalidConf, c.BusyTimeout)
	}
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConf, err)
	}
	return nil
}

// Params returns the Argon2 settings as hashing parameters.
func (c *Config) Params() crypto.Params {
	return crypto.Params{
		Memory:  c.Argon2.Memory,
		Time:    c.Argon2.Time,
		Threads: c.Argon2.Threads,
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
