package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Storage drivers understood by the app.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// ErrUnknownDriver is returned when storage.driver names no known driver.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Config holds everything the client needs to reach the backend and keep
// its local state.
type Config struct {
	APIURL            string
	Token             string
	DataDir           string
	StorageDriver     string
	StorageDSN        string
	LogLevel          string
	VersionInterval   time.Duration
	OrderPollInterval time.Duration
	RequestTimeout    time.Duration
}

const (
	DefaultPath              = "~/.config/platter/config.toml"
	defaultDataDir           = "~/.local/share/platter"
	defaultAPIURL            = "http://127.0.0.1:8080/api"
	defaultLogLevel          = "info"
	defaultVersionInterval   = 30 * time.Second
	defaultOrderPollInterval = 3 * time.Minute
	// RequestTimeout bounds every REST call.
	RequestTimeout = 10 * time.Second
)

type rawConfig struct {
	APIURL            string `toml:"api_url" yaml:"api_url"`
	Token             string `toml:"token" yaml:"token"`
	DataDir           string `toml:"data_dir" yaml:"data_dir"`
	LogLevel          string `toml:"log_level" yaml:"log_level"`
	VersionInterval   string `toml:"version_interval" yaml:"version_interval"`
	OrderPollInterval string `toml:"order_poll_interval" yaml:"order_poll_interval"`
	RequestTimeout    string `toml:"request_timeout" yaml:"request_timeout"`
	Storage           struct {
		Driver string `toml:"driver" yaml:"driver"`
		DSN    string `toml:"dsn" yaml:"dsn"`
	} `toml:"storage" yaml:"storage"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	cfg := Config{
		APIURL:            defaultAPIURL,
		DataDir:           mustExpand(defaultDataDir),
		StorageDriver:     DriverFile,
		LogLevel:          defaultLogLevel,
		VersionInterval:   defaultVersionInterval,
		OrderPollInterval: defaultOrderPollInterval,
		RequestTimeout:    RequestTimeout,
	}
	return cfg
}

// Load reads the config file at path (DefaultPath when empty), falling back
// to defaults when it is missing. Files ending in .yaml or .yml are parsed
// as YAML, everything else as TOML.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	switch strings.ToLower(filepath.Ext(resolved)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(bytes, &raw)
	default:
		err = toml.Unmarshal(bytes, &raw)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.apply(raw); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) apply(raw rawConfig) error {
	if v := strings.TrimSpace(raw.APIURL); v != "" {
		c.APIURL = v
	}
	c.Token = strings.TrimSpace(raw.Token)
	if v := strings.TrimSpace(raw.DataDir); v != "" {
		c.DataDir = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := strings.ToLower(strings.TrimSpace(raw.Storage.Driver)); v != "" {
		c.StorageDriver = v
	}
	c.StorageDSN = strings.TrimSpace(raw.Storage.DSN)

	durations := []struct {
		name string
		raw  string
		dest *time.Duration
	}{
		{"version_interval", raw.VersionInterval, &c.VersionInterval},
		{"order_poll_interval", raw.OrderPollInterval, &c.OrderPollInterval},
		{"request_timeout", raw.RequestTimeout, &c.RequestTimeout},
	}
	for _, d := range durations {
		v := strings.TrimSpace(d.raw)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("parse config: %s %q is not a positive duration", d.name, v)
		}
		*d.dest = parsed
	}
	return c.Validate()
}

// Validate checks fields that have no safe default.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory, DriverFile, DriverSQLite, DriverRedis:
	case DriverPostgres:
		if c.StorageDSN == "" {
			return fmt.Errorf("storage driver %q needs a dsn", c.StorageDriver)
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownDriver, c.StorageDriver)
	}
	return nil
}

// LogPath is where the client writes its own log.
func (c Config) LogPath() string {
	return filepath.Join(c.dataDir(), "platter.log")
}

// StorageTarget returns the DSN for the configured driver, deriving a path
// under DataDir for file and sqlite when none is set.
func (c Config) StorageTarget() string {
	if c.StorageDSN != "" {
		return c.StorageDSN
	}
	switch c.StorageDriver {
	case DriverFile:
		return filepath.Join(c.dataDir(), "state")
	case DriverSQLite:
		return "sqlite://" + filepath.ToSlash(filepath.Join(c.dataDir(), "platter.db"))
	case DriverRedis:
		return "redis://127.0.0.1:6379/0"
	default:
		return ""
	}
}

func (c Config) dataDir() string {
	if strings.TrimSpace(c.DataDir) == "" {
		return mustExpand(defaultDataDir)
	}
	return c.DataDir
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(DefaultPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
