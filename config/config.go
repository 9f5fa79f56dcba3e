// Package config loads apicache settings from a TOML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bovinelab/go-apicache/transport"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("apicache/config")

const (
	DefaultBaseURL       = "http://localhost:8000"
	DefaultFlushInterval = time.Minute
	DefaultLogLevel      = "warn"
)

// Environment variables that override file settings.
const (
	EnvBaseURL       = "APICACHE_BASE_URL"
	EnvTimeoutMillis = "APICACHE_TIMEOUT_MS"
	EnvRetryAttempts = "APICACHE_RETRY_ATTEMPTS"
	EnvCacheDir      = "APICACHE_CACHE_DIR"
	EnvRedisURL      = "APICACHE_REDIS_URL"
)

// Config is the complete apicache configuration.
type Config struct {
	API      transport.Config `toml:"api"`
	Cache    Cache            `toml:"cache"`
	LogLevel string           `toml:"log_level"`
}

// Cache configures the response cache and its durable storage.
type Cache struct {
	// Dir is where the cache snapshot and session are stored. Empty means
	// the user cache directory.
	Dir string `toml:"dir"`
	// RedisURL, if set, stores the session and cache snapshot in Redis
	// instead of Dir.
	RedisURL string `toml:"redis_url"`
	// FlushInterval is how often the cache is written to Dir. Zero writes
	// only at shutdown.
	FlushInterval time.Duration `toml:"flush_interval"`
	// Singleflight coalesces concurrent fetches of the same missing key.
	Singleflight bool `toml:"singleflight"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		API: transport.DefaultConfig(DefaultBaseURL),
		Cache: Cache{
			FlushInterval: DefaultFlushInterval,
		},
		LogLevel: DefaultLogLevel,
	}
}

// DefaultPath returns the path of the user's config file.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "apicache", "config.toml"), nil
}

// Load reads the config file at path over the defaults and then applies
// environment overrides. If path is empty the default path is used, and a
// missing default file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	optional := path == ""
	if optional {
		var err error
		if path, err = DefaultPath(); err != nil {
			log.Debugw("No user config directory", "err", err)
			path = ""
		}
	}

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		switch {
		case err == nil:
			if undecoded := md.Undecoded(); len(undecoded) != 0 {
				log.Warnw("Unknown config keys", "path", path, "keys", undecoded)
			}
		case optional && errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("cannot load config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that values are in range.
func (c Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.TimeoutMillis < 0 {
		return fmt.Errorf("api.timeout_ms must not be negative, got %d", c.API.TimeoutMillis)
	}
	if c.API.DefaultRetryAttempts < 0 {
		return fmt.Errorf("api.retry_attempts must not be negative, got %d", c.API.DefaultRetryAttempts)
	}
	if c.Cache.FlushInterval < 0 {
		return fmt.Errorf("cache.flush_interval must not be negative, got %s", c.Cache.FlushInterval)
	}
	return nil
}

// Encode writes the config as TOML.
func (c Config) Encode() (string, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (c *Config) applyEnv() error {
	if val := os.Getenv(EnvBaseURL); val != "" {
		c.API.BaseURL = val
	}
	if val := os.Getenv(EnvTimeoutMillis); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTimeoutMillis, err)
		}
		c.API.TimeoutMillis = n
	}
	if val := os.Getenv(EnvRetryAttempts); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRetryAttempts, err)
		}
		c.API.DefaultRetryAttempts = n
	}
	if val := os.Getenv(EnvCacheDir); val != "" {
		c.Cache.Dir = val
	}
	if val := os.Getenv(EnvRedisURL); val != "" {
		c.Cache.RedisURL = val
	}
	return nil
}
