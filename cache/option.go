package cache

import (
	"fmt"
	"time"

	"github.com/bovinelab/go-apicache/kvstore"
)

const (
	// DefaultSnapshotKey is the durable store key holding the cache snapshot.
	DefaultSnapshotKey = "/apicache/snapshot"

	defaultFlushInterval = time.Minute
)

type config struct {
	storage     kvstore.Store
	flushIn     time.Duration
	now         func() time.Time
	snapshotKey string
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		flushIn:     defaultFlushInterval,
		now:         time.Now,
		snapshotKey: DefaultSnapshotKey,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithStorage sets the durable store that the cache is loaded from and
// flushed to. Without storage the cache lives only in memory.
func WithStorage(kv kvstore.Store) Option {
	return func(cfg *config) error {
		cfg.storage = kv
		return nil
	}
}

// WithFlushInterval sets the interval between periodic flushes to storage. If
// set to 0, then only Flush and Close write to storage.
//
// Default is 1 minute.
func WithFlushInterval(interval time.Duration) Option {
	return func(cfg *config) error {
		if interval < 0 {
			return fmt.Errorf("flush interval cannot be negative: %s", interval)
		}
		cfg.flushIn = interval
		return nil
	}
}

// WithClock sets the function used to read the current time. Expiry is
// computed and checked with it.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) error {
		if now != nil {
			cfg.now = now
		}
		return nil
	}
}

// WithSnapshotKey sets the storage key of the snapshot.
//
// Default is DefaultSnapshotKey.
func WithSnapshotKey(key string) Option {
	return func(cfg *config) error {
		if key == "" {
			return fmt.Errorf("snapshot key cannot be empty")
		}
		cfg.snapshotKey = key
		return nil
	}
}
