package resource

import (
	"fmt"
	"time"
)

// DefaultTTL is how long results are cached when no TTL option is given.
const DefaultTTL = 5 * time.Minute

type config[T any] struct {
	key     string
	ttl     time.Duration
	initial T
}

// Option is a function that sets a value in a config.
type Option[T any] func(*config[T]) error

// getOpts creates a config and applies Options to it.
func getOpts[T any](opts []Option[T]) (config[T], error) {
	cfg := config[T]{
		ttl: DefaultTTL,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config[T]{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithKey sets the base cache key. Each call's arguments are appended to it
// to form the key of that call. Without a base key results are not cached.
func WithKey[T any](base string) Option[T] {
	return func(cfg *config[T]) error {
		cfg.key = base
		return nil
	}
}

// WithTTL sets how long results are cached.
func WithTTL[T any](ttl time.Duration) Option[T] {
	return func(cfg *config[T]) error {
		if ttl <= 0 {
			return fmt.Errorf("ttl must be positive, got %s", ttl)
		}
		cfg.ttl = ttl
		return nil
	}
}

// WithInitial sets the value Data returns before the first successful call
// and after Reset.
func WithInitial[T any](v T) Option[T] {
	return func(cfg *config[T]) error {
		cfg.initial = v
		return nil
	}
}
