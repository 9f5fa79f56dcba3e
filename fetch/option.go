package fetch

import (
	"fmt"
)

type config struct {
	singleflight bool
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	var cfg config
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithSingleflight enables or disables coalescing of concurrent cache misses.
// When enabled, concurrent fetches of the same missing key share a single
// producer call. When disabled, every miss calls its own producer.
//
// Default is disabled.
func WithSingleflight(enabled bool) Option {
	return func(cfg *config) error {
		cfg.singleflight = enabled
		return nil
	}
}
