package transport

import (
	"fmt"
	"net/http"
	"time"
)

const defaultBackoffUnit = time.Second

type config struct {
	httpClient    *http.Client
	credentials   Credentials
	onAuthExpired func()
	backoffUnit   time.Duration
	header        http.Header
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		backoffUnit: defaultBackoffUnit,
		header:      make(http.Header),
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithHTTPClient sets the underlying http client. If the client has no
// timeout, the configured request timeout is applied to a copy of it.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) error {
		if c != nil {
			cfg.httpClient = c
		}
		return nil
	}
}

// WithCredentials sets the source of the bearer token. On a 401 response the
// credentials are purged.
func WithCredentials(creds Credentials) Option {
	return func(cfg *config) error {
		cfg.credentials = creds
		return nil
	}
}

// WithOnAuthExpired sets the function called after credentials are purged
// because the server answered 401. This is where an application redirects the
// user to its login entry point.
func WithOnAuthExpired(fn func()) Option {
	return func(cfg *config) error {
		cfg.onAuthExpired = fn
		return nil
	}
}

// WithBackoffUnit sets the base unit of the exponential retry backoff. The
// n-th retry waits unit * 2^n.
//
// Default is 1 second.
func WithBackoffUnit(unit time.Duration) Option {
	return func(cfg *config) error {
		if unit <= 0 {
			return fmt.Errorf("backoff unit must be positive: %s", unit)
		}
		cfg.backoffUnit = unit
		return nil
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(cfg *config) error {
		cfg.header.Add(key, value)
		return nil
	}
}
