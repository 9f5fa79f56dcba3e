// Package cli implements the apicache command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/bovinelab/go-apicache/cache"
	"github.com/bovinelab/go-apicache/config"
	"github.com/bovinelab/go-apicache/fetch"
	"github.com/bovinelab/go-apicache/kvstore"
	"github.com/bovinelab/go-apicache/session"
	"github.com/bovinelab/go-apicache/transport"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("apicache/cli")

const appName = "apicache"

// CLI holds shared state for all commands.
type CLI struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	logLevel   string
	cfg        config.Config
}

// New creates a CLI that writes results to out and messages to errOut.
func New(out, errOut io.Writer) *CLI {
	return &CLI{
		out:    out,
		errOut: errOut,
	}
}

// app is the wired request stack used by a single command.
type app struct {
	kv       kvstore.Store
	location string
	session  *session.Store
	client   *transport.Client
	cache    *cache.Store
	fetcher  *fetch.Fetcher
}

func (c *CLI) open(ctx context.Context) (*app, error) {
	kv, location, err := c.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	sess := session.New(kv)
	client, err := transport.New(c.cfg.API,
		transport.WithCredentials(sess),
		transport.WithHeader("User-Agent", appName),
		transport.WithOnAuthExpired(func() {
			fmt.Fprintf(c.errOut, "Session expired. Run %q to sign in again.\n", appName+" login <token>")
		}))
	if err != nil {
		kv.Close()
		return nil, err
	}

	store, err := cache.New(ctx,
		cache.WithStorage(kv),
		cache.WithFlushInterval(c.cfg.Cache.FlushInterval))
	if err != nil {
		kv.Close()
		return nil, err
	}

	f, err := fetch.New(store, fetch.WithSingleflight(c.cfg.Cache.Singleflight))
	if err != nil {
		store.Close()
		kv.Close()
		return nil, err
	}

	log.Debugw("Opened request stack", "baseURL", c.cfg.API.BaseURL, "storage", location)
	return &app{
		kv:       kv,
		location: location,
		session:  sess,
		client:   client,
		cache:    store,
		fetcher:  f,
	}, nil
}

// openStorage opens Redis when a URL is configured and the cache directory
// otherwise. It also returns a description of where data is kept.
func (c *CLI) openStorage(ctx context.Context) (kvstore.Store, string, error) {
	if c.cfg.Cache.RedisURL != "" {
		rs, err := kvstore.NewRedis(ctx, c.cfg.Cache.RedisURL, appName+":")
		if err != nil {
			return nil, "", err
		}
		return rs, "redis://" + rs.Addr(), nil
	}
	fs, err := kvstore.NewFileStore(c.cfg.Cache.Dir)
	if err != nil {
		return nil, "", fmt.Errorf("cannot open cache directory: %w", err)
	}
	return fs, fs.Dir(), nil
}

// Close flushes the cache and releases storage.
func (a *app) Close() error {
	var errs error
	a.fetcher.Close()
	if err := a.cache.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := a.kv.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}
