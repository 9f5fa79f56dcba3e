// Package resource provides per-call-site handles over the fetch facade.
//
// A Resource wraps one caller function and keeps the state a view needs to
// render it: the last result, a local loading flag, and the last error.
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bovinelab/go-apicache/fetch"
)

// Func performs the remote read for a resource.
type Func[T any] func(ctx context.Context, args ...any) (T, error)

// Resource is a handle on one cacheable remote read.
type Resource[T any] struct {
	f   *fetch.Fetcher
	fn  Func[T]
	cfg config[T]

	mu       sync.Mutex
	data     T
	err      error
	inflight int
	// gen counts Resets. Calls started in an earlier generation no longer
	// count as in flight.
	gen  uint64
	args []any
}

// Key returns the cache key for base and args. Arguments are serialized as a
// JSON array, so distinct argument lists never share a key.
func Key(base string, args ...any) (string, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("cannot encode arguments for %s: %w", base, err)
	}
	return base + ":" + string(data), nil
}

// New creates a Resource that calls fn through f.
func New[T any](f *fetch.Fetcher, fn Func[T], options ...Option[T]) (*Resource[T], error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	return &Resource[T]{
		f:    f,
		fn:   fn,
		cfg:  opts,
		data: opts.initial,
	}, nil
}

// Execute calls the resource function with args. When a base key was given
// the call goes through the cache. The result is recorded as Data; a failure
// is recorded as Err and returned.
func (r *Resource[T]) Execute(ctx context.Context, args ...any) (T, error) {
	r.mu.Lock()
	r.inflight++
	r.err = nil
	r.args = args
	gen := r.gen
	r.mu.Unlock()

	v, err := r.call(ctx, args)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.gen {
		r.inflight--
	}
	if err != nil {
		r.err = err
		var zero T
		return zero, err
	}
	r.data = v
	return v, nil
}

// Refresh drops the cached result for the last arguments and executes again
// with them.
func (r *Resource[T]) Refresh(ctx context.Context) (T, error) {
	r.mu.Lock()
	args := r.args
	r.mu.Unlock()

	if r.cfg.key != "" {
		key, err := Key(r.cfg.key, args...)
		if err == nil {
			r.f.InvalidateCache(key)
		}
	}
	return r.Execute(ctx, args...)
}

// Reset restores Data to its initial value and clears Loading and Err. The
// shared cache is not touched.
func (r *Resource[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = r.cfg.initial
	r.err = nil
	r.inflight = 0
	r.gen++
}

// Data returns the result of the last successful call.
func (r *Resource[T]) Data() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

// Loading reports whether a call on this handle is in flight.
func (r *Resource[T]) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight > 0
}

// Err returns the error of the last call, or nil.
func (r *Resource[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Resource[T]) call(ctx context.Context, args []any) (T, error) {
	if r.cfg.key == "" {
		return r.fn(ctx, args...)
	}
	key, err := Key(r.cfg.key, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	return fetch.Do(ctx, r.f, key, func(ctx context.Context) (T, error) {
		return r.fn(ctx, args...)
	}, r.cfg.ttl)
}
