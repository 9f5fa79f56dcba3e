// Package kvstore provides the durable local key-value store used to keep
// the bearer token, the cached user profile and the cache snapshot across
// process restarts.
//
// Keys and values are strings. Stores may be capacity-limited, and callers
// treat write failures as non-fatal.
package kvstore

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned by a capacity-limited store when a value does
// not fit.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Store is a durable key-value store.
type Store interface {
	// Get returns the value stored under key. The boolean is false if there
	// is no value for key.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Close releases any resources held by the store.
	Close() error
}

type limited struct {
	Store
	maxBytes int
}

// Limit wraps s so that Set fails with ErrQuotaExceeded for values larger
// than maxBytes.
func Limit(s Store, maxBytes int) Store {
	return &limited{
		Store:    s,
		maxBytes: maxBytes,
	}
}

func (l *limited) Set(ctx context.Context, key, value string) error {
	if len(value) > l.maxBytes {
		return ErrQuotaExceeded
	}
	return l.Store.Set(ctx, key, value)
}
