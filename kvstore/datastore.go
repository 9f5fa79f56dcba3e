package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dssync "github.com/ipfs/go-datastore/sync"
)

type dsStore struct {
	ds datastore.Datastore
}

// NewDatastore creates a Store backed by ds. If prefix is not empty, all keys
// are stored under that namespace.
func NewDatastore(ds datastore.Datastore, prefix string) Store {
	if prefix != "" {
		ds = namespace.Wrap(ds, datastore.NewKey(prefix))
	}
	return &dsStore{
		ds: ds,
	}
}

// NewMemory creates a Store held in memory. It is safe for concurrent use and
// is lost when the process exits.
func NewMemory() Store {
	return NewDatastore(dssync.MutexWrap(datastore.NewMapDatastore()), "")
}

func (s *dsStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.ds.Get(ctx, datastore.NewKey(key))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("cannot read %s: %w", key, err)
	}
	return string(val), true, nil
}

func (s *dsStore) Set(ctx context.Context, key, value string) error {
	dsKey := datastore.NewKey(key)
	if err := s.ds.Put(ctx, dsKey, []byte(value)); err != nil {
		return fmt.Errorf("cannot write %s: %w", key, err)
	}
	return s.ds.Sync(ctx, dsKey)
}

func (s *dsStore) Remove(ctx context.Context, key string) error {
	err := s.ds.Delete(ctx, datastore.NewKey(key))
	if err != nil && !errors.Is(err, datastore.ErrNotFound) {
		return fmt.Errorf("cannot remove %s: %w", key, err)
	}
	return nil
}

func (s *dsStore) Close() error {
	return s.ds.Close()
}
