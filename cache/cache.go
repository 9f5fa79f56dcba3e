package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bovinelab/go-apicache/apierror"
	"github.com/bovinelab/go-apicache/kvstore"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("apicache/cache")

var ErrClosed = errors.New("cache closed")

// Entry is a cached value and the time it expires.
type Entry struct {
	Value json.RawMessage `json:"value"`
	// Expiry is the absolute expiry time in Unix milliseconds.
	Expiry int64 `json:"expiry"`
}

// Valid reports whether the entry can still be read at time now.
func (e Entry) Valid(now time.Time) bool {
	return now.UnixMilli() < e.Expiry
}

// ExpiresAt returns Expiry as a time.
func (e Entry) ExpiresAt() time.Time {
	return time.UnixMilli(e.Expiry)
}

// entries is an immutable map stored atomically in the cache. Writers build a
// new map and swap it in; readers never lock.
type entries map[string]Entry

// Store is the in-memory response cache. Reads are lock-free. The current
// contents are periodically written to durable storage and restored at
// startup.
type Store struct {
	read    atomic.Pointer[entries]
	writeMu sync.Mutex

	storage     kvstore.Store
	snapshotKey string
	now         func() time.Time

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// New creates a cache and restores any snapshot found in storage. A snapshot
// that cannot be read or decoded is logged and ignored; it never prevents the
// cache from starting.
func New(ctx context.Context, options ...Option) (*Store, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	s := &Store{
		storage:     opts.storage,
		snapshotKey: opts.snapshotKey,
		now:         opts.now,
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.read.Store(&entries{})

	if s.storage != nil {
		s.restore(ctx)
	}

	if s.storage != nil && opts.flushIn != 0 {
		go s.flusher(opts.flushIn)
	} else {
		close(s.done)
	}

	return s, nil
}

// Get returns the entry stored under key if it has not expired. Get never
// modifies the cache, and the returned Value is a copy.
func (s *Store) Get(key string) (Entry, bool) {
	e, ok := s.load()[key]
	if !ok || !e.Valid(s.now()) {
		return Entry{}, false
	}
	e.Value = append(json.RawMessage(nil), e.Value...)
	return e, true
}

// Set stores value under key until ttl from now, replacing any previous
// entry.
func (s *Store) Set(key string, value json.RawMessage, ttl time.Duration) {
	e := Entry{
		Value:  append(json.RawMessage(nil), value...),
		Expiry: s.now().Add(ttl).UnixMilli(),
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	read := s.load()
	m := make(entries, len(read)+1)
	for k, v := range read {
		m[k] = v
	}
	m[key] = e
	s.read.Store(&m)
}

// Invalidate removes the entries for keys. If no keys are given, all entries
// are removed. Removing a key that is not cached does nothing.
func (s *Store) Invalidate(keys ...string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if len(keys) == 0 {
		s.read.Store(&entries{})
		return
	}

	read := s.load()
	m := make(entries, len(read))
	for k, v := range read {
		m[k] = v
	}
	for _, key := range keys {
		delete(m, key)
	}
	s.read.Store(&m)
}

// Snapshot returns all unexpired entries. The map is a copy but the Values
// are shared with the cache and must not be modified.
func (s *Store) Snapshot() map[string]Entry {
	now := s.now()
	read := s.load()
	out := make(map[string]Entry, len(read))
	for k, e := range read {
		if e.Valid(now) {
			out[k] = e
		}
	}
	return out
}

// Keys returns the sorted keys of all unexpired entries.
func (s *Store) Keys() []string {
	snap := s.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of unexpired entries.
func (s *Store) Len() int {
	return len(s.Snapshot())
}

// Flush writes all unexpired entries to storage. Entries whose value is not
// valid JSON are skipped. A failure is returned as an apierror of kind
// KindCachePersistence; the in-memory cache is unaffected.
func (s *Store) Flush(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	snap := s.Snapshot()
	for key, e := range snap {
		if !json.Valid(e.Value) {
			log.Warnw("Not persisting entry with invalid JSON", "key", key)
			delete(snap, key)
		}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return apierror.New(apierror.KindCachePersistence, 0, err)
	}
	if err = s.storage.Set(ctx, s.snapshotKey, string(data)); err != nil {
		return apierror.New(apierror.KindCachePersistence, 0, err)
	}
	return nil
}

// Close stops periodic flushing and writes a final snapshot. It does not close
// the storage, which belongs to the caller. Calling Close more than once
// returns ErrClosed.
func (s *Store) Close() error {
	err := ErrClosed
	s.closeOnce.Do(func() {
		close(s.closing)
		<-s.done
		err = s.Flush(context.Background())
		if err != nil {
			log.Errorw("Cannot flush cache at close", "err", err)
		}
	})
	return err
}

func (s *Store) load() entries {
	if p := s.read.Load(); p != nil {
		return *p
	}
	return entries{}
}

// flusher periodically flushes the cache. It always reads the live map, so
// each flush sees the latest writes.
func (s *Store) flusher(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(context.Background()); err != nil {
				log.Errorw("Cannot flush cache", "err", err)
			}
		case <-s.closing:
			return
		}
	}
}

func (s *Store) restore(ctx context.Context) {
	data, ok, err := s.storage.Get(ctx, s.snapshotKey)
	if err != nil {
		log.Warnw("Cannot read cache snapshot, starting empty", "err", err)
		return
	}
	if !ok {
		return
	}

	var loaded entries
	if err = json.Unmarshal([]byte(data), &loaded); err != nil {
		log.Warnw("Malformed cache snapshot, starting empty", "err", err)
		return
	}

	now := s.now()
	m := make(entries, len(loaded))
	for k, e := range loaded {
		if e.Valid(now) {
			m[k] = e
		}
	}
	s.read.Store(&m)
	log.Debugw("Restored cache snapshot", "entries", len(m), "stale", len(loaded)-len(m))
}
