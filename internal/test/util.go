package test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bovinelab/go-apicache/kvstore"
	"github.com/stretchr/testify/require"
)

var globalSeed atomic.Int64

// Epoch is the time a new Clock starts at.
var Epoch = time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: Epoch}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Since returns the time elapsed on the clock since Epoch.
func (c *Clock) Since() time.Duration {
	return c.Now().Sub(Epoch)
}

// SetSince moves the clock to Epoch plus d.
func (c *Clock) SetSince(d time.Duration) {
	c.mu.Lock()
	c.now = Epoch.Add(d)
	c.mu.Unlock()
}

// JSON encodes v and fails the test on error.
func JSON(t testing.TB, v any) json.RawMessage {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// RandomKeys returns n distinct cache keys under the resource name.
func RandomKeys(resource string, n int) []string {
	rng := rand.New(rand.NewSource(globalSeed.Add(1)))

	keys := make([]string, n)
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; {
		key := fmt.Sprintf("%s:[%d,%d]", resource, rng.Intn(1000)*100, 100)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys[i] = key
		i++
	}
	return keys
}

// FailStore is a kvstore.Store whose operations fail when the matching error
// is set.
type FailStore struct {
	kvstore.Store

	mu      sync.Mutex
	GetErr  error
	SetErr  error
	setCall int
	closed  int
}

func NewFailStore() *FailStore {
	return &FailStore{Store: kvstore.NewMemory()}
}

func (s *FailStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	err := s.GetErr
	s.mu.Unlock()
	if err != nil {
		return "", false, err
	}
	return s.Store.Get(ctx, key)
}

func (s *FailStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	err := s.SetErr
	s.setCall++
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Set(ctx, key, value)
}

func (s *FailStore) SetFailure(err error) {
	s.mu.Lock()
	s.SetErr = err
	s.mu.Unlock()
}

// SetCalls returns the number of Set calls, failed or not.
func (s *FailStore) SetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCall
}

func (s *FailStore) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return s.Store.Close()
}

// Closed reports whether Close was called.
func (s *FailStore) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed != 0
}
