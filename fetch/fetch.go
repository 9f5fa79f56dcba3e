// Package fetch is the single path through which cacheable API reads flow.
//
// A Fetcher answers a read from the cache when a live entry exists, and
// otherwise calls the caller's producer, caches its result, and returns it.
// Producer errors are returned unchanged and nothing is cached for them.
//
// The Fetcher also owns a process-wide loading flag that is set while an
// uncached producer runs. The flag is not reference counted: when fetches
// overlap, the first one to finish clears it even if others are still
// running. It is meant for progress indicators only.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bovinelab/go-apicache/apierror"
	"github.com/bovinelab/go-apicache/cache"
	"github.com/gammazero/channelqueue"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/singleflight"
)

var log = logging.Logger("apicache/fetch")

// Producer performs the remote read for a cache miss.
type Producer func(ctx context.Context) (json.RawMessage, error)

// Fetcher is the fetch-with-cache facade.
type Fetcher struct {
	store   *cache.Store
	loading atomic.Bool
	group   *singleflight.Group

	events       chan bool
	addEventChan chan chan<- bool
	rmEventChan  chan chan<- bool

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// New creates a Fetcher that caches into store.
func New(store *cache.Store, options ...Option) (*Fetcher, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	f := &Fetcher{
		store:        store,
		events:       make(chan bool),
		addEventChan: make(chan chan<- bool),
		rmEventChan:  make(chan chan<- bool),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	if opts.singleflight {
		f.group = new(singleflight.Group)
	}

	go f.distributeEvents()

	return f, nil
}

// FetchWithCache returns the cached value for key if it has not expired.
// Otherwise it sets the loading flag, calls producer, caches the result for
// ttl, and clears the loading flag whether or not producer succeeded. A
// producer result that is not valid JSON is not cached and is reported as an
// apierror of kind KindUnknown. The returned value is owned by the caller.
func (f *Fetcher) FetchWithCache(ctx context.Context, key string, producer Producer, ttl time.Duration) (json.RawMessage, error) {
	if e, ok := f.store.Get(key); ok {
		return e.Value, nil
	}

	if f.group == nil {
		return f.produce(ctx, key, producer, ttl)
	}

	// The flight outlives any one caller, so it runs without the first
	// caller's cancellation and each caller waits on its own context.
	flightCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (any, error) {
		// A flight that just landed may have filled the cache.
		if e, ok := f.store.Get(key); ok {
			return e.Value, nil
		}
		return f.produce(flightCtx, key, producer, ttl)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Debugw("Shared in-flight fetch", "key", key)
		}
		return append(json.RawMessage(nil), res.Val.(json.RawMessage)...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InvalidateCache removes keys from the cache so that the next fetch goes to
// the producer. With no keys the whole cache is cleared.
func (f *Fetcher) InvalidateCache(keys ...string) {
	f.store.Invalidate(keys...)
}

// Loading reports whether an uncached fetch is probably in flight.
func (f *Fetcher) Loading() bool {
	return f.loading.Load()
}

// OnLoadingChange creates a channel that receives every change of the
// loading flag, and adds that channel to the list of notification channels.
//
// Calling the returned cancel function removes the notification channel from
// the list of channels to be notified on changes, and it closes the channel to
// allow any reading goroutines to stop waiting on the channel.
func (f *Fetcher) OnLoadingChange() (<-chan bool, context.CancelFunc) {
	// Unbounded so that distributeEvents never blocks on a slow reader.
	cq := channelqueue.New[bool](-1)
	ch := cq.In()
	select {
	case f.addEventChan <- ch:
	case <-f.closing:
		close(ch)
		return cq.Out(), func() {}
	}

	cncl := func() {
		if ch == nil {
			return
		}
		select {
		case f.rmEventChan <- ch:
		case <-f.closing:
		}
		ch = nil
	}
	return cq.Out(), cncl
}

// Close stops delivering loading notifications and closes all notification
// channels. It does not close the cache store.
func (f *Fetcher) Close() {
	f.closeOnce.Do(func() {
		close(f.closing)
		<-f.done
	})
}

func (f *Fetcher) produce(ctx context.Context, key string, producer Producer, ttl time.Duration) (json.RawMessage, error) {
	f.setLoading(true)
	defer f.setLoading(false)

	val, err := producer(ctx)
	if err != nil {
		log.Debugw("Fetch failed", "key", key, "err", err)
		return nil, err
	}
	if !json.Valid(val) {
		log.Warnw("Producer returned invalid JSON", "key", key)
		return nil, apierror.New(apierror.KindUnknown, 0, fmt.Errorf("invalid JSON for %s", key))
	}
	f.store.Set(key, val, ttl)
	return val, nil
}

func (f *Fetcher) setLoading(v bool) {
	f.loading.Store(v)
	select {
	case f.events <- v:
	case <-f.closing:
	}
}

// distributeEvents copies each loading change to all OnLoadingChange
// channels.
func (f *Fetcher) distributeEvents() {
	defer close(f.done)

	var outEventsChans []chan<- bool

	for {
		select {
		case v := <-f.events:
			for _, ch := range outEventsChans {
				ch <- v
			}
		case ch := <-f.addEventChan:
			outEventsChans = append(outEventsChans, ch)
		case ch := <-f.rmEventChan:
			for i, ca := range outEventsChans {
				if ca == ch {
					outEventsChans[i] = outEventsChans[len(outEventsChans)-1]
					outEventsChans[len(outEventsChans)-1] = nil
					outEventsChans = outEventsChans[:len(outEventsChans)-1]
					close(ch)
					break
				}
			}
		case <-f.closing:
			// Dismiss any event readers.
			for _, ch := range outEventsChans {
				close(ch)
			}
			return
		}
	}
}

// Do is the typed form of FetchWithCache. Values are cached as JSON, so T
// must round-trip through encoding/json.
func Do[T any](ctx context.Context, f *Fetcher, key string, producer func(context.Context) (T, error), ttl time.Duration) (T, error) {
	var zero T
	raw, err := f.FetchWithCache(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		v, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}, ttl)
	if err != nil {
		return zero, err
	}

	var out T
	if err = json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("cannot decode cached value for %s: %w", key, err)
	}
	return out, nil
}
