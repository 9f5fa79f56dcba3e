package resource_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bovinelab/go-apicache/apierror"
	"github.com/bovinelab/go-apicache/cache"
	"github.com/bovinelab/go-apicache/fetch"
	"github.com/bovinelab/go-apicache/internal/test"
	"github.com/bovinelab/go-apicache/resource"
	"github.com/stretchr/testify/require"
)

type page struct {
	Skip  int      `json:"skip"`
	Items []string `json:"items"`
}

func newFetcher(t *testing.T, clock *test.Clock) (*fetch.Fetcher, *cache.Store) {
	store, err := cache.New(context.Background(), cache.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	f, err := fetch.New(store)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f, store
}

// listBulls returns a page for the skip argument and counts its calls.
func listBulls(calls *atomic.Int32) resource.Func[page] {
	return func(ctx context.Context, args ...any) (page, error) {
		calls.Add(1)
		skip := args[0].(int)
		return page{Skip: skip, Items: []string{fmt.Sprint("bull-", skip)}}, nil
	}
}

func TestKey(t *testing.T) {
	k, err := resource.Key("bulls", 0, 100)
	require.NoError(t, err)
	require.Equal(t, "bulls:[0,100]", k)

	k, err = resource.Key("bulls")
	require.NoError(t, err)
	require.Equal(t, "bulls:[]", k)

	k, err = resource.Key("bulls", map[string]string{"status": "paid"})
	require.NoError(t, err)
	require.Equal(t, `bulls:[{"status":"paid"}]`, k)

	a, _ := resource.Key("bulls", "1")
	b, _ := resource.Key("bulls", 1)
	require.NotEqual(t, a, b)

	_, err = resource.Key("bulls", make(chan int))
	require.Error(t, err)
}

func TestExecuteCaches(t *testing.T) {
	ctx := context.Background()
	f, store := newFetcher(t, test.NewClock())

	var calls atomic.Int32
	r, err := resource.New(f, listBulls(&calls), resource.WithKey[page]("bulls"))
	require.NoError(t, err)

	got, err := r.Execute(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, page{Skip: 0, Items: []string{"bull-0"}}, got)
	require.Equal(t, got, r.Data())

	_, err = r.Execute(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	// Different arguments are a different key.
	got, err = r.Execute(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, 100, got.Skip)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, []string{"bulls:[0]", "bulls:[100]"}, store.Keys())
}

func TestExecuteTTL(t *testing.T) {
	ctx := context.Background()
	clock := test.NewClock()
	f, _ := newFetcher(t, clock)

	var calls atomic.Int32
	r, err := resource.New(f, listBulls(&calls), resource.WithKey[page]("bulls"))
	require.NoError(t, err)

	_, err = r.Execute(ctx, 0)
	require.NoError(t, err)
	clock.Advance(resource.DefaultTTL - time.Millisecond)
	_, err = r.Execute(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	clock.Advance(time.Millisecond)
	_, err = r.Execute(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())

	r2, err := resource.New(f, listBulls(&calls), resource.WithKey[page]("vets"), resource.WithTTL[page](time.Second))
	require.NoError(t, err)
	_, err = r2.Execute(ctx, 0)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = r2.Execute(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int32(4), calls.Load())
}

func TestExecuteWithoutKey(t *testing.T) {
	ctx := context.Background()
	f, store := newFetcher(t, test.NewClock())

	var calls atomic.Int32
	r, err := resource.New(f, listBulls(&calls))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = r.Execute(ctx, 0)
		require.NoError(t, err)
	}
	require.Equal(t, int32(3), calls.Load())
	require.Zero(t, store.Len())
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	f, _ := newFetcher(t, test.NewClock())

	var calls atomic.Int32
	r, err := resource.New(f, listBulls(&calls), resource.WithKey[page]("bulls"))
	require.NoError(t, err)

	_, err = r.Execute(ctx, 200)
	require.NoError(t, err)
	got, err := r.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 200, got.Skip)
	require.Equal(t, int32(2), calls.Load())

	// The refreshed value is cached again.
	_, err = r.Execute(ctx, 200)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestErrorRecorded(t *testing.T) {
	ctx := context.Background()
	f, store := newFetcher(t, test.NewClock())

	initial := page{Items: []string{}}
	fail := true
	fn := func(ctx context.Context, args ...any) (page, error) {
		if fail {
			return page{}, apierror.New(apierror.KindNotFound, 404, nil)
		}
		return page{Skip: 1}, nil
	}
	r, err := resource.New(f, fn, resource.WithKey[page]("clients"), resource.WithInitial(initial))
	require.NoError(t, err)
	require.Equal(t, initial, r.Data())

	_, err = r.Execute(ctx, 1)
	require.ErrorIs(t, err, apierror.ErrNotFound)
	require.ErrorIs(t, r.Err(), apierror.ErrNotFound)
	require.False(t, r.Loading())
	require.Equal(t, initial, r.Data())
	require.Zero(t, store.Len())

	// A later success clears the error.
	fail = false
	_, err = r.Execute(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, r.Err())
	require.Equal(t, page{Skip: 1}, r.Data())
}

func TestLoadingDuringCall(t *testing.T) {
	ctx := context.Background()
	f, _ := newFetcher(t, test.NewClock())

	var r *resource.Resource[page]
	var seen bool
	fn := func(ctx context.Context, args ...any) (page, error) {
		seen = r.Loading()
		return page{}, errors.New("boom")
	}
	r, err := resource.New(f, fn, resource.WithKey[page]("payments"))
	require.NoError(t, err)
	require.False(t, r.Loading())

	_, err = r.Execute(ctx)
	require.Error(t, err)
	require.True(t, seen)
	require.False(t, r.Loading())

	// Local loading is independent of the fetcher's global flag.
	seen = false
	_, err = r.Refresh(ctx)
	require.Error(t, err)
	require.True(t, seen)
	require.False(t, r.Loading())
	require.False(t, f.Loading())
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	f, store := newFetcher(t, test.NewClock())

	var calls atomic.Int32
	initial := page{Skip: -1}
	r, err := resource.New(f, listBulls(&calls), resource.WithKey[page]("bulls"), resource.WithInitial(initial))
	require.NoError(t, err)

	_, err = r.Execute(ctx, 0)
	require.NoError(t, err)
	r.Reset()
	require.Equal(t, initial, r.Data())
	require.NoError(t, r.Err())
	require.False(t, r.Loading())

	// The shared cache still has the result.
	require.Equal(t, 1, store.Len())
	_, err = r.Execute(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestOptions(t *testing.T) {
	_, err := resource.New[page](nil, nil, resource.WithTTL[page](0))
	require.ErrorContains(t, err, "option 0 failed")
}

func TestResetDuringCall(t *testing.T) {
	ctx := context.Background()
	f, _ := newFetcher(t, test.NewClock())

	entered := make(chan int, 2)
	gates := []chan struct{}{make(chan struct{}), make(chan struct{})}
	r, err := resource.New(f, func(ctx context.Context, args ...any) (page, error) {
		n := args[0].(int)
		entered <- n
		<-gates[n]
		return page{Skip: n}, nil
	})
	require.NoError(t, err)

	done := make([]chan struct{}, 2)
	start := func(n int) {
		done[n] = make(chan struct{})
		go func() {
			defer close(done[n])
			_, err := r.Execute(ctx, n)
			require.NoError(t, err)
		}()
		require.Equal(t, n, <-entered)
	}

	start(0)
	r.Reset()
	require.False(t, r.Loading())

	start(1)
	require.True(t, r.Loading())

	// The call from before the Reset finishing does not end the new one.
	close(gates[0])
	<-done[0]
	require.True(t, r.Loading())

	close(gates[1])
	<-done[1]
	require.False(t, r.Loading())
}
