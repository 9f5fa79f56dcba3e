package cli_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bovinelab/go-apicache/config"
	"github.com/bovinelab/go-apicache/internal/cli"
	"github.com/stretchr/testify/require"
)

type result struct {
	out    string
	errOut string
	err    error
}

func run(args ...string) result {
	var out, errOut bytes.Buffer
	root := cli.New(&out, &errOut).RootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return result{out: out.String(), errOut: errOut.String(), err: err}
}

// setup points the CLI at handler and at a fresh cache directory.
func setup(t *testing.T, handler http.HandlerFunc) string {
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.EnvBaseURL, ts.URL)
	t.Setenv(config.EnvCacheDir, dir)
	t.Setenv(config.EnvRedisURL, "")
	t.Setenv(config.EnvTimeoutMillis, "")
	t.Setenv(config.EnvRetryAttempts, "0")
	return dir
}

func TestGetCachesAcrossRuns(t *testing.T) {
	var served atomic.Int32
	setup(t, func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		require.Equal(t, "/bulls/", r.URL.Path)
		require.Equal(t, "0", r.URL.Query().Get("skip"))
		w.Write([]byte(`[{"id":1,"name":"Toro"}]`))
	})

	res := run("get", "/bulls/", "-q", "skip=0")
	require.NoError(t, res.err)
	require.Contains(t, res.out, `"name": "Toro"`)
	require.Equal(t, int32(1), served.Load())

	// The snapshot written at exit serves the next run.
	res = run("get", "/bulls/", "-q", "skip=0")
	require.NoError(t, res.err)
	require.Contains(t, res.out, `"name": "Toro"`)
	require.Equal(t, int32(1), served.Load())

	res = run("get", "/bulls/", "-q", "skip=0", "--refresh")
	require.NoError(t, res.err)
	require.Equal(t, int32(2), served.Load())

	res = run("get", "/bulls/", "-q", "skip=0", "--no-cache")
	require.NoError(t, res.err)
	require.Equal(t, int32(3), served.Load())
}

func TestCacheListAndClear(t *testing.T) {
	setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total":3}`))
	})

	require.NoError(t, run("get", "/reports/monthly").err)
	require.NoError(t, run("get", "/vets/").err)

	res := run("cache", "list")
	require.NoError(t, res.err)
	require.Contains(t, res.out, "KEY")
	require.Contains(t, res.out, "/reports/monthly:[{}]")
	require.Contains(t, res.out, "/vets/:[{}]")

	res = run("cache", "clear", "/vets/:[{}]")
	require.NoError(t, res.err)
	require.Contains(t, res.errOut, "Cleared 1 cached entries")

	res = run("cache", "list")
	require.NoError(t, res.err)
	require.NotContains(t, res.out, "/vets/")

	res = run("cache", "clear")
	require.NoError(t, res.err)
	require.Contains(t, res.errOut, "Cleared 1 cached entries")

	res = run("cache", "list")
	require.NoError(t, res.err)
	require.Equal(t, 1, strings.Count(res.out, "\n"))
}

func TestCachePath(t *testing.T) {
	dir := setup(t, func(w http.ResponseWriter, r *http.Request) {})

	res := run("cache", "path")
	require.NoError(t, res.err)
	require.Equal(t, dir+"\n", res.out)
}

func TestLoginLogout(t *testing.T) {
	var auth atomic.Value
	setup(t, func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.Write([]byte(`[]`))
	})

	require.NoError(t, run("login", "tok-123").err)
	require.NoError(t, run("get", "/clients/").err)
	require.Equal(t, "Bearer tok-123", auth.Load())

	res := run("logout")
	require.NoError(t, res.err)
	require.Contains(t, res.errOut, "Logged out")

	require.NoError(t, run("get", "/payments/").err)
	require.Equal(t, "", auth.Load())

	require.Error(t, run("login", " ").err)
}

func TestAuthExpired(t *testing.T) {
	var auth atomic.Value
	setup(t, func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	})

	require.NoError(t, run("login", "stale").err)

	res := run("get", "/invoices/")
	require.EqualError(t, res.err, "session expired, please log in again")
	require.Contains(t, res.errOut, "Session expired")
	require.Equal(t, "Bearer stale", auth.Load())

	// The token was purged.
	res = run("get", "/invoices/")
	require.Error(t, res.err)
	require.Equal(t, "", auth.Load())
}

func TestGetErrors(t *testing.T) {
	setup(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte(`<html></html>`))
		}
	})

	require.EqualError(t, run("get", "/missing").err, "resource not found")
	require.EqualError(t, run("get", "/page").err, "an unexpected error occurred")
	require.ErrorContains(t, run("get", "/x", "-q", "novalue").err, "key=value")
	require.Error(t, run("get").err)
}

func TestConfigCommand(t *testing.T) {
	setup(t, func(w http.ResponseWriter, r *http.Request) {})

	res := run("config")
	require.NoError(t, res.err)
	require.Contains(t, res.out, "base_url")
	require.Contains(t, res.out, "http://127.0.0.1")

	require.ErrorContains(t, run("config", "--log-level", "loud").err, "invalid log level")
}

func TestBadRedisURL(t *testing.T) {
	setup(t, func(w http.ResponseWriter, r *http.Request) {})
	t.Setenv(config.EnvRedisURL, "ftp://nowhere")

	require.ErrorContains(t, run("cache", "path").err, "invalid redis url")
}
