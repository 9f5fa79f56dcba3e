package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bovinelab/go-apicache/apierror"
	"github.com/hashicorp/go-retryablehttp"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("apicache/transport")

const (
	// DefaultTimeoutMillis is the request timeout used when none is configured.
	DefaultTimeoutMillis = 30000
	// DefaultRetryAttempts is the retry budget used when none is configured.
	DefaultRetryAttempts = 3
)

// Config holds the options recognized by the transport.
type Config struct {
	// BaseURL is the root of the remote API. Request paths are joined to it.
	BaseURL string `toml:"base_url"`
	// TimeoutMillis is the per-attempt request timeout.
	TimeoutMillis int `toml:"timeout_ms"`
	// DefaultRetryAttempts is the number of retries for requests that get no
	// response. Zero disables retries.
	DefaultRetryAttempts int `toml:"retry_attempts"`
}

// DefaultConfig returns a Config with the default timeout and retry budget.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:              baseURL,
		TimeoutMillis:        DefaultTimeoutMillis,
		DefaultRetryAttempts: DefaultRetryAttempts,
	}
}

// Credentials supplies the bearer token and is purged when the server
// rejects it.
type Credentials interface {
	Token(ctx context.Context) string
	Purge(ctx context.Context) error
}

// Request describes one API call.
type Request struct {
	Method string
	// Path is joined to the base URL. It may carry a query string.
	Path  string
	Query url.Values
	// Body, if not nil, is sent JSON encoded.
	Body   any
	Header http.Header
	// Retry overrides the configured retry budget when not nil. Use
	// NoRetry() to opt out of retries.
	Retry *int
}

// Retries returns a retry budget for Request.Retry.
func Retries(n int) *int {
	return &n
}

// NoRetry returns a zero retry budget for Request.Retry.
func NoRetry() *int {
	return Retries(0)
}

// Response is a successful API response with the body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client is an http client for the remote API that adds authentication,
// retries requests that get no response, and translates failures into
// apierror values.
type Client struct {
	c             *http.Client
	baseURL       *url.URL
	retryMax      int
	backoffUnit   time.Duration
	credentials   Credentials
	onAuthExpired func()
	header        http.Header
}

// New creates a new API client.
func New(cfg Config, options ...Option) (*Client, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url must have http or https scheme: %s", cfg.BaseURL)
	}
	if cfg.DefaultRetryAttempts < 0 {
		return nil, fmt.Errorf("retry attempts cannot be negative: %d", cfg.DefaultRetryAttempts)
	}

	timeout := time.Duration(cfg.TimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeoutMillis * time.Millisecond
	}
	var httpClient http.Client
	if opts.httpClient != nil {
		httpClient = *opts.httpClient
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = timeout
	}

	return &Client{
		c:             &httpClient,
		baseURL:       u,
		retryMax:      cfg.DefaultRetryAttempts,
		backoffUnit:   opts.backoffUnit,
		credentials:   opts.credentials,
		onAuthExpired: opts.onAuthExpired,
		header:        opts.header,
	}, nil
}

// Backoff returns the wait before retry number attempt, counting from 1:
// unit * 2^attempt.
func Backoff(unit time.Duration, attempt int) time.Duration {
	return unit << uint(attempt)
}

// Send performs the request. Requests that get no response are retried with
// exponential backoff until the retry budget is used up. Requests that get a
// response are never retried. Any failure is returned as an *apierror.Error.
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	u, err := c.requestURL(req)
	if err != nil {
		return nil, apierror.New(apierror.KindUnknown, 0, err)
	}

	var body []byte
	if req.Body != nil {
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, apierror.New(apierror.KindUnknown, 0, fmt.Errorf("cannot encode request body: %w", err))
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	// Passing []byte lets the retry loop rewind the body for each attempt.
	var rawBody any
	if body != nil {
		rawBody = body
	}
	rreq, err := retryablehttp.NewRequestWithContext(ctx, method, u, rawBody)
	if err != nil {
		return nil, apierror.New(apierror.KindUnknown, 0, err)
	}
	for key, vals := range c.header {
		for _, val := range vals {
			rreq.Header.Add(key, val)
		}
	}
	for key, vals := range req.Header {
		for _, val := range vals {
			rreq.Header.Add(key, val)
		}
	}
	rreq.Header.Set("Accept", "application/json")
	if body != nil {
		rreq.Header.Set("Content-Type", "application/json")
	}
	if c.credentials != nil {
		if token := c.credentials.Token(ctx); token != "" {
			rreq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	retryMax := c.retryMax
	if req.Retry != nil {
		retryMax = max(*req.Retry, 0)
	}

	resp, err := c.retryClient(retryMax).Do(rreq)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		// No response after all attempts.
		log.Warnw("Request failed without response", "method", method, "url", u, "err", err)
		return nil, apierror.New(apierror.KindNetwork, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierror.New(apierror.KindNetwork, 0, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.statusError(ctx, resp.StatusCode, data)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// GetJSON performs a GET request and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, v any) error {
	return c.doJSON(ctx, &Request{Method: http.MethodGet, Path: path, Query: query}, v)
}

// PostJSON sends body as JSON with a POST request and decodes the response
// into v. If v is nil the response body is discarded.
func (c *Client) PostJSON(ctx context.Context, path string, body, v any) error {
	return c.doJSON(ctx, &Request{Method: http.MethodPost, Path: path, Body: body}, v)
}

// PutJSON sends body as JSON with a PUT request and decodes the response
// into v. If v is nil the response body is discarded.
func (c *Client) PutJSON(ctx context.Context, path string, body, v any) error {
	return c.doJSON(ctx, &Request{Method: http.MethodPut, Path: path, Body: body}, v)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.doJSON(ctx, &Request{Method: http.MethodDelete, Path: path}, nil)
}

func (c *Client) doJSON(ctx context.Context, req *Request, v any) error {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if v == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err = json.Unmarshal(resp.Body, v); err != nil {
		return apierror.New(apierror.KindUnknown, resp.Status, fmt.Errorf("cannot decode response: %w", err))
	}
	return nil
}

func (c *Client) requestURL(req *Request) (string, error) {
	ref, err := url.Parse(req.Path)
	if err != nil {
		return "", err
	}
	u := c.baseURL.JoinPath(ref.Path)
	q := u.Query()
	for key, vals := range ref.Query() {
		q[key] = append(q[key], vals...)
	}
	for key, vals := range req.Query {
		q[key] = append(q[key], vals...)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// retryClient creates the retry loop for one request with the given budget.
func (c *Client) retryClient(retryMax int) *retryablehttp.Client {
	unit := c.backoffUnit
	return &retryablehttp.Client{
		HTTPClient: c.c,
		Logger:     leveledLogger{},
		RetryMax:   retryMax,
		CheckRetry: checkRetry,
		Backoff: func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
			return Backoff(unit, attemptNum+1)
		},
		RequestLogHook: func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt != 0 {
				log.Infow("Retrying request", "method", req.Method, "url", req.URL.Redacted(), "attempt", attempt, "max", retryMax)
			}
		},
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
}

// checkRetry retries only requests that received no response at all. A
// response of any status goes straight to classification.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil && resp == nil, nil
}

func (c *Client) statusError(ctx context.Context, status int, body []byte) error {
	apiErr := apierror.FromStatus(status, body)
	if apiErr.Kind() == apierror.KindAuthExpired {
		c.authExpired(ctx)
	}
	log.Debugw("Request failed", "status", status, "kind", apiErr.Kind())
	return apiErr
}

// authExpired purges the stored credentials and notifies the application.
// A panic in the notification is logged and not propagated.
func (c *Client) authExpired(ctx context.Context) {
	if c.credentials != nil {
		if err := c.credentials.Purge(ctx); err != nil {
			log.Errorw("Cannot purge credentials", "err", err)
		}
	}
	if c.onAuthExpired == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Auth expired handler panicked", "panic", r)
		}
	}()
	c.onAuthExpired()
}

// leveledLogger sends retryablehttp log output to the package logger.
// Failed attempts are expected while retrying, so they are logged at debug
// level; Send logs the final failure.
type leveledLogger struct{}

func (leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	log.Debugw(msg, keysAndValues...)
}

func (leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Infow(msg, keysAndValues...)
}

func (leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	log.Debugw(msg, keysAndValues...)
}

func (leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	log.Warnw(msg, keysAndValues...)
}
