// Package studio implements the resilient HTTP client for the Web2Labs
// studio API: auth injection, retry with backoff, per-attempt timeouts, and
// response envelope unwrapping.
package studio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/web2labs/studio-gateway/internal/buildinfo"
	"github.com/web2labs/studio-gateway/internal/json"
	log "github.com/web2labs/studio-gateway/internal/logging"
)

const (
	defaultEndpoint   = "https://web2labs.com"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3

	backoffCap        = 8 * time.Second
	retryAfterDefault = 10 * time.Second
	retryAfterMinWait = time.Second

	apiPrefix       = "/api/"
	versionedPrefix = "/api/v1"
)

// Options configures a Client.
type Options struct {
	// Endpoint is the base URL of the studio service.
	Endpoint string
	// APIKey and BearerToken are the primary credentials; exactly one is
	// used per request. BasicAuth optionally combines with the API key.
	APIKey      string
	BearerToken string
	BasicAuth   string
	// MaxRetries bounds retries per logical request (total attempts =
	// MaxRetries+1). Negative selects the default.
	MaxRetries int
	// UserAgent overrides the default identifying string.
	UserAgent string
	// HTTPClient overrides the underlying transport, mainly for tests.
	HTTPClient *http.Client
}

// RequestOptions tunes a single logical request.
type RequestOptions struct {
	// Headers are merged over the computed defaults. A caller-supplied
	// User-Agent wins over the client default.
	Headers map[string]string
	// Body is the request payload for JSON-style calls.
	Body []byte
	// GetBody supplies a fresh body reader per attempt (multipart uploads).
	// Takes precedence over Body.
	GetBody func() (io.ReadCloser, error)
	// Timeout bounds each individual attempt. Zero selects the 30s default.
	Timeout time.Duration
}

// Client performs requests against the studio API with authentication,
// retry, and response normalization.
type Client struct {
	baseURL    string
	baseHost   string
	userAgent  string
	maxRetries int
	httpClient *http.Client

	mu   sync.RWMutex
	auth AuthContext
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	host := ""
	if parsed, err := url.Parse(endpoint); err == nil {
		host = parsed.Host
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "web2labs-studio-gateway/" + buildinfo.Version
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    endpoint,
		baseHost:   host,
		userAgent:  userAgent,
		maxRetries: maxRetries,
		httpClient: httpClient,
		auth:       NewAuthContext(opts.APIKey, opts.BearerToken, opts.BasicAuth),
	}
}

// BaseURL returns the configured endpoint without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Auth returns the current credential set.
func (c *Client) Auth() AuthContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

// SetAPIKey rotates the API key credential.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = c.auth.WithAPIKey(key)
}

// SetBearerToken rotates the bearer credential.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = c.auth.WithBearerToken(token)
}

// resolveURL maps a path onto the remote API. Absolute URLs pass through
// untouched (server-provided download links). Paths already under the
// unversioned /api/ prefix join the base URL directly; everything else is
// namespaced under the versioned root.
func (c *Client) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.HasPrefix(path, apiPrefix) {
		return c.baseURL + path
	}
	return c.baseURL + versionedPrefix + path
}

// backoffDelay computes the exponential backoff for attempt, capped at 8s.
func backoffDelay(attempt int) time.Duration {
	if attempt > 3 {
		return backoffCap
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > backoffCap {
		return backoffCap
	}
	return d
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Request performs one logical request and returns the unwrapped payload.
// Successful envelopes with a literal data property unwrap to that value;
// otherwise the parsed body is returned verbatim. An empty body yields the
// JSON literal null and non-JSON bodies pass through as raw text.
func (c *Client) Request(ctx context.Context, method, path string, opts *RequestOptions) (json.RawMessage, error) {
	resp, err := c.do(ctx, method, path, opts, false)
	if err != nil {
		return nil, err
	}
	return resp.payload, nil
}

// RequestJSON performs a request and unmarshals the unwrapped payload into
// out when out is non-nil.
func (c *Client) RequestJSON(ctx context.Context, method, path string, opts *RequestOptions, out any) error {
	payload, err := c.Request(ctx, method, path, opts)
	if err != nil {
		return err
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if !json.Valid(payload) {
		return NewAPIError("Unexpected non-JSON response", CodeRequestFailed, http.StatusBadGateway)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response for %s %s: %w", method, path, err)
	}
	return nil
}

// Stream performs a request in raw mode: the live response is handed to the
// caller without JSON parsing or envelope unwrapping (streaming downloads).
// Closing the body releases the per-attempt timer.
func (c *Client) Stream(ctx context.Context, method, path string, opts *RequestOptions) (*http.Response, error) {
	resp, err := c.do(ctx, method, path, opts, true)
	if err != nil {
		return nil, err
	}
	return resp.raw, nil
}

type result struct {
	payload json.RawMessage
	raw     *http.Response
}

func (c *Client) do(ctx context.Context, method, path string, opts *RequestOptions, raw bool) (*result, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	target := c.resolveURL(path)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	requestID := uuid.NewString()

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, retry, err := c.attempt(ctx, method, target, opts, timeout, raw)
		if err == nil {
			return res, nil
		}
		if !retry || attempt >= c.maxRetries {
			var ra *retryAfterError
			if errors.As(err, &ra) {
				return nil, ra.err
			}
			return nil, err
		}

		delay := backoffDelay(attempt)
		if wait, ok := retryAfterWait(err); ok {
			delay = wait
		}
		log.WithFields(log.Fields{
			"request_id": requestID,
			"attempt":    attempt + 1,
			"delay":      delay,
			"error":      err,
		}).Debug("retrying studio request")
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}

	return nil, NewAPIError("Request retries exhausted", CodeRetryExhausted, http.StatusServiceUnavailable)
}

// retryAfterError marks a 429 response whose retry-after wait overrides the
// exponential backoff.
type retryAfterError struct {
	err  error
	wait time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

func retryAfterWait(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.wait, true
	}
	return 0, false
}

// attempt performs one network attempt. The bool reports whether the failure
// is retryable.
func (c *Client) attempt(ctx context.Context, method, target string, opts *RequestOptions, timeout time.Duration, raw bool) (*result, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	finished := false
	defer func() {
		if !finished {
			cancel()
		}
	}()

	var body io.Reader
	if opts.GetBody != nil {
		rc, err := opts.GetBody()
		if err != nil {
			return nil, false, fmt.Errorf("prepare request body: %w", err)
		}
		body = rc
	} else if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, target, body)
	if err != nil {
		return nil, false, NewAPIError(err.Error(), CodeRequestFailed, http.StatusBadRequest)
	}

	if err := c.setHeaders(req, opts.Headers); err != nil {
		return nil, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, c.classifyTransportError(ctx, attemptCtx, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
		return nil, true, &retryAfterError{
			err:  remoteError(resp.StatusCode, payload),
			wait: wait,
		}
	}

	if raw {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			drainBody(resp)
			return nil, false, NewAPIError(
				fmt.Sprintf("Request failed with status %d", resp.StatusCode),
				CodeRequestFailed,
				resp.StatusCode,
			)
		}
		// Hand the live response to the caller; the timer is released when
		// the body is closed.
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		finished = true
		return &result{raw: resp}, false, nil
	}

	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, true, c.classifyTransportError(ctx, attemptCtx, readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := remoteError(resp.StatusCode, payload)
		return nil, resp.StatusCode >= http.StatusInternalServerError, apiErr
	}

	return unwrapEnvelope(resp.StatusCode, payload)
}

func (c *Client) setHeaders(req *http.Request, extra map[string]string) error {
	// Credentials only attach when the target host is the configured base
	// host, so server-provided third-party URLs (pre-signed downloads) never
	// receive them.
	if req.URL.Host == c.baseHost {
		if err := c.Auth().apply(req.Header); err != nil {
			return err
		}
	}

	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	return nil
}

func (c *Client) classifyTransportError(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var netErr net.Error
	if errors.Is(attempt.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return NewAPIError("Request timed out", CodeTimeout, http.StatusRequestTimeout)
	}
	return NewAPIError(err.Error(), CodeNetworkError, http.StatusServiceUnavailable)
}

// remoteError maps a non-2xx body onto an APIError, preferring the remote
// error code and message when present.
func remoteError(status int, payload []byte) *APIError {
	code := CodeRequestFailed
	message := fmt.Sprintf("Request failed with status %d", status)
	var details any

	if gjson.ValidBytes(payload) {
		parsed := gjson.ParseBytes(payload)
		if v := parsed.Get("error.code"); v.Exists() && v.String() != "" {
			code = v.String()
		}
		if v := parsed.Get("error.message"); v.Exists() && v.String() != "" {
			message = v.String()
		}
		if v := parsed.Get("error.details"); v.Exists() {
			details = v.Value()
		}
	}
	return NewAPIErrorWithDetails(message, code, status, details)
}

// unwrapEnvelope normalizes a 2xx body. An envelope with success=false fails
// with the embedded error; a literal data property unwraps to its value;
// everything else passes through.
func unwrapEnvelope(status int, payload []byte) (*result, bool, error) {
	if len(payload) == 0 {
		return &result{payload: json.RawMessage("null")}, false, nil
	}
	if !gjson.ValidBytes(payload) {
		// Non-JSON bodies pass through as raw text.
		return &result{payload: json.RawMessage(payload)}, false, nil
	}

	parsed := gjson.ParseBytes(payload)
	if parsed.IsObject() {
		if success := parsed.Get("success"); success.Exists() && success.Type == gjson.False {
			code := CodeRequestFailed
			message := "Request failed"
			var details any
			if v := parsed.Get("error.code"); v.Exists() && v.String() != "" {
				code = v.String()
			}
			if v := parsed.Get("error.message"); v.Exists() && v.String() != "" {
				message = v.String()
			}
			if v := parsed.Get("error.details"); v.Exists() {
				details = v.Value()
			}
			return nil, false, NewAPIErrorWithDetails(message, code, status, details)
		}
		if data := parsed.Get("data"); data.Exists() {
			return &result{payload: json.RawMessage(data.Raw)}, false, nil
		}
	}

	return &result{payload: json.RawMessage(payload)}, false, nil
}

func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(header), 64)
	if err != nil || seconds <= 0 {
		seconds = retryAfterDefault.Seconds()
	}
	wait := time.Duration(seconds * float64(time.Second))
	if wait < retryAfterMinWait {
		wait = retryAfterMinWait
	}
	return wait
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

// cancelOnClose ties a per-attempt timer to the response body lifetime.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(c.cancel)
	return err
}
