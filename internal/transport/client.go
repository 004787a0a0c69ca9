// Package transport issues the HTTP requests of the reporting chain and
// classifies their failures. A request fails when the network call fails or
// when the response status is outside the 2xx range; both cases surface as
// errors, never as silently ignored responses.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// Failure classes. Every error returned by Client wraps exactly one of them.
var (
	ErrTransport = errors.New("transport failure")
	ErrProtocol  = errors.New("protocol failure")
)

// maxErrorBody bounds the part of a failed response body kept in StatusError.
const maxErrorBody = 256

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dispatcher runs callbacks on the execution context that owns presentation state.
// Post returns false when the callback was discarded.
type Dispatcher interface {
	Post(fn func()) bool
}

// Request describes a single outgoing call.
type Request struct {
	Method string      // HTTP method, GET when empty
	URL    string      // Absolute URL, may already carry a query
	Query  url.Values  // Query parameters merged into URL
	Header http.Header // Request headers
	Body   []byte      // Optional request body
}

// StatusError is returned when the remote side answers outside the 2xx range.
// Body is kept for callers that inspect it; it is not part of the error text,
// so logging the error never prints the remote response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Unwrap classifies status errors as protocol failures.
func (e *StatusError) Unwrap() error { return ErrProtocol }

// Client executes requests with rate limiting and failure classification.
type Client struct {
	client  HTTPClient    // HTTP client for making requests
	limiter *rate.Limiter // Rate limiter for outgoing requests
	log     *slog.Logger  // Logger for logging operations
}

// New creates a Client backed by net/http with the given per-request timeout
// and rate limit in requests per second. A non-positive rate disables limiting.
func New(timeout time.Duration, rateLimit int, log *slog.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateLimit), rateLimit)
	}

	return &Client{
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		log:     log,
	}
}

// NewWithClient allows injecting a custom HTTP client and limiter.
func NewWithClient(client HTTPClient, limiter *rate.Limiter, log *slog.Logger) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return &Client{client: client, limiter: limiter, log: log}
}

// Send executes req and returns the response body of a 2xx response.
// Response bodies and headers are never logged since they may carry secrets.
// A failed response keeps a truncated body in StatusError.Body only.
func (c *Client) Send(ctx context.Context, req Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %w", ErrTransport, err)
	}

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	host := httpReq.URL.Host
	c.log.DebugContext(ctx, "Sending request", "method", httpReq.Method, "host", host, "path", httpReq.URL.Path)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to execute request: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", ErrTransport, err)
	}

	c.log.DebugContext(ctx, "Request completed",
		"method", httpReq.Method,
		"host", host,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(strings.TrimSpace(string(body)))}
	}

	return body, nil
}

// SendAsync runs Send on its own goroutine and hands the result to exactly one
// of the callbacks through dispatcher. If the dispatcher has been torn down the
// result is dropped; the network call itself is not aborted.
func (c *Client) SendAsync(
	ctx context.Context,
	dispatcher Dispatcher,
	req Request,
	onSuccess func(body []byte),
	onFailure func(err error),
) {
	go func() {
		body, err := c.Send(ctx, req)

		var posted bool
		if err != nil {
			posted = dispatcher.Post(func() { onFailure(err) })
		} else {
			posted = dispatcher.Post(func() { onSuccess(body) })
		}

		if !posted {
			c.log.DebugContext(ctx, "Dropped completion after teardown", "error", err)
		}
	}()
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	reqURL, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse URL: %w", ErrTransport, err)
	}

	if len(req.Query) > 0 {
		query := reqURL.Query()
		for key, values := range req.Query {
			for _, v := range values {
				query.Add(key, v)
			}
		}
		reqURL.RawQuery = query.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrTransport, err)
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	return httpReq, nil
}

// truncate cuts s to at most maxErrorBody bytes without splitting a rune.
func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}

	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
