package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "chatrelay/0.1"

	// DefaultTimeout bounds a regular chat call.
	DefaultTimeout = 30 * time.Second
	// DefaultStreamTimeout bounds a streaming chat call end to end.
	DefaultStreamTimeout = 300 * time.Second

	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second

	maxResponseBytes = 10 << 20
)

// ErrNotJSON indicates the vendor answered with a body that is not JSON.
var ErrNotJSON = errors.New("response body is not valid JSON")

// Response is a fully read vendor response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StreamResponse is a vendor response whose body is consumed incrementally.
// Callers must close Body.
type StreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client is the outbound HTTP collaborator used by provider adapters.
type Client interface {
	PostJSON(ctx context.Context, endpoint string, payload any, headers map[string]string) (*Response, error)
	PostStream(ctx context.Context, endpoint string, payload any, headers map[string]string) (*StreamResponse, error)
}

// Options configures the HTTP client.
type Options struct {
	Timeout       time.Duration
	StreamTimeout time.Duration
}

// HTTPClient implements Client on top of net/http.
type HTTPClient struct {
	client       *http.Client
	streamClient *http.Client
}

// New constructs an HTTPClient with tuned transports for regular and
// streaming calls.
func New(opts Options) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = DefaultStreamTimeout
	}

	transport := newTransport()
	return &HTTPClient{
		client:       &http.Client{Timeout: opts.Timeout, Transport: transport},
		streamClient: &http.Client{Timeout: opts.StreamTimeout, Transport: transport},
	}
}

// NewWithHTTPClient wraps an existing *http.Client for both call styles.
func NewWithHTTPClient(client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{client: client, streamClient: client}
}

// PostJSON sends payload as JSON and reads the whole response. A body that is
// not valid JSON yields an error wrapping ErrNotJSON together with the
// response, so callers can still inspect the status.
func (c *HTTPClient) PostJSON(ctx context.Context, endpoint string, payload any, headers map[string]string) (*Response, error) {
	req, err := newRequest(ctx, endpoint, payload, headers, contentTypeJSON)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", redact(req), unwrapURLError(err))
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}
	if !json.Valid(body) {
		return resp, fmt.Errorf("status %d: %w", httpResp.StatusCode, ErrNotJSON)
	}
	return resp, nil
}

// PostStream sends payload as JSON and returns the open response body.
func (c *HTTPClient) PostStream(ctx context.Context, endpoint string, payload any, headers map[string]string) (*StreamResponse, error) {
	req, err := newRequest(ctx, endpoint, payload, headers, "text/event-stream")
	if err != nil {
		return nil, err
	}

	httpResp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post stream %s: %w", redact(req), unwrapURLError(err))
	}

	return &StreamResponse{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       httpResp.Body,
	}, nil
}

func newRequest(ctx context.Context, endpoint string, payload any, headers map[string]string, accept string) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// redact drops the query string, which carries the API key for some vendors.
func redact(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	return u.String()
}

// unwrapURLError drops the *url.Error wrapper, whose message repeats the full
// request URL including the query string.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
