// Package client is the HTTP implementation of the workspace remote store
// and context directory.
package client

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
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fruitsalade/fruitsalade/workspace/internal/logging"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/protocol"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/retry"
)

// Client talks to the workspace backend. Reads are retried according to
// RetryConfig; mutations are sent exactly once.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	authToken string

	contexts singleflight.Group
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	// Timeout bounds the wait for response headers. Request and response
	// bodies stream without a deadline so large transfers are not cut off.
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string

	// Transport overrides the base round tripper; it is always wrapped by
	// the request-logging transport.
	Transport http.RoundTripper
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	base := cfg.Transport
	if base == nil {
		base = &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: cfg.Timeout,
		}
	} else if t, ok := base.(*http.Transport); ok {
		t = t.Clone()
		t.ResponseHeaderTimeout = cfg.Timeout
		base = t
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Transport: logging.NewTransport(base)},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

// SetAuthToken sets the bearer token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// StatusError is returned when the backend answers with a non-success status.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
	Details string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, msg)
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// AsStatus checks if an error is a StatusError and returns it.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	c.applyAuth(req)
	return req, nil
}

// send executes req. Any status outside 2xx is turned into a *StatusError
// and the body is closed.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	se := &StatusError{Method: req.Method, Path: req.URL.Path, Code: resp.StatusCode}
	var errResp protocol.ErrorResponse
	if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp) == nil {
		se.Message = errResp.Error
		se.Details = errResp.Details
	}
	return nil, se
}

// classify marks transport failures and temporary statuses as retryable.
func classify(err error) error {
	if se, ok := AsStatus(err); ok {
		if se.Temporary() {
			return retry.Retryable(err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return retry.Retryable(err)
}

// read performs an idempotent request with retries. newBody, when set, is
// called for every attempt.
func (c *Client) read(ctx context.Context, method, path string, query url.Values, newBody func() io.Reader) (*http.Response, error) {
	cfg := c.retryConfig
	cfg.OnRetry = func(attempt int, err error) {
		logging.Debug("retrying backend read",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return retry.DoWithResult(ctx, cfg, func() (*http.Response, error) {
		var body io.Reader
		if newBody != nil {
			body = newBody()
		}
		req, err := c.newRequest(ctx, method, path, query, body)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.send(req)
		if err != nil {
			return nil, classify(err)
		}
		return resp, nil
	})
}

// mutate performs a request exactly once.
func (c *Client) mutate(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, size int64) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if size > 0 {
		req.ContentLength = size
	}
	return c.send(req)
}

func (c *Client) mutateJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	resp, err := c.mutate(ctx, method, path, nil, contentType, body, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", resp.Request.URL.Path, err)
	}
	return nil
}

func jsonBody(v any) (func() io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return func() io.Reader { return bytes.NewReader(data) }, nil
}

func escape(id string) string {
	return url.PathEscape(id)
}
