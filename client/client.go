package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"tradegate/pkg/constraints"
	"tradegate/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const defaultRefreshTimeout = 10 * time.Second

// Observer receives session lifecycle events, typically to export metrics.
type Observer interface {
	ObserveRefresh(ok bool)
	ObserveRetry(status int)
}

type nopObserver struct{}

func (nopObserver) ObserveRefresh(bool) {}
func (nopObserver) ObserveRetry(int)    {}

type Config struct {
	BaseURL string
	// Timeout bounds every HTTP call. Zero means no timeout.
	Timeout        time.Duration
	RefreshTimeout time.Duration
}

type RequestOptions struct {
	Method string
	Body   []byte
	Header http.Header
}

// Client talks to the trading backend with the session cookies attached and
// transparently renews an expired access token once per failing call.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	refreshTimeout time.Duration
	observer       Observer
	optErr         error

	refresh refreshGroup
}

type Option func(*Client)

// WithHTTPClient sends requests through a copy of hc, so hc itself is never
// modified. A copy without a jar gets the default one.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc == nil {
			c.optErr = errors.New("client: nil http client")
			return
		}
		cp := *hc
		c.httpClient = &cp
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("client: base url is required")
	}
	refreshTimeout := cfg.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}

	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		refreshTimeout: refreshTimeout,
		observer:       nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.optErr != nil {
		return nil, c.optErr
	}

	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("client: create cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Jar exposes the cookie jar holding the session credentials.
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// Do sends a credentialed request to endpoint. A 401 on a non-auth endpoint
// triggers one shared refresh; on success the request is replayed exactly
// once and the replay's response is returned as is. When the refresh fails
// the original 401 is returned unread.
func (c *Client) Do(ctx context.Context, endpoint string, opts *RequestOptions) (*http.Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}

	resp, err := c.send(ctx, endpoint, opts)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || isAuthEndpoint(endpoint) {
		return resp, nil
	}

	if !c.refresh.do(ctx, func() bool { return c.refreshSession(ctx) }) {
		return resp, nil
	}

	drain(resp)
	retry, err := c.send(ctx, endpoint, opts)
	if err != nil {
		return nil, err
	}
	c.observer.ObserveRetry(retry.StatusCode)
	if retry.StatusCode == http.StatusUnauthorized {
		logger.Warn("request still unauthorized after token refresh", zap.String("endpoint", endpoint))
	}
	return retry, nil
}

func (c *Client) send(ctx context.Context, endpoint string, opts *RequestOptions) (*http.Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vals := range opts.Header {
		req.Header.Del(k)
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("backend request failed", zap.String("method", method), zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, endpoint, err)
	}
	return resp, nil
}

// refreshSession never returns an error: any failure, including a network
// failure, just means the session could not be renewed.
func (c *Client) refreshSession(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+constraints.RefreshEndpoint, nil)
	if err != nil {
		logger.Error("failed to build refresh request", zap.Error(err))
		c.observer.ObserveRefresh(false)
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("token refresh failed", zap.Error(err))
		c.observer.ObserveRefresh(false)
		return false
	}
	drain(resp)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		logger.Info("token refresh rejected", zap.Int("status", resp.StatusCode))
	}
	c.observer.ObserveRefresh(ok)
	return ok
}

func isAuthEndpoint(endpoint string) bool {
	for _, marker := range constraints.AuthEndpointMarkers {
		if strings.Contains(endpoint, marker) {
			return true
		}
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
