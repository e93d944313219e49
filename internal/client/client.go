package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/stockpile/internal/logger"
	"github.com/wolfeidau/stockpile/internal/tokenstore"
)

// Config holds common client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration

	// RefreshPath is the token refresh endpoint, relative to BaseURL.
	RefreshPath string
	// RefreshMaxTries bounds attempts of one refresh exchange. Only network
	// failures are retried.
	RefreshMaxTries uint
	// RefreshTimeout bounds a refresh exchange including its retries.
	RefreshTimeout time.Duration

	// Cache enables the HTTP response cache for GET requests. CacheDir
	// selects a disk cache, otherwise responses are cached in memory.
	Cache    bool
	CacheDir string

	RetryPolicy RetryPolicy
	UserAgent   string

	// Transport is the network transport, http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8000/api/v1",
		Timeout:         30 * time.Second,
		RefreshPath:     "/auth/refresh-token",
		RefreshMaxTries: 3,
		RefreshTimeout:  30 * time.Second,
		RetryPolicy:     defaultRetryPolicy,
		UserAgent:       "stockpile",
	}
}

// Client is the shared request-issuing component used by every API call.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	tokens    *tokenstore.Store
	refresher *refresher
	cache     *purgeableCache
	caching   *cachingTransport
}

// New creates a client that reads and rotates tokens in tokens.
//
// The transport stack, outermost first, is auth → logging → cache → gzip →
// network. Refresh calls skip the auth and cache layers.
func New(cfg Config, tokens *tokenstore.Store) *Client {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = defaults.RefreshPath
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaults.RefreshTimeout
	}
	if cfg.RetryPolicy.MaxRefreshRetries <= 0 {
		cfg.RetryPolicy = defaultRetryPolicy
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	compressed := gzhttp.Transport(base)

	c := &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		tokens:    tokens,
	}

	refreshHTTP := &http.Client{
		Timeout:   cfg.RefreshTimeout,
		Transport: logger.NewTransport(log.Logger, compressed),
	}
	c.refresher = newRefresher(tokens, refreshHTTP, c.baseURL+cfg.RefreshPath, cfg.RefreshMaxTries, cfg.RefreshTimeout)

	var inner http.RoundTripper = compressed
	if cfg.Cache {
		c.cache = newCache(cfg.CacheDir)
		c.caching = newCachingTransport(c.cache, inner)
		inner = c.caching
	}

	c.http = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &authTransport{
			tokens:    tokens,
			refresher: c.refresher,
			policy:    cfg.RetryPolicy,
			next:      logger.NewTransport(log.Logger, inner),
		},
	}

	return c
}

// Tokens returns the token store shared with the session manager.
func (c *Client) Tokens() *tokenstore.Store {
	return c.tokens
}

// AddListener registers l for refresh notifications.
func (c *Client) AddListener(l Listener) {
	c.refresher.addListener(l)
}

// PurgeCache drops all cached responses. A no-op when caching is disabled.
func (c *Client) PurgeCache() {
	if c.cache != nil {
		c.cache.Purge()
		c.caching.reset()
	}
}

// HTTPClient returns the authenticated http.Client for callers that need to
// issue requests outside Do.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Do sends a JSON request to path and decodes a 2xx JSON response into out.
// in and out may be nil. Failures are returned as *Error.
func (c *Client) Do(ctx context.Context, method, path string, in, out any, opts ...RequestOption) error {
	op := method + " " + path

	a := newAttempt(opts...)
	ctx = withAttempt(ctx, a)

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", a.id)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		// refresh failures come back from the transport already classified
		var apiErr *Error
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(op, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &Error{
			Kind:   KindServer,
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("failed to decode response: %w", err),
		}
	}

	return nil
}
