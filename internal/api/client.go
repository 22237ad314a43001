// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

// Package api provides the authenticated HTTP client shared by all forge adapters.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// HTTPError is returned for every non-2xx response
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, truncate(string(e.Body), 200))
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the response body into v
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// Config holds configuration for the API client
type Config struct {
	RetryMax          int           // Retries for idempotent requests
	RetryWaitMin      time.Duration // Initial retry wait
	RetryWaitMax      time.Duration // Maximum retry wait
	RequestsPerSecond float64       // Client-side request rate
	Burst             int           // Requests allowed above the rate
	Timeout           time.Duration // Per-request timeout, zero for none
	UserAgent         string
	Verbose           bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		RetryMax:          3,
		RetryWaitMin:      time.Second,
		RetryWaitMax:      30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             10,
		Timeout:           time.Minute,
		UserAgent:         "git-forest",
	}
}

// Client issues authenticated requests against forge REST APIs. It is safe
// for concurrent use.
type Client struct {
	config   *Config
	http     *http.Client
	retrying *retryablehttp.Client
	limiter  *rate.Limiter
}

// NewClient creates a new API client
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = config.Timeout

	retrying := retryablehttp.NewClient()
	retrying.HTTPClient = httpClient
	retrying.RetryMax = config.RetryMax
	retrying.RetryWaitMin = config.RetryWaitMin
	retrying.RetryWaitMax = config.RetryWaitMax
	retrying.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if config.Verbose {
		retrying.Logger = log.New(os.Stderr, "[API] ", log.LstdFlags)
	} else {
		retrying.Logger = nil
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		config:   config,
		http:     httpClient,
		retrying: retrying,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Request sends a request and reads the whole response. A non-nil body is
// encoded as JSON. GET requests are retried on transient failures; anything
// else is sent exactly once.
func (c *Client) Request(ctx context.Context, method, url string, headers http.Header, body interface{}) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	c.logf("%s %s", method, url)

	var (
		resp *http.Response
		err  error
	)
	if method == http.MethodGet {
		resp, err = c.doRetrying(ctx, method, url, headers, payload)
	} else {
		resp, err = c.doOnce(ctx, method, url, headers, payload)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", method, url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       data,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *Client) doRetrying(ctx context.Context, method, url string, headers http.Header, payload []byte) (*http.Response, error) {
	var raw interface{}
	if payload != nil {
		raw = payload
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, raw)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req.Header, headers, payload != nil)
	return c.retrying.Do(req)
}

func (c *Client) doOnce(ctx context.Context, method, url string, headers http.Header, payload []byte) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req.Header, headers, payload != nil)
	return c.http.Do(req)
}

func (c *Client) setHeaders(dst, src http.Header, hasBody bool) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	if dst.Get("Accept") == "" {
		dst.Set("Accept", "application/json")
	}
	if hasBody && dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "application/json")
	}
	if c.config.UserAgent != "" && dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", c.config.UserAgent)
	}
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.config.Verbose {
		log.Printf("[API] "+format, args...)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
