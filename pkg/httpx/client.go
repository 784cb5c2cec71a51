// Package httpx provides an HTTP client with retry support for transient
// failures. Tool servers and LLM adapters route outbound requests through
// it so retry behavior stays uniform.
package httpx

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	LinearRetry
)

// RetryStrategyFunc decides whether a response status code warrants a retry.
type RetryStrategyFunc func(statusCode int) RetryStrategy

type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	strategyFunc RetryStrategyFunc
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 30 * time.Second},
		maxRetries:   3,
		baseDelay:    250 * time.Millisecond,
		strategyFunc: DefaultRetryStrategy,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return LinearRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying transient failures with linear backoff
// (baseDelay * attempt). Request bodies are recreated via GetBody between
// attempts.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err == nil && c.strategyFunc(resp.StatusCode) == NoRetry {
			return resp, nil
		}

		if err != nil && !IsTransient(err) {
			return nil, err
		}

		lastErr = err
		if resp != nil {
			resp.Body.Close()
			lastResp = resp
		}

		if attempt < c.maxRetries {
			delay := c.baseDelay * time.Duration(attempt)
			slog.Debug("Retrying HTTP request",
				"url", req.URL.String(),
				"attempt", attempt,
				"delay", delay)
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}
		}
	}

	status := 0
	if lastResp != nil {
		status = lastResp.StatusCode
	}
	return nil, &RetryableError{
		StatusCode: status,
		Message:    fmt.Sprintf("max retries (%d) exceeded", c.maxRetries),
		Err:        lastErr,
	}
}
