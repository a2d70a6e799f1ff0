package download

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// RetryConfig controls the retry behavior of the download HTTP client.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first failure.
	MaxRetries int
	// BaseDelay is the delay before the first retry; it doubles per
	// attempt up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the default backoff schedule: 3 retries at
// 1s, 2s, 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   4 * time.Second,
	}
}

// retryClient wraps an http.Client with exponential backoff on network
// errors and 5xx responses. Only the initial request is retried; once a
// response body is streaming, transfer errors surface to the caller so the
// resumable download path can pick up from the partial file.
type retryClient struct {
	client    *http.Client
	config    RetryConfig
	delayFunc func(time.Duration)
}

func newRetryClient(config RetryConfig) *retryClient {
	return &retryClient{
		// No client-level timeout: it would cut off large artifact bodies.
		// Per-operation deadlines come from the request context.
		client:    &http.Client{},
		config:    config,
		delayFunc: time.Sleep,
	}
}

// do executes req with retries. The caller owns the returned body.
func (c *retryClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	delay := c.config.BaseDelay
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			c.delayFunc(delay)
			delay *= 2
			if delay > c.config.MaxDelay {
				delay = c.config.MaxDelay
			}
		}

		resp, err := c.client.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}
