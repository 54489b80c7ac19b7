package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxAttempts is the total number of attempts per request, including
	// the first. Defaults to 3.
	MaxAttempts int

	// RetryDelay is the base delay for exponential backoff. The delay before
	// retry attempt n is RetryDelay * 2^n.
	RetryDelay time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "X-API-Key", "Authorization").
	APIKeyHeader string
}

// HTTPClient wraps http.Client with rate limiting and retries.
// It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
	logger      zerolog.Logger
}

// NewHTTPClient creates a new HTTP client with rate limiting.
// The client applies rate limiting before each request and automatically
// retries transient failures: network timeouts, connection resets, and 429
// (Too Many Requests). Retries back off exponentially from RetryDelay.
// Any other response status, including 404 and 5xx server errors, is
// returned to the caller without retry.
func NewHTTPClient(cfg HTTPClientConfig, logger zerolog.Logger) *HTTPClient {
	// Apply defaults
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 10
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "MedScribe-ReferenceHarvester/1.0"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
		logger:      logger.With().Str("component", "http-client").Logger(),
	}
}

// Do executes an HTTP request with rate limiting and retries.
// It waits for the rate limiter before each request attempt,
// sets the User-Agent and optional API key headers, and retries
// transient failures with exponential backoff. When the server sends a
// Retry-After header larger than the computed backoff, the header wins.
//
// The request body is not preserved across retries; callers must provide
// requests with GetBody set if the body needs to be resent on retry.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	// Set default headers
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	// Set API key if configured
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	var lastErr error
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		// Wait for rate limiter
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Check for context cancellation
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			// Timeouts and connection resets surface here; retry them.
			if attempt < c.config.MaxAttempts-1 {
				delay := c.backoffDelay(attempt)
				c.logRetry(req, attempt, delay, err)
				if err := c.waitForRetry(req.Context(), delay); err != nil {
					return nil, err
				}
				if err := c.resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}
			return nil, lastErr
		}

		// Check if we should retry based on status code
		if c.shouldRetry(resp.StatusCode) {
			delay := c.retryDelayFor(resp, attempt)

			// Close the response body to free resources before retry
			if resp.Body != nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}

			if attempt < c.config.MaxAttempts-1 {
				lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
				c.logRetry(req, attempt, delay, lastErr)
				if err := c.waitForRetry(req.Context(), delay); err != nil {
					return nil, err
				}
				if err := c.resetRequestBody(req); err != nil {
					return nil, fmt.Errorf("cannot retry request: %w", err)
				}
				continue
			}

			// Attempt budget exhausted
			return nil, fmt.Errorf("retries exhausted after %d attempts, last status: %d", c.config.MaxAttempts, resp.StatusCode)
		}

		// Success or non-retryable error
		return resp, nil
	}

	// Should not reach here, but handle edge case
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

// shouldRetry returns true if the status code indicates we should retry.
// Only 429 is retryable: server errors are surfaced to the caller, whose
// per-source error isolation turns them into empty contributions.
func (c *HTTPClient) shouldRetry(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests
}

// backoffDelay returns the exponential backoff delay for the given attempt.
// Attempt 0 waits RetryDelay, attempt 1 waits 2*RetryDelay, and so on.
func (c *HTTPClient) backoffDelay(attempt int) time.Duration {
	return c.config.RetryDelay * (1 << attempt)
}

// retryDelayFor determines how long to wait before retrying a response.
// It takes the larger of the exponential backoff and the server's
// Retry-After header, if present.
func (c *HTTPClient) retryDelayFor(resp *http.Response, attempt int) time.Duration {
	delay := c.backoffDelay(attempt)

	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return delay
	}

	// Try to parse as seconds
	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if d := time.Duration(seconds) * time.Second; d > delay {
			return d
		}
		return delay
	}

	// Try to parse as HTTP date
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > delay {
			return d
		}
	}

	return delay
}

// logRetry records an upcoming retry attempt.
func (c *HTTPClient) logRetry(req *http.Request, attempt int, delay time.Duration, cause error) {
	c.logger.Warn().
		Str("url", req.URL.String()).
		Int("attempt", attempt+1).
		Dur("delay", delay).
		Err(cause).
		Msg("retrying request")
}

// waitForRetry waits for the specified duration, respecting context cancellation.
func (c *HTTPClient) waitForRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// resetRequestBody resets the request body for retry if possible.
func (c *HTTPClient) resetRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}

	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to get request body for retry: %w", err)
	}
	req.Body = body
	return nil
}
