package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nan0silver/AIBitcoinTrading/internal/backoff"
)

const maxRetryAfter = 30 * time.Second

// APIError represents an error response from the backend.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
	RetryAfter time.Duration // from a Retry-After header in seconds; 0 when absent
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// errorBody is the error shape FastAPI returns.
type errorBody struct {
	Detail any `json:"detail"`
}

// errorMessage prefers the backend's detail text over the status text.
func errorMessage(status int, body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if s, ok := eb.Detail.(string); ok && s != "" {
			return s
		}
	}
	return http.StatusText(status)
}

// doRequest performs an HTTP request with the given method and path.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, body),
			Body:       body,
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return nil, apiErr
	}

	return body, nil
}

// doWithRetry retries 5xx and 429 answers. The wait doubles from
// retryBackoff with up to 50% jitter; a Retry-After header, capped at
// maxRetryAfter, takes precedence.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	var apiErr *APIError
	for attempt := 0; ; attempt++ {
		body, err := c.doRequest(ctx, method, path, query)
		if err == nil {
			return body, nil
		}
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("max retries exceeded: %w", err)
		}

		wait := backoff.Delay(c.retryBackoff, attempt, 0, 0.5)
		if apiErr.RetryAfter > 0 {
			wait = min(apiErr.RetryAfter, maxRetryAfter)
		}
		c.logger.Debug("retrying request",
			"path", path,
			"status", apiErr.StatusCode,
			"attempt", attempt+1,
			"wait", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// get performs a GET request with retries and returns the raw body.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.doWithRetry(ctx, http.MethodGet, path, query)
}

// post performs a single POST request. Actions are not idempotent, so
// they are never retried.
func (c *Client) post(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	body, err := c.doRequest(ctx, http.MethodPost, path, query)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("post %s: response is not JSON", path)
	}
	return json.RawMessage(body), nil
}
