// Package httpx holds the JSON-over-HTTP retry loop shared by the REST
// clients (embeddings, chat, rerank).
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// StatusError is returned for a non-retryable HTTP status.
type StatusError struct {
	Status string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return e.Status
	}
	return e.Status + ": " + e.Body
}

// Client posts JSON with retries on transport errors, 429 and 5xx.
type Client struct {
	HTTP       *http.Client
	Headers    map[string]string
	MaxRetries int
}

// PostJSON marshals body, posts it to url and returns the response payload.
func (c *Client) PostJSON(ctx context.Context, url string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range c.Headers {
			req.Header.Set(k, v)
		}

		resp, err := hc.Do(req)
		if err != nil {
			if ctx.Err() != nil || attempt >= c.MaxRetries {
				return nil, err
			}
			if err := sleep(ctx, RetryDelay(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if attempt >= c.MaxRetries {
				return nil, &StatusError{Status: resp.Status, Code: resp.StatusCode, Body: string(payload)}
			}
			// Respect Retry-After if provided
			delay := RetryDelay(attempt)
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				delay = time.Duration(secs) * time.Second
			}
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}
		if resp.StatusCode >= 300 {
			return nil, &StatusError{Status: resp.Status, Code: resp.StatusCode, Body: string(payload)}
		}
		if readErr != nil {
			if attempt >= c.MaxRetries {
				return nil, readErr
			}
			if err := sleep(ctx, RetryDelay(attempt)); err != nil {
				return nil, err
			}
			continue
		}
		return payload, nil
	}
}

// RetryDelay is exponential backoff from 200ms, capped at 5s.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return 5 * time.Second
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
