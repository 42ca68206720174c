package httpclient

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// RetryPolicy controls how Client.Get retries.
type RetryPolicy struct {
	Attempts       uint          // total tries including the first
	InitialBackoff time.Duration // doubled per retry
	MaxBackoff     time.Duration
	MaxRetryAfter  time.Duration // cap applied to a server Retry-After
}

// DefaultRetryPolicy: four tries, 2s doubling to 60s, Retry-After honoured up to 60s.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:       4,
	InitialBackoff: 2 * time.Second,
	MaxBackoff:     60 * time.Second,
	MaxRetryAfter:  60 * time.Second,
}

// RetryableStatus is true for statuses worth another try: 408, 423, 429 and 5xx.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusLocked, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrBodyTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return RetryableStatus(se.Code)
	}
	// Transport errors (reset, refused, EOF mid-body).
	return true
}

func (p RetryPolicy) delay(n uint, err error, cfg *retry.Config) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter
	}
	return retry.BackOffDelay(n, err, cfg)
}

func (c *Client) do(ctx context.Context, fn func() error) error {
	p := c.Retry
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.InitialBackoff),
		retry.MaxDelay(p.MaxBackoff),
		retry.DelayType(p.delay),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[http] attempt %d/%d failed: %v; retrying", n+1, attempts, err)
		}),
	)
}

// parseRetryAfter parses Retry-After (seconds or HTTP-date) capped at max.
// An absent or unparseable header yields 0 so the caller's backoff applies.
func parseRetryAfter(s string, max time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	var d time.Duration
	if sec, err := strconv.Atoi(s); err == nil {
		if sec <= 0 {
			return 0
		}
		d = time.Duration(sec) * time.Second
	} else {
		t, err := http.ParseTime(s)
		if err != nil {
			return 0
		}
		d = time.Until(t)
		if d <= 0 {
			return 0
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
