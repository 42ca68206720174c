package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout         = 60 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16

	// DefaultMaxBody bounds a single response. Full VOD listings from large
	// panels run to tens of megabytes.
	DefaultMaxBody = 512 << 20

	DefaultUserAgent = "iptvstrm/1.0"
)

var defaultClient = &http.Client{
	Timeout: DefaultTimeout,
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
	},
}

// Default returns the shared tuned HTTP client used by the gateway, playlist
// fetcher and probes.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout and a clone of Default's transport.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}

// Client issues GETs against one provider with pacing, a per-host
// concurrency cap, retries and transparent br/gzip decoding.
type Client struct {
	HTTP      *http.Client
	Limiter   *rate.Limiter  // nil: no pacing
	Hosts     *HostSemaphore // nil: GlobalHostSem
	Retry     RetryPolicy
	MaxBody   int64
	UserAgent string
}

// Options configure New.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64 // <= 0 disables pacing
	Burst             int
	Retry             RetryPolicy
}

// New builds a Client. Zero options give the defaults.
func New(opts Options) *Client {
	c := &Client{
		HTTP:      Default(),
		Retry:     opts.Retry,
		MaxBody:   DefaultMaxBody,
		UserAgent: DefaultUserAgent,
	}
	if opts.Timeout > 0 {
		c.HTTP = WithTimeout(opts.Timeout)
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = DefaultRetryPolicy
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// ErrBodyTooLarge is returned when a response exceeds Client.MaxBody.
var ErrBodyTooLarge = errors.New("response body too large")

// StatusError is a non-2xx response.
type StatusError struct {
	Code       int
	RetryAfter time.Duration // from the Retry-After header, 0 if absent
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d %s", e.Code, http.StatusText(e.Code))
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Response is a fully read 2xx response.
type Response struct {
	Body        []byte
	ContentType string
}

// Get fetches rawURL and returns the decoded body. Retryable statuses and
// transport errors are retried per c.Retry; other 4xx fail immediately.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Fetch is Get that also returns the response Content-Type.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	var out *Response
	err := c.do(ctx, func() error {
		r, err := c.getOnce(ctx, rawURL)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getOnce(ctx context.Context, rawURL string) (*Response, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	hosts := c.Hosts
	if hosts == nil {
		hosts = GlobalHostSem
	}
	release, err := hosts.AcquireContext(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	ua := c.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Encoding", acceptEncoding)

	client := c.HTTP
	if client == nil {
		client = Default()
	}
	resp, err := client.Do(req)
	if err != nil {
		// *url.Error embeds the full URL, which carries provider credentials.
		var ue *url.Error
		if errors.As(err, &ue) {
			return nil, fmt.Errorf("%s: %w", ue.Op, ue.Err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{
			Code:       resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.Retry.MaxRetryAfter),
		}
	}

	rc, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	limit := c.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	b, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return &Response{Body: b, ContentType: resp.Header.Get("Content-Type")}, nil
}
