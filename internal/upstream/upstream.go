// Package upstream performs rate-limited, retried HTTP calls against the
// external biomedical sources and classifies their failures.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Nellodipolito/pubmed-search-api/internal/model"
	"github.com/Nellodipolito/pubmed-search-api/internal/ratelimit"
)

const (
	DefaultAttempts        = 3
	DefaultInitialInterval = 500 * time.Millisecond
	maxBodySize            = 32 << 20
)

// Request describes one logical upstream call.
type Request struct {
	Method string // GET when empty
	URL    string
	Query  url.Values // appended to URL for GET, sent as a form for POST
	// Validate rejects a malformed body. A validation error is retried.
	Validate func(body []byte) error
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned %d", e.Code)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Code, e.Body)
}

// Client issues calls for one source.
type Client struct {
	Source    model.SourceKind
	HTTP      *http.Client
	Limiter   *ratelimit.Limiter
	Attempts  int
	Interval  time.Duration
	UserAgent string
	Logger    *slog.Logger
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultInitialInterval
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = 8 * interval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do performs req, acquiring the source limiter before every attempt.
// Transient failures are retried with exponential backoff. The returned
// error is always a *model.Error.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	var last error
	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		if err := c.acquire(ctx); err != nil {
			last = err
			return nil, err
		}
		body, err := c.once(ctx, req)
		last = err
		return body, err
	}
	notify := func(err error, wait time.Duration) {
		c.logger().Debug("retrying upstream call",
			"source", c.Source, "attempt", attempt, "wait", wait, "error", err)
	}

	body, err := backoff.RetryNotifyWithData(op, c.policy(ctx), notify)
	if err == nil {
		return body, nil
	}
	if last == nil {
		last = err
	}
	return nil, c.classify(ctx, last, attempt)
}

func (c *Client) acquire(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	err := c.Limiter.Acquire(ctx)
	if err != nil && ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	return err
}

func (c *Client) once(ctx context.Context, req Request) ([]byte, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%s request: %w", c.Source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		if permanent(resp.StatusCode) {
			return nil, backoff.Permanent(serr)
		}
		return nil, serr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", c.Source, err)
	}
	if req.Validate != nil {
		if err := req.Validate(body); err != nil {
			return nil, fmt.Errorf("malformed %s response: %w", c.Source, err)
		}
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		httpReq *http.Request
		err     error
	)
	if method == http.MethodPost {
		httpReq, err = http.NewRequestWithContext(ctx, method, req.URL, strings.NewReader(req.Query.Encode()))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		target := req.URL
		if len(req.Query) > 0 {
			target += "?" + req.Query.Encode()
		}
		httpReq, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.UserAgent)
	}
	return httpReq, nil
}

// permanent reports whether a status is a caller mistake. 429 is a quota
// signal and is retried.
func permanent(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func (c *Client) classify(ctx context.Context, err error, attempts int) error {
	var serr *StatusError
	switch {
	case errors.As(err, &serr) && permanent(serr.Code):
		return &model.Error{
			Kind:    model.TranslationFailure,
			Source:  c.Source,
			Step:    "fetch",
			Message: "query rejected by source",
			Err:     err,
		}
	case errors.Is(err, ratelimit.ErrRejected):
		return &model.Error{
			Kind:    model.RateLimitExceeded,
			Source:  c.Source,
			Step:    "fetch",
			Message: "rate limit budget exhausted",
			Err:     err,
		}
	case ctx.Err() != nil:
		return &model.Error{
			Kind:    model.SourceUnavailable,
			Source:  c.Source,
			Step:    "fetch",
			Message: "request deadline reached",
			Err:     ctx.Err(),
		}
	}
	return &model.Error{
		Kind:    model.SourceUnavailable,
		Source:  c.Source,
		Step:    "fetch",
		Message: fmt.Sprintf("giving up after %d attempts", attempts),
		Err:     err,
	}
}
