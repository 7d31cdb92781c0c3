// Package fetch downloads remote source documents.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrUpstreamStatus is returned when the remote server answers with a
	// non-2xx status.
	ErrUpstreamStatus = errors.New("unexpected upstream status")
	// ErrEmptyBody is returned by callers that received zero bytes.
	ErrEmptyBody = errors.New("empty upstream body")
)

// RetryDelay is the base backoff between attempts; attempt n waits n*RetryDelay.
var RetryDelay = time.Second

// Config controls the HTTP client used for downloads.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
}

// Fetcher retrieves remote files over HTTP(S).
type Fetcher struct {
	client *http.Client
	cfg    Config
}

// New creates a Fetcher. Zero values fall back to a 60s timeout and a
// pdf2html user agent.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pdf2html/1.0"
	}
	return &Fetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// Fetch issues a GET for rawURL and returns the response body on a 2xx
// status. Transport errors and 5xx responses are retried up to MaxRetries
// times; 4xx responses fail immediately. The caller must close the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf, */*")

	var (
		resp    *http.Response
		lastErr error
	)
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, lastErr = f.client.Do(req.Clone(ctx))
		if lastErr != nil {
			continue
		}
		if resp.StatusCode < 500 {
			break
		}
		lastErr = fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		resp = nil
	}

	if resp == nil {
		return nil, fmt.Errorf("fetch %s failed after %d attempts: %w", rawURL, f.cfg.MaxRetries+1, lastErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %w: %d", rawURL, ErrUpstreamStatus, resp.StatusCode)
	}
	return resp.Body, nil
}
