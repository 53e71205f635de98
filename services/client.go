package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/SamuelLeutner/student-roster-sync/config"
	"github.com/SamuelLeutner/student-roster-sync/logger"
)

// HTTPError is a non-2xx answer from the upstream.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// FeedClient talks to the roster feed. Tokens is nil when the feed needs no
// bearer token.
type FeedClient struct {
	Config config.FeedConfig
	Client *http.Client
	Log    *logger.Logger
	Tokens oauth2.TokenSource
}

func NewFeedClient(cfg config.FeedConfig, log *logger.Logger) *FeedClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.SkipCertificateValidation {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &FeedClient{
		Config: cfg,
		Client: &http.Client{Timeout: timeout, Transport: transport},
		Log:    log,
	}
	if cfg.AuthURL != "" {
		c.Tokens = NewUserTokenSource(c)
	}
	return c
}

func stripQuery(rawURL string) string {
	return strings.Split(rawURL, "?")[0]
}

// redactURL replaces the url inside a *url.Error, whose query carries the api key.
func redactURL(err error, target string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = target
	}
	return err
}

// MakeRequest performs one HTTP call, retrying network errors, 429 and 5xx
// up to Config.MaxRetries times with exponential backoff.
func (c *FeedClient) MakeRequest(ctx context.Context, method, rawURL string, headers map[string]string, body []byte) ([]byte, error) {
	var lastErr error
	target := stripQuery(rawURL)
	maxRetries := c.Config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("request '%s %s' cancelled via context: %w", method, target, err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, fmt.Errorf("error creating request on attempt %d: %w", attempt+1, redactURL(err, target))
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		c.Log.Info("Feed: request", "method", method, "url", target, "attempt", attempt+1, "max_attempts", maxRetries+1)

		resp, err := c.Client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http client error on attempt %d: %w", attempt+1, redactURL(err, target))
		} else {
			bodyBytes, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("HTTP %d: error reading body: %w", resp.StatusCode, readErr)
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return bodyBytes, nil
			default:
				httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
				if !httpErr.Retryable() {
					c.Log.Error("Feed: request rejected", "url", target, "status", resp.StatusCode, "body", httpErr.Body)
					return nil, httpErr
				}
				lastErr = httpErr
			}
		}

		if attempt < maxRetries {
			delay := c.Config.RetryDelay * time.Duration(1<<attempt)
			c.Log.Warn("Feed: request failed, retrying", "url", target, "attempt", attempt+1, "error", lastErr, "delay", delay.String())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("request cancelled during retry wait after %d attempts for %s: %w", attempt+1, target, ctx.Err())
			}
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries+1, lastErr)
}
