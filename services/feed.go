package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/SamuelLeutner/student-roster-sync/models"
)

// FetchError is fatal for a run: without a roster nothing can be reconciled.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch roster from %s failed with status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch roster from %s failed: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FeedResult is one decoded roster document plus the bytes it came from.
type FeedResult struct {
	Records   []models.RawRecord
	Raw       []byte
	FetchedAt time.Time
}

func (c *FeedClient) feedURL() (string, error) {
	u, err := url.Parse(c.Config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid feed url: %w", err)
	}
	q := u.Query()
	if c.Config.APIKey != "" {
		q.Set("api-key", c.Config.APIKey)
	}
	filter := c.Config.SchoolFilter
	if filter == "" {
		filter = "ALL"
	}
	q.Set("school_name", filter)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch downloads the roster. A document without a data array decodes to an
// empty batch.
func (c *FeedClient) Fetch(ctx context.Context) (*FeedResult, error) {
	target := stripQuery(c.Config.URL)
	fail := func(err error) (*FeedResult, error) {
		fe := &FetchError{URL: target, Err: err}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			fe.StatusCode = httpErr.StatusCode
		}
		c.Log.Error("Feed: fetch failed", "url", target, "error", err)
		return nil, fe
	}

	fullURL, err := c.feedURL()
	if err != nil {
		return fail(err)
	}

	headers := map[string]string{"Accept": "application/json"}
	if c.Tokens != nil {
		tok, err := c.Tokens.Token()
		if err != nil {
			return fail(fmt.Errorf("authenticate: %w", err))
		}
		headers["Authorization"] = tok.Type() + " " + tok.AccessToken
	}

	c.Log.Info("Feed: fetching roster", "url", target, "school_filter", c.Config.SchoolFilter)
	body, err := c.MakeRequest(ctx, http.MethodGet, fullURL, headers, nil)
	if err != nil {
		return fail(err)
	}

	records, err := DecodeFeed(body)
	if err != nil {
		return fail(err)
	}

	c.Log.Info("Feed: roster fetched", "records", len(records), "bytes", len(body))
	return &FeedResult{Records: records, Raw: body, FetchedAt: time.Now()}, nil
}

// DecodeFeed parses a roster document as served by the feed or kept in the
// archive.
func DecodeFeed(body []byte) ([]models.RawRecord, error) {
	var payload models.FeedResponse[models.RawRecord]
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode feed payload: %w", err)
	}
	return payload.Data, nil
}
