package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// userTokenSource trades the configured user token for a short-lived access
// token at the feed's auth endpoint.
type userTokenSource struct {
	client *FeedClient
	now    func() time.Time
}

// NewUserTokenSource caches tokens until shortly before they expire.
func NewUserTokenSource(c *FeedClient) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &userTokenSource{client: c, now: time.Now})
}

func (s *userTokenSource) Token() (*oauth2.Token, error) {
	cfg := s.client.Config
	s.client.Log.Info("Auth: token expired or not available, authenticating")

	ctx, cancel := context.WithTimeout(context.Background(), s.client.Client.Timeout)
	defer cancel()

	body, err := s.client.MakeRequest(ctx, http.MethodPost, cfg.AuthURL, map[string]string{"token": cfg.UserToken}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get new auth token: %w", err)
	}

	var authResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &authResp); err != nil {
		return nil, fmt.Errorf("failed to parse auth token response: %w", err)
	}
	if authResp.Token == "" {
		return nil, errors.New("auth token response was empty")
	}

	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	s.client.Log.Info("Auth: new token obtained")
	return &oauth2.Token{
		AccessToken: authResp.Token,
		TokenType:   "Bearer",
		Expiry:      s.now().Add(expiry),
	}, nil
}
