// Package auth obtains and caches the app-level Spotify access token used for
// catalog lookups.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	// ErrMissingCredentials is returned when the client id or secret is not configured.
	ErrMissingCredentials = errors.New("missing SPOTIFY_CLIENT_ID or SPOTIFY_CLIENT_SECRET")

	// ErrAuthFailed is returned when the credential exchange does not yield a token.
	ErrAuthFailed = errors.New("failed to authenticate with Spotify")
)

// Config holds client credentials for the catalog authority.
type Config struct {
	ClientID     string
	ClientSecret string

	// TokenURL defaults to the Spotify accounts token endpoint.
	TokenURL string

	// HTTPClient is used for the exchange. Defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// exchangeFunc performs one credential exchange.
type exchangeFunc func(ctx context.Context) (*oauth2.Token, error)

// clientCredentials builds the exchange for cfg, or nil when credentials are missing.
func clientCredentials(cfg Config) exchangeFunc {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	return func(ctx context.Context) (*oauth2.Token, error) {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		token, err := cc.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		if token.AccessToken == "" {
			return nil, ErrAuthFailed
		}
		return token, nil
	}
}

// Transport returns an http.RoundTripper that authorizes every request with a
// bearer token from cache, using the request's context for any exchange.
func Transport(cache *TokenCache, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &bearerTransport{cache: cache, base: base}
}

type bearerTransport struct {
	cache *TokenCache
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.cache.AccessToken(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(r)
}
