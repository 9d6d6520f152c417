// Package spotify resolves catalog searches and track ids through the Spotify
// Web API using app-level client credentials.
package spotify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/time/rate"

	"github.com/justestif/songwall/internal/auth"
)

const (
	// searchLimit is the number of results returned by Search.
	searchLimit = 5

	defaultTimeout = 10 * time.Second
)

var (
	// ErrSearchFailed is returned when a search fails after its retry.
	ErrSearchFailed = errors.New("Spotify search failed")

	// ErrTrackFetchFailed is returned when track detail cannot be fetched.
	ErrTrackFetchFailed = errors.New("Failed to fetch track from Spotify")
)

// Config configures a catalog Client.
type Config struct {
	Tokens *auth.TokenCache

	// BaseURL overrides the Web API root. Must end with a slash.
	BaseURL string

	// Timeout bounds each HTTP request including the token exchange.
	Timeout time.Duration

	// RequestsPerSecond paces outbound calls. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	Logger *log.Logger
}

// Client wraps the Spotify API client with the wall's lookups.
type Client struct {
	api     *spotify.Client
	tokens  *auth.TokenCache
	limiter *rate.Limiter
	logger  *log.Logger
}

// New creates a catalog client. Every request is authorized with a token
// from cfg.Tokens.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := &http.Client{
		Transport: auth.Transport(cfg.Tokens, nil),
		Timeout:   timeout,
	}

	var opts []spotify.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, spotify.WithBaseURL(cfg.BaseURL))
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := max(cfg.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		api:     spotify.New(httpClient, opts...),
		tokens:  cfg.Tokens,
		limiter: limiter,
		logger:  logger.With("component", "spotify"),
	}
}

// wait blocks until the outbound pacing allows another request.
func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// PublicMessage returns the client-safe description of a catalog error.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredentials), errors.Is(err, auth.ErrAuthFailed):
		return auth.ErrAuthFailed.Error()
	case errors.Is(err, ErrTrackFetchFailed):
		return ErrTrackFetchFailed.Error()
	default:
		return ErrSearchFailed.Error()
	}
}
