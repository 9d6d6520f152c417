package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// expiryLeeway is how long before expiry a cached token stops being reused.
const expiryLeeway = 60 * time.Second

// TokenCache holds a single client-credentials access token for the process.
//
// Concurrent callers that find the slot stale may each run an exchange; the
// last one to finish wins. That costs at most a redundant exchange.
type TokenCache struct {
	exchange exchangeFunc
	now      func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenCache creates an empty cache for the given credentials. Missing
// credentials are reported on first use, not here.
func NewTokenCache(cfg Config) *TokenCache {
	return &TokenCache{
		exchange: clientCredentials(cfg),
		now:      time.Now,
	}
}

// AccessToken returns the cached token unless it is within a minute of
// expiring, in which case a new one is exchanged and cached.
func (c *TokenCache) AccessToken(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		return token, nil
	}

	if c.exchange == nil {
		return "", ErrMissingCredentials
	}

	token, err := c.exchange(ctx)
	if err != nil {
		return "", err
	}

	c.store(token)
	return token.AccessToken, nil
}

// Invalidate clears the cached token so the next call exchanges a new one.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.mu.Unlock()
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || !c.now().Before(c.expiry.Add(-expiryLeeway)) {
		return "", false
	}
	return c.token, true
}

func (c *TokenCache) store(token *oauth2.Token) {
	expiry := token.Expiry
	if expiry.IsZero() {
		// No expires_in in the response: treat the token as single use.
		expiry = c.now()
	}

	c.mu.Lock()
	c.token = token.AccessToken
	c.expiry = expiry
	c.mu.Unlock()
}
