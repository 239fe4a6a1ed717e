package idp

import (
	"context"
	"sync"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/telemetry"
	"golang.org/x/oauth2"
)

// DefaultSafetyMargin is subtracted from a token's expiry when deciding whether it can
// still be used.
const DefaultSafetyMargin = 30 * time.Second

// defaultTokenLifetime applies to tokens issued without expires_in
const defaultTokenLifetime = time.Minute

// TokenFetcher obtains a fresh access token. *clientcredentials.Config implements it.
type TokenFetcher interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// TokenCache holds one service access token for the whole process. Concurrent callers
// that find no usable token queue on a single slot; the first performs the fetch and
// the rest reuse its result. The slot is held only while fetching.
type TokenCache struct {
	fetcher TokenFetcher
	margin  time.Duration
	now     func() time.Time

	sem chan struct{}

	mu        sync.RWMutex
	token     string
	refreshAt time.Time
}

// NewTokenCache creates a cache over fetcher. A margin <= 0 uses DefaultSafetyMargin.
// The margin never exceeds half of a token's lifetime, so short-lived tokens are still
// reused.
func NewTokenCache(fetcher TokenFetcher, margin time.Duration) *TokenCache {
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	return &TokenCache{
		fetcher: fetcher,
		margin:  margin,
		now:     time.Now,
		sem:     make(chan struct{}, 1),
	}
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || !c.now().Before(c.refreshAt) {
		return "", false
	}
	return c.token, true
}

// Token returns a usable access token, fetching one if the cached token is missing or
// inside the safety margin. Waiting for another caller's fetch honors ctx.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-c.sem }()

	// Someone else may have refreshed while we waited.
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	t, err := c.fetcher.Token(ctx)
	if err != nil {
		telemetry.TokenFetchesTotal.WithLabelValues("error").Inc()
		return "", newAuthenticationError(err)
	}
	telemetry.TokenFetchesTotal.WithLabelValues("ok").Inc()

	now := c.now()
	expires := t.Expiry
	if expires.IsZero() {
		expires = now.Add(defaultTokenLifetime)
	}
	margin := c.margin
	if half := expires.Sub(now) / 2; half < margin {
		margin = max(half, 0)
	}

	c.mu.Lock()
	c.token = t.AccessToken
	c.refreshAt = expires.Add(-margin)
	c.mu.Unlock()

	return t.AccessToken, nil
}

// Invalidate drops the cached token if it is still stale. A token that another caller
// already replaced is left alone.
func (c *TokenCache) Invalidate(stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == stale {
		c.token = ""
		c.refreshAt = time.Time{}
	}
}
