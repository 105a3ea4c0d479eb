package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/jrsteele09/cognito-guard/identity"
	"github.com/jrsteele09/cognito-guard/internal/flight"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultKeyTTL        = time.Hour
	DefaultRefreshWindow = 5 * time.Minute
)

// KeySource fetches an issuer's verification keys. identity.Client satisfies it.
type KeySource interface {
	SigningKeys(ctx context.Context, issuer string) (*identity.KeySet, error)
}

// KeyCache holds one issuer's signing keys. Loads are coalesced so that any
// number of concurrent misses cause a single fetch, and forced refreshes after
// key rotation are limited to one per refresh window.
type KeyCache struct {
	source        KeySource
	issuer        string
	ttl           time.Duration
	refreshWindow time.Duration
	nowFunc       func() time.Time
	flight        *flight.Group[*identity.KeySet]
	log           zerolog.Logger

	mu         sync.RWMutex
	keys       *identity.KeySet
	loadedAt   time.Time
	forcedAt   time.Time
	generation uint64
}

type KeyCacheOption func(*KeyCache)

func WithKeyTTL(ttl time.Duration) KeyCacheOption {
	return func(c *KeyCache) { c.ttl = ttl }
}

func WithRefreshWindow(window time.Duration) KeyCacheOption {
	return func(c *KeyCache) { c.refreshWindow = window }
}

func WithFetchTimeout(timeout time.Duration) KeyCacheOption {
	return func(c *KeyCache) { c.flight = flight.NewGroup[*identity.KeySet](timeout) }
}

func WithKeyCacheNowFunc(now func() time.Time) KeyCacheOption {
	return func(c *KeyCache) { c.nowFunc = now }
}

func WithKeyCacheLogger(l zerolog.Logger) KeyCacheOption {
	return func(c *KeyCache) { c.log = l }
}

func NewKeyCache(source KeySource, issuer string, options ...KeyCacheOption) (*KeyCache, error) {
	if source == nil {
		return nil, errors.New("[NewKeyCache] key source is required")
	}
	if issuer == "" {
		return nil, errors.New("[NewKeyCache] issuer is required")
	}
	c := &KeyCache{
		source:        source,
		issuer:        issuer,
		ttl:           DefaultKeyTTL,
		refreshWindow: DefaultRefreshWindow,
		nowFunc:       time.Now,
		flight:        flight.NewGroup[*identity.KeySet](0),
		log:           log.Logger.With().Str("component", "keycache").Logger(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Key returns the verification key for kid. An unknown kid in an otherwise
// fresh set triggers a rate limited refresh before giving up.
func (c *KeyCache) Key(ctx context.Context, kid string) (identity.Key, error) {
	const op = "KeyCache.Key"
	keys, fresh := c.snapshot()
	if fresh {
		if k, ok := keys.Lookup(kid); ok {
			return k, nil
		}
	}

	keys, err := c.load(ctx, fresh)
	if err != nil {
		return identity.Key{}, err
	}
	if k, ok := keys.Lookup(kid); ok {
		return k, nil
	}
	return identity.Key{}, auth.Errorf(auth.BadSignature, op, "unknown signing key %q", kid)
}

// Refresh forces a reload subject to the refresh window. It reports whether
// a new key set was actually fetched.
func (c *KeyCache) Refresh(ctx context.Context) (bool, error) {
	before := c.currentGeneration()
	if _, err := c.load(ctx, true); err != nil {
		return false, err
	}
	return c.currentGeneration() != before, nil
}

func (c *KeyCache) snapshot() (*identity.KeySet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keys == nil {
		return nil, false
	}
	return c.keys, c.nowFunc().Sub(c.loadedAt) < c.ttl
}

func (c *KeyCache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *KeyCache) load(ctx context.Context, forced bool) (*identity.KeySet, error) {
	const op = "KeyCache.load"
	keys, _, err := c.flight.Do(ctx, c.issuer, func(ctx context.Context) (*identity.KeySet, error) {
		if keys, skip := c.skipFetch(forced); skip {
			return keys, nil
		}

		c.log.Debug().Str("issuer", c.issuer).Bool("forced", forced).Msg("fetching signing keys")
		ks, err := c.source.SigningKeys(ctx, c.issuer)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.keys = ks
		c.loadedAt = c.nowFunc()
		c.generation++
		c.mu.Unlock()
		return ks, nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("issuer", c.issuer).Msg("signing key fetch failed")
		return nil, auth.Classify(op, err, auth.ProviderUnavailable)
	}
	return keys, nil
}

// skipFetch decides, under the lock, whether a call that won the flight still
// needs to reach the provider. It also stamps the forced refresh time.
func (c *KeyCache) skipFetch(forced bool) (*identity.KeySet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFunc()
	if c.keys != nil {
		if forced && now.Sub(c.forcedAt) < c.refreshWindow {
			return c.keys, true
		}
		if !forced && now.Sub(c.loadedAt) < c.ttl {
			return c.keys, true
		}
	}
	if forced {
		c.forcedAt = now
	}
	return nil, false
}
