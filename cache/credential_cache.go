// Package cache holds validated bearer credentials keyed by token hash.
package cache

import (
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

// Entry is a cached validation result.
type Entry struct {
	Credential auth.Credential
	Principal  *auth.Principal
	ExpiresAt  time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Expired   uint64
	Evictions uint64
}

// CredentialCache is a capacity bounded LRU with per-entry TTL. When full,
// expired entries are dropped before the least recently used one.
type CredentialCache struct {
	mu         sync.Mutex
	lru        *simplelru.LRU[string, *Entry]
	capacity   int
	defaultTTL time.Duration
	nowFunc    func() time.Time
	log        zerolog.Logger
	stats      Stats
}

type Option func(*CredentialCache)

func WithNowFunc(now func() time.Time) Option {
	return func(c *CredentialCache) { c.nowFunc = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *CredentialCache) { c.log = l }
}

func New(capacity int, defaultTTL time.Duration, options ...Option) (*CredentialCache, error) {
	if capacity <= 0 {
		return nil, errors.New("[cache.New] capacity must be positive")
	}
	if defaultTTL <= 0 {
		return nil, errors.New("[cache.New] default ttl must be positive")
	}

	lru, err := simplelru.NewLRU[string, *Entry](capacity, nil)
	if err != nil {
		return nil, err
	}
	c := &CredentialCache{
		lru:        lru,
		capacity:   capacity,
		defaultTTL: defaultTTL,
		nowFunc:    time.Now,
		log:        log.Logger.With().Str("component", "credential-cache").Logger(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// HashToken derives the cache key for a raw bearer token.
func HashToken(raw string) string {
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Get returns the entry for tokenHash unless it is missing or its TTL has
// elapsed. Expired entries found here are removed.
func (c *CredentialCache) Get(tokenHash string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(tokenHash)
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if e.expired(c.nowFunc()) {
		c.lru.Remove(tokenHash)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	cp := *e
	return &cp, true
}

// Put stores entry for ttl, or the default TTL when ttl <= 0. The entry never
// outlives the principal's own token expiry.
func (c *CredentialCache) Put(tokenHash string, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	entry.ExpiresAt = now.Add(ttl)
	if p := entry.Principal; p != nil && !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(entry.ExpiresAt) {
		entry.ExpiresAt = p.ExpiresAt
	}
	if entry.expired(now) {
		c.lru.Remove(tokenHash)
		return
	}

	if !c.lru.Contains(tokenHash) && c.lru.Len() >= c.capacity {
		c.removeExpiredLocked(now)
	}
	if evicted := c.lru.Add(tokenHash, &entry); evicted {
		c.stats.Evictions++
		c.log.Debug().Int("capacity", c.capacity).Msg("evicted least recently used credential")
	}
}

// Invalidate drops tokenHash and reports whether it was present.
func (c *CredentialCache) Invalidate(tokenHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(tokenHash)
}

// Purge removes every expired entry and returns how many were dropped.
func (c *CredentialCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeExpiredLocked(c.nowFunc())
}

func (c *CredentialCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *CredentialCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *CredentialCache) removeExpiredLocked(now time.Time) int {
	removed := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.expired(now) {
			c.lru.Remove(key)
			removed++
		}
	}
	c.stats.Expired += uint64(removed)
	return removed
}
