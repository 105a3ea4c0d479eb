// Package redisrepo stores sessions as JSON values in Redis with a key TTL
// matching the session expiry.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/cognito-guard/sessions"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "cognito-guard:session"

type Repo struct {
	client    redis.UniversalClient
	keyPrefix string
	nowFunc   func() time.Time
}

var _ sessions.Repo = (*Repo)(nil)

type Option func(*Repo)

func WithKeyPrefix(prefix string) Option {
	return func(r *Repo) { r.keyPrefix = prefix }
}

func WithNowFunc(now func() time.Time) Option {
	return func(r *Repo) { r.nowFunc = now }
}

func New(client redis.UniversalClient, options ...Option) (*Repo, error) {
	if client == nil {
		return nil, errors.New("[redisrepo.New] redis client is required")
	}
	r := &Repo{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
		nowFunc:   time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

func (r *Repo) key(id string) string {
	return r.keyPrefix + ":" + id
}

func (r *Repo) Save(ctx context.Context, s *sessions.Session) error {
	ttl := s.ExpiresAt.Sub(r.nowFunc())
	if ttl <= 0 {
		return r.Delete(ctx, s.ID)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session marshal %q: %w", s.ID, err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("session save %q: %w", s.ID, err)
	}
	return nil
}

func (r *Repo) Load(ctx context.Context, id string) (*sessions.Session, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", id, sessions.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session load %q: %w", id, err)
	}

	var s sessions.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("session unmarshal %q: %w", id, err)
	}
	return &s, nil
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("session delete %q: %w", id, err)
	}
	return nil
}

// DeleteExpired catches sessions whose stored expiry has passed but whose key
// TTL has not fired yet.
func (r *Repo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, r.keyPrefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("session scan get %q: %w", key, err)
		}
		var s sessions.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			return removed, fmt.Errorf("session unmarshal %q: %w", key, err)
		}
		if s.Expired(now) {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("session delete %q: %w", key, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("session scan: %w", err)
	}
	return removed, nil
}
