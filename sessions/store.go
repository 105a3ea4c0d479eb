package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/jrsteele09/cognito-guard/identity"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store owns session lifecycle. Every operation on one session id is
// serialized; a session's expiry never passes its refresh token's expiry.
type Store struct {
	repo    Repo
	ttl     time.Duration
	nowFunc func() time.Time
	locks   *keyLocks
	log     zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type StoreOption func(*Store)

func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) { s.nowFunc = now }
}

func WithLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

func NewStore(repo Repo, ttl time.Duration, options ...StoreOption) (*Store, error) {
	if repo == nil {
		return nil, errors.New("[NewStore] session repo is required")
	}
	if ttl <= 0 {
		return nil, errors.New("[NewStore] session ttl must be positive")
	}
	s := &Store{
		repo:    repo,
		ttl:     ttl,
		nowFunc: time.Now,
		locks:   newKeyLocks(),
		log:     log.Logger.With().Str("component", "sessions").Logger(),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Create starts a session for principal backed by tokens' refresh token.
func (s *Store) Create(ctx context.Context, principal *auth.Principal, tokens *identity.TokenSet) (string, error) {
	const op = "Store.Create"
	if principal == nil {
		return "", errors.New("[Store.Create] principal is required")
	}
	if tokens == nil || tokens.RefreshToken == "" {
		return "", errors.New("[Store.Create] refresh token is required")
	}

	now := s.nowFunc()
	if !now.Before(tokens.RefreshExpiresAt) {
		return "", auth.Errorf(auth.RefreshExpired, op, "refresh token expired at %s", tokens.RefreshExpiresAt)
	}

	sess := &Session{
		ID:               uuid.NewString(),
		Subject:          principal.Subject,
		Principal:        principal.Clone(),
		AccessToken:      tokens.AccessToken,
		IDToken:          tokens.IDToken,
		RefreshToken:     tokens.RefreshToken,
		AccessExpiresAt:  tokens.ExpiresAt,
		RefreshExpiresAt: tokens.RefreshExpiresAt,
		CreatedAt:        now,
		LastActivity:     now,
	}
	sess.slide(now, s.ttl)

	if err := s.repo.Save(ctx, sess); err != nil {
		return "", fmt.Errorf("[Store.Create] saving session: %w", err)
	}
	s.log.Debug().Str("session", sess.ID).Str("sub", sess.Subject).Time("expires", sess.ExpiresAt).Msg("session created")
	return sess.ID, nil
}

// Get returns a live session. An expired session is destroyed and reported
// as NotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	return s.liveLocked(ctx, "Store.Get", id)
}

// Touch records activity and slides expiry, capped at the refresh token's
// expiry.
func (s *Store) Touch(ctx context.Context, id string) (*Session, error) {
	return s.Update(ctx, id, func(*Session) error { return nil })
}

// Update applies mutate to a live session and saves it. Activity and expiry
// are updated after mutate, so a new refresh token expiry takes effect.
func (s *Store) Update(ctx context.Context, id string, mutate func(*Session) error) (*Session, error) {
	const op = "Store.Update"
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.liveLocked(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(sess); err != nil {
		return nil, err
	}
	sess.ID = id

	now := s.nowFunc()
	if !now.Before(sess.RefreshExpiresAt) {
		s.deleteLocked(ctx, id)
		return nil, auth.Errorf(auth.RefreshExpired, op, "refresh token expired at %s", sess.RefreshExpiresAt)
	}
	sess.LastActivity = now
	sess.slide(now, s.ttl)

	if err := s.repo.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("[Store.Update] saving session: %w", err)
	}
	return sess.Clone(), nil
}

// Destroy removes a session. It is not an error if it does not exist.
func (s *Store) Destroy(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("[Store.Destroy] %w", err)
	}
	return nil
}

// Sweep deletes every expired session.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpired(ctx, s.nowFunc())
	if err != nil {
		return 0, fmt.Errorf("[Store.Sweep] %w", err)
	}
	return n, nil
}

// StartJanitor sweeps expired sessions every interval until Stop.
func (s *Store) StartJanitor(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				n, err := s.Sweep(context.Background())
				if err != nil {
					s.log.Err(err).Msg("session sweep failed")
					continue
				}
				if n > 0 {
					s.log.Debug().Int("removed", n).Msg("expired sessions swept")
				}
			}
		}
	}()
}

// Stop ends the janitor. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Store) liveLocked(ctx context.Context, op, id string) (*Session, error) {
	sess, err := s.repo.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, auth.Errorf(auth.NotFound, op, "session %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] loading session: %w", op, err)
	}
	if sess.Expired(s.nowFunc()) {
		s.deleteLocked(ctx, id)
		return nil, auth.Errorf(auth.NotFound, op, "session %s expired", id)
	}
	return sess, nil
}

func (s *Store) deleteLocked(ctx context.Context, id string) {
	if err := s.repo.Delete(ctx, id); err != nil {
		s.log.Err(err).Str("session", id).Msg("failed to delete expired session")
	}
}
