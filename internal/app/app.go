// Package app wires configuration into a running guard engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jrsteele09/cognito-guard/cache"
	"github.com/jrsteele09/cognito-guard/guard"
	"github.com/jrsteele09/cognito-guard/identity"
	"github.com/jrsteele09/cognito-guard/identity/oidcclient"
	"github.com/jrsteele09/cognito-guard/internal/config"
	"github.com/jrsteele09/cognito-guard/sessions"
	"github.com/jrsteele09/cognito-guard/sessions/boltrepo"
	"github.com/jrsteele09/cognito-guard/sessions/memrepo"
	"github.com/jrsteele09/cognito-guard/sessions/redisrepo"
	"github.com/jrsteele09/cognito-guard/token"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const housekeepingInterval = time.Minute

// App holds every long-lived component. Nothing here is package global.
type App struct {
	Config    config.Config
	Identity  identity.Client
	Validator *token.Validator
	Revoked   *token.InMemoryRevokedTokenCache
	Cache     *cache.CredentialCache
	Sessions  *sessions.Store
	Guards    map[guard.Strategy]*guard.Guard

	log       zerolog.Logger
	closers   []func() error
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type options struct {
	identity  identity.Client
	observers []guard.Observer
	nowFunc   func() time.Time
	interval  time.Duration
}

type Option func(*options)

// WithIdentityClient replaces the OIDC client, e.g. with identityfake.
func WithIdentityClient(c identity.Client) Option {
	return func(o *options) { o.identity = c }
}

func WithObservers(observers ...guard.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, observers...) }
}

func WithNowFunc(now func() time.Time) Option {
	return func(o *options) { o.nowFunc = now }
}

// WithHousekeepingInterval sets how often expired sessions, cache entries and
// revocations are swept.
func WithHousekeepingInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("[app.New] config is required")
	}
	o := options{nowFunc: time.Now, interval: housekeepingInterval}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config: cfg,
		Guards: make(map[guard.Strategy]*guard.Guard),
		log:    log.Logger.With().Str("component", "app").Logger(),
		stopCh: make(chan struct{}),
	}
	if err := a.build(ctx, o); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.startHousekeeping(o.interval)
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.Config

	a.Identity = o.identity
	if a.Identity == nil {
		client, err := oidcclient.New(oidcclient.Config{
			Issuer:          cfg.GetIssuer(),
			ClientID:        cfg.GetClientID(),
			ClientSecret:    cfg.GetClientSecret(),
			RefreshTokenTTL: cfg.GetRefreshTokenTTL(),
		}, oidcclient.WithNowFunc(o.nowFunc))
		if err != nil {
			return fmt.Errorf("[app.New] %w", err)
		}
		a.Identity = client
	}

	a.Revoked = token.NewInMemoryRevokedTokenCache(o.nowFunc)
	validator, err := token.NewValidator(token.Config{
		Issuer:        cfg.GetIssuer(),
		ClientID:      cfg.GetClientID(),
		Leeway:        cfg.GetClockSkew(),
		Timeout:       cfg.GetValidationTimeout(),
		KeyTTL:        cfg.GetKeyCacheTTL(),
		RefreshWindow: cfg.GetKeyRefreshWindow(),
	}, a.Identity, token.WithNowFunc(o.nowFunc), token.WithRevokedTokenCache(a.Revoked))
	if err != nil {
		return fmt.Errorf("[app.New] %w", err)
	}
	a.Validator = validator

	a.Cache, err = cache.New(cfg.GetCacheMaxEntries(), cfg.GetCacheTTL(), cache.WithNowFunc(o.nowFunc))
	if err != nil {
		return fmt.Errorf("[app.New] %w", err)
	}

	repo, err := a.sessionRepo(ctx)
	if err != nil {
		return err
	}
	a.Sessions, err = sessions.NewStore(repo, cfg.GetSessionTTL(), sessions.WithNowFunc(o.nowFunc))
	if err != nil {
		return fmt.Errorf("[app.New] %w", err)
	}

	strategies, err := guard.ParseStrategies(cfg.GetGuards())
	if err != nil {
		return fmt.Errorf("[app.New] %w", err)
	}
	deps := guard.Dependencies{Validator: a.Validator, Cache: a.Cache, Sessions: a.Sessions, Identity: a.Identity}
	for _, s := range strategies {
		g, err := guard.New(guard.Config{
			Strategy:       s,
			Timeout:        cfg.GetValidationTimeout(),
			CacheTTL:       cfg.GetCacheTTL(),
			AutoRefresh:    cfg.GetAutoRefresh(),
			RevokeOnLogout: cfg.GetRevokeOnLogout(),
		}, deps, guard.WithNowFunc(o.nowFunc), guard.WithObservers(o.observers...))
		if err != nil {
			return fmt.Errorf("[app.New] %w", err)
		}
		a.Guards[s] = g
	}
	return nil
}

func (a *App) sessionRepo(ctx context.Context) (sessions.Repo, error) {
	cfg := a.Config
	switch cfg.GetSessionBackend() {
	case config.BackendMemory, "":
		return memrepo.New(), nil

	case config.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.GetBoltPath()), 0o700); err != nil {
			return nil, fmt.Errorf("[app.New] creating bolt directory: %w", err)
		}
		repo, err := boltrepo.Open(cfg.GetBoltPath())
		if err != nil {
			return nil, fmt.Errorf("[app.New] %w", err)
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("[app.New] redis ping %s: %w", cfg.GetRedisAddr(), err)
		}
		return redisrepo.New(client, redisrepo.WithKeyPrefix(cfg.GetRedisPrefix()))
	}
	return nil, fmt.Errorf("[app.New] unknown session backend %q", cfg.GetSessionBackend())
}

// Guard returns the configured guard for s.
func (a *App) Guard(s guard.Strategy) (*guard.Guard, bool) {
	g, ok := a.Guards[s]
	return g, ok
}

// AnyGuard returns a configured guard, preferring the session guard, for
// operations such as Login that do not depend on the strategy.
func (a *App) AnyGuard() *guard.Guard {
	if g, ok := a.Guards[guard.SessionStrategy]; ok {
		return g
	}
	return a.Guards[guard.TokenStrategy]
}

func (a *App) startHousekeeping(interval time.Duration) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.stopCh:
				return
			case <-ticker.C:
				a.Housekeep(context.Background())
			}
		}
	}()
}

// Housekeep drops expired sessions, cache entries and revocations.
func (a *App) Housekeep(ctx context.Context) {
	sessionsRemoved, err := a.Sessions.Sweep(ctx)
	if err != nil {
		a.log.Err(err).Msg("session sweep failed")
	}
	cacheRemoved := a.Cache.Purge()
	revokedRemoved := a.Revoked.Cleanup()
	if sessionsRemoved+cacheRemoved+revokedRemoved > 0 {
		a.log.Debug().
			Int("sessions", sessionsRemoved).
			Int("credentials", cacheRemoved).
			Int("revocations", revokedRemoved).
			Msg("housekeeping")
	}
}

// Close stops housekeeping and releases storage. Safe to call more than once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		close(a.stopCh)
		a.wg.Wait()
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
