// Package guard turns request credentials into an authenticated principal
// using either server-side sessions or bearer tokens.
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/jrsteele09/cognito-guard/cache"
	"github.com/jrsteele09/cognito-guard/identity"
	"github.com/jrsteele09/cognito-guard/internal/flight"
	"github.com/jrsteele09/cognito-guard/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTimeout = 2 * time.Second

// TokenValidator verifies raw tokens and maintains the revocation list.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*auth.Principal, error)
	Revoke(p *auth.Principal)
}

type CredentialCache interface {
	Get(tokenHash string) (*cache.Entry, bool)
	Put(tokenHash string, entry cache.Entry, ttl time.Duration)
	Invalidate(tokenHash string) bool
}

type SessionStore interface {
	Create(ctx context.Context, principal *auth.Principal, tokens *identity.TokenSet) (string, error)
	Get(ctx context.Context, id string) (*sessions.Session, error)
	Touch(ctx context.Context, id string) (*sessions.Session, error)
	Update(ctx context.Context, id string, mutate func(*sessions.Session) error) (*sessions.Session, error)
	Destroy(ctx context.Context, id string) error
}

type Config struct {
	Strategy Strategy
	// Timeout bounds every call that reaches the identity provider.
	Timeout time.Duration
	// CacheTTL is how long a validated token is served from the cache. Zero
	// uses the cache's default.
	CacheTTL       time.Duration
	AutoRefresh    bool
	RevokeOnLogout bool
}

type Dependencies struct {
	Validator TokenValidator
	Cache     CredentialCache
	Sessions  SessionStore
	Identity  identity.Client
}

type checkFunc func(ctx context.Context, req RequestContext) (*auth.Principal, error)

type Guard struct {
	cfg       Config
	validator TokenValidator
	cache     CredentialCache
	sessions  SessionStore
	idp       identity.Client
	check     checkFunc

	validations *flight.Group[*auth.Principal]
	refreshes   *flight.Group[*auth.Principal]

	observers []Observer
	validate  *validator.Validate
	tracer    trace.Tracer
	nowFunc   func() time.Time
	log       zerolog.Logger
}

type Option func(*Guard)

func WithObservers(observers ...Observer) Option {
	return func(g *Guard) { g.observers = append(g.observers, observers...) }
}

func WithNowFunc(now func() time.Time) Option {
	return func(g *Guard) { g.nowFunc = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Guard) { g.log = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(g *Guard) { g.tracer = t }
}

func New(cfg Config, deps Dependencies, options ...Option) (*Guard, error) {
	if deps.Validator == nil {
		return nil, errors.New("[guard.New] token validator is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("[guard.New] credential cache is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("[guard.New] session store is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("[guard.New] identity client is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	g := &Guard{
		cfg:         cfg,
		validator:   deps.Validator,
		cache:       deps.Cache,
		sessions:    deps.Sessions,
		idp:         deps.Identity,
		validations: flight.NewGroup[*auth.Principal](cfg.Timeout),
		refreshes:   flight.NewGroup[*auth.Principal](cfg.Timeout),
		validate:    validator.New(),
		tracer:      otel.Tracer("github.com/jrsteele09/cognito-guard/guard"),
		nowFunc:     time.Now,
		log:         log.Logger.With().Str("component", "guard").Str("strategy", cfg.Strategy.String()).Logger(),
	}

	checks := map[Strategy]checkFunc{
		SessionStrategy: g.checkSession,
		TokenStrategy:   g.checkToken,
	}
	check, ok := checks[cfg.Strategy]
	if !ok {
		return nil, errors.New("[guard.New] unknown strategy " + cfg.Strategy.String())
	}
	g.check = check

	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

func (g *Guard) Strategy() Strategy {
	return g.cfg.Strategy
}

// Check runs one authentication attempt for req. The returned Attempt is
// always terminal.
func (g *Guard) Check(ctx context.Context, req RequestContext) *Attempt {
	ctx, span := g.tracer.Start(ctx, "guard.Check",
		trace.WithAttributes(attribute.String("guard.strategy", g.cfg.Strategy.String())))
	defer span.End()

	a := NewAttempt(g.cfg.Strategy)
	_ = a.Begin()

	p, err := g.check(ctx, req)
	if err != nil {
		_ = a.Fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, auth.KindOf(err).String())
		if auth.KindOf(err) != auth.Cancelled {
			g.publish(Event{Kind: EventFailed, Err: err})
		}
		g.log.Debug().Err(err).Msg("authentication failed")
		return a
	}

	_ = a.Succeed(p)
	span.SetAttributes(attribute.String("auth.subject", p.Subject))
	return a
}

// Authenticate is Check reduced to its result.
func (g *Guard) Authenticate(ctx context.Context, req RequestContext) (*auth.Principal, error) {
	a := g.Check(ctx, req)
	return a.Principal(), a.Err()
}

func (g *Guard) checkToken(ctx context.Context, req RequestContext) (*auth.Principal, error) {
	const op = "guard.checkToken"
	raw, ok := req.BearerToken()
	if !ok {
		return nil, auth.Errorf(auth.NotFound, op, "no bearer token")
	}

	hash := cache.HashToken(raw)
	if e, ok := g.cache.Get(hash); ok {
		return e.Principal.Clone(), nil
	}

	p, _, err := g.validations.Do(ctx, hash, func(ctx context.Context) (*auth.Principal, error) {
		p, err := g.validator.Validate(ctx, raw)
		if err != nil {
			return nil, err
		}
		g.cache.Put(hash, cache.Entry{Credential: auth.CredentialFor(hash, p), Principal: p}, g.cfg.CacheTTL)
		return p, nil
	})
	if err != nil {
		return nil, auth.Classify(op, err, auth.ProviderUnavailable)
	}
	return p.Clone(), nil
}

func (g *Guard) checkSession(ctx context.Context, req RequestContext) (*auth.Principal, error) {
	const op = "guard.checkSession"
	id, ok := req.SessionID()
	if !ok {
		return nil, auth.Errorf(auth.NotFound, op, "no session id")
	}

	sess, err := g.sessions.Touch(ctx, id)
	if err != nil {
		return nil, auth.Classify(op, err, auth.ProviderUnavailable)
	}
	if g.cfg.AutoRefresh && sess.AccessExpired(g.nowFunc()) {
		return g.Refresh(ctx, id)
	}
	return sess.Principal.Clone(), nil
}

// Refresh exchanges a session's refresh token for new tokens. Concurrent
// calls for one session share a single exchange and its result.
func (g *Guard) Refresh(ctx context.Context, sessionID string) (*auth.Principal, error) {
	const op = "guard.Refresh"
	ctx, span := g.tracer.Start(ctx, op)
	defer span.End()

	p, shared, err := g.refreshes.Do(ctx, sessionID, func(ctx context.Context) (*auth.Principal, error) {
		return g.refresh(ctx, sessionID)
	})
	span.SetAttributes(attribute.Bool("guard.refresh.shared", shared))
	if err != nil {
		err = auth.Classify(op, err, auth.ProviderUnavailable)
		span.RecordError(err)
		span.SetStatus(codes.Error, auth.KindOf(err).String())
		return nil, err
	}
	return p.Clone(), nil
}

func (g *Guard) refresh(ctx context.Context, sessionID string) (*auth.Principal, error) {
	const op = "guard.refresh"
	sess, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	tokens, err := g.idp.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		err = auth.Classify(op, err, auth.ProviderUnavailable)
		if auth.KindOf(err) == auth.RefreshExpired {
			if derr := g.sessions.Destroy(ctx, sessionID); derr != nil {
				g.log.Err(derr).Str("session", sessionID).Msg("failed to destroy session with dead refresh token")
			}
		}
		g.publish(Event{Kind: EventFailed, SessionID: sessionID, Subject: sess.Subject, Err: err})
		return nil, err
	}

	p, err := g.validator.Validate(ctx, tokens.AccessToken)
	if err != nil {
		g.publish(Event{Kind: EventFailed, SessionID: sessionID, Subject: sess.Subject, Err: err})
		return nil, err
	}

	updated, err := g.sessions.Update(ctx, sessionID, func(s *sessions.Session) error {
		s.Subject = p.Subject
		s.Principal = p
		s.AccessToken = tokens.AccessToken
		s.AccessExpiresAt = tokens.ExpiresAt
		if tokens.IDToken != "" {
			s.IDToken = tokens.IDToken
		}
		if tokens.RefreshToken != "" && tokens.RefreshToken != s.RefreshToken {
			s.RefreshToken = tokens.RefreshToken
			if !tokens.RefreshExpiresAt.IsZero() {
				s.RefreshExpiresAt = tokens.RefreshExpiresAt
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sess.AccessToken != "" {
		g.cache.Invalidate(cache.HashToken(sess.AccessToken))
	}
	g.publish(Event{Kind: EventRefresh, SessionID: sessionID, Subject: p.Subject})
	g.log.Debug().Str("session", sessionID).Time("access_expires", updated.AccessExpiresAt).Msg("session refreshed")
	return updated.Principal, nil
}

// Login authenticates credentials with the identity provider and opens a
// session for the resulting principal.
func (g *Guard) Login(ctx context.Context, credentials identity.Credentials) (string, *auth.Principal, error) {
	const op = "guard.Login"
	ctx, span := g.tracer.Start(ctx, op)
	defer span.End()

	sessionID, p, err := g.login(ctx, credentials)
	if err != nil {
		err = auth.Classify(op, err, auth.ProviderUnavailable)
		span.RecordError(err)
		span.SetStatus(codes.Error, auth.KindOf(err).String())
		if auth.KindOf(err) != auth.Cancelled {
			g.publish(Event{Kind: EventFailed, Subject: credentials.Username, Err: err})
		}
		return "", nil, err
	}
	g.publish(Event{Kind: EventLogin, SessionID: sessionID, Subject: p.Subject})
	return sessionID, p, nil
}

func (g *Guard) login(ctx context.Context, credentials identity.Credentials) (string, *auth.Principal, error) {
	const op = "guard.login"
	if err := g.validate.Struct(credentials); err != nil {
		return "", nil, auth.NewError(auth.InvalidCredentials, op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	tokens, err := g.idp.Authenticate(callCtx, credentials)
	if err != nil {
		return "", nil, err
	}

	p, err := g.validator.Validate(callCtx, tokens.AccessToken)
	if err != nil {
		return "", nil, err
	}

	sessionID, err := g.sessions.Create(ctx, p, tokens)
	if err != nil {
		return "", nil, err
	}
	hash := cache.HashToken(tokens.AccessToken)
	g.cache.Put(hash, cache.Entry{Credential: auth.CredentialFor(hash, p), Principal: p}, g.cfg.CacheTTL)
	return sessionID, p.Clone(), nil
}

// Logout destroys a session, drops its cached access token and revokes the
// token id locally. With RevokeOnLogout the refresh token is also revoked at
// the provider; that call is best-effort.
func (g *Guard) Logout(ctx context.Context, sessionID string) error {
	const op = "guard.Logout"
	ctx, span := g.tracer.Start(ctx, op)
	defer span.End()

	sess, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		err = auth.Classify(op, err, auth.ProviderUnavailable)
		span.RecordError(err)
		return err
	}
	if err := g.sessions.Destroy(ctx, sessionID); err != nil {
		return auth.Classify(op, err, auth.ProviderUnavailable)
	}
	if sess.AccessToken != "" {
		g.cache.Invalidate(cache.HashToken(sess.AccessToken))
	}
	g.validator.Revoke(sess.Principal)

	if g.cfg.RevokeOnLogout {
		revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.Timeout)
		defer cancel()
		if err := g.idp.Revoke(revokeCtx, sess.RefreshToken); err != nil {
			g.log.Warn().Err(err).Str("session", sessionID).Msg("refresh token revocation failed")
		}
	}

	g.publish(Event{Kind: EventLogout, SessionID: sessionID, Subject: sess.Subject})
	return nil
}

func (g *Guard) publish(e Event) {
	if len(g.observers) == 0 {
		return
	}
	e.Strategy = g.cfg.Strategy
	e.At = g.nowFunc()
	for _, obs := range g.observers {
		obs(e)
	}
}
