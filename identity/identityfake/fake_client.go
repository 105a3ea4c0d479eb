// Package identityfake is an in-memory identity provider that signs real JWTs.
// It counts calls and lets tests inject latency or failures.
package identityfake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/jrsteele09/cognito-guard/identity"
)

// Hook runs before a call does its work. A non-nil error is returned to the
// caller unchanged.
type Hook func(ctx context.Context) error

type user struct {
	password string
	subject  string
}

type grant struct {
	subject   string
	username  string
	expiresAt time.Time
}

type Client struct {
	issuer     string
	clientID   string
	nowFunc    func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration

	mu          sync.Mutex
	keys        []*identity.KeyPair
	users       map[string]user
	grants      map[string]grant
	keysHook    Hook
	refreshHook Hook
	authHook    Hook

	authCalls    atomic.Int64
	refreshCalls atomic.Int64
	keyCalls     atomic.Int64
	revokeCalls  atomic.Int64
}

var _ identity.Client = (*Client)(nil)

type Option func(*Client)

func WithNowFunc(now func() time.Time) Option {
	return func(c *Client) { c.nowFunc = now }
}

func WithTokenTTLs(access, refresh time.Duration) Option {
	return func(c *Client) {
		c.accessTTL = access
		c.refreshTTL = refresh
	}
}

// New creates a fake provider for issuer/clientID with one RSA signing key.
func New(issuer, clientID string, options ...Option) (*Client, error) {
	c := &Client{
		issuer:     issuer,
		clientID:   clientID,
		nowFunc:    time.Now,
		accessTTL:  time.Hour,
		refreshTTL: 30 * 24 * time.Hour,
		users:      make(map[string]user),
		grants:     make(map[string]grant),
	}
	for _, opt := range options {
		opt(c)
	}
	if _, err := c.Rotate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Issuer() string   { return c.issuer }
func (c *Client) ClientID() string { return c.clientID }

// Rotate adds a new signing key; tokens minted afterwards use it.
func (c *Client) Rotate() (*identity.KeyPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kp, err := identity.GenerateRSAKeyPair(fmt.Sprintf("key-%d", len(c.keys)+1), 2048)
	if err != nil {
		return nil, err
	}
	c.keys = append(c.keys, kp)
	return kp, nil
}

// SigningKey returns the key new tokens are signed with.
func (c *Client) SigningKey() *identity.KeyPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[len(c.keys)-1]
}

func (c *Client) AddUser(username, password, subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[username] = user{password: password, subject: subject}
}

func (c *Client) SetKeysHook(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keysHook = h
}

func (c *Client) SetRefreshHook(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshHook = h
}

func (c *Client) SetAuthenticateHook(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authHook = h
}

func (c *Client) AuthCalls() int64    { return c.authCalls.Load() }
func (c *Client) RefreshCalls() int64 { return c.refreshCalls.Load() }
func (c *Client) KeyFetches() int64   { return c.keyCalls.Load() }
func (c *Client) RevokeCalls() int64  { return c.revokeCalls.Load() }

// ClaimOption adjusts the claims of a minted token.
type ClaimOption func(jwt.MapClaims)

func WithExpiry(exp time.Time) ClaimOption {
	return func(m jwt.MapClaims) { m["exp"] = exp.Unix() }
}

func WithClaim(name string, value any) ClaimOption {
	return func(m jwt.MapClaims) {
		if value == nil {
			delete(m, name)
			return
		}
		m[name] = value
	}
}

// MintAccessToken signs a Cognito-shaped access token for subject.
func (c *Client) MintAccessToken(subject string, options ...ClaimOption) (string, error) {
	now := c.nowFunc()
	claims := jwt.MapClaims{
		"iss":       c.issuer,
		"sub":       subject,
		"client_id": c.clientID,
		"token_use": string(auth.TokenUseAccess),
		"scope":     "openid profile",
		"username":  subject,
		"jti":       uuid.NewString(),
		"iat":       now.Unix(),
		"auth_time": now.Unix(),
		"exp":       now.Add(c.accessTTL).Unix(),
	}
	for _, opt := range options {
		opt(claims)
	}
	return c.SigningKey().Sign(claims)
}

// MintIDToken signs a Cognito-shaped ID token for subject.
func (c *Client) MintIDToken(subject string, options ...ClaimOption) (string, error) {
	now := c.nowFunc()
	claims := jwt.MapClaims{
		"iss":              c.issuer,
		"sub":              subject,
		"aud":              c.clientID,
		"token_use":        string(auth.TokenUseID),
		"cognito:username": subject,
		"email":            subject + "@example.com",
		"email_verified":   true,
		"iat":              now.Unix(),
		"exp":              now.Add(c.accessTTL).Unix(),
	}
	for _, opt := range options {
		opt(claims)
	}
	return c.SigningKey().Sign(claims)
}

// IssueRefreshToken registers a refresh grant directly, bypassing Authenticate.
func (c *Client) IssueRefreshToken(subject string, expiresAt time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt := uuid.NewString()
	c.grants[rt] = grant{subject: subject, username: subject, expiresAt: expiresAt}
	return rt
}

func (c *Client) Authenticate(ctx context.Context, credentials identity.Credentials) (*identity.TokenSet, error) {
	const op = "identityfake.Authenticate"
	c.authCalls.Add(1)
	if err := c.runHook(ctx, &c.authHook); err != nil {
		return nil, err
	}

	c.mu.Lock()
	u, ok := c.users[credentials.Username]
	c.mu.Unlock()
	if !ok || u.password != credentials.Password {
		return nil, auth.Errorf(auth.InvalidCredentials, op, "unknown user or wrong password")
	}

	rt := c.IssueRefreshToken(u.subject, c.nowFunc().Add(c.refreshTTL))
	return c.tokenSet(u.subject, rt)
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*identity.TokenSet, error) {
	const op = "identityfake.Refresh"
	c.refreshCalls.Add(1)
	if err := c.runHook(ctx, &c.refreshHook); err != nil {
		return nil, err
	}

	c.mu.Lock()
	g, ok := c.grants[refreshToken]
	c.mu.Unlock()
	if !ok {
		return nil, auth.Errorf(auth.RefreshExpired, op, "refresh token not recognised")
	}
	if !c.nowFunc().Before(g.expiresAt) {
		return nil, auth.Errorf(auth.RefreshExpired, op, "refresh token expired at %s", g.expiresAt)
	}
	return c.tokenSet(g.subject, refreshToken)
}

func (c *Client) SigningKeys(ctx context.Context, issuer string) (*identity.KeySet, error) {
	const op = "identityfake.SigningKeys"
	c.keyCalls.Add(1)
	if err := c.runHook(ctx, &c.keysHook); err != nil {
		return nil, err
	}
	if issuer != c.issuer {
		return nil, auth.Errorf(auth.BadIssuer, op, "unknown issuer %q", issuer)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]identity.Key, 0, len(c.keys))
	for _, kp := range c.keys {
		keys = append(keys, kp.Key())
	}
	return identity.NewKeySet(c.issuer, c.nowFunc(), keys...), nil
}

func (c *Client) Revoke(ctx context.Context, token string) error {
	c.revokeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.grants, token)
	return nil
}

// GrantActive reports whether refreshToken is still usable.
func (c *Client) GrantActive(refreshToken string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.grants[refreshToken]
	return ok
}

func (c *Client) tokenSet(subject, refreshToken string) (*identity.TokenSet, error) {
	access, err := c.MintAccessToken(subject)
	if err != nil {
		return nil, err
	}
	id, err := c.MintIDToken(subject)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	g := c.grants[refreshToken]
	c.mu.Unlock()

	return &identity.TokenSet{
		AccessToken:      access,
		IDToken:          id,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresAt:        c.nowFunc().Add(c.accessTTL),
		RefreshExpiresAt: g.expiresAt,
	}, nil
}

func (c *Client) runHook(ctx context.Context, h *Hook) error {
	c.mu.Lock()
	hook := *h
	c.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// BlockUntilDone is a Hook that simulates an unresponsive provider: it waits
// for the call's context to end.
func BlockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
