// Package oidcclient talks to an OpenID Connect provider such as a Cognito
// user pool: discovery, password and refresh grants, JWKS and RFC 7009
// token revocation.
package oidcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/jrsteele09/cognito-guard/identity"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// DefaultRefreshTokenTTL is Cognito's default refresh token lifetime.
const DefaultRefreshTokenTTL = 30 * 24 * time.Hour

type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// RefreshTokenTTL stamps RefreshExpiresAt, which OIDC does not report.
	RefreshTokenTTL time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	nowFunc    func() time.Time
	log        zerolog.Logger

	mu        sync.Mutex
	endpoints *endpoints
}

type endpoints struct {
	oauth     *oauth2.Config
	jwksURL   string
	revokeURL string
}

var _ identity.Client = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithNowFunc(now func() time.Time) Option {
	return func(c *Client) { c.nowFunc = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(cfg Config, options ...Option) (*Client, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("[oidcclient.New] issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("[oidcclient.New] client id is required")
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		nowFunc:    time.Now,
		log:        log.Logger.With().Str("component", "oidc-client").Logger(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// discover fetches the provider metadata once. Failures are not cached.
func (c *Client) discover(ctx context.Context) (*endpoints, error) {
	const op = "oidcclient.discover"
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoints != nil {
		return c.endpoints, nil
	}

	provider, err := oidc.NewProvider(c.clientContext(ctx), c.cfg.Issuer)
	if err != nil {
		return nil, auth.Classify(op, err, auth.ProviderUnavailable)
	}
	var meta struct {
		JWKSURL   string `json:"jwks_uri"`
		RevokeURL string `json:"revocation_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, auth.NewError(auth.ProviderUnavailable, op, err)
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if c.cfg.ClientSecret != "" {
		endpoint.AuthStyle = oauth2.AuthStyleInHeader
	}

	c.endpoints = &endpoints{
		oauth: &oauth2.Config{
			ClientID:     c.cfg.ClientID,
			ClientSecret: c.cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       c.cfg.Scopes,
		},
		jwksURL:   meta.JWKSURL,
		revokeURL: meta.RevokeURL,
	}
	c.log.Info().Str("issuer", c.cfg.Issuer).Str("token_url", endpoint.TokenURL).Msg("provider discovered")
	return c.endpoints, nil
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, c.httpClient)
}

func (c *Client) Authenticate(ctx context.Context, credentials identity.Credentials) (*identity.TokenSet, error) {
	const op = "oidcclient.Authenticate"
	ep, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	tok, err := ep.oauth.PasswordCredentialsToken(c.clientContext(ctx), credentials.Username, credentials.Password)
	if err != nil {
		return nil, grantError(op, err, auth.InvalidCredentials)
	}

	ts := tokenSet(tok)
	ts.RefreshExpiresAt = c.nowFunc().Add(c.cfg.RefreshTokenTTL)
	return ts, nil
}

// Refresh redeems refreshToken. RefreshExpiresAt is only set when the
// provider rotated the refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*identity.TokenSet, error) {
	const op = "oidcclient.Refresh"
	ep, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	src := ep.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, grantError(op, err, auth.RefreshExpired)
	}

	ts := tokenSet(tok)
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	if ts.RefreshToken != refreshToken {
		ts.RefreshExpiresAt = c.nowFunc().Add(c.cfg.RefreshTokenTTL)
	}
	return ts, nil
}

func (c *Client) SigningKeys(ctx context.Context, issuer string) (*identity.KeySet, error) {
	const op = "oidcclient.SigningKeys"
	if issuer != c.cfg.Issuer {
		return nil, auth.Errorf(auth.BadIssuer, op, "client is configured for %q, not %q", c.cfg.Issuer, issuer)
	}
	ep, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}
	if ep.jwksURL == "" {
		return nil, auth.Errorf(auth.ProviderUnavailable, op, "provider does not publish jwks_uri")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.jwksURL, nil)
	if err != nil {
		return nil, auth.NewError(auth.ProviderUnavailable, op, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, auth.Classify(op, err, auth.ProviderUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, auth.Errorf(auth.ProviderUnavailable, op, "jwks request returned %s", resp.Status)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, auth.Errorf(auth.ProviderUnavailable, op, "decoding jwks: %w", err)
	}

	keys := make([]identity.Key, 0, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if !k.IsPublic() || k.KeyID == "" {
			c.log.Warn().Str("kid", k.KeyID).Msg("skipping unusable jwk")
			continue
		}
		keys = append(keys, identity.Key{ID: k.KeyID, Algorithm: k.Algorithm, Public: k.Key})
	}
	return identity.NewKeySet(issuer, c.nowFunc(), keys...), nil
}

// Revoke revokes a refresh token at the provider's revocation endpoint.
func (c *Client) Revoke(ctx context.Context, token string) error {
	const op = "oidcclient.Revoke"
	ep, err := c.discover(ctx)
	if err != nil {
		return err
	}
	if ep.revokeURL == "" {
		return auth.Errorf(auth.ProviderUnavailable, op, "provider does not publish revocation_endpoint")
	}

	form := url.Values{
		"token":           {token},
		"token_type_hint": {"refresh_token"},
	}
	if c.cfg.ClientSecret == "" {
		form.Set("client_id", c.cfg.ClientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return auth.NewError(auth.ProviderUnavailable, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.cfg.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(c.cfg.ClientID), url.QueryEscape(c.cfg.ClientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return auth.Classify(op, err, auth.ProviderUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return auth.Errorf(auth.ProviderUnavailable, op, "revocation returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func tokenSet(tok *oauth2.Token) *identity.TokenSet {
	idToken, _ := tok.Extra("id_token").(string)
	return &identity.TokenSet{
		AccessToken:  tok.AccessToken,
		IDToken:      idToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ExpiresAt:    tok.Expiry,
	}
}

// grantError maps a failed token request. Client errors from the token
// endpoint become rejected; everything else means the provider is unavailable.
func grantError(op string, err error, rejected auth.ErrorKind) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return auth.Classify(op, err, auth.ProviderUnavailable)
	}
	if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
		return auth.NewError(auth.ProviderUnavailable, op, err)
	}
	switch re.ErrorCode {
	case "invalid_grant", "invalid_request", "unauthorized_client", "":
		return auth.NewError(rejected, op, err)
	}
	return auth.NewError(auth.ProviderUnavailable, op, fmt.Errorf("%s: %w", re.ErrorCode, err))
}
