package token

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/jrsteele09/cognito-guard/internal/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Claims is the claim set of a Cognito access or ID token.
type Claims struct {
	jwt.RegisteredClaims
	TokenUse        string `json:"token_use"`
	ClientID        string `json:"client_id,omitempty"`
	Scope           string `json:"scope,omitempty"`
	Username        string `json:"username,omitempty"`
	CognitoUsername string `json:"cognito:username,omitempty"`
}

// claims copied into dedicated Principal fields rather than Attributes
var reservedClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "nbf": {}, "iat": {}, "jti": {},
	"token_use": {}, "client_id": {}, "scope": {}, "username": {},
	"cognito:username": {}, "cognito:groups": {}, "auth_time": {},
	"origin_jti": {}, "event_id": {}, "version": {},
}

var defaultAlgorithms = []string{"RS256", "RS384", "RS512", "ES256", "ES384"}

// CognitoIssuer is the issuer URL of a Cognito user pool.
func CognitoIssuer(region, poolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, poolID)
}

type Config struct {
	Issuer        string
	ClientID      string
	TokenUses     []auth.TokenUse
	Algorithms    []string
	Leeway        time.Duration
	Timeout       time.Duration
	KeyTTL        time.Duration
	RefreshWindow time.Duration
}

// Validator verifies bearer tokens against the issuer's published keys.
type Validator struct {
	issuer     string
	clientID   string
	tokenUses  []auth.TokenUse
	algorithms []string
	leeway     time.Duration
	keys       *KeyCache
	revoked    RevokedTokenCache
	nowFunc    func() time.Time
	log        zerolog.Logger
}

type ValidatorOption func(*Validator)

func WithNowFunc(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.nowFunc = now }
}

func WithRevokedTokenCache(cache RevokedTokenCache) ValidatorOption {
	return func(v *Validator) { v.revoked = cache }
}

func WithLogger(l zerolog.Logger) ValidatorOption {
	return func(v *Validator) { v.log = l }
}

func NewValidator(cfg Config, source KeySource, options ...ValidatorOption) (*Validator, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("[NewValidator] issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("[NewValidator] client id is required")
	}

	v := &Validator{
		issuer:     cfg.Issuer,
		clientID:   cfg.ClientID,
		tokenUses:  cfg.TokenUses,
		algorithms: cfg.Algorithms,
		leeway:     cfg.Leeway,
		nowFunc:    time.Now,
		log:        log.Logger.With().Str("component", "validator").Logger(),
	}
	if len(v.tokenUses) == 0 {
		v.tokenUses = []auth.TokenUse{auth.TokenUseAccess, auth.TokenUseID}
	}
	if len(v.algorithms) == 0 {
		v.algorithms = defaultAlgorithms
	}
	for _, opt := range options {
		opt(v)
	}

	keyOpts := []KeyCacheOption{
		WithFetchTimeout(cfg.Timeout),
		WithKeyCacheNowFunc(v.nowFunc),
		WithKeyCacheLogger(v.log),
	}
	if cfg.KeyTTL > 0 {
		keyOpts = append(keyOpts, WithKeyTTL(cfg.KeyTTL))
	}
	if cfg.RefreshWindow > 0 {
		keyOpts = append(keyOpts, WithRefreshWindow(cfg.RefreshWindow))
	}
	keys, err := NewKeyCache(source, cfg.Issuer, keyOpts...)
	if err != nil {
		return nil, fmt.Errorf("[NewValidator] %w", err)
	}
	v.keys = keys
	return v, nil
}

func (v *Validator) Issuer() string {
	return v.issuer
}

// Revoke adds a validated principal's token id to the revocation list.
func (v *Validator) Revoke(p *auth.Principal) {
	if v.revoked == nil || p == nil {
		return
	}
	v.revoked.Add(p.TokenID, p.ExpiresAt)
}

// Validate checks structure, issuer, revocation, signature, expiry and
// audience, in that order, and returns the token's principal.
func (v *Validator) Validate(ctx context.Context, raw string) (*auth.Principal, error) {
	const op = "token.Validate"

	raw = strings.TrimSpace(raw)
	if err := checkFormat(raw); err != nil {
		return nil, auth.NewError(auth.Malformed, op, err)
	}

	unverified := jwt.MapClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(raw, unverified)
	if err != nil {
		return nil, auth.NewError(auth.Malformed, op, err)
	}
	if kid, _ := tok.Header["kid"].(string); kid == "" {
		return nil, auth.Errorf(auth.Malformed, op, "missing kid header")
	}
	if !slices.Contains(v.algorithms, tok.Method.Alg()) {
		return nil, auth.Errorf(auth.BadSignature, op, "signing algorithm %q not accepted", tok.Method.Alg())
	}
	if iss, _ := unverified.GetIssuer(); iss != v.issuer {
		return nil, auth.Errorf(auth.BadIssuer, op, "issuer %q does not match %q", iss, v.issuer)
	}
	if jti, _ := unverified["jti"].(string); jti != "" && v.revoked != nil && v.revoked.IsRevoked(jti) {
		return nil, auth.Errorf(auth.Revoked, op, "token %s has been revoked", jti)
	}

	claims, err := v.verify(ctx, raw)
	if err != nil && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		// signature mismatch on a known kid: the provider may have re-keyed
		refreshed, rerr := v.keys.Refresh(ctx)
		if rerr != nil {
			v.log.Warn().Err(rerr).Msg("key refresh after signature failure")
		}
		if refreshed {
			claims, err = v.verify(ctx, raw)
		}
	}
	if err != nil {
		return nil, err
	}

	if err := v.checkAudience(op, claims); err != nil {
		return nil, err
	}
	return v.principal(claims, unverified), nil
}

func (v *Validator) verify(ctx context.Context, raw string) (*Claims, error) {
	const op = "token.verify"
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.Key(ctx, kid)
		if err != nil {
			return nil, err
		}
		if key.Algorithm != "" && key.Algorithm != t.Method.Alg() {
			return nil, auth.Errorf(auth.BadSignature, op, "key %q is for %s, token uses %s", kid, key.Algorithm, t.Method.Alg())
		}
		return key.Public, nil
	},
		jwt.WithValidMethods(v.algorithms),
		jwt.WithTimeFunc(v.nowFunc),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.issuer),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, classify(op, err)
	}
	return claims, nil
}

func classify(op string, err error) error {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return authErr
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return auth.NewError(auth.Expired, op, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return auth.NewError(auth.BadIssuer, op, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return auth.NewError(auth.BadSignature, op, err)
	default:
		return auth.NewError(auth.Malformed, op, err)
	}
}

func (v *Validator) checkAudience(op string, c *Claims) error {
	if c.Subject == "" {
		return auth.Errorf(auth.Malformed, op, "missing sub claim")
	}
	use := auth.TokenUse(c.TokenUse)
	if !slices.Contains(v.tokenUses, use) {
		return auth.Errorf(auth.BadAudience, op, "token_use %q not accepted", c.TokenUse)
	}
	switch use {
	case auth.TokenUseAccess:
		if c.ClientID != v.clientID {
			return auth.Errorf(auth.BadAudience, op, "client_id %q does not match", c.ClientID)
		}
	case auth.TokenUseID:
		if !slices.Contains(c.Audience, v.clientID) {
			return auth.Errorf(auth.BadAudience, op, "audience %v does not include client", []string(c.Audience))
		}
	}
	return nil
}

func (v *Validator) principal(c *Claims, raw jwt.MapClaims) *auth.Principal {
	p := &auth.Principal{
		Subject:  c.Subject,
		Username: c.Username,
		Issuer:   c.Issuer,
		ClientID: c.ClientID,
		TokenUse: auth.TokenUse(c.TokenUse),
		TokenID:  c.ID,
		Scopes:   strings.Fields(c.Scope),
	}
	if p.Username == "" {
		p.Username = c.CognitoUsername
	}
	if p.ClientID == "" && len(c.Audience) > 0 {
		p.ClientID = c.Audience[0]
	}
	p.Groups = utils.ClaimStrings(raw["cognito:groups"])
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.UTC()
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.UTC()
	}
	for name, value := range raw {
		if _, reserved := reservedClaims[name]; reserved {
			continue
		}
		if p.Attributes == nil {
			p.Attributes = make(map[string]any)
		}
		p.Attributes[name] = value
	}
	return p
}

// checkFormat is a cheap structural check done before any parsing.
func checkFormat(raw string) error {
	if raw == "" {
		return errors.New("token is empty")
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return fmt.Errorf("token has %d segments, want 3", len(parts))
	}
	for i, part := range parts {
		if len(part) == 0 {
			return fmt.Errorf("segment %d is empty", i+1)
		}
	}
	return nil
}
