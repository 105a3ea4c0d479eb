package token_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/jrsteele09/cognito-guard/identity"
	"github.com/jrsteele09/cognito-guard/identity/identityfake"
	"github.com/jrsteele09/cognito-guard/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRegion   = "eu-west-1"
	testPoolID   = "eu-west-1_TESTPOOL"
	testClientID = "client-123"
	testSubject  = "user-1"
)

var testIssuer = token.CognitoIssuer(testRegion, testPoolID)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testFixture struct {
	clock     *clock
	idp       *identityfake.Client
	revoked   *token.InMemoryRevokedTokenCache
	validator *token.Validator
}

func setupTestFixture(t *testing.T, configure ...func(*token.Config)) *testFixture {
	t.Helper()

	clk := &clock{t: time.Now()}
	idp, err := identityfake.New(testIssuer, testClientID, identityfake.WithNowFunc(clk.Now))
	require.NoError(t, err)

	cfg := token.Config{
		Issuer:        testIssuer,
		ClientID:      testClientID,
		Timeout:       2 * time.Second,
		KeyTTL:        time.Hour,
		RefreshWindow: 5 * time.Minute,
	}
	for _, fn := range configure {
		fn(&cfg)
	}

	revoked := token.NewInMemoryRevokedTokenCache(clk.Now)
	v, err := token.NewValidator(cfg, idp, token.WithNowFunc(clk.Now), token.WithRevokedTokenCache(revoked))
	require.NoError(t, err)

	return &testFixture{clock: clk, idp: idp, revoked: revoked, validator: v}
}

func (f *testFixture) mint(t *testing.T, options ...identityfake.ClaimOption) string {
	t.Helper()
	raw, err := f.idp.MintAccessToken(testSubject, options...)
	require.NoError(t, err)
	return raw
}

func TestCognitoIssuer(t *testing.T) {
	require.Equal(t, "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_TESTPOOL", testIssuer)
}

func TestNewValidator_MissingConfig(t *testing.T) {
	idp, err := identityfake.New(testIssuer, testClientID)
	require.NoError(t, err)

	_, err = token.NewValidator(token.Config{ClientID: testClientID}, idp)
	require.ErrorContains(t, err, "issuer is required")

	_, err = token.NewValidator(token.Config{Issuer: testIssuer}, idp)
	require.ErrorContains(t, err, "client id is required")

	_, err = token.NewValidator(token.Config{Issuer: testIssuer, ClientID: testClientID}, nil)
	require.ErrorContains(t, err, "key source is required")
}

func TestValidate_AccessToken(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.mint(t, identityfake.WithClaim("cognito:groups", []string{"admins", "staff"}))

	p, err := f.validator.Validate(context.Background(), raw)

	require.NoError(t, err)
	require.Equal(t, testSubject, p.Subject)
	require.Equal(t, testSubject, p.Username)
	require.Equal(t, testIssuer, p.Issuer)
	require.Equal(t, testClientID, p.ClientID)
	require.Equal(t, auth.TokenUseAccess, p.TokenUse)
	require.Equal(t, []string{"openid", "profile"}, p.Scopes)
	require.Equal(t, []string{"admins", "staff"}, p.Groups)
	require.NotEmpty(t, p.TokenID)
	require.WithinDuration(t, f.clock.Now().Add(time.Hour), p.ExpiresAt, time.Second)
	require.Nil(t, p.Attributes)
}

func TestValidate_IDToken(t *testing.T) {
	f := setupTestFixture(t)
	raw, err := f.idp.MintIDToken(testSubject)
	require.NoError(t, err)

	p, err := f.validator.Validate(context.Background(), raw)

	require.NoError(t, err)
	require.Equal(t, auth.TokenUseID, p.TokenUse)
	require.Equal(t, testClientID, p.ClientID)
	require.Equal(t, testSubject, p.Username)
	require.Equal(t, testSubject+"@example.com", p.Attributes["email"])
	require.Equal(t, true, p.Attributes["email_verified"])
}

func TestValidate_Idempotent(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.mint(t)

	first, err := f.validator.Validate(context.Background(), raw)
	require.NoError(t, err)
	for range 5 {
		again, err := f.validator.Validate(context.Background(), raw)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Equal(t, int64(1), f.idp.KeyFetches())
}

func TestValidate_ExpiredTenSecondsAgo(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.mint(t, identityfake.WithExpiry(f.clock.Now().Add(-10*time.Second)))

	_, err := f.validator.Validate(context.Background(), raw)

	require.ErrorIs(t, err, auth.ErrExpired)
}

func TestValidate_LeewayAcceptsRecentExpiry(t *testing.T) {
	f := setupTestFixture(t, func(c *token.Config) { c.Leeway = 30 * time.Second })
	raw := f.mint(t, identityfake.WithExpiry(f.clock.Now().Add(-10*time.Second)))

	_, err := f.validator.Validate(context.Background(), raw)

	require.NoError(t, err)
}

func TestValidate_BadIssuerDoesNotFetchKeys(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.mint(t, identityfake.WithClaim("iss", "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_OTHER"))

	_, err := f.validator.Validate(context.Background(), raw)

	require.ErrorIs(t, err, auth.ErrBadIssuer)
	require.Zero(t, f.idp.KeyFetches())
}

func TestValidate_BadSignatureRefreshIsRateLimited(t *testing.T) {
	f := setupTestFixture(t)
	forger, err := identity.GenerateRSAKeyPair(f.idp.SigningKey().KeyID, 2048)
	require.NoError(t, err)
	forged, err := forger.Sign(jwt.MapClaims{
		"iss":       testIssuer,
		"sub":       testSubject,
		"client_id": testClientID,
		"token_use": "access",
		"exp":       f.clock.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	_, err = f.validator.Validate(context.Background(), forged)
	require.ErrorIs(t, err, auth.ErrBadSignature)
	// initial load plus one forced refresh
	require.Equal(t, int64(2), f.idp.KeyFetches())

	_, err = f.validator.Validate(context.Background(), forged)
	require.ErrorIs(t, err, auth.ErrBadSignature)
	require.Equal(t, int64(2), f.idp.KeyFetches())

	f.clock.Advance(6 * time.Minute)
	_, err = f.validator.Validate(context.Background(), forged)
	require.ErrorIs(t, err, auth.ErrBadSignature)
	require.Equal(t, int64(3), f.idp.KeyFetches())
}

func TestValidate_Malformed(t *testing.T) {
	f := setupTestFixture(t)

	noKid := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": testIssuer, "sub": testSubject})
	noKidRaw, err := noKid.SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"one segment", "abc"},
		{"two segments", "abc.def"},
		{"empty segment", "abc..def"},
		{"not base64 json", "abc.def.ghi"},
		{"missing kid", noKidRaw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.validator.Validate(context.Background(), tt.raw)
			require.ErrorIs(t, err, auth.ErrMalformed)
		})
	}
	require.Zero(t, f.idp.KeyFetches())
}

func TestValidate_SymmetricAlgorithmRejected(t *testing.T) {
	f := setupTestFixture(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": testIssuer, "sub": testSubject})
	tok.Header["kid"] = f.idp.SigningKey().KeyID
	raw, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = f.validator.Validate(context.Background(), raw)

	require.ErrorIs(t, err, auth.ErrBadSignature)
	require.Zero(t, f.idp.KeyFetches())
}

func TestValidate_AudienceMismatch(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.validator.Validate(context.Background(), f.mint(t, identityfake.WithClaim("client_id", "someone-else")))
	require.ErrorIs(t, err, auth.ErrBadAudience)

	_, err = f.validator.Validate(context.Background(), f.mint(t, identityfake.WithClaim("token_use", "refresh")))
	require.ErrorIs(t, err, auth.ErrBadAudience)

	idRaw, err := f.idp.MintIDToken(testSubject, identityfake.WithClaim("aud", "someone-else"))
	require.NoError(t, err)
	_, err = f.validator.Validate(context.Background(), idRaw)
	require.ErrorIs(t, err, auth.ErrBadAudience)
}

func TestValidate_AccessOnly(t *testing.T) {
	f := setupTestFixture(t, func(c *token.Config) { c.TokenUses = []auth.TokenUse{auth.TokenUseAccess} })
	idRaw, err := f.idp.MintIDToken(testSubject)
	require.NoError(t, err)

	_, err = f.validator.Validate(context.Background(), idRaw)

	require.ErrorIs(t, err, auth.ErrBadAudience)
}

func TestValidate_KeyRotation(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.validator.Validate(context.Background(), f.mint(t))
	require.NoError(t, err)

	_, err = f.idp.Rotate()
	require.NoError(t, err)
	p, err := f.validator.Validate(context.Background(), f.mint(t))

	require.NoError(t, err)
	require.Equal(t, testSubject, p.Subject)
	require.Equal(t, int64(2), f.idp.KeyFetches())
}

func TestValidate_StaleKeysReload(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.mint(t, identityfake.WithExpiry(f.clock.Now().Add(3*time.Hour)))
	_, err := f.validator.Validate(context.Background(), raw)
	require.NoError(t, err)

	f.clock.Advance(61 * time.Minute)
	_, err = f.validator.Validate(context.Background(), raw)

	require.NoError(t, err)
	require.Equal(t, int64(2), f.idp.KeyFetches())
}

func TestValidate_ConcurrentSingleKeyFetch(t *testing.T) {
	f := setupTestFixture(t)
	f.idp.SetKeysHook(func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	raw := f.mint(t)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.validator.Validate(context.Background(), raw)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), f.idp.KeyFetches())
}

func TestValidate_ProviderUnavailableTimesOut(t *testing.T) {
	f := setupTestFixture(t, func(c *token.Config) { c.Timeout = 500 * time.Millisecond })
	f.idp.SetKeysHook(identityfake.BlockUntilDone)
	raw := f.mint(t)

	start := time.Now()
	_, err := f.validator.Validate(context.Background(), raw)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, auth.ErrProviderUnavailable)
	require.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
	require.Less(t, elapsed, 2*time.Second)
}

func TestValidate_CallerCancellation(t *testing.T) {
	f := setupTestFixture(t)
	release := make(chan struct{})
	f.idp.SetKeysHook(func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	raw := f.mint(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := f.validator.Validate(ctx, raw)
	require.ErrorIs(t, err, auth.ErrCancelled)

	// the shared fetch carried on and completes for later callers
	close(release)
	require.Eventually(t, func() bool {
		_, err := f.validator.Validate(context.Background(), raw)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, int64(1), f.idp.KeyFetches())
}

func TestValidate_RevokedToken(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.mint(t)
	p, err := f.validator.Validate(context.Background(), raw)
	require.NoError(t, err)

	f.validator.Revoke(p)
	_, err = f.validator.Validate(context.Background(), raw)

	require.ErrorIs(t, err, auth.ErrRevoked)
}
