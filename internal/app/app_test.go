package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/cognito-guard/guard"
	"github.com/jrsteele09/cognito-guard/identity"
	"github.com/jrsteele09/cognito-guard/identity/identityfake"
	"github.com/jrsteele09/cognito-guard/internal/app"
	"github.com/jrsteele09/cognito-guard/internal/config"
	"github.com/stretchr/testify/require"
)

func testSettings() *config.Settings {
	return &config.Settings{
		Env:                     "TEST",
		Port:                    "8080",
		LogLevel:                "info",
		Region:                  "eu-west-1",
		PoolID:                  "eu-west-1_TESTPOOL",
		ClientID:                "client-123",
		CacheTTLSeconds:         300,
		CacheMaxEntries:         100,
		SessionTTLSeconds:       3600,
		RefreshTokenTTLSeconds:  86400,
		ValidationTimeoutMs:     1000,
		KeyCacheTTLSeconds:      3600,
		KeyRefreshWindowSeconds: 300,
		SessionBackend:          config.BackendMemory,
		SessionCookie:           "session_id",
		Guards:                  []string{"session", "token"},
		RevokeOnLogout:          true,
	}
}

type testFixture struct {
	settings *config.Settings
	idp      *identityfake.Client
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	s := testSettings()
	idp, err := identityfake.New(s.GetIssuer(), s.GetClientID())
	require.NoError(t, err)
	idp.AddUser("alice", "pw", "user-1")
	return &testFixture{settings: s, idp: idp}
}

func (f *testFixture) newApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithIdentityClient(f.idp)}, opts...)
	a, err := app.New(context.Background(), f.settings, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func TestNew_BuildsConfiguredGuards(t *testing.T) {
	f := setupTestFixture(t)
	a := f.newApp(t)

	sessionGuard, ok := a.Guard(guard.SessionStrategy)
	require.True(t, ok)
	require.Equal(t, guard.SessionStrategy, sessionGuard.Strategy())
	_, ok = a.Guard(guard.TokenStrategy)
	require.True(t, ok)
	require.Same(t, sessionGuard, a.AnyGuard())
}

func TestNew_TokenGuardOnly(t *testing.T) {
	f := setupTestFixture(t)
	f.settings.Guards = []string{"cognito-token"}
	a := f.newApp(t)

	_, ok := a.Guard(guard.SessionStrategy)
	require.False(t, ok)
	require.Equal(t, guard.TokenStrategy, a.AnyGuard().Strategy())
}

func TestNew_RejectsBadGuards(t *testing.T) {
	f := setupTestFixture(t)
	f.settings.Guards = []string{"basic"}
	_, err := app.New(context.Background(), f.settings, app.WithIdentityClient(f.idp))
	require.ErrorContains(t, err, "unknown guard strategy")
}

func TestLoginAndCheckAcrossGuards(t *testing.T) {
	f := setupTestFixture(t)
	a := f.newApp(t)
	ctx := context.Background()

	sid, p, err := a.AnyGuard().Login(ctx, identity.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "user-1", p.Subject)

	sessionGuard, _ := a.Guard(guard.SessionStrategy)
	require.True(t, sessionGuard.Check(ctx, guard.StaticRequest{Session: sid}).Authenticated())

	sess, err := a.Sessions.Get(ctx, sid)
	require.NoError(t, err)
	tokenGuard, _ := a.Guard(guard.TokenStrategy)
	require.True(t, tokenGuard.Check(ctx, guard.StaticRequest{Token: sess.AccessToken}).Authenticated())
}

func TestBoltBackend(t *testing.T) {
	f := setupTestFixture(t)
	f.settings.SessionBackend = config.BackendBolt
	f.settings.BoltPath = filepath.Join(t.TempDir(), "nested", "sessions.db")
	a := f.newApp(t)

	sid, _, err := a.AnyGuard().Login(context.Background(), identity.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	_, err = a.Sessions.Get(context.Background(), sid)
	require.NoError(t, err)
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	f := setupTestFixture(t)
	f.settings.SessionBackend = config.BackendRedis
	f.settings.RedisAddr = mr.Addr()
	f.settings.RedisPrefix = "test:session"
	a := f.newApp(t)

	sid, _, err := a.AnyGuard().Login(context.Background(), identity.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	require.True(t, mr.Exists("test:session:"+sid))
}

func TestRedisBackend_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	f := setupTestFixture(t)
	f.settings.SessionBackend = config.BackendRedis
	f.settings.RedisAddr = addr
	_, err := app.New(context.Background(), f.settings, app.WithIdentityClient(f.idp))
	require.ErrorContains(t, err, "redis ping")
}

func TestHousekeeping(t *testing.T) {
	s := testSettings()
	now := time.Now()
	clock := func() time.Time { return now }
	idp, err := identityfake.New(s.GetIssuer(), s.GetClientID(), identityfake.WithNowFunc(clock))
	require.NoError(t, err)
	idp.AddUser("alice", "pw", "user-1")

	ctx := context.Background()
	a, err := app.New(ctx, s, app.WithIdentityClient(idp), app.WithNowFunc(clock), app.WithHousekeepingInterval(time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	creds := identity.Credentials{Username: "alice", Password: "pw"}
	first, _, err := a.AnyGuard().Login(ctx, creds)
	require.NoError(t, err)
	_, _, err = a.AnyGuard().Login(ctx, creds)
	require.NoError(t, err)
	require.NoError(t, a.AnyGuard().Logout(ctx, first))
	require.Equal(t, 1, a.Cache.Len())
	require.Equal(t, 1, a.Revoked.Len())

	now = now.Add(2 * time.Hour)
	a.Housekeep(ctx)

	require.Zero(t, a.Cache.Len())
	require.Zero(t, a.Revoked.Len())
}

func TestClose_Idempotent(t *testing.T) {
	f := setupTestFixture(t)
	a, err := app.New(context.Background(), f.settings, app.WithIdentityClient(f.idp))
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
