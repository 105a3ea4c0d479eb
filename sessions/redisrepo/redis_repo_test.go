package redisrepo_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/cognito-guard/sessions"
	"github.com/jrsteele09/cognito-guard/sessions/redisrepo"
	"github.com/jrsteele09/cognito-guard/sessions/sessionstest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, options ...redisrepo.Option) (*redisrepo.Repo, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo, err := redisrepo.New(client, options...)
	require.NoError(t, err)
	return repo, mini
}

func TestRedisRepo(t *testing.T) {
	sessionstest.RunRepoTests(t, func(t *testing.T) sessions.Repo {
		repo, _ := newTestRepo(t)
		return repo
	})
}

func TestRedisRepo_KeyTTLFollowsSessionExpiry(t *testing.T) {
	repo, mini := newTestRepo(t, redisrepo.WithKeyPrefix("test"))
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sessionstest.NewSession("s1", time.Now(), 10*time.Minute)))
	require.True(t, mini.Exists("test:s1"))
	ttl := mini.TTL("test:s1")
	require.Greater(t, ttl, 9*time.Minute)
	require.LessOrEqual(t, ttl, 10*time.Minute)

	mini.FastForward(11 * time.Minute)
	_, err := repo.Load(ctx, "s1")
	require.ErrorIs(t, err, sessions.ErrNotFound)
}

func TestRedisRepo_SaveExpiredSessionDeletes(t *testing.T) {
	repo, mini := newTestRepo(t)
	ctx := context.Background()
	s := sessionstest.NewSession("s1", time.Now(), time.Hour)
	require.NoError(t, repo.Save(ctx, s))

	s.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, repo.Save(ctx, s))

	require.False(t, mini.Exists(redisrepo.DefaultKeyPrefix+":s1"))
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := redisrepo.New(nil)
	require.Error(t, err)
}
