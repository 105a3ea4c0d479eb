// Package sessionstest holds the behaviour every sessions.Repo must share.
package sessionstest

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/cognito-guard/auth"
	"github.com/jrsteele09/cognito-guard/sessions"
	"github.com/stretchr/testify/require"
)

// NewSession builds a session expiring in ttl from now, truncated to the
// second so it survives JSON round trips unchanged.
func NewSession(id string, now time.Time, ttl time.Duration) *sessions.Session {
	now = now.UTC().Truncate(time.Second)
	return &sessions.Session{
		ID:      id,
		Subject: "user-" + id,
		Principal: &auth.Principal{
			Subject:   "user-" + id,
			Username:  "user-" + id,
			Issuer:    "https://issuer.example.com",
			TokenUse:  auth.TokenUseAccess,
			Scopes:    []string{"openid"},
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Hour),
		},
		AccessToken:      "access-" + id,
		RefreshToken:     "refresh-" + id,
		AccessExpiresAt:  now.Add(time.Hour),
		RefreshExpiresAt: now.Add(30 * 24 * time.Hour),
		CreatedAt:        now,
		LastActivity:     now,
		ExpiresAt:        now.Add(ttl),
	}
}

// RunRepoTests exercises a Repo implementation. newRepo must return an empty
// repo for each call.
func RunRepoTests(t *testing.T, newRepo func(t *testing.T) sessions.Repo) {
	ctx := context.Background()

	t.Run("save and load", func(t *testing.T) {
		repo := newRepo(t)
		want := NewSession("s1", time.Now(), time.Hour)

		require.NoError(t, repo.Save(ctx, want))
		got, err := repo.Load(ctx, "s1")

		require.NoError(t, err)
		require.Equal(t, want, got)
	})

	t.Run("load unknown", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Load(ctx, "missing")
		require.ErrorIs(t, err, sessions.ErrNotFound)
	})

	t.Run("save replaces", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("s1", time.Now(), time.Hour)
		require.NoError(t, repo.Save(ctx, s))

		s.RefreshToken = "rotated"
		require.NoError(t, repo.Save(ctx, s))

		got, err := repo.Load(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, "rotated", got.RefreshToken)
	})

	t.Run("stored copy is isolated", func(t *testing.T) {
		repo := newRepo(t)
		s := NewSession("s1", time.Now(), time.Hour)
		require.NoError(t, repo.Save(ctx, s))

		s.Principal.Scopes[0] = "mutated"
		got, err := repo.Load(ctx, "s1")
		require.NoError(t, err)
		got.Subject = "mutated"

		again, err := repo.Load(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, "openid", again.Principal.Scopes[0])
		require.Equal(t, "user-s1", again.Subject)
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, NewSession("s1", time.Now(), time.Hour)))

		require.NoError(t, repo.Delete(ctx, "s1"))
		require.NoError(t, repo.Delete(ctx, "s1"))

		_, err := repo.Load(ctx, "s1")
		require.ErrorIs(t, err, sessions.ErrNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		repo := newRepo(t)
		now := time.Now()
		require.NoError(t, repo.Save(ctx, NewSession("short", now, time.Hour)))
		require.NoError(t, repo.Save(ctx, NewSession("long", now, 3*time.Hour)))

		removed, err := repo.DeleteExpired(ctx, now.Add(2*time.Hour))

		require.NoError(t, err)
		require.Equal(t, 1, removed)
		_, err = repo.Load(ctx, "short")
		require.ErrorIs(t, err, sessions.ErrNotFound)
		_, err = repo.Load(ctx, "long")
		require.NoError(t, err)
	})
}
