package token_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/cognito-guard/token"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRevokedTokenCache(t *testing.T) {
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := token.NewInMemoryRevokedTokenCache(clk.Now)

	cache.Add("jti-short", clk.Now().Add(time.Minute))
	cache.Add("jti-long", clk.Now().Add(time.Hour))
	cache.Add("", clk.Now().Add(time.Hour))

	require.True(t, cache.IsRevoked("jti-short"))
	require.True(t, cache.IsRevoked("jti-long"))
	require.False(t, cache.IsRevoked("jti-other"))
	require.Equal(t, 2, cache.Len())

	clk.Advance(2 * time.Minute)
	require.Equal(t, 1, cache.Cleanup())

	require.False(t, cache.IsRevoked("jti-short"))
	require.True(t, cache.IsRevoked("jti-long"))
}
