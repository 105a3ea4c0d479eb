package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/cognito-guard/internal/config"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("COGNITO_REGION", "eu-west-1")
	t.Setenv("COGNITO_POOL_ID", "eu-west-1_TESTPOOL")
	t.Setenv("COGNITO_CLIENT_ID", "client-123")
	// empty values count as unset
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.Load(config.WithEnvFile(""))
	require.NoError(t, err)

	require.Equal(t, "DEV", cfg.GetEnv())
	require.True(t, cfg.IsDev())
	require.Equal(t, ":8080", cfg.GetPort())
	require.Equal(t, "info", cfg.GetLogLevel())
	require.Equal(t, "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_TESTPOOL", cfg.GetIssuer())
	require.Equal(t, 5*time.Minute, cfg.GetCacheTTL())
	require.Equal(t, 10000, cfg.GetCacheMaxEntries())
	require.Equal(t, time.Hour, cfg.GetSessionTTL())
	require.Equal(t, 30*24*time.Hour, cfg.GetRefreshTokenTTL())
	require.Equal(t, 2*time.Second, cfg.GetValidationTimeout())
	require.Equal(t, time.Hour, cfg.GetKeyCacheTTL())
	require.Equal(t, 5*time.Minute, cfg.GetKeyRefreshWindow())
	require.Zero(t, cfg.GetClockSkew())
	require.Equal(t, config.BackendMemory, cfg.GetSessionBackend())
	require.Equal(t, []string{"session", "token"}, cfg.GetGuards())
	require.False(t, cfg.GetAutoRefresh())
	require.True(t, cfg.GetRevokeOnLogout())
	require.Equal(t, "session_id", cfg.GetSessionCookie())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", ":9000")
	t.Setenv("COGNITO_CACHE_TTL_SECONDS", "60")
	t.Setenv("COGNITO_VALIDATION_TIMEOUT_MS", "500")
	t.Setenv("COGNITO_GUARDS", "cognito-token")
	t.Setenv("COGNITO_AUTO_REFRESH", "true")
	t.Setenv("COGNITO_REVOKE_ON_LOGOUT", "false")

	cfg, err := config.Load(config.WithEnvFile(""))
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.GetPort())
	require.Equal(t, time.Minute, cfg.GetCacheTTL())
	require.Equal(t, 500*time.Millisecond, cfg.GetValidationTimeout())
	require.Equal(t, []string{"cognito-token"}, cfg.GetGuards())
	require.True(t, cfg.GetAutoRefresh())
	require.False(t, cfg.GetRevokeOnLogout())
}

func TestLoad_ConfigFileUnderEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("COGNITO_SESSION_TTL_SECONDS", "120")
	path := writeFile(t, "guard.yaml", `
sessionTtlSeconds: 900
sessionBackend: redis
redisAddr: localhost:6379
issuerUrl: https://idp.example.com/
`)

	cfg, err := config.Load(config.WithConfigFile(path), config.WithEnvFile(""))
	require.NoError(t, err)

	require.Equal(t, 2*time.Minute, cfg.GetSessionTTL())
	require.Equal(t, config.BackendRedis, cfg.GetSessionBackend())
	require.Equal(t, "localhost:6379", cfg.GetRedisAddr())
	require.Equal(t, "https://idp.example.com", cfg.GetIssuer())
}

func TestLoad_EnvFile(t *testing.T) {
	path := writeFile(t, ".env", "COGNITO_REGION=us-east-1\nCOGNITO_POOL_ID=us-east-1_ABC\nCOGNITO_CLIENT_ID=from-dotenv\n")
	// Registered so t.Setenv restores the variables godotenv sets.
	t.Setenv("COGNITO_REGION", "")
	t.Setenv("COGNITO_POOL_ID", "")
	t.Setenv("COGNITO_CLIENT_ID", "")
	os.Unsetenv("COGNITO_REGION")
	os.Unsetenv("COGNITO_POOL_ID")
	os.Unsetenv("COGNITO_CLIENT_ID")

	cfg, err := config.Load(config.WithEnvFile(path))
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", cfg.GetClientID())
	require.Equal(t, "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_ABC", cfg.GetIssuer())
}

func TestLoad_MissingConfigFile(t *testing.T) {
	setRequiredEnv(t)
	_, err := config.Load(config.WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")), config.WithEnvFile(""))
	require.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"client id", map[string]string{"COGNITO_CLIENT_ID": ""}, "ClientID"},
		{"pool without issuer", map[string]string{"COGNITO_POOL_ID": ""}, "PoolID"},
		{"redis without addr", map[string]string{"COGNITO_SESSION_BACKEND": "redis"}, "RedisAddr"},
		{"unknown backend", map[string]string{"COGNITO_SESSION_BACKEND": "postgres"}, "SessionBackend"},
		{"unknown guard", map[string]string{"COGNITO_GUARDS": "session,basic"}, "Guards[1]"},
		{"zero timeout", map[string]string{"COGNITO_VALIDATION_TIMEOUT_MS": "0"}, "ValidationTimeoutMs"},
		{"log level", map[string]string{"COGNITO_LOG_LEVEL": "loud"}, "LogLevel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(config.WithEnvFile(""))
			require.ErrorContains(t, err, tt.want)
		})
	}
}
