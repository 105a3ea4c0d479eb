package config

import "time"

type Config interface {
	EnvConfig
	CognitoConfig
	CacheConfig
	SessionConfig
	GuardConfig
}

type EnvConfig interface {
	GetEnv() string
	IsDev() bool
	GetAppName() string
	GetPort() string
	GetLogLevel() string
}

type CognitoConfig interface {
	GetRegion() string
	GetPoolID() string
	GetClientID() string
	GetClientSecret() string
	// GetIssuer is issuerUrl when set, otherwise the user pool's issuer.
	GetIssuer() string
	GetValidationTimeout() time.Duration
	GetKeyCacheTTL() time.Duration
	GetKeyRefreshWindow() time.Duration
	GetClockSkew() time.Duration
}

type CacheConfig interface {
	GetCacheTTL() time.Duration
	GetCacheMaxEntries() int
}

type SessionConfig interface {
	GetSessionTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetSessionBackend() string
	GetBoltPath() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
	GetSessionCookie() string
}

type GuardConfig interface {
	GetGuards() []string
	GetAutoRefresh() bool
	GetRevokeOnLogout() bool
}
