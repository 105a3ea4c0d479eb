package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/cognito-guard/token"
)

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// Settings is the loaded configuration. Field tags name the config keys.
type Settings struct {
	Env      string `mapstructure:"env" validate:"required"`
	AppName  string `mapstructure:"appName"`
	Port     string `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"logLevel" validate:"oneof=trace debug info warn error"`

	Region       string `mapstructure:"region" validate:"required_without=IssuerURL"`
	PoolID       string `mapstructure:"poolId" validate:"required_without=IssuerURL"`
	ClientID     string `mapstructure:"clientId" validate:"required"`
	ClientSecret string `mapstructure:"clientSecret"`
	IssuerURL    string `mapstructure:"issuerUrl" validate:"omitempty,url"`

	CacheTTLSeconds         int `mapstructure:"cacheTtlSeconds" validate:"gt=0"`
	CacheMaxEntries         int `mapstructure:"cacheMaxEntries" validate:"gt=0"`
	SessionTTLSeconds       int `mapstructure:"sessionTtlSeconds" validate:"gt=0"`
	RefreshTokenTTLSeconds  int `mapstructure:"refreshTokenTtlSeconds" validate:"gt=0"`
	ValidationTimeoutMs     int `mapstructure:"validationTimeoutMs" validate:"gt=0"`
	KeyCacheTTLSeconds      int `mapstructure:"keyCacheTtlSeconds" validate:"gt=0"`
	KeyRefreshWindowSeconds int `mapstructure:"keyRefreshWindowSeconds" validate:"gte=0"`
	ClockSkewSeconds        int `mapstructure:"clockSkewSeconds" validate:"gte=0"`

	SessionBackend string `mapstructure:"sessionBackend" validate:"oneof=memory bolt redis"`
	BoltPath       string `mapstructure:"boltPath" validate:"required_if=SessionBackend bolt"`
	RedisAddr      string `mapstructure:"redisAddr" validate:"required_if=SessionBackend redis"`
	RedisPassword  string `mapstructure:"redisPassword"`
	RedisDB        int    `mapstructure:"redisDb" validate:"gte=0"`
	RedisPrefix    string `mapstructure:"redisPrefix"`
	SessionCookie  string `mapstructure:"sessionCookie" validate:"required"`

	Guards         []string `mapstructure:"guards" validate:"min=1,dive,oneof=session cognito-session token cognito-token"`
	AutoRefresh    bool     `mapstructure:"autoRefresh"`
	RevokeOnLogout bool     `mapstructure:"revokeOnLogout"`
}

var _ Config = (*Settings)(nil)

func (s *Settings) GetEnv() string      { return s.Env }
func (s *Settings) IsDev() bool         { return strings.EqualFold(s.Env, "DEV") }
func (s *Settings) GetAppName() string  { return s.AppName }
func (s *Settings) GetLogLevel() string { return s.LogLevel }

// GetPort returns the listen address, e.g. ":8080".
func (s *Settings) GetPort() string {
	if strings.HasPrefix(s.Port, ":") {
		return s.Port
	}
	return fmt.Sprintf(":%s", s.Port)
}

func (s *Settings) GetRegion() string       { return s.Region }
func (s *Settings) GetPoolID() string       { return s.PoolID }
func (s *Settings) GetClientID() string     { return s.ClientID }
func (s *Settings) GetClientSecret() string { return s.ClientSecret }

func (s *Settings) GetIssuer() string {
	if s.IssuerURL != "" {
		return strings.TrimSuffix(s.IssuerURL, "/")
	}
	return token.CognitoIssuer(s.Region, s.PoolID)
}

func (s *Settings) GetValidationTimeout() time.Duration {
	return time.Duration(s.ValidationTimeoutMs) * time.Millisecond
}

func (s *Settings) GetKeyCacheTTL() time.Duration {
	return seconds(s.KeyCacheTTLSeconds)
}

func (s *Settings) GetKeyRefreshWindow() time.Duration {
	return seconds(s.KeyRefreshWindowSeconds)
}

func (s *Settings) GetClockSkew() time.Duration {
	return seconds(s.ClockSkewSeconds)
}

func (s *Settings) GetCacheTTL() time.Duration { return seconds(s.CacheTTLSeconds) }
func (s *Settings) GetCacheMaxEntries() int    { return s.CacheMaxEntries }

func (s *Settings) GetSessionTTL() time.Duration      { return seconds(s.SessionTTLSeconds) }
func (s *Settings) GetRefreshTokenTTL() time.Duration { return seconds(s.RefreshTokenTTLSeconds) }
func (s *Settings) GetSessionBackend() string         { return s.SessionBackend }
func (s *Settings) GetBoltPath() string               { return s.BoltPath }
func (s *Settings) GetRedisAddr() string              { return s.RedisAddr }
func (s *Settings) GetRedisPassword() string          { return s.RedisPassword }
func (s *Settings) GetRedisDB() int                   { return s.RedisDB }
func (s *Settings) GetRedisPrefix() string            { return s.RedisPrefix }
func (s *Settings) GetSessionCookie() string          { return s.SessionCookie }

func (s *Settings) GetGuards() []string     { return s.Guards }
func (s *Settings) GetAutoRefresh() bool    { return s.AutoRefresh }
func (s *Settings) GetRevokeOnLogout() bool { return s.RevokeOnLogout }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
