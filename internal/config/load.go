package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "COGNITO_"

// setting is one config key, its default, and the environment variables that
// set it. Unprefixed names are kept for PORT, ENV and APP_NAME.
type setting struct {
	key  string
	def  any
	envs []string
}

var settings = []setting{
	{"env", "DEV", []string{envPrefix + "ENV", "ENV"}},
	{"appName", "Cognito Guard", []string{envPrefix + "APP_NAME", "APP_NAME"}},
	{"port", "8080", []string{envPrefix + "PORT", "PORT"}},
	{"logLevel", "info", []string{envPrefix + "LOG_LEVEL"}},
	{"region", "", []string{envPrefix + "REGION", "AWS_REGION"}},
	{"poolId", "", []string{envPrefix + "POOL_ID"}},
	{"clientId", "", []string{envPrefix + "CLIENT_ID"}},
	{"clientSecret", "", []string{envPrefix + "CLIENT_SECRET"}},
	{"issuerUrl", "", []string{envPrefix + "ISSUER_URL"}},
	{"cacheTtlSeconds", 300, []string{envPrefix + "CACHE_TTL_SECONDS"}},
	{"cacheMaxEntries", 10000, []string{envPrefix + "CACHE_MAX_ENTRIES"}},
	{"sessionTtlSeconds", 3600, []string{envPrefix + "SESSION_TTL_SECONDS"}},
	{"refreshTokenTtlSeconds", 2592000, []string{envPrefix + "REFRESH_TOKEN_TTL_SECONDS"}},
	{"validationTimeoutMs", 2000, []string{envPrefix + "VALIDATION_TIMEOUT_MS"}},
	{"keyCacheTtlSeconds", 3600, []string{envPrefix + "KEY_CACHE_TTL_SECONDS"}},
	{"keyRefreshWindowSeconds", 300, []string{envPrefix + "KEY_REFRESH_WINDOW_SECONDS"}},
	{"clockSkewSeconds", 0, []string{envPrefix + "CLOCK_SKEW_SECONDS"}},
	{"sessionBackend", BackendMemory, []string{envPrefix + "SESSION_BACKEND"}},
	{"boltPath", "./data/sessions.db", []string{envPrefix + "BOLT_PATH"}},
	{"redisAddr", "", []string{envPrefix + "REDIS_ADDR"}},
	{"redisPassword", "", []string{envPrefix + "REDIS_PASSWORD"}},
	{"redisDb", 0, []string{envPrefix + "REDIS_DB"}},
	{"redisPrefix", "cognito-guard:session", []string{envPrefix + "REDIS_PREFIX"}},
	{"guards", []string{"session", "token"}, []string{envPrefix + "GUARDS"}},
	{"autoRefresh", false, []string{envPrefix + "AUTO_REFRESH"}},
	{"revokeOnLogout", true, []string{envPrefix + "REVOKE_ON_LOGOUT"}},
	{"sessionCookie", "session_id", []string{envPrefix + "SESSION_COOKIE"}},
}

type loadOptions struct {
	configFile string
	envFile    string
}

type LoadOption func(*loadOptions)

// WithConfigFile reads a YAML, JSON or TOML file under the environment.
func WithConfigFile(path string) LoadOption {
	return func(o *loadOptions) { o.configFile = path }
}

// WithEnvFile loads a dotenv file before reading the environment. Variables
// already set win.
func WithEnvFile(path string) LoadOption {
	return func(o *loadOptions) { o.envFile = path }
}

// Load builds Settings from defaults, an optional config file, an optional
// .env file and the environment, in increasing precedence, then validates it.
func Load(options ...LoadOption) (*Settings, error) {
	opts := loadOptions{envFile: ".env"}
	for _, opt := range options {
		opt(&opts)
	}

	if opts.envFile != "" {
		if _, err := os.Stat(opts.envFile); err == nil {
			if err := godotenv.Load(opts.envFile); err != nil {
				return nil, fmt.Errorf("[config.Load] loading %s: %w", opts.envFile, err)
			}
		}
	}

	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(append([]string{s.key}, s.envs...)...); err != nil {
			return nil, fmt.Errorf("[config.Load] binding %s: %w", s.key, err)
		}
	}

	if opts.configFile != "" {
		v.SetConfigFile(opts.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("[config.Load] reading %s: %w", opts.configFile, err)
		}
	}

	var cfg Settings
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("[config.Load] decoding settings: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and reports every failing key.
func Validate(cfg *Settings) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("[config.Validate] %w", err)
	}
	msgs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Errorf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("[config.Validate] invalid configuration: %w", errors.Join(msgs...))
}
