package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/jrsteele09/cognito-guard/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "guardd",
	Short: "guardd authenticates requests against a Cognito user pool",
	Long: `guardd validates Cognito access tokens and manages login sessions
backed by Cognito refresh tokens.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
}

// loadConfig reads the configuration and sets up the global logger from it.
func loadConfig() (*config.Settings, error) {
	settings, err := config.Load(config.WithConfigFile(configFile), config.WithEnvFile(envFile))
	if err != nil {
		return nil, err
	}
	setupLogging(settings)
	return settings, nil
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
