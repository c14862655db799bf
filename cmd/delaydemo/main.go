package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"flight-delay-demo/internal/cfg"
	"flight-delay-demo/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	// Global flags
	configFile string
	logLevel   string
	jsonLogs   bool

	settings cfg.Settings
)

var rootCmd = &cobra.Command{
	Use:   "delaydemo",
	Short: "Dual-model flight delay predictions with explanations",
	Long: `delaydemo scores flights with a random forest and a logistic regression,
explains each model's decision and recommends which one to follow.

Model artifacts are located through CONFIG_FILE (YAML) or environment
variables; a .env file in the working directory is loaded first.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		if configFile != "" {
			os.Setenv(common.EnvConfigFile, configFile)
		}

		var err error
		settings, err = cfg.Load()
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		if logLevel != "" {
			settings.LogLevel = logLevel
		}
		return setupLogging(settings.LogLevel, !jsonLogs)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "write JSON logs instead of console output")

	rootCmd.AddCommand(serveCmd, predictCmd, reconcileCmd, versionCmd)
}

func setupLogging(level string, console bool) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "delaydemo", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("delaydemo failed")
	}
}
