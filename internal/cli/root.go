// Package cli implements the reflex CLI commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rcliao/reflex/internal/config"
	"github.com/rcliao/reflex/internal/otel"
)

// Version is set at build time.
var Version = "dev"

var (
	dbPath       string
	formatFlag   string
	cfgFile      string
	logLevel     string
	logFormat    string
	verbose      bool
	otelFlag     bool
	otelShutdown func(context.Context) error
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "reflex",
	Short: "Reflex response cache in front of a slow responder",
	Long: `reflex answers familiar inputs instantly from a cache of patterns ("reflexes"),
asks a fallback generator otherwise, and learns new reflexes from its answers.
Full cognition is the last resort and always answers.`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()

		shutdown, err := otel.Setup("reflex", Version, otelFlag, os.Stderr)
		if err != nil {
			return fmt.Errorf("initializing OpenTelemetry: %w", err)
		}
		otelShutdown = shutdown
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $REFLEX_DB or ~/.reflex/reflex.db)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./reflex.config.yaml or ~/.reflex/reflex.config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	RootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	RootCmd.PersistentFlags().BoolVar(&otelFlag, "otel", false, "enable OpenTelemetry (traces and metrics to stderr)")

	_ = viper.BindPFlag(config.KeyDB, RootCmd.PersistentFlags().Lookup("db"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".reflex"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("reflex.config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("REFLEX")
	viper.AutomaticEnv()

	// The config file is optional.
	_ = viper.ReadInConfig()
}

func setupLogging() {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	// Logs go to stderr so stdout stays clean for piping.
	if logFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// Execute runs the root command and flushes telemetry on exit.
func Execute() error {
	err := RootCmd.Execute()
	if otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(ctx)
	}
	return err
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
