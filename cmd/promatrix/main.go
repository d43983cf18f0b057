package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "promatrix"
	version = "v1.2.0"
)

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	// A local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Pump-and-dump promoter matrix engine",
		Version: version,
		Long: `promatrix consolidates promoter identities across platforms, aggregates
their dump track records, scores repeat offenders, and clusters coordinated
promotion rings from co-promotion evidence.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flagLogLevel)
		},
	}

	rootCmd.PersistentFlags().AddFlagSet(globalFlags())

	rootCmd.AddCommand(newDetectCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newScoreCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// globalFlags is the flag set shared by every subcommand.
func globalFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("global", pflag.ContinueOnError)
	fs.StringVar(&flagConfig, "config", "config.yaml", "Path to YAML configuration file")
	fs.StringVar(&flagLogLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
	return fs
}

// setupLogging picks human-readable console output on a terminal and JSON
// lines everywhere else.
func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = log.Output(os.Stderr)
	}
}
