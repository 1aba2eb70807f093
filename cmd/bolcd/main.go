package main

import (
	"errors"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev" // set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "bolcd",
	Short: "Event-implication graph learning and alert condensation engine",
	Long: `bolcd learns an event-implication graph over boolean event metrics and
uses it to condense a high-volume alert stream: correlated consequent
alerts are suppressed inside a near-window, with safety guards and a
late-replay reconciler that surfaces suppressed alerts which later look
dangerous.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./bolcd.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	rootCmd.AddCommand(recomputeCmd)
	rootCmd.AddCommand(writebackCmd)
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(retentionCmd)
	rootCmd.AddCommand(auditCmd)
}

// rootLogger builds the process logger from the global flags.
func rootLogger() zerolog.Logger {
	return logging.New(logLevel, "text", os.Stderr)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootLogger().Error().Err(err).Msg("command failed")
		if errors.Is(err, errs.ErrValidation) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
