package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/logging"
	"github.com/bolcd/condense-engine/internal/retention"
)

var retentionFlags struct {
	dryRun bool
}

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Apply retention policies to the persisted data tree",
	RunE:  runRetention,
}

func init() {
	retentionCmd.Flags().BoolVar(&retentionFlags.dryRun, "dry-run", false, "report counts without mutating anything")
}

func runRetention(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	base := logging.New(cfg.Framework.LogLevel, cfg.Framework.LogFormat, os.Stderr)

	mgr := retention.NewManager(cfg.Storage.DataDir, cfg.Retention, clockwork.NewRealClock(), logging.Component(base, "retention"))
	results, err := mgr.Tick(retentionFlags.dryRun)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
