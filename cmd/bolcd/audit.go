package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/bolcd/condense-engine/internal/audit"
	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/internal/logging"
)

var auditFlags struct {
	limit int
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit hash chain",
	RunE:  runAuditVerify,
}

func init() {
	auditVerifyCmd.Flags().IntVar(&auditFlags.limit, "limit", 0, "verify only the last N entries (0 = all)")
	auditCmd.AddCommand(auditVerifyCmd)
}

func runAuditVerify(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	base := logging.New(cfg.Framework.LogLevel, cfg.Framework.LogFormat, os.Stderr)

	log, err := audit.OpenFileLog(filepath.Join(cfg.Storage.DataDir, "audit.log"), clockwork.NewRealClock(), logging.Component(base, "audit"))
	if err != nil {
		return err
	}
	report, err := log.VerifyChain(auditFlags.limit)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !report.OK {
		return errs.New(errs.KindConsistency, "audit chain broken at entry %d: %s", report.FailureIndex, report.Reason)
	}
	return nil
}
