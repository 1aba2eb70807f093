package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/bolcd/condense-engine/internal/config"
	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/internal/logging"
	"github.com/bolcd/condense-engine/internal/shadow"
	"github.com/bolcd/condense-engine/pkg/models"
)

var shadowFlags struct {
	alerts    string
	graphPath string
	candidate string
}

var shadowCmd = &cobra.Command{
	Use:   "shadow",
	Short: "Compare a candidate policy against the active one on recorded alerts",
	RunE:  runShadow,
}

func init() {
	f := shadowCmd.Flags()
	f.StringVar(&shadowFlags.alerts, "alerts", "data/alerts.jsonl", "JSONL alert stream")
	f.StringVar(&shadowFlags.graphPath, "graph", "graph.json", "graph JSON both arms decide against")
	f.StringVar(&shadowFlags.candidate, "candidate", "", "candidate config YAML (required)")
	rootCmd.AddCommand(shadowCmd)
}

func runShadow(cmd *cobra.Command, _ []string) error {
	if shadowFlags.candidate == "" {
		return errs.New(errs.KindValidation, "--candidate config is required")
	}

	active, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	candidate, err := config.Load(shadowFlags.candidate)
	if err != nil {
		return err
	}
	base := logging.New(active.Framework.LogLevel, active.Framework.LogFormat, os.Stderr)

	g, err := graph.ReadJSONFile(shadowFlags.graphPath)
	if err != nil {
		return err
	}

	alerts, err := readAlerts(shadowFlags.alerts)
	if err != nil {
		return err
	}

	ev := shadow.NewEvaluator(clockwork.NewRealClock(), logging.Component(base, "shadow"))
	rep := ev.Evaluate(active, candidate, graph.NewSnapshot(g), alerts)
	path, err := ev.WriteReport(rep, active.Storage.ReportsDir)
	if err != nil {
		return err
	}

	fmt.Printf("wrote %s\n", path)
	fmt.Printf("arm A (%s): %.1f%% suppressed; arm B (%s): %.1f%%; delta %.1f%%\n",
		rep.ArmA.Policy, rep.ArmA.Reduction*100,
		rep.ArmB.Policy, rep.ArmB.Reduction*100,
		rep.Delta*100)
	return nil
}

func readAlerts(path string) ([]models.Alert, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "open alerts %s", path)
	}
	defer f.Close()

	var out []models.Alert
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var a models.Alert
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			return nil, errs.Wrap(errs.KindValidation, err, "malformed alert at %s:%d", path, line)
		}
		out = append(out, a.WithID())
	}
	return out, scanner.Err()
}
