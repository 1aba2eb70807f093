package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bolcd/condense-engine/internal/connector"
	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/internal/graph"
	"github.com/bolcd/condense-engine/internal/logging"
	"github.com/bolcd/condense-engine/internal/rules"
	"github.com/bolcd/condense-engine/pkg/models"
)

var writebackFlags struct {
	rules string
	graph string
	apply bool
}

var writebackCmd = &cobra.Command{
	Use:       "writeback <splunk|sentinel|opensearch>",
	Short:     "Push derived suppression rules to a SIEM (dry-run by default)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"splunk", "sentinel", "opensearch"},
	RunE:      runWriteback,
}

func init() {
	f := writebackCmd.Flags()
	f.StringVar(&writebackFlags.rules, "rules", "", "JSON rules file; derived from --graph when omitted")
	f.StringVar(&writebackFlags.graph, "graph", "graph.json", "graph JSON to derive rules from")
	f.BoolVar(&writebackFlags.apply, "apply", false, "execute the write-back (default: dry-run)")
}

func runWriteback(cmd *cobra.Command, args []string) error {
	log := logging.Component(rootLogger(), "writeback")
	target := args[0]

	var ruleSet []models.SuppressionRule
	if writebackFlags.rules != "" {
		data, err := os.ReadFile(writebackFlags.rules)
		if err != nil {
			return errs.Wrap(errs.KindResource, err, "read rules %s", writebackFlags.rules)
		}
		if err := json.Unmarshal(data, &ruleSet); err != nil {
			return errs.Wrap(errs.KindValidation, err, "parse rules %s", writebackFlags.rules)
		}
	} else {
		g, err := graph.ReadJSONFile(writebackFlags.graph)
		if err != nil {
			return err
		}
		ruleSet = rules.Derive(g)
	}

	if !writebackFlags.apply {
		summary := map[string]any{
			"status": "dry-run",
			"target": target,
			"rules":  len(ruleSet),
		}
		if len(ruleSet) > 0 {
			summary["example"] = ruleSet[0]
		}
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	conn, err := connector.New(target, log)
	if err != nil {
		return err
	}
	res, err := conn.Writeback(context.Background(), ruleSet)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
