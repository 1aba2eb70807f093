package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/pkg/models"
)

// Sentinel talks to the Log Analytics query API for ingest and the Sentinel
// alert-rule API shape for writeback.
type Sentinel struct {
	workspaceID string
	token       string
	client      *http.Client
	log         zerolog.Logger
}

// NewSentinel builds a Sentinel connector.
func NewSentinel(workspaceID, token string, log zerolog.Logger) *Sentinel {
	return &Sentinel{
		workspaceID: workspaceID,
		token:       token,
		client:      &http.Client{},
		log:         log.With().Str("connector", "sentinel").Logger(),
	}
}

func (s *Sentinel) Name() string { return "sentinel" }

// Ingest runs a KQL query against the workspace and flattens the primary
// table into event maps.
func (s *Sentinel) Ingest(ctx context.Context, query string) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("https://api.loganalytics.io/v1/workspaces/%s/query", s.workspaceID)

	body, err := doWithRetry(ctx, s.client, s.log, func(ctx context.Context) (*http.Request, error) {
		req, err := postJSON(ctx, endpoint, map[string]string{
			"Authorization": "Bearer " + s.token,
		}, map[string]string{"query": query})
		return req, err
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Tables []struct {
			Columns []struct {
				Name string `json:"name"`
			} `json:"columns"`
			Rows [][]any `json:"rows"`
		} `json:"tables"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	var out []map[string]any
	for _, table := range payload.Tables {
		for _, row := range table.Rows {
			ev := make(map[string]any, len(table.Columns))
			for i, col := range table.Columns {
				if i < len(row) {
					ev[col.Name] = row[i]
				}
			}
			out = append(out, NormalizeEvent(ev))
		}
	}
	return out, nil
}

// Writeback posts each rule as a scheduled analytics-rule suppression
// template.
func (s *Sentinel) Writeback(ctx context.Context, rules []models.SuppressionRule) (WritebackResult, error) {
	endpoint := fmt.Sprintf("https://management.azure.com/workspaces/%s/providers/Microsoft.SecurityInsights/alertRules", s.workspaceID)
	written := 0
	for _, r := range rules {
		kql := fmt.Sprintf("%s:* and %s:* | project suppressed=\"via %s\"",
			r.Selector.SrcField, r.Selector.DstField, r.Via)
		payload := map[string]any{
			"name": r.Name,
			"properties": map[string]any{
				"displayName":       r.Name,
				"query":             kql,
				"suppressionEnabled": true,
			},
		}
		_, err := doWithRetry(ctx, s.client, s.log, func(ctx context.Context) (*http.Request, error) {
			return postJSON(ctx, endpoint, map[string]string{
				"Authorization": "Bearer " + s.token,
			}, payload)
		})
		if err != nil {
			return WritebackResult{Status: "partial", Written: written}, err
		}
		written++
	}
	return WritebackResult{Status: "ok", Written: written}, nil
}
