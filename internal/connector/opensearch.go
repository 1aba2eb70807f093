package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/pkg/models"
)

// OpenSearch talks to the _search API for ingest and stores suppression
// rules as documents in a dedicated index for the alerting plugin to pick
// up.
type OpenSearch struct {
	endpoint string
	basic    string
	client   *http.Client
	log      zerolog.Logger
}

// NewOpenSearch builds an OpenSearch connector. basic is the base64
// user:pass pair ("" disables auth).
func NewOpenSearch(endpoint, basic string, log zerolog.Logger) *OpenSearch {
	return &OpenSearch{
		endpoint: strings.TrimRight(endpoint, "/"),
		basic:    basic,
		client:   &http.Client{},
		log:      log.With().Str("connector", "opensearch").Logger(),
	}
}

func (o *OpenSearch) Name() string { return "opensearch" }

func (o *OpenSearch) headers() map[string]string {
	h := map[string]string{}
	if o.basic != "" {
		h["Authorization"] = "Basic " + o.basic
	}
	return h
}

// Ingest runs a query_string search and returns the hit sources.
func (o *OpenSearch) Ingest(ctx context.Context, query string) ([]map[string]any, error) {
	payload := map[string]any{
		"size":  10000,
		"query": map[string]any{"query_string": map[string]any{"query": query}},
	}
	body, err := doWithRetry(ctx, o.client, o.log, func(ctx context.Context) (*http.Request, error) {
		return postJSON(ctx, o.endpoint+"/_search", o.headers(), payload)
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(result.Hits.Hits))
	for _, h := range result.Hits.Hits {
		out = append(out, NormalizeEvent(h.Source))
	}
	return out, nil
}

// Writeback indexes each rule document under bolcd-rules, id = rule name so
// pushes are idempotent.
func (o *OpenSearch) Writeback(ctx context.Context, rules []models.SuppressionRule) (WritebackResult, error) {
	written := 0
	for _, r := range rules {
		url := o.endpoint + "/bolcd-rules/_doc/" + r.Name
		_, err := doWithRetry(ctx, o.client, o.log, func(ctx context.Context) (*http.Request, error) {
			req, err := postJSON(ctx, url, o.headers(), r)
			if err != nil {
				return nil, err
			}
			req.Method = http.MethodPut
			return req, nil
		})
		if err != nil {
			return WritebackResult{Status: "partial", Written: written}, err
		}
		written++
	}
	return WritebackResult{Status: "ok", Written: written}, nil
}
