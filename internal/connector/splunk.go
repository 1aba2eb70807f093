package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/pkg/models"
)

// Splunk talks to the Splunk management API: export search for ingest,
// saved searches for writeback.
type Splunk struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// NewSplunk builds a Splunk connector.
func NewSplunk(baseURL, token string, log zerolog.Logger) *Splunk {
	return &Splunk{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
		log:     log.With().Str("connector", "splunk").Logger(),
	}
}

func (s *Splunk) Name() string { return "splunk" }

func (s *Splunk) authHeader() string {
	tok := strings.TrimSpace(s.token)
	lower := strings.ToLower(tok)
	if strings.HasPrefix(lower, "bearer ") || strings.HasPrefix(lower, "splunk ") {
		return tok
	}
	return "Splunk " + tok
}

// Ingest runs a streaming export search and collects the result objects.
// The export endpoint emits one JSON object per line.
func (s *Splunk) Ingest(ctx context.Context, query string) ([]map[string]any, error) {
	endpoint := s.baseURL + "/services/search/jobs/export"
	form := url.Values{
		"search":      {"search " + query},
		"output_mode": {"json"},
	}

	body, err := doWithRetry(ctx, s.client, s.log, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", s.authHeader())
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			continue
		}
		if result, ok := payload["result"].(map[string]any); ok {
			out = append(out, NormalizeEvent(result))
			continue
		}
		out = append(out, NormalizeEvent(payload))
	}
	return out, nil
}

// Writeback creates one saved search per rule; the saved search tags the
// consequent events as suppressed via the antecedent.
func (s *Splunk) Writeback(ctx context.Context, rules []models.SuppressionRule) (WritebackResult, error) {
	written := 0
	for _, r := range rules {
		spl := fmt.Sprintf("search %s=* %s=* | eval suppressed=\"via %s\"",
			r.Selector.SrcField, r.Selector.DstField, r.Via)
		form := url.Values{
			"name":        {r.Name},
			"search":      {spl},
			"output_mode": {"json"},
		}
		endpoint := s.baseURL + "/servicesNS/nobody/search/saved/searches"

		_, err := doWithRetry(ctx, s.client, s.log, func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("Authorization", s.authHeader())
			return req, nil
		})
		if err != nil {
			return WritebackResult{Status: "partial", Written: written}, err
		}
		written++
	}
	return WritebackResult{Status: "ok", Written: written}, nil
}
