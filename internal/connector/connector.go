// Package connector implements the SIEM collaborators: ingest pulls events
// for a learning batch, writeback pushes derived suppression rules. Both
// sides retry transient failures with exponential backoff and a per-attempt
// timeout.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/pkg/models"
)

// WritebackResult reports a rule push.
type WritebackResult struct {
	Status  string `json:"status"`
	Written int    `json:"written"`
}

// SIEMConnector is the collaborator contract.
type SIEMConnector interface {
	Name() string
	Ingest(ctx context.Context, query string) ([]map[string]any, error)
	Writeback(ctx context.Context, rules []models.SuppressionRule) (WritebackResult, error)
}

const (
	attemptTimeout = 30 * time.Second
	maxAttempts    = 3
)

// New builds a connector by target name from the environment.
func New(target string, log zerolog.Logger) (SIEMConnector, error) {
	switch target {
	case "splunk":
		return NewSplunk(
			envOr("BOLCD_SPLUNK_URL", "http://localhost:8089"),
			os.Getenv("BOLCD_SPLUNK_TOKEN"),
			log,
		), nil
	case "sentinel":
		return NewSentinel(
			os.Getenv("BOLCD_SENTINEL_WORKSPACE_ID"),
			os.Getenv("BOLCD_AZURE_TOKEN"),
			log,
		), nil
	case "opensearch":
		return NewOpenSearch(
			envOr("BOLCD_OPENSEARCH_ENDPOINT", "http://localhost:9200"),
			os.Getenv("BOLCD_OPENSEARCH_BASIC"),
			log,
		), nil
	default:
		return nil, errs.New(errs.KindValidation, "unknown connector target %q", target)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// doWithRetry runs one HTTP request builder through the retry policy. The
// builder is invoked fresh per attempt so bodies can be replayed.
func doWithRetry(ctx context.Context, client *http.Client, log zerolog.Logger, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	var body []byte
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()

		req, err := build(attemptCtx)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data, 200)))
		}
		body = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts-1), ctx)
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("backoff", wait).Msg("connector attempt failed, retrying")
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, errs.Wrap(errs.KindExternal, err, "connector request exhausted retries")
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// postJSON is the shared writeback body builder.
func postJSON(ctx context.Context, url string, headers map[string]string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}
