package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/pkg/models"
)

func TestNormalizeEventAliases(t *testing.T) {
	ev := NormalizeEvent(map[string]any{
		"@timestamp":  "2025-06-01T12:00:00Z",
		"source.ip":   "10.0.0.1",
		"user_name":   "alice",
		"host_name":   "web-1",
		"asset":       map[string]any{"owner": "ops"},
		"custom_kpis": 0.7,
	})

	require.Equal(t, "2025-06-01T12:00:00Z", ev["ts"])
	require.Equal(t, "10.0.0.1", ev["src_ip"])
	require.Equal(t, "alice", ev["user"])
	require.Equal(t, "web-1", ev["host"])
	require.Equal(t, "ops", ev["asset.owner"])
	require.Equal(t, 0.7, ev["custom_kpis"])
}

func TestNormalizeEventKeepsExisting(t *testing.T) {
	ev := NormalizeEvent(map[string]any{"user": "bob", "user_name": "alice"})
	require.Equal(t, "bob", ev["user"])
}

func TestSplunkIngestParsesExportStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/services/search/jobs/export", r.URL.Path)
		require.Contains(t, r.Header.Get("Authorization"), "Splunk ")
		_, _ = w.Write([]byte(
			`{"result":{"cpu":0.9,"host_name":"web-1"}}` + "\n" +
				`{"result":{"cpu":0.1,"host_name":"web-2"}}` + "\n" +
				`{"preview":false}` + "\n"))
	}))
	defer srv.Close()

	s := NewSplunk(srv.URL, "secret", zerolog.Nop())
	events, err := s.Ingest(context.Background(), "index=main")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, 0.9, events[0]["cpu"])
	require.Equal(t, "web-1", events[0]["host"])
}

func TestSplunkWriteback(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		require.NotEmpty(t, r.Form.Get("name"))
		require.Contains(t, r.Form.Get("search"), "suppressed")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSplunk(srv.URL, "secret", zerolog.Nop())
	res, err := s.Writeback(context.Background(), []models.SuppressionRule{
		{Name: "r1", Src: "A", Dst: "C", Via: "B", Selector: models.RuleSelector{SrcField: "A", DstField: "C", ViaField: "B"}},
		{Name: "r2", Src: "A", Dst: "D", Via: "B", Selector: models.RuleSelector{SrcField: "A", DstField: "D", ViaField: "B"}},
	})
	require.NoError(t, err)
	require.Equal(t, "ok", res.Status)
	require.Equal(t, 2, res.Written)
	require.Equal(t, int32(2), calls.Load())
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"hits":{"hits":[]}}`))
	}))
	defer srv.Close()

	o := NewOpenSearch(srv.URL, "", zerolog.Nop())
	_, err := o.Ingest(context.Background(), "*")
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load(), "two transient failures must be retried")
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	o := NewOpenSearch(srv.URL, "", zerolog.Nop())
	_, err := o.Ingest(context.Background(), "*")
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrExternal)
	require.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := NewOpenSearch(srv.URL, "", zerolog.Nop())
	_, err := o.Ingest(context.Background(), "*")
	require.ErrorIs(t, err, errs.ErrExternal)
	require.Equal(t, int32(3), calls.Load(), "three attempts, then surface")
}

func TestOpenSearchIngestParsesHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/_search", r.URL.Path)
		resp := map[string]any{
			"hits": map[string]any{
				"hits": []map[string]any{
					{"_source": map[string]any{"cpu": 0.8, "@timestamp": "t1"}},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	o := NewOpenSearch(srv.URL, "", zerolog.Nop())
	events, err := o.Ingest(context.Background(), "cpu:*")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 0.8, events[0]["cpu"])
	require.Equal(t, "t1", events[0]["ts"])
}

func TestUnknownTarget(t *testing.T) {
	_, err := New("qradar", zerolog.Nop())
	require.ErrorIs(t, err, errs.ErrValidation)
}
