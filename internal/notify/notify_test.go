package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bolcd/condense-engine/pkg/models"
)

func alert(id, severity string) models.Alert {
	return models.Alert{ID: id, EntityID: "h", RuleID: "R1", Severity: severity,
		TS: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestDeliverBroadcastsAndRecords(t *testing.T) {
	var got atomic.Int32
	m := NewManager(func(n Notification) {
		require.Equal(t, "delivery", n.Kind)
		got.Add(1)
	}, zerolog.Nop())

	m.Deliver(context.Background(), alert("a1", models.SeverityMedium), models.DecisionRecord{AlertID: "a1"})
	require.Equal(t, int32(1), got.Load())

	recent := m.Recent(10)
	require.Len(t, recent, 1)
	require.Equal(t, "a1", recent[0].Alert.ID)
}

func TestWebhookSeverityThreshold(t *testing.T) {
	hits := make(chan string, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.URL.Path
	}))
	defer srv.Close()

	m := NewManager(nil, zerolog.Nop())
	m.RegisterWebhook("soc", srv.URL+"/hook", models.SeverityHigh, nil)

	m.Deliver(context.Background(), alert("low1", models.SeverityLow), models.DecisionRecord{})
	m.Replay(context.Background(), alert("crit1", models.SeverityCritical), models.LateReplay{AlertID: "crit1"})

	select {
	case path := <-hits:
		require.Equal(t, "/hook", path)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never called for critical alert")
	}
	select {
	case <-hits:
		t.Fatal("webhook must not fire for low severity")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoveWebhook(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	m.RegisterWebhook("soc", "http://localhost:1/hook", models.SeverityInfo, nil)
	m.RemoveWebhook("soc")

	// Emit must not attempt delivery to the removed endpoint; nothing to
	// assert beyond absence of panic and history growth.
	m.Deliver(context.Background(), alert("a1", models.SeverityCritical), models.DecisionRecord{})
	require.Len(t, m.Recent(0), 1)
}

func TestRecentNewestFirstAndBounded(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	m.maxHistory = 3
	for _, id := range []string{"a", "b", "c", "d"} {
		m.Deliver(context.Background(), alert(id, models.SeverityInfo), models.DecisionRecord{})
	}
	recent := m.Recent(0)
	require.Len(t, recent, 3)
	require.Equal(t, "d", recent[0].Alert.ID)
	require.Equal(t, "b", recent[2].Alert.ID)
}
