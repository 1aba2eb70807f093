package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/pkg/models"
)

type blockingDecider struct {
	release chan struct{}
	seen    atomic.Int32
}

func (d *blockingDecider) Decide(_ context.Context, _ models.Alert) (models.DecisionRecord, error) {
	d.seen.Add(1)
	<-d.release
	return models.DecisionRecord{}, nil
}

func TestQueueBackPressure(t *testing.T) {
	d := &blockingDecider{release: make(chan struct{})}
	q := NewQueue(2, 1, d, zerolog.Nop())
	q.Start(context.Background())
	defer func() {
		close(d.release)
		q.Stop()
	}()

	// One alert occupies the worker; two fill the buffer.
	require.NoError(t, q.Submit(models.Alert{ID: "a1"}))
	require.Eventually(t, func() bool { return d.seen.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, q.Submit(models.Alert{ID: "a2"}))
	require.NoError(t, q.Submit(models.Alert{ID: "a3"}))

	err := q.Submit(models.Alert{ID: "a4"})
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrBackPressure)
	require.Equal(t, 2, q.Depth())
}

type countingDecider struct {
	mu  sync.Mutex
	ids []string
}

func (d *countingDecider) Decide(_ context.Context, a models.Alert) (models.DecisionRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, a.ID)
	return models.DecisionRecord{AlertID: a.ID}, nil
}

func TestQueueDrainsToDecider(t *testing.T) {
	d := &countingDecider{}
	q := NewQueue(16, 4, d, zerolog.Nop())
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Submit(models.Alert{ID: string(rune('a' + i))}))
	}
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.ids) == 10
	}, time.Second, time.Millisecond)
}

func TestJSONLFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	lines := []map[string]any{
		{"cpu": 0.9, "env": "prod"},
		{"cpu": 0.1},
	}
	var buf []byte
	for _, l := range lines {
		b, _ := json.Marshal(l)
		buf = append(buf, b...)
		buf = append(buf, '\n')
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	events, err := JSONLFileSource{Path: path}.Events(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	v, ok := events[0].Metric("cpu")
	require.True(t, ok)
	require.Equal(t, 0.9, v)
	require.Equal(t, "prod", events[0].Key("env"))
}

func TestJSONLFileSourceMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"ok\":1}\nnot json\n"), 0o644))

	_, err := JSONLFileSource{Path: path}.Events(context.Background())
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestJSONLFileSourceMissing(t *testing.T) {
	_, err := JSONLFileSource{Path: filepath.Join(t.TempDir(), "absent.jsonl")}.Events(context.Background())
	require.ErrorIs(t, err, errs.ErrResource)
}
