package ingest

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/pkg/models"
)

// Decider is the downstream of the alert queue; the decision engine
// implements it.
type Decider interface {
	Decide(ctx context.Context, a models.Alert) (models.DecisionRecord, error)
}

// Queue is the bounded ingest buffer in front of the decision engine. When
// full, Submit refuses new work immediately instead of blocking the caller
// indefinitely; the caller decides whether to retry.
type Queue struct {
	ch      chan models.Alert
	decider Decider
	workers int
	log     zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewQueue builds a queue with the given capacity and worker count.
func NewQueue(capacity, workers int, decider Decider, log zerolog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		ch:      make(chan models.Alert, capacity),
		decider: decider,
		workers: workers,
		log:     log,
	}
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case a, ok := <-q.ch:
					if !ok {
						return
					}
					if _, err := q.decider.Decide(ctx, a); err != nil {
						q.log.Error().Err(err).Str("alert_id", a.ID).Msg("decision failed")
					}
				}
			}
		}()
	}
}

// Submit enqueues one alert. Returns a back-pressure error when the queue is
// full.
func (q *Queue) Submit(a models.Alert) error {
	select {
	case q.ch <- a:
		return nil
	default:
		return errs.New(errs.KindBackPressure, "ingest queue full (capacity %d)", cap(q.ch))
	}
}

// Stop cancels the workers and waits for them to drain.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Depth reports the current queue occupancy.
func (q *Queue) Depth() int { return len(q.ch) }
