// Package store persists decisions, suppressions, late replays, and
// validation logs. Two backends satisfy the same contract: a directory-tree
// file store and PostgreSQL. All writes are linearized through a single
// writer goroutine per Store, with append-once semantics keyed by alert id —
// duplicate submissions resolve to the existing record.
package store

import (
	"context"

	"github.com/bolcd/condense-engine/pkg/models"
)

// Backend is the raw persistence contract. Write methods are only called
// from the Store's writer goroutine; read methods must be safe to call
// concurrently with one writer.
type Backend interface {
	PutDecision(ctx context.Context, rec models.DecisionRecord) (models.DecisionRecord, bool, error)
	GetDecision(ctx context.Context, alertID string) (models.DecisionRecord, bool, error)

	PutSuppression(ctx context.Context, sup models.Suppression) (bool, error)
	GetSuppression(ctx context.Context, alertID string) (models.Suppression, bool, error)
	ListSuppressions(ctx context.Context, status string) ([]models.Suppression, error)
	UpdateSuppressionStatus(ctx context.Context, alertID, status string) error

	PutLateReplay(ctx context.Context, lr models.LateReplay) (bool, error)
	ListLateReplays(ctx context.Context) ([]models.LateReplay, error)
	MarkLateReplayDelivered(ctx context.Context, alertID string) error

	AppendValidation(ctx context.Context, v models.ValidationLog) error
	Validations(ctx context.Context, alertID string) ([]models.ValidationLog, error)

	Close() error
}

// Store wraps a backend with the single-writer queue.
type Store struct {
	b    Backend
	reqs chan func()
	done chan struct{}
}

// New starts the writer goroutine over a backend.
func New(b Backend) *Store {
	s := &Store{b: b, reqs: make(chan func(), 256), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for fn := range s.reqs {
			fn()
		}
	}()
	return s
}

// Close drains the writer queue and closes the backend.
func (s *Store) Close() error {
	close(s.reqs)
	<-s.done
	return s.b.Close()
}

// submit runs fn on the writer goroutine and waits for it, honoring
// cancellation while queued.
func (s *Store) submit(ctx context.Context, fn func()) error {
	wrapped := make(chan struct{})
	select {
	case s.reqs <- func() { fn(); close(wrapped) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-wrapped:
		return nil
	case <-ctx.Done():
		// The write may still land; the caller's context is done regardless.
		return ctx.Err()
	}
}

// PutDecision persists a decision record append-once. When a record already
// exists for the alert id, the existing record is returned and created is
// false.
func (s *Store) PutDecision(ctx context.Context, rec models.DecisionRecord) (models.DecisionRecord, bool, error) {
	var (
		out     models.DecisionRecord
		created bool
		err     error
	)
	if serr := s.submit(ctx, func() { out, created, err = s.b.PutDecision(ctx, rec) }); serr != nil {
		return models.DecisionRecord{}, false, serr
	}
	return out, created, err
}

// GetDecision reads a decision record.
func (s *Store) GetDecision(ctx context.Context, alertID string) (models.DecisionRecord, bool, error) {
	return s.b.GetDecision(ctx, alertID)
}

// PutSuppression quarantines a suppressed alert append-once.
func (s *Store) PutSuppression(ctx context.Context, sup models.Suppression) (bool, error) {
	var (
		created bool
		err     error
	)
	if serr := s.submit(ctx, func() { created, err = s.b.PutSuppression(ctx, sup) }); serr != nil {
		return false, serr
	}
	return created, err
}

// GetSuppression reads one suppression.
func (s *Store) GetSuppression(ctx context.Context, alertID string) (models.Suppression, bool, error) {
	return s.b.GetSuppression(ctx, alertID)
}

// ListSuppressions returns suppressions filtered by status ("" for all).
func (s *Store) ListSuppressions(ctx context.Context, status string) ([]models.Suppression, error) {
	return s.b.ListSuppressions(ctx, status)
}

// UpdateSuppressionStatus transitions a suppression's lifecycle state.
func (s *Store) UpdateSuppressionStatus(ctx context.Context, alertID, status string) error {
	var err error
	if serr := s.submit(ctx, func() { err = s.b.UpdateSuppressionStatus(ctx, alertID, status) }); serr != nil {
		return serr
	}
	return err
}

// PutLateReplay records a late replay append-once per alert id.
func (s *Store) PutLateReplay(ctx context.Context, lr models.LateReplay) (bool, error) {
	var (
		created bool
		err     error
	)
	if serr := s.submit(ctx, func() { created, err = s.b.PutLateReplay(ctx, lr) }); serr != nil {
		return false, serr
	}
	return created, err
}

// ListLateReplays returns all late-replay records.
func (s *Store) ListLateReplays(ctx context.Context) ([]models.LateReplay, error) {
	return s.b.ListLateReplays(ctx)
}

// MarkLateReplayDelivered flips the delivered flag after the sink accepted
// the replayed alert.
func (s *Store) MarkLateReplayDelivered(ctx context.Context, alertID string) error {
	var err error
	if serr := s.submit(ctx, func() { err = s.b.MarkLateReplayDelivered(ctx, alertID) }); serr != nil {
		return serr
	}
	return err
}

// AppendValidation stores one false-suppression evaluation.
func (s *Store) AppendValidation(ctx context.Context, v models.ValidationLog) error {
	var err error
	if serr := s.submit(ctx, func() { err = s.b.AppendValidation(ctx, v) }); serr != nil {
		return serr
	}
	return err
}

// Validations returns the validation history of an alert, oldest first.
func (s *Store) Validations(ctx context.Context, alertID string) ([]models.ValidationLog, error) {
	return s.b.Validations(ctx, alertID)
}
