package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/errs"
	"github.com/bolcd/condense-engine/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// PostgresBackend persists records in PostgreSQL via a pgx pool. Append-once
// is enforced with ON CONFLICT DO NOTHING on the alert-id primary keys.
type PostgresBackend struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// ConnectPostgres opens the pool, pings it, and applies the schema.
func ConnectPostgres(ctx context.Context, connStr string, log zerolog.Logger) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(errs.KindResource, err, "ping postgres")
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, errs.Wrap(errs.KindResource, err, "apply schema")
	}
	log.Info().Msg("connected to PostgreSQL store")
	return &PostgresBackend{pool: pool, log: log}, nil
}

func (pb *PostgresBackend) Close() error {
	pb.pool.Close()
	return nil
}

func (pb *PostgresBackend) PutDecision(ctx context.Context, rec models.DecisionRecord) (models.DecisionRecord, bool, error) {
	reason, err := json.Marshal(rec.Reason)
	if err != nil {
		return models.DecisionRecord{}, false, err
	}
	tag, err := pb.pool.Exec(ctx, `
		INSERT INTO decisions (alert_id, decision, confidence, reason, policy_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (alert_id) DO NOTHING`,
		rec.AlertID, rec.Decision, rec.Confidence, reason, rec.PolicyVersion, rec.CreatedAt)
	if err != nil {
		return models.DecisionRecord{}, false, errs.Wrap(errs.KindResource, err, "insert decision")
	}
	if tag.RowsAffected() == 1 {
		return rec, true, nil
	}
	existing, ok, err := pb.GetDecision(ctx, rec.AlertID)
	if err != nil {
		return models.DecisionRecord{}, false, err
	}
	if !ok {
		return models.DecisionRecord{}, false, errs.New(errs.KindConsistency, "decision for %s vanished after conflict", rec.AlertID)
	}
	return existing, false, nil
}

func (pb *PostgresBackend) GetDecision(ctx context.Context, alertID string) (models.DecisionRecord, bool, error) {
	var (
		rec    models.DecisionRecord
		reason []byte
	)
	err := pb.pool.QueryRow(ctx, `
		SELECT alert_id, decision, confidence, reason, policy_version, created_at
		FROM decisions WHERE alert_id = $1`, alertID).
		Scan(&rec.AlertID, &rec.Decision, &rec.Confidence, &reason, &rec.PolicyVersion, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DecisionRecord{}, false, nil
	}
	if err != nil {
		return models.DecisionRecord{}, false, errs.Wrap(errs.KindResource, err, "query decision")
	}
	if err := json.Unmarshal(reason, &rec.Reason); err != nil {
		return models.DecisionRecord{}, false, errs.Wrap(errs.KindConsistency, err, "decode decision reason")
	}
	return rec, true, nil
}

func (pb *PostgresBackend) PutSuppression(ctx context.Context, sup models.Suppression) (bool, error) {
	meta, err := json.Marshal(sup.Meta)
	if err != nil {
		return false, err
	}
	tag, err := pb.pool.Exec(ctx, `
		INSERT INTO suppressed (alert_id, edge_id, false_suppression_score, validation_method, status, inserted_ts, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (alert_id) DO NOTHING`,
		sup.AlertID, sup.EdgeID, sup.FalseSuppressionScore, sup.ValidationMethod, sup.Status, sup.InsertedTS, meta)
	if err != nil {
		return false, errs.Wrap(errs.KindResource, err, "insert suppression")
	}
	return tag.RowsAffected() == 1, nil
}

func (pb *PostgresBackend) GetSuppression(ctx context.Context, alertID string) (models.Suppression, bool, error) {
	row := pb.pool.QueryRow(ctx, `
		SELECT alert_id, COALESCE(edge_id, ''), false_suppression_score, COALESCE(validation_method, ''), status, inserted_ts, meta
		FROM suppressed WHERE alert_id = $1`, alertID)
	sup, err := scanSuppression(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Suppression{}, false, nil
	}
	if err != nil {
		return models.Suppression{}, false, err
	}
	return sup, true, nil
}

func (pb *PostgresBackend) ListSuppressions(ctx context.Context, status string) ([]models.Suppression, error) {
	q := `SELECT alert_id, COALESCE(edge_id, ''), false_suppression_score, COALESCE(validation_method, ''), status, inserted_ts, meta
	      FROM suppressed`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY inserted_ts, alert_id`

	rows, err := pb.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "query suppressions")
	}
	defer rows.Close()

	var out []models.Suppression
	for rows.Next() {
		sup, err := scanSuppression(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sup)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSuppression(row rowScanner) (models.Suppression, error) {
	var (
		sup  models.Suppression
		meta []byte
	)
	if err := row.Scan(&sup.AlertID, &sup.EdgeID, &sup.FalseSuppressionScore,
		&sup.ValidationMethod, &sup.Status, &sup.InsertedTS, &meta); err != nil {
		return models.Suppression{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &sup.Meta); err != nil {
			return models.Suppression{}, errs.Wrap(errs.KindConsistency, err, "decode suppression meta")
		}
	}
	return sup, nil
}

func (pb *PostgresBackend) UpdateSuppressionStatus(ctx context.Context, alertID, status string) error {
	tag, err := pb.pool.Exec(ctx,
		`UPDATE suppressed SET status = $1 WHERE alert_id = $2`, status, alertID)
	if err != nil {
		return errs.Wrap(errs.KindResource, err, "update suppression status")
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindValidation, "no suppression for alert %s", alertID)
	}
	return nil
}

func (pb *PostgresBackend) PutLateReplay(ctx context.Context, lr models.LateReplay) (bool, error) {
	tag, err := pb.pool.Exec(ctx, `
		INSERT INTO late_replay (alert_id, original_ts, late_ts, reason, confidence, delivered)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (alert_id) DO NOTHING`,
		lr.AlertID, lr.OriginalTS, lr.LateTS, lr.Reason, lr.Confidence, lr.Delivered)
	if err != nil {
		return false, errs.Wrap(errs.KindResource, err, "insert late replay")
	}
	return tag.RowsAffected() == 1, nil
}

func (pb *PostgresBackend) ListLateReplays(ctx context.Context) ([]models.LateReplay, error) {
	rows, err := pb.pool.Query(ctx, `
		SELECT alert_id, original_ts, late_ts, reason, confidence, delivered
		FROM late_replay ORDER BY late_ts, alert_id`)
	if err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "query late replays")
	}
	defer rows.Close()

	var out []models.LateReplay
	for rows.Next() {
		var lr models.LateReplay
		if err := rows.Scan(&lr.AlertID, &lr.OriginalTS, &lr.LateTS, &lr.Reason, &lr.Confidence, &lr.Delivered); err != nil {
			return nil, err
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

func (pb *PostgresBackend) MarkLateReplayDelivered(ctx context.Context, alertID string) error {
	tag, err := pb.pool.Exec(ctx,
		`UPDATE late_replay SET delivered = TRUE WHERE alert_id = $1`, alertID)
	if err != nil {
		return errs.Wrap(errs.KindResource, err, "mark late replay delivered")
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.KindValidation, "no late replay for alert %s", alertID)
	}
	return nil
}

func (pb *PostgresBackend) AppendValidation(ctx context.Context, v models.ValidationLog) error {
	details, err := json.Marshal(v.Details)
	if err != nil {
		return err
	}
	_, err = pb.pool.Exec(ctx, `
		INSERT INTO validation_logs (alert_id, ts, method, score, confidence, details)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.AlertID, v.TS, v.Method, v.Score, v.Confidence, details)
	if err != nil {
		return errs.Wrap(errs.KindResource, err, "insert validation log")
	}
	return nil
}

func (pb *PostgresBackend) Validations(ctx context.Context, alertID string) ([]models.ValidationLog, error) {
	rows, err := pb.pool.Query(ctx, `
		SELECT alert_id, ts, method, score, confidence, details
		FROM validation_logs WHERE alert_id = $1 ORDER BY ts`, alertID)
	if err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "query validations")
	}
	defer rows.Close()

	var out []models.ValidationLog
	for rows.Next() {
		var (
			v       models.ValidationLog
			details []byte
		)
		if err := rows.Scan(&v.AlertID, &v.TS, &v.Method, &v.Score, &v.Confidence, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &v.Details); err != nil {
				return nil, fmt.Errorf("decode validation details: %w", err)
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
