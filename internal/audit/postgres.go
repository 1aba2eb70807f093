package audit

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/bolcd/condense-engine/internal/errs"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS audit (
    id      BIGSERIAL PRIMARY KEY,
    ts      TEXT NOT NULL,
    actor   TEXT NOT NULL,
    action  TEXT NOT NULL,
    diff    JSONB NOT NULL,
    hash    TEXT NOT NULL
);`

// PostgresLog is the relational audit shape: a table with a monotonically
// increasing id and row-level commit. The chain invariants are identical to
// the file shape.
type PostgresLog struct {
	mu       sync.Mutex
	pool     *pgxpool.Pool
	lastHash string
	halted   bool
	clock    clockwork.Clock
	log      zerolog.Logger
}

// OpenPostgresLog prepares the audit table and seeds the chain tip from the
// highest-id row.
func OpenPostgresLog(ctx context.Context, pool *pgxpool.Pool, clock clockwork.Clock, log zerolog.Logger) (*PostgresLog, error) {
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, errs.Wrap(errs.KindResource, err, "create audit table")
	}
	l := &PostgresLog{pool: pool, clock: clock, log: log}
	var last string
	err := pool.QueryRow(ctx, `SELECT hash FROM audit ORDER BY id DESC LIMIT 1`).Scan(&last)
	if err == nil {
		l.lastHash = last
	}
	return l, nil
}

// Append inserts one chained row; any failure halts the log.
func (l *PostgresLog) Append(actor, action string, diff map[string]any) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return Entry{}, errs.New(errs.KindConsistency, "audit log halted after write failure")
	}

	entry, err := buildEntry(l.clock, actor, action, diff, l.lastHash)
	if err != nil {
		return Entry{}, err
	}
	diffJSON, err := json.Marshal(entry.Diff)
	if err != nil {
		return Entry{}, err
	}
	_, err = l.pool.Exec(context.Background(),
		`INSERT INTO audit (ts, actor, action, diff, hash) VALUES ($1, $2, $3, $4, $5)`,
		entry.TS, entry.Actor, entry.Action, diffJSON, entry.Hash)
	if err != nil {
		l.halted = true
		return Entry{}, errs.Wrap(errs.KindResource, err, "insert audit entry")
	}

	l.lastHash = entry.Hash
	return entry, nil
}

// VerifyChain walks rows in id order, recomputing hashes and _prev links.
func (l *PostgresLog) VerifyChain(ctx context.Context, limit int) (Report, error) {
	rows, err := l.pool.Query(ctx, `SELECT ts, actor, action, diff, hash FROM audit ORDER BY id`)
	if err != nil {
		return Report{}, errs.Wrap(errs.KindResource, err, "query audit rows")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			diff []byte
		)
		if err := rows.Scan(&e.TS, &e.Actor, &e.Action, &diff, &e.Hash); err != nil {
			return Report{}, err
		}
		if err := json.Unmarshal(diff, &e.Diff); err != nil {
			return Report{}, errs.Wrap(errs.KindConsistency, err, "decode audit diff")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Report{}, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return verifyEntries(entries), nil
}
