package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// auditSchema is applied on first connect. The table is append-only: the
// sink only ever inserts.
const auditSchema = `
CREATE TABLE IF NOT EXISTS firewall_audit (
	id              BIGSERIAL PRIMARY KEY,
	request_id      UUID        NOT NULL,
	action          TEXT        NOT NULL,
	applied_policy_ids TEXT[]   NOT NULL,
	detection_count INT         NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
)`

// PostgresSink appends audit records to a Postgres table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink opens a connection pool for the given DSN and ensures
// the audit table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit pool: %w", err)
	}
	if _, err := pool.Exec(ctx, auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// Emit inserts one record.
func (s *PostgresSink) Emit(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO firewall_audit (request_id, action, applied_policy_ids, detection_count, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.RequestID, rec.Action, rec.AppliedPolicyIDs, rec.DetectionCount, rec.Timestamp)
	return err
}

// Close drains the pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
