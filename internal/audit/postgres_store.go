package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Log(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO governance_events (worker_id, request_id, service, event, allowed, reason, status_code, cost_usd, wait_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		rec.WorkerID, rec.RequestID, rec.Service, rec.Event,
		rec.Allowed, rec.Reason, rec.StatusCode, rec.CostUSD, rec.WaitMs,
	).Scan(&rec.ID, &rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log governance event: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListByService(ctx context.Context, svc string, from, to time.Time) ([]*Record, error) {
	query := `
		SELECT id, worker_id, request_id, service, event, allowed, reason, status_code, cost_usd, wait_ms, created_at
		FROM governance_events
		WHERE service = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, svc, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query governance events: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.ID, &r.WorkerID, &r.RequestID, &r.Service, &r.Event,
			&r.Allowed, &r.Reason, &r.StatusCode, &r.CostUSD, &r.WaitMs, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan governance event: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating governance events: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) TotalCostByService(ctx context.Context, svc string, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM governance_events
		WHERE service = $1 AND event = $2 AND created_at BETWEEN $3 AND $4
	`
	var total float64
	err := s.db.QueryRow(ctx, query, svc, EventOutcome, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}

	return total, nil
}
