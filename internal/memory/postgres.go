package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DurableStore is the recovery tier for summary records. It is
// consulted on the read path only when the fast tier is unavailable or
// the session is cold.
type DurableStore interface {
	SaveSummary(ctx context.Context, record SummaryRecord) error
	RecentSummaries(ctx context.Context, sessionID string, limit int) ([]SummaryRecord, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

// PostgresStore persists summary records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS summary_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			summary_text TEXT NOT NULL,
			source_message_count INTEGER NOT NULL DEFAULT 0,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_summary_records_session_created ON summary_records (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSummary(ctx context.Context, record SummaryRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var metadata []byte
	if len(record.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("encode summary metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO summary_records (id, session_id, summary_text, source_message_count, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID,
		record.SessionID,
		record.Text,
		record.SourceMessageCount,
		metadata,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// RecentSummaries returns up to limit records, most recent first.
func (s *PostgresStore) RecentSummaries(ctx context.Context, sessionID string, limit int) ([]SummaryRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, summary_text, source_message_count, metadata, created_at
		 FROM summary_records WHERE session_id=$1 ORDER BY created_at DESC LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	records := make([]SummaryRecord, 0, limit)
	for rows.Next() {
		var r SummaryRecord
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Text, &r.SourceMessageCount, &metadata, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decode summary metadata: %w", err)
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM summary_records WHERE session_id=$1`, sessionID); err != nil {
		return fmt.Errorf("delete session summaries: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
