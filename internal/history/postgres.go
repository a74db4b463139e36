package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface assertion.
var _ Store = (*PostgresStore)(nil)

// PostgresStore is a Store backed by a conversation_turns table. It is meant
// for multi-instance deployments where conversations must survive a gateway
// restart and be reachable from every replica.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn and ensures the schema
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// migrate creates the conversation_turns table when missing.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS conversation_turns (
		    id         BIGSERIAL PRIMARY KEY,
		    session_id TEXT        NOT NULL,
		    role       TEXT        NOT NULL,
		    content    TEXT        NOT NULL,
		    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS conversation_turns_session_idx
		    ON conversation_turns (session_id, id);`
	_, err := pool.Exec(ctx, schema)
	return err
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	const q = `
		INSERT INTO conversation_turns (session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4)`

	at := turn.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.pool.Exec(ctx, q, sessionID, turn.Role, turn.Content, at)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent implements Store. It returns the last limit turns in chronological
// order.
func (s *PostgresStore) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	const q = `
		SELECT role, content, created_at FROM (
		    SELECT id, role, content, created_at
		    FROM   conversation_turns
		    WHERE  session_id = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		) latest
		ORDER BY id`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Turn, error) {
		var t Turn
		err := row.Scan(&t.Role, &t.Content, &t.At)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return turns, nil
}

// Forget implements Store.
func (s *PostgresStore) Forget(ctx context.Context, sessionID string) error {
	const q = `DELETE FROM conversation_turns WHERE session_id = $1`
	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("history: forget: %w", err)
	}
	return nil
}

// Prune removes turns recorded before cutoff across all sessions.
func (s *PostgresStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM conversation_turns WHERE created_at < $1`
	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
