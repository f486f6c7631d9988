package signedurl

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresNonceStore keeps consumed nonces in signed_url_nonces so one-time
// links survive restarts and work across instances.
type PostgresNonceStore struct {
	db *sql.DB
}

func NewPostgresNonceStore(db *sql.DB) *PostgresNonceStore {
	return &PostgresNonceStore{db: db}
}

func (s *PostgresNonceStore) Consume(ctx context.Context, nonce, arxivID, platform string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO signed_url_nonces (nonce, arxiv_id, platform, consumed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (nonce) DO NOTHING
	`, nonce, arxivID, platform, at.UTC())
	if err != nil {
		return false, fmt.Errorf("insert nonce: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("nonce rows affected: %w", err)
	}

	return affected == 1, nil
}

func (s *PostgresNonceStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM signed_url_nonces
		WHERE consumed_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired nonces: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired nonces rows affected: %w", err)
	}

	return affected, nil
}
