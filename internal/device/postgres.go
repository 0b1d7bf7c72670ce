package device

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRegistry reads and writes payhook.device_tokens.
type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

func (r *PostgresRegistry) ListActiveTokens(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT token FROM payhook.device_tokens
		WHERE owner_id = $1 AND is_active
		ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tokens for %s: %w", ownerID, err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

// Deactivate is a one-way flag flip, safe under concurrent writers.
func (r *PostgresRegistry) Deactivate(ctx context.Context, ownerID, token string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payhook.device_tokens
		SET is_active = false, deactivated_at = now()
		WHERE owner_id = $1 AND token = $2 AND is_active`, ownerID, token)
	if err != nil {
		return fmt.Errorf("deactivate token for %s: %w", ownerID, err)
	}
	return nil
}

// Register upserts an active token. SEED_FILE loading calls it at startup.
func (r *PostgresRegistry) Register(ctx context.Context, ownerID, token string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payhook.device_tokens (token, owner_id, is_active)
		VALUES ($1, $2, true)
		ON CONFLICT (token) DO UPDATE
		SET owner_id = EXCLUDED.owner_id, is_active = true, deactivated_at = NULL`, token, ownerID)
	if err != nil {
		return fmt.Errorf("register token for %s: %w", ownerID, err)
	}
	return nil
}
