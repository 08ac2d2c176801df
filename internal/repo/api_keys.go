package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"taskmint/internal/domain"
)

// HashAPIKey returns the hex SHA-256 digest stored for a raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (s *Store) CreateAPIKey(ctx context.Context, k *domain.APIKey) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO api_keys (id, actor_id, name, key_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		k.ID, k.ActorID, k.Name, k.KeyHash, k.CreatedAt)
	return err
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, actor_id, name, key_hash, created_at, revoked_at
		FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL`, hash)
	var k domain.APIKey
	err := row.Scan(&k.ID, &k.ActorID, &k.Name, &k.KeyHash, &k.CreatedAt, &k.RevokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("api key: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, actor_id, name, key_hash, created_at, revoked_at
		FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		if err := rows.Scan(&k.ID, &k.ActorID, &k.Name, &k.KeyHash, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, id, revokedAt string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, revokedAt, id)
	if err != nil {
		return err
	}
	return mustAffect(res, "api key", id)
}
