// Package suppression maintains the denylist of addresses that must never
// receive mail: bounced, complained, unsubscribed or manually excluded.
package suppression

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/courier/internal/models"
)

// Store persists suppression entries
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// IsSuppressed reports whether an address is currently excluded from sends.
// Expired entries do not suppress.
func (s *Store) IsSuppressed(ctx context.Context, address string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM suppressions
		WHERE address = $1 AND (expires_at IS NULL OR expires_at > now())`,
		normalize(address),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check suppression: %w", err)
	}
	return n > 0, nil
}

// Add inserts or refreshes a suppression entry. Adding an existing address
// updates its reason and expiry.
func (s *Store) Add(ctx context.Context, address, reason string, expiresAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppressions (id, address, reason, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET reason = $3, expires_at = $4`,
		uuid.New().String(), normalize(address), reason, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add suppression: %w", err)
	}
	return nil
}

// Remove deletes a suppression entry
func (s *Store) Remove(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM suppressions WHERE address = $1`, normalize(address))
	if err != nil {
		return fmt.Errorf("failed to remove suppression: %w", err)
	}
	return nil
}

// List returns suppression entries, newest first
func (s *Store) List(ctx context.Context, limit int) ([]*models.SuppressionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, reason, expires_at, created_at
		FROM suppressions ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list suppressions: %w", err)
	}
	defer rows.Close()

	var entries []*models.SuppressionEntry
	for rows.Next() {
		e := &models.SuppressionEntry{}
		var expiresAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Address, &e.Reason, &expiresAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			e.ExpiresAt = &expiresAt.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
