package store

import (
	"context"
	"fmt"
)

// JoinWaitlist records interest in an exhausted package.
// Repeat joins by the same email are a no-op (ON CONFLICT DO NOTHING).
func (s *PostgresStore) JoinWaitlist(ctx context.Context, packageID int64, email string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO waitlist_entries (package_id, email)
		VALUES ($1, $2)
		ON CONFLICT (package_id, email) DO NOTHING
	`, packageID, email)
	if err != nil {
		return fmt.Errorf("failed to join waitlist: %w", err)
	}
	return nil
}
