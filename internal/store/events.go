package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertUnlockEvent writes the email-capture event and increments the owning
// package's unlock counter in the same transaction. The counter is therefore
// an explicit side effect of this method, not a database trigger.
func (s *PostgresStore) InsertUnlockEvent(ctx context.Context, ev *UnlockEvent) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	err = tx.QueryRow(ctx, `
		INSERT INTO unlock_events (package_id, email, nickname, rule_id, raw_tokens)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`,
		ev.PackageID,
		ev.Email,
		ev.Nickname,
		ev.RuleID,
		ev.RawTokens,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert unlock event: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE packages SET unlock_count = unlock_count + 1 WHERE id = $1`,
		ev.PackageID,
	); err != nil {
		return fmt.Errorf("failed to increment unlock count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit unlock event: %w", err)
	}

	return nil
}

// CountEventsByRule counts prior successful unlocks attributed to one rule.
// Point-in-time read; the quota gate built on it is not a reservation.
func (s *PostgresStore) CountEventsByRule(ctx context.Context, packageID, ruleID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM unlock_events WHERE package_id = $1 AND rule_id = $2`,
		packageID, ruleID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events by rule: %w", err)
	}
	return n, nil
}

// CountEventsByEmailSince counts the visitor's events for the package inside
// the trailing rate-limit window. Email comparison is case-sensitive.
func (s *PostgresStore) CountEventsByEmailSince(ctx context.Context, packageID int64, email string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM unlock_events WHERE package_id = $1 AND email = $2 AND created_at >= $3`,
		packageID, email, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events by email: %w", err)
	}
	return n, nil
}

// FindEventByEmail returns the visitor's earliest event for the package, or
// ErrNotFound. This is the idempotent re-unlock pre-check: at-most-one-event
// per (package, email) is enforced here, not by a storage constraint.
func (s *PostgresStore) FindEventByEmail(ctx context.Context, packageID int64, email string) (*UnlockEvent, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, package_id, email, nickname, rule_id, raw_tokens, created_at
		FROM unlock_events
		WHERE package_id = $1 AND email = $2
		ORDER BY id ASC
		LIMIT 1
	`, packageID, email)

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find event by email: %w", err)
	}
	return ev, nil
}

// ListEventsByPackage returns the paginated email-capture log, newest first,
// plus the total count.
func (s *PostgresStore) ListEventsByPackage(ctx context.Context, packageID int64, limit, offset int) ([]*UnlockEvent, int64, error) {
	var total int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM unlock_events WHERE package_id = $1`, packageID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	if total == 0 {
		return []*UnlockEvent{}, 0, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, package_id, email, nickname, rule_id, raw_tokens, created_at
		FROM unlock_events
		WHERE package_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, packageID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := make([]*UnlockEvent, 0, limit)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, total, nil
}

// scanEvent maps one row onto an UnlockEvent.
func scanEvent(row pgx.Row) (*UnlockEvent, error) {
	var ev UnlockEvent
	err := row.Scan(
		&ev.ID,
		&ev.PackageID,
		&ev.Email,
		&ev.Nickname,
		&ev.RuleID,
		&ev.RawTokens,
		&ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
