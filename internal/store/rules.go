package store

import (
	"context"
	"fmt"

	"github.com/keyboxhq/keybox/internal/rules"
)

// ListRules returns the structured rule set of a package in storage order.
// Keywords come back as written; callers run rules.Compile before evaluation.
func (s *PostgresStore) ListRules(ctx context.Context, packageID int64) ([]rules.Rule, error) {
	query := `
		SELECT id, name, keywords, match_mode, quota, starts_at, ends_at, error_message
		FROM unlock_rules
		WHERE package_id = $1
		ORDER BY position ASC, id ASC
	`

	rows, err := s.db.Query(ctx, query, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rs []rules.Rule
	for rows.Next() {
		var r rules.Rule
		var mode string
		if err := rows.Scan(
			&r.ID,
			&r.Name,
			&r.Keywords,
			&mode,
			&r.Quota,
			&r.StartsAt,
			&r.EndsAt,
			&r.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		r.MatchMode = rules.MatchMode(mode)
		rs = append(rs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rs, nil
}

// ReplaceRules swaps the full rule set for a package: delete-then-reinsert in
// one transaction. Rule edits are whole-set replacements, never row patches,
// so position always reflects the order the creator submitted.
func (s *PostgresStore) ReplaceRules(ctx context.Context, packageID int64, rs []rules.Rule) ([]rules.Rule, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM unlock_rules WHERE package_id = $1`, packageID); err != nil {
		return nil, fmt.Errorf("failed to clear rules: %w", err)
	}

	inserted := make([]rules.Rule, len(rs))
	for i, r := range rs {
		// Keywords are normalized at write time so the stored form is the
		// comparable form.
		r.Keywords = rules.NormalizeKeywords(r.Keywords)

		err := tx.QueryRow(ctx, `
			INSERT INTO unlock_rules (package_id, position, name, keywords, match_mode,
				quota, starts_at, ends_at, error_message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`,
			packageID,
			i,
			r.Name,
			r.Keywords,
			string(r.MatchMode),
			r.Quota,
			r.StartsAt,
			r.EndsAt,
			r.ErrorMessage,
		).Scan(&r.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert rule %d: %w", i, err)
		}
		inserted[i] = r
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit rule replacement: %w", err)
	}

	return inserted, nil
}
