package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// packageColumns is the canonical select list for package rows.
const packageColumns = `id, short_code, name, keyword, content, quota, unlock_count,
	expires_at, rules_enabled, require_nickname, rules_json, created_at, updated_at`

// CreatePackage inserts a new package.
// It uses the RETURNING clause to get the server-generated ID and timestamps.
func (s *PostgresStore) CreatePackage(ctx context.Context, p *Package) error {
	query := `
		INSERT INTO packages (short_code, name, keyword, content, quota, expires_at,
			rules_enabled, require_nickname, rules_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRow(ctx, query,
		p.ShortCode,
		p.Name,
		p.Keyword,
		p.Content,
		p.Quota,
		p.ExpiresAt,
		p.RulesEnabled,
		p.RequireNickname,
		p.RulesJSON,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// unique_violation on short_code
			return fmt.Errorf("%w: %q", ErrDuplicateCode, p.ShortCode)
		}
		return fmt.Errorf("failed to insert package: %w", err)
	}

	return nil
}

// GetPackage resolves a package by its public short code, or by numeric id
// when the argument is all digits.
func (s *PostgresStore) GetPackage(ctx context.Context, idOrCode string) (*Package, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM packages
		WHERE short_code = $1 OR id::text = $1
	`, packageColumns)

	row := s.db.QueryRow(ctx, query, strings.TrimSpace(idOrCode))

	p, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}

	return p, nil
}

// ListPackages retrieves a subset of packages based on pagination parameters.
// It executes two queries: one for the data and one for the total count.
func (s *PostgresStore) ListPackages(ctx context.Context, limit, offset int) ([]*Package, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM packages`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count packages: %w", err)
	}

	// No packages: skip the second query.
	if total == 0 {
		return []*Package{}, 0, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM packages
		ORDER BY id DESC
		LIMIT $1 OFFSET $2
	`, packageColumns)

	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	pkgs := make([]*Package, 0, limit)
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan package row: %w", err)
		}
		pkgs = append(pkgs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return pkgs, total, nil
}

// ListAllPackages retrieves every package, oldest first. Used by the
// reconciler and the cache warmer, not by request paths.
func (s *PostgresStore) ListAllPackages(ctx context.Context) ([]*Package, error) {
	query := fmt.Sprintf(`SELECT %s FROM packages ORDER BY id ASC`, packageColumns)

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list all packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package row: %w", err)
		}
		pkgs = append(pkgs, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return pkgs, nil
}

// UpdatePackage applies a partial update built from the non-nil fields of upd
// and returns the resulting row.
func (s *PostgresStore) UpdatePackage(ctx context.Context, idOrCode string, upd PackageUpdate) (*Package, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 9)

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Name != nil {
		addSet("name", *upd.Name)
	}
	if upd.Keyword != nil {
		addSet("keyword", *upd.Keyword)
	}
	if upd.Content != nil {
		addSet("content", *upd.Content)
	}
	if upd.Quota != nil {
		addSet("quota", *upd.Quota)
	}
	if upd.ExpiresAt != nil {
		addSet("expires_at", *upd.ExpiresAt)
	}
	if upd.RulesEnabled != nil {
		addSet("rules_enabled", *upd.RulesEnabled)
	}
	if upd.RequireNickname != nil {
		addSet("require_nickname", *upd.RequireNickname)
	}

	if len(sets) == 0 {
		// Nothing to change: return the current row.
		return s.GetPackage(ctx, idOrCode)
	}

	sets = append(sets, "updated_at = now()")
	args = append(args, strings.TrimSpace(idOrCode))

	query := fmt.Sprintf(`
		UPDATE packages
		SET %s
		WHERE short_code = $%d OR id::text = $%d
		RETURNING %s
	`, strings.Join(sets, ", "), len(args), len(args), packageColumns)

	row := s.db.QueryRow(ctx, query, args...)

	p, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update package: %w", err)
	}

	return p, nil
}

// DeletePackage removes a package. Rules, events, and waitlist entries are
// removed by ON DELETE CASCADE.
func (s *PostgresStore) DeletePackage(ctx context.Context, idOrCode string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM packages WHERE short_code = $1 OR id::text = $1`,
		strings.TrimSpace(idOrCode),
	)
	if err != nil {
		return fmt.Errorf("failed to delete package: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReconcileUnlockCounts recomputes every drifted unlock_count from the event
// log in a single statement and returns the number of rows corrected.
func (s *PostgresStore) ReconcileUnlockCounts(ctx context.Context) (int64, error) {
	query := `
		UPDATE packages p
		SET unlock_count = counted.n
		FROM (
			SELECT p2.id, count(e.id) AS n
			FROM packages p2
			LEFT JOIN unlock_events e ON e.package_id = p2.id
			GROUP BY p2.id
		) AS counted
		WHERE counted.id = p.id AND p.unlock_count IS DISTINCT FROM counted.n
	`

	tag, err := s.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile unlock counts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanPackage maps one row onto a Package using the packageColumns order.
func scanPackage(row pgx.Row) (*Package, error) {
	var p Package
	err := row.Scan(
		&p.ID,
		&p.ShortCode,
		&p.Name,
		&p.Keyword,
		&p.Content,
		&p.Quota,
		&p.UnlockCount,
		&p.ExpiresAt,
		&p.RulesEnabled,
		&p.RequireNickname,
		&p.RulesJSON,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
