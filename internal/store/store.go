// Package store provides the data access layer for KeyBox.
// It handles all direct interactions with the PostgreSQL database using the
// pgx driver. Repositories are defined as interfaces to allow dependency
// injection and in-memory fakes in tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keyboxhq/keybox/internal/rules"
	"github.com/keyboxhq/keybox/internal/validation"
)

// Typed sentinel errors. Handlers translate these to HTTP statuses; the
// unlock orchestrator translates them to outcome kinds.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateCode indicates a unique violation on the package short code.
	ErrDuplicateCode = errors.New("store: short code already exists")
)

// Package represents the database schema for a gated content unit.
// It mirrors the 'packages' table structure. The json tags cover the L2
// snapshot cache, which stores packages as JSON in Redis.
type Package struct {
	ID        int64  `db:"id"         json:"id"`
	ShortCode string `db:"short_code" json:"short_code"`
	Name      string `db:"name"       json:"name"`

	// Keyword is the legacy single keyword, compared case-insensitively.
	// Bypassed entirely when RulesEnabled is true.
	Keyword string `db:"keyword" json:"keyword"`

	// Content is the payload returned to visitors on successful unlock.
	Content string `db:"content" json:"content"`

	// Quota is the optional ceiling on total unlocks. Nil means unlimited.
	Quota *int `db:"quota" json:"quota,omitempty"`

	// UnlockCount is maintained transactionally alongside event inserts and
	// periodically recomputed by the reconciler.
	UnlockCount int64 `db:"unlock_count" json:"unlock_count"`

	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`

	// RulesEnabled switches keyword validation from the legacy single
	// keyword to the unlock-rule engine.
	RulesEnabled bool `db:"rules_enabled" json:"rules_enabled"`

	// RequireNickname makes the unlock form demand a nickname in addition
	// to the email.
	RequireNickname bool `db:"require_nickname" json:"require_nickname"`

	// RulesJSON is the legacy blob form of the rule set, kept for migration
	// compatibility. The structured unlock_rules rows take precedence when
	// present.
	RulesJSON []byte `db:"rules_json" json:"rules_json,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// PackageUpdate carries the partial-update fields for a package.
// Pointers distinguish "missing field" (keep current value) from an explicit
// update. Quota and ExpiresAt use double pointers so an explicit null can
// clear them.
type PackageUpdate struct {
	Name            *string
	Keyword         *string
	Content         *string
	Quota           **int
	ExpiresAt       **time.Time
	RulesEnabled    *bool
	RequireNickname *bool
}

// UnlockEvent is one email-capture record: a visitor successfully passing
// validation for a package.
type UnlockEvent struct {
	ID        int64  `db:"id"`
	PackageID int64  `db:"package_id"`
	Email     string `db:"email"`

	// Nickname is present when the package demands one.
	Nickname string `db:"nickname"`

	// RuleID records which unlock rule admitted the visitor, when rule-based
	// validation was used. It drives per-rule quota accounting.
	RuleID *int64 `db:"rule_id"`

	// RawTokens preserves the tokens the visitor actually supplied.
	RawTokens []string `db:"raw_tokens"`

	CreatedAt time.Time `db:"created_at"`
}

// PackageResolver is the read-only subset of PackageRepository the unlock
// orchestrator depends on.
type PackageResolver interface {
	// GetPackage resolves a package by short code or numeric id.
	// Returns ErrNotFound when absent.
	GetPackage(ctx context.Context, idOrCode string) (*Package, error)
}

// PackageRepository defines persistence operations for packages.
type PackageRepository interface {
	PackageResolver

	// CreatePackage inserts a new package and populates ID and timestamps.
	CreatePackage(ctx context.Context, p *Package) error

	// ListPackages retrieves a paginated list and the total count,
	// ordered by ID descending.
	ListPackages(ctx context.Context, limit, offset int) ([]*Package, int64, error)

	// ListAllPackages retrieves every package (reconciler / cache warm path).
	ListAllPackages(ctx context.Context) ([]*Package, error)

	// UpdatePackage applies a partial update and returns the fresh row.
	UpdatePackage(ctx context.Context, idOrCode string, upd PackageUpdate) (*Package, error)

	// DeletePackage removes a package; dependent rules and events cascade.
	DeletePackage(ctx context.Context, idOrCode string) error

	// ReconcileUnlockCounts recomputes unlock_count from the event log for
	// every package whose counter has drifted. Returns the number of rows
	// corrected.
	ReconcileUnlockCounts(ctx context.Context) (int64, error)
}

// RuleLister is the read-only subset of RuleRepository used on evaluation
// paths (unlock orchestrator, snapshot building).
type RuleLister interface {
	// ListRules returns the package's rules in storage order.
	ListRules(ctx context.Context, packageID int64) ([]rules.Rule, error)
}

// RuleRepository defines persistence operations for the structured rule store.
type RuleRepository interface {
	RuleLister

	// ReplaceRules swaps the full rule set for a package in one transaction
	// (delete-then-reinsert; rule edits are never field-level patches).
	ReplaceRules(ctx context.Context, packageID int64, rs []rules.Rule) ([]rules.Rule, error)
}

// EventLog is the subset of EventRepository the unlock orchestrator depends
// on: the quota/rate-limit/idempotency reads plus the single event write.
type EventLog interface {
	// InsertUnlockEvent writes the event and increments the package's
	// unlock_count in the same transaction, populating ID and CreatedAt.
	InsertUnlockEvent(ctx context.Context, ev *UnlockEvent) error

	// CountEventsByRule counts events for the package attributed to the rule.
	CountEventsByRule(ctx context.Context, packageID, ruleID int64) (int64, error)

	// CountEventsByEmailSince counts the visitor's events against the
	// package newer than the given instant (rate-limit window).
	CountEventsByEmailSince(ctx context.Context, packageID int64, email string, since time.Time) (int64, error)

	// FindEventByEmail looks up the visitor's prior event for the package
	// (idempotent re-unlock check; emails compare case-sensitively).
	// Returns ErrNotFound when absent.
	FindEventByEmail(ctx context.Context, packageID int64, email string) (*UnlockEvent, error)
}

// EventRepository defines persistence operations for unlock events.
type EventRepository interface {
	EventLog

	// ListEventsByPackage returns the paginated email-capture log, newest
	// first, and the total count.
	ListEventsByPackage(ctx context.Context, packageID int64, limit, offset int) ([]*UnlockEvent, int64, error)
}

// WaitlistRepository records visitors who hit an exhausted package and opted
// into the waitlist.
type WaitlistRepository interface {
	// JoinWaitlist inserts the (package, email) pair; repeat joins are a no-op.
	JoinWaitlist(ctx context.Context, packageID int64, email string) error
}

// Compile-time checks that PostgresStore implements every repository.
var (
	_ PackageRepository  = (*PostgresStore)(nil)
	_ RuleRepository     = (*PostgresStore)(nil)
	_ EventRepository    = (*PostgresStore)(nil)
	_ WaitlistRepository = (*PostgresStore)(nil)
)

// PostgresStore is the pgx-backed implementation of the repositories.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new repository instance with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	validation.AssertNotNil(db, "database pool")
	return &PostgresStore{db: db}
}
