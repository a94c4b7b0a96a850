package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/keyboxhq/keybox/internal/rules"
)

// Rule source identifiers, recorded on snapshots for observability.
const (
	RuleSourceStructured = "structured"
	RuleSourceJSON       = "json_fallback"
	RuleSourceNone       = "none"
)

// PackageSnapshot bundles a package with its resolved rule set. It is the
// unit cached by the unlock plane and warmed by the reconciler.
type PackageSnapshot struct {
	Package Package      `json:"package"`
	Rules   []rules.Rule `json:"rules"`

	// RuleSource records which persistence form served the rules.
	RuleSource string `json:"rule_source"`
}

// ResolveRules loads the package's rule set with the migration-compatibility
// resolution order: the structured unlock_rules rows take precedence; the
// legacy rules_json blob on the package row is consulted only when no
// structured rows exist. The orchestrator never learns which form served.
func ResolveRules(ctx context.Context, repo RuleLister, p *Package) ([]rules.Rule, string, error) {
	rs, err := repo.ListRules(ctx, p.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load structured rules: %w", err)
	}
	if len(rs) > 0 {
		return rs, RuleSourceStructured, nil
	}

	if len(p.RulesJSON) > 0 {
		var blob []rules.Rule
		if err := json.Unmarshal(p.RulesJSON, &blob); err != nil {
			return nil, "", fmt.Errorf("failed to parse rules_json blob: %w", err)
		}
		if len(blob) > 0 {
			return blob, RuleSourceJSON, nil
		}
	}

	return nil, RuleSourceNone, nil
}

// BuildSnapshot resolves a package and its rules into a cacheable snapshot.
func (s *PostgresStore) BuildSnapshot(ctx context.Context, idOrCode string) (*PackageSnapshot, error) {
	p, err := s.GetPackage(ctx, idOrCode)
	if err != nil {
		return nil, err
	}
	return s.snapshotFor(ctx, p)
}

// snapshotFor assembles the snapshot for an already-fetched package row.
func (s *PostgresStore) snapshotFor(ctx context.Context, p *Package) (*PackageSnapshot, error) {
	rs, source, err := ResolveRules(ctx, s, p)
	if err != nil {
		return nil, err
	}
	return &PackageSnapshot{
		Package:    *p,
		Rules:      rs,
		RuleSource: source,
	}, nil
}

// BuildAllSnapshots assembles snapshots for every package (cache warm path).
func (s *PostgresStore) BuildAllSnapshots(ctx context.Context) ([]*PackageSnapshot, error) {
	pkgs, err := s.ListAllPackages(ctx)
	if err != nil {
		return nil, err
	}

	snaps := make([]*PackageSnapshot, 0, len(pkgs))
	for _, p := range pkgs {
		snap, err := s.snapshotFor(ctx, p)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
