package unlock

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/keyboxhq/keybox/internal/rules"
	"github.com/keyboxhq/keybox/internal/store"
)

// Input is the visitor's submission on the unlock page.
type Input struct {
	// Email identifies the visitor. Preserved as given; repeat-visit
	// detection compares it case-sensitively.
	Email string

	// Keyword is the raw keyword field. Rule-based packages tokenize it;
	// legacy packages compare it whole, case-insensitively.
	Keyword string

	// Nickname is recorded when the package demands one.
	Nickname string
}

// Config holds the orchestrator's tunables.
type Config struct {
	// RateLimitWindow / RateLimitMax define the trailing-window attempt cap
	// per (package, email).
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Service runs the unlock state machine. It treats the rule store and the
// event log as read-only except for the single event write on the fresh
// path; the package's unlock counter is incremented by that same write,
// transactionally, in the store layer.
type Service struct {
	logger   *slog.Logger
	cfg      Config
	packages store.PackageResolver
	rules    store.RuleLister
	events   store.EventLog

	// now is injected for deterministic tests.
	now func() time.Time
}

// New creates a new unlock Service.
func New(logger *slog.Logger, cfg Config, packages store.PackageResolver, ruleRepo store.RuleLister, events store.EventLog) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if packages == nil {
		panic("unlock: package repository cannot be nil")
	}
	if ruleRepo == nil {
		panic("unlock: rule repository cannot be nil")
	}
	if events == nil {
		panic("unlock: event repository cannot be nil")
	}

	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 10 * time.Second
	}
	if cfg.RateLimitMax < 1 {
		cfg.RateLimitMax = 3
	}

	return &Service{
		logger:   logger,
		cfg:      cfg,
		packages: packages,
		rules:    ruleRepo,
		events:   events,
		now:      time.Now,
	}
}

// Unlock runs one attempt through the state machine. Domain outcomes (both
// successes and the user-facing failures) come back in the Result; the error
// return is reserved for unexpected infrastructure failures on the read path,
// which callers surface as a generic server error.
func (s *Service) Unlock(ctx context.Context, idOrCode string, in Input) (Result, error) {
	now := s.now()

	// 1. Resolve package
	pkg, err := s.packages.GetPackage(ctx, idOrCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Failure(KindNotFound, ""), nil
		}
		return Result{}, err
	}

	if pkg.ExpiresAt != nil && now.After(*pkg.ExpiresAt) {
		return Failure(KindExpired, ""), nil
	}

	// 2. Validate keyword
	tokens := rules.Tokenize(in.Keyword)

	var matched *rules.Rule
	if pkg.RulesEnabled {
		rs, source, err := store.ResolveRules(ctx, s.rules, pkg)
		if err != nil {
			return Result{}, err
		}
		rules.Compile(rs)

		r, ok := rules.Select(rs, now, tokens)
		if !ok {
			// Custom message selection is decoupled from which rule would
			// have matched: the first rule defining one wins.
			return Failure(KindInvalidKeyword, rules.FirstErrorMessage(rs)), nil
		}
		matched = r

		s.logger.Debug("unlock rule matched",
			slog.String("package", pkg.ShortCode),
			slog.Int64("rule_id", r.ID),
			slog.String("rule_source", source),
		)
	} else {
		supplied := strings.ToLower(strings.TrimSpace(in.Keyword))
		expected := strings.ToLower(strings.TrimSpace(pkg.Keyword))
		if expected == "" || supplied != expected {
			return Failure(KindInvalidKeyword, ""), nil
		}
	}

	// 3. Package-level quota
	if pkg.Quota != nil && pkg.UnlockCount >= int64(*pkg.Quota) {
		return Failure(KindExhausted, ""), nil
	}

	// 4. Rule-level quota. Point-in-time count, not a reservation: two
	// concurrent attempts can both pass before either writes its event.
	if matched != nil && matched.Quota != nil {
		used, err := s.events.CountEventsByRule(ctx, pkg.ID, matched.ID)
		if err != nil {
			return Result{}, err
		}
		if used >= int64(*matched.Quota) {
			return Failure(KindRuleQuotaExhausted, ""), nil
		}
	}

	// 5. Rate limit. Fail-open: an error in the counting query must not
	// block the unlock.
	since := now.Add(-s.cfg.RateLimitWindow)
	attempts, err := s.events.CountEventsByEmailSince(ctx, pkg.ID, in.Email, since)
	if err != nil {
		s.logger.Warn("rate limit check failed, allowing attempt",
			slog.String("package", pkg.ShortCode),
			slog.String("error", err.Error()),
		)
	} else if attempts >= int64(s.cfg.RateLimitMax) {
		return Failure(KindRateLimited, ""), nil
	}

	// 6. Idempotency pre-check: a visitor who already unlocked gets the
	// content again without a new event.
	if _, err := s.events.FindEventByEmail(ctx, pkg.ID, in.Email); err == nil {
		return Repeat(pkg.Content), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}

	// 7. Write the unlock event (and, transactionally, the counter bump).
	ev := &store.UnlockEvent{
		PackageID: pkg.ID,
		Email:     in.Email,
		Nickname:  in.Nickname,
		RawTokens: tokens,
	}
	if matched != nil {
		ruleID := matched.ID
		ev.RuleID = &ruleID
	}

	if err := s.events.InsertUnlockEvent(ctx, ev); err != nil {
		s.logger.Error("failed to write unlock event",
			slog.String("package", pkg.ShortCode),
			slog.String("error", err.Error()),
		)
		return Failure(KindWriteError, ""), nil
	}

	return Fresh(pkg.Content, ev.RuleID), nil
}
