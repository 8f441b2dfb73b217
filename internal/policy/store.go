// Package policy manages scenarios and notice rules: persistence, the
// scenario read-through cache and change notifications.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/proptax/internal/cache"
	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/tax"
)

// ErrInvalidScenario wraps scenario validation failures.
var ErrInvalidScenario = errors.New("invalid scenario")

// Store fronts the repository for policy reads and writes.
type Store struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
	ttl   time.Duration
}

// NewStore creates a policy store. cache and bus may be nil.
func NewStore(repo domain.Repository, c domain.Cache, b domain.EventBus, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{repo: repo, cache: c, bus: b, ttl: ttl}
}

// ValidateScenario checks that the variant exists and every ratio is
// inside that variant's bounds.
func ValidateScenario(s *domain.Scenario) error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidScenario)
	}
	v, err := tax.LookupVariant(s.Variant)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if s.Ratios.SingleHomeFairMarket != 0 && !v.SupportsSingleHome() {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, tax.ErrSingleHomeUnsupported)
	}
	if err := v.CheckRatios(s.Ratios, v.SupportsSingleHome()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return nil
}

// SaveScenario validates and stores a scenario and announces the change.
// Every ratio is stored as given; callers fill omitted ones with Variant.Resolve.
func (s *Store) SaveScenario(ctx context.Context, sc *domain.Scenario) error {
	if err := ValidateScenario(sc); err != nil {
		return err
	}
	if err := s.repo.SaveScenario(ctx, sc); err != nil {
		return fmt.Errorf("failed to save scenario: %w", err)
	}
	s.Invalidate(ctx, sc.ID)
	s.publish(ctx, domain.PolicyChange{Kind: domain.PolicyScenario, ID: sc.ID})
	return nil
}

// GetScenario reads a scenario through the cache.
func (s *Store) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	key := domain.CacheKeyScenario + id

	if s.cache != nil {
		cached, ok, err := cache.GetJSON[domain.Scenario](ctx, s.cache, key)
		if err != nil {
			slog.Warn("scenario cache read failed", "scenario_id", id, "error", err)
		}
		if ok {
			return &cached, nil
		}
	}

	sc, err := s.repo.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, sc, s.ttl); err != nil {
			slog.Warn("scenario cache write failed", "scenario_id", id, "error", err)
		}
	}
	return sc, nil
}

// ListScenarios lists stored scenarios. Listing bypasses the cache.
func (s *Store) ListScenarios(ctx context.Context) ([]*domain.Scenario, error) {
	return s.repo.ListScenarios(ctx)
}

// DeleteScenario removes a scenario and announces the change.
func (s *Store) DeleteScenario(ctx context.Context, id string) error {
	if err := s.repo.DeleteScenario(ctx, id); err != nil {
		return err
	}
	s.Invalidate(ctx, id)
	s.publish(ctx, domain.PolicyChange{Kind: domain.PolicyScenario, ID: id, Deleted: true})
	return nil
}

// Invalidate drops a cached scenario.
func (s *Store) Invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, domain.CacheKeyScenario+id); err != nil {
		slog.Warn("scenario cache invalidation failed", "scenario_id", id, "error", err)
	}
}

// SaveRule stores a notice rule and announces the change. The caller
// compiles it first.
func (s *Store) SaveRule(ctx context.Context, rule *domain.RuleConfig) error {
	if err := s.repo.SaveRuleConfig(ctx, rule); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	s.publish(ctx, domain.PolicyChange{Kind: domain.PolicyRule, ID: rule.ID})
	return nil
}

// GetRule returns the latest enabled version of a rule.
func (s *Store) GetRule(ctx context.Context, id string) (*domain.RuleConfig, error) {
	return s.repo.GetRuleConfig(ctx, id)
}

// ListRules lists enabled rules.
func (s *Store) ListRules(ctx context.Context) ([]*domain.RuleConfig, error) {
	return s.repo.ListRuleConfigs(ctx)
}

func (s *Store) publish(ctx context.Context, change domain.PolicyChange) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(change)
	if err != nil {
		slog.Error("failed to encode policy change", "error", err)
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicPolicyChanged, payload); err != nil {
		slog.Error("failed to publish policy change", "kind", change.Kind, "id", change.ID, "error", err)
	}
}
