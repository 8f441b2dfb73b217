package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/tax"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "proptax-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteScenarios(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGet", func(t *testing.T) {
		s := &domain.Scenario{
			ID:      "reform-2026",
			Name:    "2026 reform",
			Variant: tax.VariantMarket,
			Ratios:  tax.Ratios{Reality: 80, FairMarket: 70, SingleHomeFairMarket: 50},
		}
		if err := repo.SaveScenario(ctx, s); err != nil {
			t.Fatalf("SaveScenario failed: %v", err)
		}
		if s.CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be set")
		}

		got, err := repo.GetScenario(ctx, "reform-2026")
		if err != nil {
			t.Fatalf("GetScenario failed: %v", err)
		}
		if got.Ratios != s.Ratios {
			t.Errorf("expected ratios %+v, got %+v", s.Ratios, got.Ratios)
		}
		if got.Variant != tax.VariantMarket || got.Name != "2026 reform" {
			t.Errorf("unexpected scenario %+v", got)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		s := &domain.Scenario{
			ID:      "reform-2026",
			Name:    "2026 reform (revised)",
			Variant: tax.VariantMarket,
			Ratios:  tax.Ratios{Reality: 75, FairMarket: 65, SingleHomeFairMarket: 45},
		}
		if err := repo.SaveScenario(ctx, s); err != nil {
			t.Fatalf("SaveScenario failed: %v", err)
		}

		got, _ := repo.GetScenario(ctx, "reform-2026")
		if got.Ratios.Reality != 75 || got.Name != "2026 reform (revised)" {
			t.Errorf("expected updated scenario, got %+v", got)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo.SaveScenario(ctx, &domain.Scenario{
			ID: "assessed-90", Name: "Assessed 90", Variant: tax.VariantAssessed,
			Ratios: tax.Ratios{Reality: 90, FairMarket: 60},
		})

		list, err := repo.ListScenarios(ctx)
		if err != nil {
			t.Fatalf("ListScenarios failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 scenarios, got %d", len(list))
		}
		if list[0].ID != "reform-2026" {
			t.Errorf("expected name ordering, got %s first", list[0].ID)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteScenario(ctx, "assessed-90"); err != nil {
			t.Fatalf("DeleteScenario failed: %v", err)
		}
		if _, err := repo.GetScenario(ctx, "assessed-90"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.DeleteScenario(ctx, "assessed-90"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("RequiresVariant", func(t *testing.T) {
		err := repo.SaveScenario(ctx, &domain.Scenario{ID: "x"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestSQLiteRuleConfigs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	thirty := 30.0
	rule := &domain.RuleConfig{
		ID:         "tax-increase",
		Name:       "Tax Increase",
		Expression: "difference_percent",
		Bands: []domain.RuleBand{
			{UpperLimit: &thirty, Outcome: domain.RuleOutcomeNone},
			{LowerLimit: &thirty, Outcome: domain.RuleOutcomeWarn, Reason: "Tax rises by 30% or more"},
		},
		Enabled: true,
	}

	if err := repo.SaveRuleConfig(ctx, rule); err != nil {
		t.Fatalf("SaveRuleConfig failed: %v", err)
	}
	if rule.Version != "1.0.0" {
		t.Errorf("expected default version, got %s", rule.Version)
	}

	got, err := repo.GetRuleConfig(ctx, "tax-increase")
	if err != nil {
		t.Fatalf("GetRuleConfig failed: %v", err)
	}
	if len(got.Bands) != 2 || got.Bands[1].Outcome != domain.RuleOutcomeWarn {
		t.Errorf("bands did not round trip: %+v", got.Bands)
	}
	if got.Bands[1].LowerLimit == nil || *got.Bands[1].LowerLimit != 30 {
		t.Errorf("expected lower limit 30, got %v", got.Bands[1].LowerLimit)
	}

	disabled := &domain.RuleConfig{ID: "off", Name: "Off", Expression: "is_capped", Enabled: false}
	repo.SaveRuleConfig(ctx, disabled)

	list, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		t.Fatalf("ListRuleConfigs failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != "tax-increase" {
		t.Errorf("expected only enabled rules, got %d", len(list))
	}

	if _, err := repo.GetRuleConfig(ctx, "off"); !errors.Is(err, ErrNotFound) {
		t.Errorf("disabled rule should not be found, got %v", err)
	}

	if err := repo.SaveRuleConfig(ctx, &domain.RuleConfig{ID: "empty"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		if result := repo.rebind(tt.input); result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite must keep placeholders, got %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "tax"})
	want := "host=localhost port=5432 dbname=proptax sslmode=disable application_name=proptax user=tax"
	if dsn != want {
		t.Errorf("postgresDSN = %q, want %q", dsn, want)
	}
}
