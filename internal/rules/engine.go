// Package rules provides the CEL-Go based notice rule engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/tax"
)

// Engine is the CEL-based notice rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("variant", cel.StringType),
		cel.Variable("schedule", cel.StringType),
		cel.Variable("single_home", cel.BoolType),
		cel.Variable("market_value", cel.DoubleType),
		cel.Variable("assessed_value", cel.DoubleType),
		cel.Variable("tax_base", cel.DoubleType),
		cel.Variable("is_capped", cel.BoolType),
		cel.Variable("reality_rate", cel.IntType),
		cel.Variable("fair_market_rate", cel.IntType),
		cel.Variable("baseline_tax", cel.DoubleType),
		cel.Variable("current_tax", cel.DoubleType),
		cel.Variable("difference", cel.DoubleType),
		cel.Variable("difference_percent", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads the enabled rules.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Input is what a rule can see about one estimate.
type Input struct {
	Variant    string
	Comparison tax.Comparison
}

// Activation flattens the input into CEL variables. Values describe the
// adjusted (current) scenario.
func (in *Input) Activation() map[string]any {
	c := in.Comparison
	cur := c.Current

	fair := c.CurrentRatios.FairMarket
	if c.SingleHome {
		fair = c.CurrentRatios.SingleHomeFairMarket
	}

	return map[string]any{
		"variant":            in.Variant,
		"schedule":           c.ScheduleID,
		"single_home":        c.SingleHome,
		"market_value":       cur.MarketValue.InexactFloat64(),
		"assessed_value":     cur.AssessedValue.InexactFloat64(),
		"tax_base":           cur.TaxBase.InexactFloat64(),
		"is_capped":          cur.IsCapped,
		"reality_rate":       int64(c.CurrentRatios.Reality),
		"fair_market_rate":   int64(fair),
		"baseline_tax":       c.Baseline.Tax.InexactFloat64(),
		"current_tax":        cur.Tax.InexactFloat64(),
		"difference":         c.Difference.InexactFloat64(),
		"difference_percent": c.DifferencePercent.InexactFloat64(),
	}
}

// EvaluateAll evaluates all loaded rules in parallel. Results are ordered
// by rule ID.
func (e *Engine) EvaluateAll(ctx context.Context, input *Input) ([]domain.RuleResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })

	activation := input.Activation()
	results := make([]domain.RuleResult, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)

	for i, rule := range rules {
		i, rule := i, rule
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.evaluateRule(rule, activation)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID: rule.Config.ID,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Outcome = domain.RuleOutcomeError
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	value := toValue(out)
	result.Value = value
	result.Outcome, result.Reason = matchBand(value, rule.Config.Bands)
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toValue converts a CEL value to a number. true is 1, false is 0.
func toValue(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// matchBand returns the first band with lower <= value < upper. A nil
// bound is open on that side.
func matchBand(value float64, bands []domain.RuleBand) (string, string) {
	for _, band := range bands {
		if band.LowerLimit != nil && value < *band.LowerLimit {
			continue
		}
		if band.UpperLimit != nil && value >= *band.UpperLimit {
			continue
		}
		return band.Outcome, band.Reason
	}
	return domain.RuleOutcomeNone, "no matching band"
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules replaces the loaded rules. Nothing changes if any rule fails
// to compile.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// GetLoadedRules returns the currently loaded rule configurations, ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
