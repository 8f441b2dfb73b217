// Package worker applies policy changes announced on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/rules"
)

// RuleSource lists the rules the engine should run.
type RuleSource interface {
	ListRules(ctx context.Context) ([]*domain.RuleConfig, error)
}

// ScenarioInvalidator drops a cached scenario.
type ScenarioInvalidator interface {
	Invalidate(ctx context.Context, id string)
}

// Worker reloads the rule engine and invalidates cached scenarios when
// another node (or this one) changes policy.
type Worker struct {
	bus       domain.EventBus
	rules     RuleSource
	scenarios ScenarioInvalidator
	engine    *rules.Engine

	// OnReload, if set, receives the rule count after every reload.
	OnReload func(count int)

	mu           sync.Mutex
	subscription domain.Subscription
	ctx          context.Context
	cancel       context.CancelFunc

	reloads       atomic.Int64
	invalidations atomic.Int64
	failures      atomic.Int64
}

// NewWorker creates a policy worker.
func NewWorker(bus domain.EventBus, src RuleSource, scenarios ScenarioInvalidator, engine *rules.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		rules:     src,
		scenarios: scenarios,
		engine:    engine,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to policy changes.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.subscription != nil {
		return nil
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicPolicyChanged, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicPolicyChanged, err)
	}
	w.subscription = sub

	slog.Info("policy worker started", "topic", domain.TopicPolicyChanged)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var change domain.PolicyChange
	if err := json.Unmarshal(msg.Payload, &change); err != nil {
		w.failures.Add(1)
		return fmt.Errorf("failed to parse policy change %s: %w", msg.ID, err)
	}

	slog.Debug("policy change received", "kind", change.Kind, "id", change.ID, "deleted", change.Deleted)

	switch change.Kind {
	case domain.PolicyRule:
		return w.ReloadRules(ctx)
	case domain.PolicyScenario:
		w.scenarios.Invalidate(ctx, change.ID)
		w.invalidations.Add(1)
		return nil
	default:
		w.failures.Add(1)
		return fmt.Errorf("unknown policy kind %q", change.Kind)
	}
}

// ReloadRules replaces the engine's rules with the stored ones.
func (w *Worker) ReloadRules(ctx context.Context) error {
	configs, err := w.rules.ListRules(ctx)
	if err != nil {
		w.failures.Add(1)
		return fmt.Errorf("failed to list rules: %w", err)
	}
	if err := w.engine.ReloadRules(configs); err != nil {
		w.failures.Add(1)
		return fmt.Errorf("failed to reload rules: %w", err)
	}

	w.reloads.Add(1)
	count := w.engine.RulesCount()
	if w.OnReload != nil {
		w.OnReload(count)
	}
	slog.Info("rules reloaded", "rules_count", count)
	return nil
}

// Stop unsubscribes and stops handling messages.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancel()

	if w.subscription != nil {
		if err := w.subscription.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", "topic", w.subscription.Topic(), "error", err)
		}
		w.subscription = nil
	}

	slog.Info("policy worker stopped")
	return nil
}

// Stats holds worker counters.
type Stats struct {
	Subscribed    bool  `json:"subscribed"`
	Reloads       int64 `json:"reloads"`
	Invalidations int64 `json:"invalidations"`
	Failures      int64 `json:"failures"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	subscribed := w.subscription != nil
	w.mu.Unlock()

	return Stats{
		Subscribed:    subscribed,
		Reloads:       w.reloads.Load(),
		Invalidations: w.invalidations.Load(),
		Failures:      w.failures.Load(),
	}
}
