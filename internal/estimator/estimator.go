// Package estimator runs one estimate end to end: ratio resolution,
// the baseline/adjusted comparison, notice rules and the estimate envelope.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/format"
	"github.com/opensource-finance/proptax/internal/metrics"
	"github.com/opensource-finance/proptax/internal/report"
	"github.com/opensource-finance/proptax/internal/rules"
	"github.com/opensource-finance/proptax/internal/tax"
)

var (
	// ErrVariantMismatch is returned when a request names a different
	// variant than the scenario it references.
	ErrVariantMismatch = errors.New("scenario belongs to another variant")

	// ErrScenariosUnavailable is returned for scenario requests when no
	// scenario source is configured.
	ErrScenariosUnavailable = errors.New("scenarios are not available")
)

// ScenarioSource looks up stored scenarios.
type ScenarioSource interface {
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)
}

// Request is one estimate request. Price is raw user input reduced with
// format.PriceDigits, so a leading minus sign yields an all-zero estimate.
// Ratios left nil keep the variant baseline.
type Request struct {
	Variant    string
	Price      string
	Ratios     tax.Overrides
	ScenarioID string
	SingleHome bool
	TraceID    string
}

// Service runs estimates.
type Service struct {
	engine    *rules.Engine
	processor *report.Processor
	scenarios ScenarioSource
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	clamp     bool
}

// New creates an estimate service. scenarios and m may be nil; a nil tp
// uses the global tracer provider.
func New(engine *rules.Engine, processor *report.Processor, scenarios ScenarioSource, m *metrics.Metrics, policy domain.PolicyConfig, tp trace.TracerProvider) *Service {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Service{
		engine:    engine,
		processor: processor,
		scenarios: scenarios,
		metrics:   m,
		tracer:    tp.Tracer("proptax-estimator"),
		clamp:     policy.ClampRatios,
	}
}

// Estimate compares the baseline and adjusted tax for req.
func (s *Service) Estimate(ctx context.Context, req Request) (*domain.Estimate, error) {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "estimate",
		trace.WithAttributes(
			attribute.String("estimate.variant", req.Variant),
			attribute.Bool("estimate.single_home", req.SingleHome),
		),
	)
	defer span.End()

	v, ratios, err := s.resolve(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	clamped := false
	if s.clamp {
		c := v.ClampRatios(ratios)
		clamped = c != ratios
		ratios = c
	} else if err := v.CheckRatios(ratios, req.SingleHome); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	price := tax.ParsePrice(format.PriceDigits(req.Price))

	calcStart := time.Now()
	comparison, err := v.Compare(tax.Input{Price: price, Ratios: ratios, SingleHome: req.SingleHome})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	calcTime := time.Since(calcStart)

	rulesStart := time.Now()
	results, err := s.engine.EvaluateAll(ctx, &rules.Input{Variant: v.ID, Comparison: comparison})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}
	rulesTime := time.Since(rulesStart)

	est := s.processor.Process(ctx, &report.Input{
		Variant:     v.ID,
		ScenarioID:  req.ScenarioID,
		TraceID:     req.TraceID,
		Comparison:  comparison,
		RuleResults: results,
		Clamped:     clamped,
		StartTime:   start,
		CalcTime:    calcTime,
		RulesTime:   rulesTime,
	})

	span.SetAttributes(
		attribute.String("estimate.id", est.ID),
		attribute.String("estimate.status", est.Status),
		attribute.Int("estimate.notices", len(est.Notices)),
	)

	s.metrics.ObserveEstimate(v.ID, est.Status, comparison.Current.IsCapped, time.Since(start))
	for _, n := range est.Notices {
		s.metrics.IncrementNotice(n.RuleID, n.Outcome)
	}
	return est, nil
}

// resolve picks the variant and the adjusted ratios, from the scenario when
// one is named. Omitted ratios fall back to the variant baseline.
func (s *Service) resolve(ctx context.Context, req Request) (tax.Variant, tax.Ratios, error) {
	variantID := req.Variant
	var overrides tax.Overrides

	switch {
	case req.ScenarioID != "":
		if s.scenarios == nil {
			return tax.Variant{}, tax.Ratios{}, ErrScenariosUnavailable
		}
		sc, err := s.scenarios.GetScenario(ctx, req.ScenarioID)
		if err != nil {
			return tax.Variant{}, tax.Ratios{}, fmt.Errorf("failed to load scenario %s: %w", req.ScenarioID, err)
		}
		if variantID == "" {
			variantID = sc.Variant
		} else if variantID != sc.Variant {
			return tax.Variant{}, tax.Ratios{}, fmt.Errorf("%w: %s is %s", ErrVariantMismatch, sc.ID, sc.Variant)
		}
		overrides = tax.Override(sc.Ratios)
	default:
		overrides = req.Ratios
	}

	if variantID == "" {
		variantID = tax.VariantAssessed
	}
	v, err := tax.LookupVariant(variantID)
	if err != nil {
		return tax.Variant{}, tax.Ratios{}, err
	}
	return v, v.Resolve(overrides), nil
}

// IsInputError reports whether err was caused by the request rather than
// the service.
func IsInputError(err error) bool {
	return errors.Is(err, tax.ErrUnknownVariant) ||
		errors.Is(err, tax.ErrRatioOutOfRange) ||
		errors.Is(err, tax.ErrSingleHomeUnsupported) ||
		errors.Is(err, ErrVariantMismatch)
}
