package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/estimator"
	"github.com/opensource-finance/proptax/internal/format"
	"github.com/opensource-finance/proptax/internal/metrics"
	"github.com/opensource-finance/proptax/internal/policy"
	"github.com/opensource-finance/proptax/internal/report"
	"github.com/opensource-finance/proptax/internal/repository"
	"github.com/opensource-finance/proptax/internal/rules"
	"github.com/opensource-finance/proptax/internal/tax"
	"github.com/opensource-finance/proptax/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	store     *policy.Store
	engine    *rules.Engine
	estimator *estimator.Service
	metrics   *metrics.Metrics
	worker    *worker.Worker
	version   string
}

// NewHandler creates a new API handler. repo, cache, bus, store and m may
// be nil; the matching endpoints then report 503 or skip the check.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, store *policy.Store, engine *rules.Engine, est *estimator.Service, m *metrics.Metrics, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		store:     store,
		engine:    engine,
		estimator: est,
		metrics:   m,
		version:   version,
	}
}

// Price accepts either a JSON string ("1,300,000,000") or a JSON number.
// Non-positive numbers decode to "", which means no input yet.
type Price string

// UnmarshalJSON implements json.Unmarshaler.
func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Price(s)
		return nil
	}
	if string(data) == "null" {
		*p = ""
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return err
	}
	d = d.Truncate(0)
	if !d.IsPositive() {
		*p = ""
		return nil
	}
	*p = Price(d.String())
	return nil
}

// EstimateRequest is the request body for POST /estimate.
type EstimateRequest struct {
	Variant    string        `json:"variant"`
	Price      Price         `json:"price"`
	Ratios     tax.Overrides `json:"ratios"`
	ScenarioID string        `json:"scenarioId,omitempty"`
	SingleHome bool          `json:"singleHome"`
}

// EstimateResponse is the response for POST /estimate.
type EstimateResponse struct {
	*domain.Estimate
	Display Display  `json:"display"`
	Reasons []string `json:"reasons,omitempty"`
	Warning bool     `json:"warning"`
	Version string   `json:"version"`
}

// Display holds the amounts rendered for people.
type Display struct {
	MarketValue       string `json:"marketValue"`
	BaselineTax       string `json:"baselineTax"`
	CurrentTax        string `json:"currentTax"`
	Difference        string `json:"difference"`
	DifferencePercent string `json:"differencePercent"`
}

func newDisplay(c tax.Comparison) Display {
	return Display{
		MarketValue:       format.Won(c.Current.MarketValue) + "원",
		BaselineTax:       format.Won(c.Baseline.Tax) + "원",
		CurrentTax:        format.Won(c.Current.Tax) + "원",
		Difference:        format.SignedWon(c.Difference) + "원",
		DifferencePercent: format.SignedPercent(c.DifferencePercent),
	}
}

// Estimate handles POST /estimate requests.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	est, err := h.estimator.Estimate(ctx, estimator.Request{
		Variant:    req.Variant,
		Price:      string(req.Price),
		Ratios:     req.Ratios,
		ScenarioID: req.ScenarioID,
		SingleHome: req.SingleHome,
		TraceID:    GetTraceID(ctx),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, EstimateResponse{
		Estimate: est,
		Display:  newDisplay(est.Comparison),
		Reasons:  report.Reasons(est),
		Warning:  report.HasWarning(est),
		Version:  h.version,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			slog.Warn("repository ping failed", "error", err)
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			slog.Warn("cache ping failed", "error", err)
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			slog.Warn("event bus ping failed", "error", err)
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ready": true,
		"rules": h.engine.RulesCount(),
	}
	status := http.StatusOK

	// Without a subscribed worker, policy changes from other instances are missed.
	if h.worker != nil {
		stats := h.worker.GetStats()
		resp["worker"] = stats
		if !stats.Subscribed {
			resp["ready"] = false
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// SetWorker reports w's state on /ready.
func (h *Handler) SetWorker(w *worker.Worker) {
	h.worker = w
}

// variantView adds the schedule IDs to a variant.
type variantView struct {
	tax.Variant
	StandardSchedule   string `json:"standardSchedule"`
	SingleHomeSchedule string `json:"singleHomeSchedule,omitempty"`
}

// ListVariants handles GET /variants.
func (h *Handler) ListVariants(w http.ResponseWriter, r *http.Request) {
	variants := tax.Variants()
	out := make([]variantView, 0, len(variants))
	for _, v := range variants {
		view := variantView{Variant: v, StandardSchedule: v.StandardSchedule().ID}
		if s, ok := v.SingleHomeSchedule(); ok {
			view.SingleHomeSchedule = s.ID
		}
		out = append(out, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"variants": out,
		"count":    len(out),
	})
}

// ScheduleView is a schedule with display labels on each bracket.
type ScheduleView struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Kind     tax.FormulaKind `json:"kind"`
	Ceiling  decimal.Decimal `json:"ceiling"`
	Brackets []BracketView   `json:"brackets"`
}

// BracketView is one labelled bracket.
type BracketView struct {
	tax.Bracket
	Label     string `json:"label"`
	RateLabel string `json:"rateLabel"`
}

// NewScheduleView labels every bracket of s.
func NewScheduleView(s tax.Schedule) ScheduleView {
	view := ScheduleView{
		ID:       s.ID,
		Name:     s.Name,
		Kind:     s.Kind,
		Ceiling:  s.Ceiling,
		Brackets: make([]BracketView, 0, len(s.Brackets)),
	}
	for _, b := range s.Brackets {
		view.Brackets = append(view.Brackets, BracketView{
			Bracket:   b,
			Label:     format.BracketLabel(b),
			RateLabel: format.RateLabel(s.Kind, b),
		})
	}
	return view
}

// ListSchedules handles GET /schedules.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules := tax.Schedules()
	out := make([]ScheduleView, 0, len(schedules))
	for _, s := range schedules {
		out = append(out, NewScheduleView(s))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": out,
		"count":     len(out),
	})
}

// GetSchedule handles GET /schedules/{id}.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	s, err := tax.LookupSchedule(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "schedule not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, NewScheduleView(s))
}

// ListScenarios handles GET /scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	scenarios, err := h.store.ListScenarios(r.Context())
	if err != nil {
		slog.Error("failed to list scenarios", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list scenarios",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scenarios": scenarios,
		"count":     len(scenarios),
	})
}

// GetScenario handles GET /scenarios/{id}.
func (h *Handler) GetScenario(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	sc, err := h.store.GetScenario(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// ScenarioRequest is the request body for POST /scenarios.
type ScenarioRequest struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Variant     string        `json:"variant"`
	Ratios      tax.Overrides `json:"ratios"`
}

// CreateScenario handles POST /scenarios. Omitted ratios are stored as the
// variant baseline.
func (h *Handler) CreateScenario(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	v, err := tax.LookupVariant(req.Variant)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %w", policy.ErrInvalidScenario, err))
		return
	}

	sc := domain.Scenario{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Variant:     v.ID,
		Ratios:      v.Resolve(req.Ratios),
	}
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}

	if err := h.store.SaveScenario(r.Context(), &sc); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("scenario saved", "id", sc.ID, "variant", sc.Variant)
	writeJSON(w, http.StatusCreated, sc)
}

// DeleteScenario handles DELETE /scenarios/{id}.
func (h *Handler) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.store.DeleteScenario(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("scenario deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ListRules returns the rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule returns a loaded rule, or the stored one if it is not loaded yet.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	if h.store != nil {
		if rule, err := h.store.GetRule(r.Context(), ruleID); err == nil {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Enabled     bool              `json:"enabled"`
}

// CreateRule compiles and stores a rule. Stored rules reach the engine
// through the policy worker or POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.store.SaveRule(r.Context(), rule); err != nil {
		slog.Error("failed to save rule config", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule saved. Engines reload on the policy change event.",
	})
}

// ReloadRules reloads all stored rules into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	stored, err := h.store.ListRules(r.Context())
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from repository",
		})
		return
	}

	if err := h.engine.ReloadRules(stored); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}
	h.metrics.SetRulesLoaded(h.engine.RulesCount())

	slog.Info("rules reloaded from repository", "count", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}

func (h *Handler) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "policy store not available",
		})
		return false
	}
	return true
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case estimator.IsInputError(err),
		errors.Is(err, policy.ErrInvalidScenario),
		errors.Is(err, repository.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, estimator.ErrScenariosUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		err = errors.New("internal error")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
