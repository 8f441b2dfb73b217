package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/proptax/internal/bus"
	"github.com/opensource-finance/proptax/internal/cache"
	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/estimator"
	"github.com/opensource-finance/proptax/internal/metrics"
	"github.com/opensource-finance/proptax/internal/policy"
	"github.com/opensource-finance/proptax/internal/report"
	"github.com/opensource-finance/proptax/internal/repository"
	"github.com/opensource-finance/proptax/internal/rules"
	"github.com/opensource-finance/proptax/internal/tax"
	"github.com/opensource-finance/proptax/internal/throttle"
	"github.com/opensource-finance/proptax/internal/worker"
)

// embeddedTracer lets spanRecorder embed embedded.Tracer without a field
// named Tracer clashing with its Tracer method.
type embeddedTracer = embedded.Tracer

// spanRecorder is a tracer provider that records span names.
type spanRecorder struct {
	embedded.TracerProvider
	embeddedTracer

	mu    sync.Mutex
	spans []string
}

func (r *spanRecorder) Tracer(string, ...trace.TracerOption) trace.Tracer { return r }

func (r *spanRecorder) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	r.mu.Lock()
	r.spans = append(r.spans, name)
	r.mu.Unlock()
	return noop.NewTracerProvider().Tracer("").Start(ctx, name)
}

type testEnv struct {
	server  *Server
	engine  *rules.Engine
	store   *policy.Store
	bus     domain.EventBus
	metrics *metrics.Metrics
}

// createTestServer wires a standalone stack: SQLite in a temp dir, an LRU
// cache and the channel bus.
func createTestServer(t *testing.T, limiter func(domain.Cache) *throttle.Limiter) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api-test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(16)
	t.Cleanup(func() { b.Close() })

	engine, err := rules.NewEngine(4)
	require.NoError(t, err)

	m := metrics.New()
	store := policy.NewStore(repo, c, b, time.Minute)
	est := estimator.New(engine, report.NewProcessor("test"), store, m, domain.PolicyConfig{}, nil)
	handler := NewHandler(repo, c, b, store, engine, est, m, "test-v1")

	var l *throttle.Limiter
	if limiter != nil {
		l = limiter(c)
	}

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	return &testEnv{
		server:  NewServer(cfg, handler, l, nil),
		engine:  engine,
		store:   store,
		bus:     b,
		metrics: m,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestEstimateEndpoint(t *testing.T) {
	env := createTestServer(t, nil)

	t.Run("AssessedEntry", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", map[string]any{
			"variant": tax.VariantAssessed,
			"price":   "897,000,000",
			"ratios":  map[string]int{"realityRate": 90},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[EstimateResponse](t, rr)
		if resp.ID == "" {
			t.Error("expected estimate id in response")
		}
		if resp.Status != domain.StatusIncrease {
			t.Errorf("expected status INCREASE, got %s", resp.Status)
		}
		if resp.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}

		want := Display{
			MarketValue:       "1,300,000,000원",
			BaselineTax:       "152,280,000원",
			CurrentTax:        "217,800,000원",
			Difference:        "+65,520,000원",
			DifferencePercent: "+43.03%",
		}
		assert.Equal(t, want, resp.Display)
	})

	t.Run("NumericPrice", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", `{"variant":"market","price":1300000000,"singleHome":true}`)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		resp := decode[EstimateResponse](t, rr)
		assert.Equal(t, tax.ScheduleSingleHome, resp.Comparison.ScheduleID)
		assert.Equal(t, "782,775원", resp.Display.CurrentTax)
		assert.Equal(t, domain.StatusUnchanged, resp.Status)
	})

	t.Run("EmptyPrice", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", `{"variant":"assessed","price":""}`)
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decode[EstimateResponse](t, rr)
		assert.Equal(t, domain.StatusAwaitingInput, resp.Status)
		assert.Equal(t, "0원", resp.Display.CurrentTax)
	})

	t.Run("NegativePrice", func(t *testing.T) {
		for _, body := range []string{
			`{"variant":"market","price":-1300000000}`,
			`{"variant":"market","price":-5}`,
			`{"variant":"market","price":"-1300000000"}`,
			`{"variant":"market","price":"-5"}`,
		} {
			rr := env.do(t, http.MethodPost, "/estimate", body)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

			resp := decode[EstimateResponse](t, rr)
			assert.Equal(t, domain.StatusAwaitingInput, resp.Status, body)
			assert.Equal(t, "0원", resp.Display.MarketValue, body)
			assert.Equal(t, "0원", resp.Display.CurrentTax, body)
		}
	})

	t.Run("ExplicitZeroRatio", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", `{"variant":"market","price":"1300000000","ratios":{"realityRate":0}}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "realityRate 0")
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("RatioOutOfRange", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", `{"variant":"assessed","price":"1","ratios":{"realityRate":55}}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "ratio out of range")
	})

	t.Run("SingleHomeUnsupported", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", `{"variant":"assessed","price":"1","singleHome":true}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("UnknownVariant", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", `{"variant":"rental","price":"1"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("UnknownScenario", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", `{"scenarioId":"absent","price":"1"}`)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", `{"price":"1"}`)
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestReferenceEndpoints(t *testing.T) {
	env := createTestServer(t, nil)

	t.Run("Variants", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/variants", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decode[struct {
			Variants []variantView `json:"variants"`
			Count    int           `json:"count"`
		}](t, rr)
		require.Equal(t, 2, resp.Count)
		assert.Equal(t, tax.ScheduleStandardFlat, resp.Variants[0].StandardSchedule)
		assert.Equal(t, tax.ScheduleSingleHome, resp.Variants[1].SingleHomeSchedule)
		assert.Equal(t, tax.Bounds{Min: 60, Max: 100}, resp.Variants[0].RealityBounds)
	})

	t.Run("Schedules", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/schedules", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"count":3`)
	})

	t.Run("ScheduleLabels", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/schedules/"+tax.ScheduleStandardCumulative, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		view := decode[ScheduleView](t, rr)
		require.Len(t, view.Brackets, 4)
		assert.Equal(t, "300,000,000원 초과", view.Brackets[3].Label)
		assert.Equal(t, "570,000원+3억원 초과금액의 1,000분의 4", view.Brackets[3].RateLabel)
	})

	t.Run("UnknownSchedule", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/schedules/nope", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestScenarioEndpoints(t *testing.T) {
	env := createTestServer(t, nil)

	t.Run("CreateFillsBaseline", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/scenarios", map[string]any{
			"id":      "reform",
			"name":    "Reform",
			"variant": tax.VariantMarket,
			"ratios":  map[string]int{"realityRate": 80},
		})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		sc := decode[domain.Scenario](t, rr)
		assert.Equal(t, tax.Ratios{Reality: 80, FairMarket: 60, SingleHomeFairMarket: 45}, sc.Ratios)
	})

	t.Run("CreateAssignsID", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/scenarios", `{"name":"Anon","variant":"assessed"}`)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		assert.NotEmpty(t, decode[domain.Scenario](t, rr).ID)
	})

	t.Run("CreateInvalid", func(t *testing.T) {
		for _, body := range []string{
			`{"id":"bad","variant":"assessed","ratios":{"realityRate":10}}`,
			`{"id":"bad","variant":"market","ratios":{"fairMarketRate":0}}`,
			`{"id":"bad","variant":"rental"}`,
		} {
			rr := env.do(t, http.MethodPost, "/scenarios", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		}
	})

	t.Run("GetAndList", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/scenarios/reform", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Reform", decode[domain.Scenario](t, rr).Name)

		rr = env.do(t, http.MethodGet, "/scenarios", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"count":2`)
	})

	t.Run("EstimateWithScenario", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", `{"scenarioId":"reform","price":"1000000000"}`)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		resp := decode[EstimateResponse](t, rr)
		assert.Equal(t, "reform", resp.ScenarioID)
		assert.Equal(t, tax.VariantMarket, resp.Variant)
		assert.Equal(t, domain.StatusIncrease, resp.Status)
	})

	t.Run("Delete", func(t *testing.T) {
		rr := env.do(t, http.MethodDelete, "/scenarios/reform", nil)
		require.Equal(t, http.StatusNoContent, rr.Code)

		rr = env.do(t, http.MethodGet, "/scenarios/reform", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = env.do(t, http.MethodDelete, "/scenarios/reform", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestRuleEndpoints(t *testing.T) {
	env := createTestServer(t, nil)

	rule := map[string]any{
		"id":         "big-increase",
		"name":       "Big increase",
		"expression": "difference_percent",
		"bands": []map[string]any{
			{"upperLimit": 30.0, "outcome": domain.RuleOutcomeNone},
			{"lowerLimit": 30.0, "outcome": domain.RuleOutcomeWarn, "reason": "Tax rises by 30% or more"},
		},
		"enabled": true,
	}

	t.Run("InvalidExpression", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules", `{"id":"x","name":"x","expression":"nope >"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules", `{"id":"x"}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("CreateThenReload", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/rules", rule)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		assert.Equal(t, 0, env.engine.RulesCount(), "create does not load the rule")

		// stored but not loaded
		rr = env.do(t, http.MethodGet, "/rules/big-increase", nil)
		assert.Equal(t, http.StatusOK, rr.Code)

		rr = env.do(t, http.MethodPost, "/rules/reload", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, env.engine.RulesCount())
		assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RulesLoaded))

		rr = env.do(t, http.MethodGet, "/rules", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"count":1`)
	})

	t.Run("NoticeOnEstimate", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/estimate", `{"variant":"assessed","price":"897000000","ratios":{"realityRate":90}}`)
		require.Equal(t, http.StatusOK, rr.Code)

		resp := decode[EstimateResponse](t, rr)
		require.Len(t, resp.Notices, 1)
		assert.Equal(t, domain.RuleOutcomeWarn, resp.Notices[0].Outcome)
		assert.Equal(t, []string{"Tax rises by 30% or more"}, resp.Reasons)
		assert.True(t, resp.Warning)
	})

	t.Run("UnknownRule", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/rules/absent", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestPolicyWorkerReloadsOnCreate(t *testing.T) {
	env := createTestServer(t, nil)

	w := worker.NewWorker(env.bus, env.store, env.store, env.engine)
	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })

	rr := env.do(t, http.MethodPost, "/rules", `{"id":"capped","name":"Capped","expression":"is_capped","bands":[{"lowerLimit":1,"outcome":".notice","reason":"Ceiling applied"}],"enabled":true}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	require.Eventually(t, func() bool { return env.engine.RulesCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestReadyReportsWorker(t *testing.T) {
	env := createTestServer(t, nil)

	w := worker.NewWorker(env.bus, env.store, env.store, env.engine)
	env.server.handler.SetWorker(w)

	rr := env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "worker not yet subscribed")

	require.NoError(t, w.Start())
	t.Cleanup(func() { w.Stop() })

	rr = env.do(t, http.MethodPost, "/rules", `{"id":"capped","name":"Capped","expression":"is_capped","bands":[{"lowerLimit":1,"outcome":".notice"}],"enabled":true}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	require.Eventually(t, func() bool {
		rr := env.do(t, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			return false
		}
		var resp struct {
			Ready  bool         `json:"ready"`
			Worker worker.Stats `json:"worker"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Ready && resp.Worker.Subscribed && resp.Worker.Reloads == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestThrottle(t *testing.T) {
	env := createTestServer(t, func(c domain.Cache) *throttle.Limiter {
		l, err := throttle.NewLimiter(c, domain.ThrottleConfig{Enabled: true, Limit: 2, Window: time.Minute})
		require.NoError(t, err)
		return l
	})

	send := func(addr, clientID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/estimate", strings.NewReader(`{"price":"1"}`))
		req.RemoteAddr = addr + ":40000"
		req.Header.Set(ClientIDHeader, clientID)
		req.Header.Set("X-Forwarded-For", clientID+".example")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1", "a").Code)
	rr := send("192.0.2.1", "b")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	// A new X-Client-ID or forwarded address does not reset the budget.
	rr = send("192.0.2.1", "c")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Throttled))

	assert.Equal(t, http.StatusOK, send("192.0.2.2", "c").Code, "addresses are counted separately")

	// reference data is not throttled
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/variants", nil).Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := createTestServer(t, nil)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		resp := decode[map[string]string](t, rr)
		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		env.do(t, http.MethodPost, "/estimate", `{"price":"1"}`)

		rr := env.do(t, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "proptax_estimates_total")
		assert.Contains(t, rr.Body.String(), `route="/estimate"`)
	})
}

func TestWithoutStore(t *testing.T) {
	engine, err := rules.NewEngine(1)
	require.NoError(t, err)
	est := estimator.New(engine, report.NewProcessor("test"), nil, nil, domain.PolicyConfig{}, nil)
	server := NewServer(domain.ServerConfig{}, NewHandler(nil, nil, nil, nil, engine, est, nil, "test"), nil, nil)

	for _, path := range []string{"/scenarios", "/scenarios/x"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}

	req := httptest.NewRequest(http.MethodPost, "/estimate", strings.NewReader(`{"scenarioId":"x","price":"1"}`))
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr = httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMiddleware(t *testing.T) {
	t.Run("ClientMiddlewareKeysOnAddress", func(t *testing.T) {
		var addr, id string
		handler := ClientMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr = GetClientAddr(r.Context())
			id = GetClientID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:5555"
		req.Header.Set(ClientIDHeader, "kiosk-7")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "198.51.100.4", addr)
		assert.Equal(t, "kiosk-7", id)

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.5:5555"
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "198.51.100.5", addr)
		assert.Empty(t, id)
	})

	t.Run("TracingMiddlewareUsesProvider", func(t *testing.T) {
		rec := &spanRecorder{}
		handler := TracingMiddleware(rec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/variants", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, []string{"GET /variants"}, rec.spans)
		assert.Equal(t, rr.Header().Get(RequestIDHeader), rr.Header().Get(TraceIDHeader),
			"without a recording span the trace id falls back to the request id")
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(noop.NewTracerProvider())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("PriceAcceptsNumberOrString", func(t *testing.T) {
		var req EstimateRequest
		require.NoError(t, json.Unmarshal([]byte(`{"price":1.3e9}`), &req))
		assert.Equal(t, Price("1300000000"), req.Price)

		for _, raw := range []string{`-1300000000`, `-5`, `0`, `0.4`} {
			require.NoError(t, json.Unmarshal([]byte(`{"price":`+raw+`}`), &req))
			assert.Equal(t, Price(""), req.Price, raw)
		}

		require.NoError(t, json.Unmarshal([]byte(`{"price":"1,300"}`), &req))
		assert.Equal(t, Price("1,300"), req.Price)

		assert.Error(t, json.Unmarshal([]byte(`{"price":true}`), &req))
	})
}
