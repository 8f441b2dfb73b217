package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/proptax/internal/api"
	"github.com/opensource-finance/proptax/internal/bus"
	"github.com/opensource-finance/proptax/internal/cache"
	"github.com/opensource-finance/proptax/internal/domain"
	"github.com/opensource-finance/proptax/internal/estimator"
	"github.com/opensource-finance/proptax/internal/metrics"
	"github.com/opensource-finance/proptax/internal/policy"
	"github.com/opensource-finance/proptax/internal/report"
	"github.com/opensource-finance/proptax/internal/repository"
	"github.com/opensource-finance/proptax/internal/rules"
	"github.com/opensource-finance/proptax/internal/throttle"
	"github.com/opensource-finance/proptax/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting proptax",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"profile", cfg.Profile,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"clamp_ratios", cfg.Policy.ClampRatios,
		"throttle", cfg.Throttle.Enabled,
		"tracing", cfg.Tracing.Enabled,
		"trust_proxy_headers", cfg.Server.TrustProxyHeaders,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	m := metrics.New()
	store := policy.NewStore(repo, cacheImpl, busImpl, cfg.Policy.ScenarioTTL)

	engine, err := rules.NewEngine(100)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()

	// Rules live in the repository; configure them via POST /rules.
	if err := loadRules(ctx, store, engine); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	m.SetRulesLoaded(engine.RulesCount())
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	policyWorker := worker.NewWorker(busImpl, store, store, engine)
	policyWorker.OnReload = m.SetRulesLoaded
	if err := policyWorker.Start(); err != nil {
		return fmt.Errorf("failed to start policy worker: %w", err)
	}

	var limiter *throttle.Limiter
	if cfg.Throttle.Enabled {
		limiter, err = throttle.NewLimiter(cacheImpl, cfg.Throttle)
		if err != nil {
			return fmt.Errorf("failed to initialize throttle: %w", err)
		}
		slog.Info("throttle enabled", "limit", cfg.Throttle.Limit, "window", cfg.Throttle.Window)
	}

	processor := report.NewProcessor(Version)
	tp := tracerProvider(cfg.Tracing)
	est := estimator.New(engine, processor, store, m, cfg.Policy, tp)
	handler := api.NewHandler(repo, cacheImpl, busImpl, store, engine, est, m, Version)
	handler.SetWorker(policyWorker)
	srv := api.NewServer(cfg.Server, handler, limiter, tp)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			cancel()
		}
	}()

	slog.Info("proptax is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cmd, cfg)

	<-ctx.Done()
	slog.Info("shutting down...")

	if err := policyWorker.Stop(); err != nil {
		slog.Error("failed to stop policy worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	default:
	}

	slog.Info("proptax shutdown complete")
	return nil
}

// tracerProvider returns the global provider when tracing is enabled and a
// no-op one otherwise.
func tracerProvider(cfg domain.TracingConfig) trace.TracerProvider {
	if !cfg.Enabled {
		return noop.NewTracerProvider()
	}
	return otel.GetTracerProvider()
}

// loadRules loads stored rules into the engine. A listing failure starts
// the engine empty; rules can still be added via the API.
func loadRules(ctx context.Context, store *policy.Store, engine *rules.Engine) error {
	stored, err := store.ListRules(ctx)
	if err != nil {
		slog.Warn("failed to list rules", "error", err)
		return nil
	}

	if len(stored) == 0 {
		slog.Info("no rules stored - configure via POST /rules API")
		return nil
	}

	slog.Info("loading rules", "count", len(stored))
	return engine.LoadRules(stored)
}

func printBanner(cmd *cobra.Command, cfg *domain.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  proptax - 재산세 변동 예상")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", Version)
	fmt.Fprintf(out, "  Profile:  %s\n", cfg.Profile)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST   /estimate          - Compare baseline and adjusted tax")
	fmt.Fprintln(out, "    GET    /variants          - Variants, baseline ratios and bounds")
	fmt.Fprintln(out, "    GET    /schedules         - Tax schedules with labels")
	fmt.Fprintln(out, "    GET    /scenarios         - List stored scenarios")
	fmt.Fprintln(out, "    POST   /scenarios         - Store a scenario")
	fmt.Fprintln(out, "    DELETE /scenarios/{id}    - Delete a scenario")
	fmt.Fprintln(out, "    GET    /rules             - List loaded notice rules")
	fmt.Fprintln(out, "    POST   /rules             - Store a notice rule")
	fmt.Fprintln(out, "    POST   /rules/reload      - Reload rules from the repository")
	fmt.Fprintln(out, "    GET    /metrics           - Prometheus metrics")
	fmt.Fprintln(out, "    GET    /health            - Health check")
	fmt.Fprintln(out)
}
