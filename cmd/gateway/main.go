package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/af-corp/clinai/internal/auth"
	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/filter"
	"github.com/af-corp/clinai/internal/filter/deid"
	"github.com/af-corp/clinai/internal/filter/phi"
	"github.com/af-corp/clinai/internal/filter/policy"
	"github.com/af-corp/clinai/internal/gateway"
	"github.com/af-corp/clinai/internal/ratelimit"
	"github.com/af-corp/clinai/internal/router"
	"github.com/af-corp/clinai/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*configDir, level, logger); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run(configDir string, level *slog.LevelVar, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(configDir, logger)
	if err := loader.Load(); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := loader.Config()
	level.Set(parseLevel(cfg.Telemetry.LogLevel))

	dbPool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		logger.Warn("database not reachable (gateway will start but key auth will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	rdb := connectRedis(ctx, cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	opts := router.OptionsFromConfig(cfg.Routing)
	opts.Observer = metrics
	opts.Logger = logger
	manager, err := router.NewManager(router.BuildFromConfig(loader.Providers(), loader.Models()), opts)
	if err != nil {
		return fmt.Errorf("build provider manager: %w", err)
	}
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize providers: %w", err)
	}
	logger.Info("providers initialized", "current", manager.GetCurrentProvider(), "healthy", manager.HealthyCount())

	// Provider definitions are fixed for the process lifetime; reloads
	// retune retries and logging only.
	loader.OnReload(func() {
		next := loader.Config()
		manager.SetRetryPolicy(router.PolicyFromConfig(next.Routing))
		level.Set(parseLevel(next.Telemetry.LogLevel))
		logger.Info("routing configuration reloaded", "max_retries", next.Routing.MaxRetries)
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}
	defer loader.Close()

	if cfg.Routing.RecoverySchedule != "" {
		recovery, err := router.NewRecoveryScheduler(manager, cfg.Routing.RecoverySchedule, cfg.Routing.InitTimeout, logger)
		if err != nil {
			return fmt.Errorf("recovery scheduler: %w", err)
		}
		if err := recovery.Start(ctx); err != nil {
			return fmt.Errorf("start recovery scheduler: %w", err)
		}
		defer recovery.Stop()
	}

	chain, closeFilters, err := buildFilters(ctx, loader, logger)
	if err != nil {
		return err
	}
	defer closeFilters()

	budget := ratelimit.NewBudgetTracker(rdb)
	handler := gateway.NewHandler(gateway.Deps{
		Manager: manager,
		Models:  loader.Models,
		Filters: chain,
		Budget:  budget,
		Metrics: metrics,
	})

	var sessions *auth.SessionVerifier
	if cfg.Auth.SessionSecret != "" {
		if sessions, err = auth.NewSessionVerifier(cfg.Auth.SessionSecret, cfg.Auth.SessionIssuer); err != nil {
			return fmt.Errorf("session verifier: %w", err)
		}
	}
	keyStore := auth.NewCachedKeyStore(dbPool, rdb, cfg.Auth.KeyCacheTTL)

	routes := gateway.Routes(handler, version,
		auth.Middleware(keyStore, sessions),
		ratelimit.Middleware(ratelimit.NewLimiter(rdb), budget, metrics),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      routes,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		logger.Info("metrics listener starting", "addr", metricsSrv.Addr)
		errCh <- metricsSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	metricsSrv.Shutdown(shutdownCtx)
	logger.Info("gateway stopped")
	return nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	if len(cfg.Addresses) == 0 || cfg.Addresses[0] == "" {
		logger.Warn("redis not configured (key cache, rate limits and budgets disabled)")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addresses[0],
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable (key cache, rate limits and budgets disabled)", "error", err)
		rdb.Close()
		return nil
	}
	logger.Info("redis connected")
	return rdb
}

// buildFilters assembles phi, deid and policy in that order. Each reads its
// settings from the live configuration on every request.
func buildFilters(ctx context.Context, loader *config.Loader, logger *slog.Logger) (*filter.Chain, func(), error) {
	phiScanner := phi.NewScanner(func() config.PHIFilterConfig { return loader.Config().Filter.PHI })

	deidClient := deid.NewClient(func() config.DeidServiceConfig { return loader.Config().Filter.Deid })
	if loader.Config().Filter.Deid.Enabled {
		if err := deidClient.Connect(); err != nil {
			return nil, nil, err
		}
	}

	evaluator := policy.NewEvaluator(func() config.PolicyFilterConfig { return loader.Config().Filter.Policy })
	if loader.Config().Filter.Policy.Enabled {
		if err := evaluator.Load(ctx); err != nil {
			return nil, nil, fmt.Errorf("load policies: %w", err)
		}
	}
	loader.OnReload(func() {
		if !loader.Config().Filter.Policy.Enabled {
			return
		}
		if err := evaluator.Load(context.Background()); err != nil {
			logger.Error("policy reload failed, keeping previous policy", "error", err)
		}
	})

	closeFn := func() {
		if err := deidClient.Close(); err != nil {
			logger.Warn("closing deid client", "error", err)
		}
	}
	return filter.NewChain(phiScanner, deidClient, evaluator), closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
