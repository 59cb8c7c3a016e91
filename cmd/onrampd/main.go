package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/onramp/pkg/config"
	"github.com/platinummonkey/onramp/pkg/httputil"
	"github.com/platinummonkey/onramp/pkg/identity"
	"github.com/platinummonkey/onramp/pkg/observability"
	"github.com/platinummonkey/onramp/pkg/reconcile"
	"github.com/platinummonkey/onramp/pkg/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	tracerProvider, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logrus.Fatalf("Failed to initialize tracing: %v", err)
	}
	if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("failed to shut down tracer provider")
			}
		}()
	}

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		logrus.Fatalf("Failed to ping database: %v", err)
	}
	st := store.NewPostgresStore(db)

	// Identity provider client
	providerID, err := cfg.Provider.ProviderID()
	if err != nil {
		logrus.Fatalf("Invalid provider configuration: %v", err)
	}
	provider, err := identity.NewRESTClient(ctx, identity.RESTConfig{
		BaseURL:      cfg.Provider.BaseURL,
		IssuerURL:    cfg.Provider.IssuerURL,
		TokenURL:     cfg.Provider.TokenURL,
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Scopes:       cfg.Provider.Scopes,
		Timeout:      cfg.Provider.Timeout,
	}, logger, metrics)
	if err != nil {
		logrus.Fatalf("Failed to build identity provider client: %v", err)
	}

	// Optional Redis-backed cycle lock
	var cycleLock reconcile.CycleLock
	var redisClient *redis.Client
	if cfg.Reconcile.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Reconcile.RedisAddr,
			Password: cfg.Reconcile.RedisPassword,
			DB:       cfg.Reconcile.RedisDB,
		})
		defer redisClient.Close()
		cycleLock = reconcile.NewRedisLock(redisClient, cfg.Reconcile.LockKey, cfg.Reconcile.LockTTL)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// Reconciliation loop
	if cfg.Reconcile.Enabled {
		reconciler, err := reconcile.NewReconciler(provider, st, reconcile.Config{
			Interval:       cfg.Reconcile.Interval,
			Window:         cfg.Reconcile.Window,
			ProviderID:     providerID,
			DedupCacheSize: cfg.Reconcile.DedupCacheSize,
		}, cycleLock, logger, metrics)
		if err != nil {
			logrus.Fatalf("Failed to build reconciler: %v", err)
		}
		group.Go(func() error {
			reconciler.Run(groupCtx)
			return nil
		})
	}

	// Failure-log retention job
	retention := cron.New()
	_, err = retention.AddFunc(cfg.Retention.Schedule, func() {
		cutoff := time.Now().UTC().Add(-cfg.Retention.MaxAge)
		jobCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		purged, err := st.PurgeFailuresBefore(jobCtx, cutoff)
		if err != nil {
			logger.WithError(err).Error("failure-log retention job failed")
			return
		}
		logger.WithField("purged", purged).Info("failure-log retention job complete")
	})
	if err != nil {
		logrus.Fatalf("Failed to schedule retention job: %v", err)
	}
	retention.Start()
	defer retention.Stop()

	// Health/metrics server on its own port
	checker := observability.NewHealthChecker(db, redisClient)
	router := mux.NewRouter()
	router.HandleFunc("/healthz", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", checker.Readiness).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	healthServer := &http.Server{
		Addr: ":" + cfg.Health.Port,
		Handler: httputil.Chain(
			httputil.RecoveryMiddleware(logger),
			httputil.LoggingMiddleware(logger),
		)(router),
	}
	group.Go(func() error {
		logger.WithField("port", cfg.Health.Port).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Health.ShutdownTimeout)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	// Periodically export connection pool stats while running
	group.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				metrics.UpdateDBStats(db.Stats())
			}
		}
	})

	logger.Info("onrampd started")
	if err := group.Wait(); err != nil {
		logrus.Fatalf("onrampd exited with error: %v", err)
	}
	logger.Info("onrampd stopped")
}
