package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/federate/pkg/audit"
	"github.com/platinummonkey/federate/pkg/config"
	"github.com/platinummonkey/federate/pkg/httputil"
	"github.com/platinummonkey/federate/pkg/middleware"
	"github.com/platinummonkey/federate/pkg/observability"
	"github.com/platinummonkey/federate/pkg/sso"
	"github.com/platinummonkey/federate/pkg/storage"
)

func main() {
	// Bootstrap logger for everything before the structured logger exists
	bootstrap := logrus.New()
	bootstrap.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		bootstrap.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"version": observability.Version,
		"port":    cfg.Server.Port,
	}).Info("starting federate broker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Backing stores
	db, err := storage.OpenPostgres(ctx, storage.PostgresOptions{
		URL:      cfg.Storage.PostgresURL,
		MaxConns: cfg.Storage.PostgresMaxConns,
		MinConns: cfg.Storage.PostgresMinConns,
	})
	if err != nil {
		bootstrap.Fatalf("Failed to connect to postgres: %v", err)
	}

	state, err := sso.NewRedisStateStore(cfg.Storage.RedisURL)
	if err != nil {
		bootstrap.Fatalf("Failed to connect to redis: %v", err)
	}

	configs := sso.NewConfigStore(db)
	if err := configs.Migrate(ctx); err != nil {
		bootstrap.Fatalf("Failed to migrate config schema: %v", err)
	}

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		bootstrap.Fatalf("Failed to create audit logger: %v", err)
	}
	if err := auditLogger.Migrate(ctx); err != nil {
		bootstrap.Fatalf("Failed to migrate audit schema: %v", err)
	}

	// Observability
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		bootstrap.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	// Seed file, if configured
	if cfg.Broker.SeedFile != "" {
		if err := seedConfigs(ctx, cfg.Broker.SeedFile, configs, logger); err != nil {
			bootstrap.Fatalf("Failed to apply seed file: %v", err)
		}
		go func() {
			defer observability.RecoverPanic(logger, "seed watcher")
			err := config.WatchSeedFile(ctx, cfg.Broker.SeedFile, logger, func(seed *config.SeedFile) {
				if err := applySeed(ctx, seed, configs, logger); err != nil {
					logger.WithError(err).Error("failed to apply reloaded seed file")
				}
			})
			if err != nil {
				logger.WithError(err).Error("seed file watcher stopped")
			}
		}()
	}

	// HTTP API
	handlers := sso.NewHandlers(configs, state, sso.HandlersConfig{
		PendingAuthTTL: cfg.Broker.PendingAuthTTL,
		CodeTTL:        cfg.Broker.CodeTTL,
		TokenTTL:       cfg.Broker.TokenTTL,
		LogoutTTL:      cfg.Broker.LogoutTTL,
	}, logger, metrics).WithAuditLogger(auditLogger)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)
	audit.NewHandlers(auditLogger).RegisterRoutes(router)

	apiHandler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.MaxBytesMiddleware(1024*1024),
	)(router)
	if cfg.Broker.RateLimitPerMinute > 0 {
		limiter := middleware.NewRateLimiter(state.Client(), &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Broker.RateLimitPerMinute,
			WindowDuration:    time.Minute,
		}, "federate")
		apiHandler = limitCredentialEndpoints(limiter, apiHandler)
	}
	if metrics != nil {
		apiHandler = observability.HTTPMetricsMiddleware(metrics)(apiHandler)
	}
	if otelProviders != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			bootstrap.Fatalf("Failed to create OTel instruments: %v", err)
		}
		apiHandler = recordOTelRequests(otelMetrics, apiHandler)
		apiHandler = otelhttp.NewHandler(apiHandler, "federate")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port so probes bypass rate limits
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, state.Client()))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	// Periodic sweep of expired pending records
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Broker.SweepSchedule, func() {
		defer observability.RecoverPanic(logger, "state sweep")
		sweep(ctx, state, configs, db, metrics, logger)
	}); err != nil {
		bootstrap.Fatalf("Invalid sweep schedule %q: %v", cfg.Broker.SweepSchedule, err)
	}
	sweeper.Start()

	// Hooks run in reverse order: telemetry flushes before the stores
	// close, and the stores close after background work has stopped.
	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	if otelProviders != nil {
		shutdown.Register("otel", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}
	shutdown.Register("postgres", func(ctx context.Context) error {
		return db.Close()
	})
	shutdown.Register("redis", func(ctx context.Context) error {
		return state.Close()
	})
	shutdown.Register("background workers", func(ctx context.Context) error {
		cancel()
		sweeper.Stop()
		return nil
	})
	shutdown.Register("health server", func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})

	var group errgroup.Group
	group.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	group.Go(shutdown.WaitForShutdown)

	if err := group.Wait(); err != nil {
		bootstrap.Fatalf("Server exited: %v", err)
	}
	logger.Info("federate broker stopped")
}

// limitCredentialEndpoints rate limits the endpoints an attacker would
// hammer: assertion delivery and the token exchange. Config management and
// userinfo stay unlimited.
func limitCredentialEndpoints(limiter *middleware.RateLimiter, next http.Handler) http.Handler {
	limited := limiter.Handler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token", "/oauth/saml":
			limited.ServeHTTP(w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// statusWriter captures the response status for request instrumentation
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// recordOTelRequests mirrors the Prometheus HTTP metrics onto the OTel pipeline
func recordOTelRequests(metrics *observability.OTelMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

// seedConfigs loads the seed file and applies it
func seedConfigs(ctx context.Context, path string, configs *sso.ConfigStore, logger *observability.Logger) error {
	seed, err := config.LoadSeedFile(path)
	if err != nil {
		return err
	}
	return applySeed(ctx, seed, configs, logger)
}

// applySeed upserts every seed entry. Existing connections are patched in
// place so client credentials survive a reload.
func applySeed(ctx context.Context, seed *config.SeedFile, configs *sso.ConfigStore, logger *observability.Logger) error {
	for i := range seed.Configs {
		entry := &seed.Configs[i]
		key := sso.ConfigKey{Tenant: entry.Tenant, Product: entry.Product}

		_, err := configs.Get(ctx, key)
		switch {
		case err == nil:
			patch := sso.ConfigPatch{
				IdPEntityID:    &entry.IdPEntityID,
				IdPSSOURL:      &entry.IdPSSOURL,
				IdPSLOURL:      &entry.IdPSLOURL,
				IdPCertificate: &entry.IdPCertificate,
				Audience:       &entry.Audience,
				ACSURL:         &entry.ACSURL,
				RedirectURIs:   &entry.RedirectURIs,
			}
			if entry.SLOBinding != "" {
				binding := sso.SLOBinding(entry.SLOBinding)
				patch.SLOBinding = &binding
			}
			if _, err := configs.Update(ctx, key, patch); err != nil {
				return fmt.Errorf("failed to update seeded config %s/%s: %w", entry.Tenant, entry.Product, err)
			}
		case sso.IsKind(err, sso.KindConfigNotFound):
			created, err := configs.Create(ctx, &sso.SAMLConfig{
				Tenant:         entry.Tenant,
				Product:        entry.Product,
				IdPEntityID:    entry.IdPEntityID,
				IdPSSOURL:      entry.IdPSSOURL,
				IdPSLOURL:      entry.IdPSLOURL,
				SLOBinding:     sso.SLOBinding(entry.SLOBinding),
				IdPCertificate: entry.IdPCertificate,
				Audience:       entry.Audience,
				ACSURL:         entry.ACSURL,
				RedirectURIs:   entry.RedirectURIs,
			})
			if err != nil {
				return fmt.Errorf("failed to create seeded config %s/%s: %w", entry.Tenant, entry.Product, err)
			}
			// The generated secret is only ever printed here. Operators
			// seeding configs need it to hand to the application.
			logger.WithFields(map[string]interface{}{
				"tenant":    created.Tenant,
				"product":   created.Product,
				"client_id": created.ClientID,
			}).Infof("seeded SAML config, client_secret=%s", created.ClientSecret)
		default:
			return fmt.Errorf("failed to look up seeded config %s/%s: %w", entry.Tenant, entry.Product, err)
		}
	}
	logger.Infof("applied %d seed configs", len(seed.Configs))
	return nil
}

// sweep drops expired pending records and refreshes the population gauges
func sweep(ctx context.Context, state sso.StateStore, configs *sso.ConfigStore, db *sql.DB, metrics *observability.Metrics, logger *observability.Logger) {
	swept, err := state.SweepExpired(ctx)
	if err != nil {
		logger.WithError(err).Error("sweep failed")
		return
	}
	if swept > 0 {
		logger.Infof("swept %d expired records", swept)
	}
	if metrics == nil {
		return
	}
	metrics.SweptRecordsTotal.Add(float64(swept))

	counts, err := state.CountPending(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to count pending records")
		return
	}
	metrics.PendingRecords.WithLabelValues("auth_requests").Set(float64(counts.AuthRequests))
	metrics.PendingRecords.WithLabelValues("codes").Set(float64(counts.Codes))
	metrics.PendingRecords.WithLabelValues("tokens").Set(float64(counts.Tokens))
	metrics.PendingRecords.WithLabelValues("logout_requests").Set(float64(counts.LogoutRequests))

	all, err := configs.List(ctx)
	if err != nil {
		logger.WithError(err).Error("failed to count configs")
		return
	}
	metrics.ConfigsTotal.Set(float64(len(all)))

	stats := db.Stats()
	metrics.DBConnectionsActive.Set(float64(stats.InUse))
	metrics.DBConnectionsIdle.Set(float64(stats.Idle))
}
