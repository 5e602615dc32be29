package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schemaplane/schemaplane-backend/internal/migration"
	"github.com/schemaplane/schemaplane-backend/internal/registry"
	"github.com/schemaplane/schemaplane-backend/internal/schema"
	"github.com/schemaplane/schemaplane-backend/internal/tenants/events"
	"github.com/schemaplane/schemaplane-backend/internal/tenants/handler"
	"github.com/schemaplane/schemaplane-backend/internal/tenants/service"
	"github.com/schemaplane/schemaplane-backend/internal/tenants/strategy"
	"github.com/schemaplane/schemaplane-backend/pkg/config"
	"github.com/schemaplane/schemaplane-backend/pkg/database"
	"github.com/schemaplane/schemaplane-backend/pkg/httputil"
	"github.com/schemaplane/schemaplane-backend/pkg/logger"
	"github.com/schemaplane/schemaplane-backend/pkg/messaging"
	"github.com/schemaplane/schemaplane-backend/pkg/secrets"
)

func main() {
	// Load configuration
	cfg, err := config.LoadWithValidation("tenant-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("tenant-service", cfg.Server.Environment)
	log.Info().Msg("starting Tenant Service")

	// Connect to database; every pooled connection routes search_path per
	// command based on the request's tenant context
	db, err := database.New(&cfg.Database, cfg.Tenancy.DefaultSchema, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ; lifecycle events are optional
	var rmq *messaging.RabbitMQ
	var publisher *events.TenantEventPublisher
	if cfg.RabbitMQ.URL != "" {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewTenantEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("RabbitMQ URL not configured, lifecycle events disabled")
	}

	// Core components
	schemas := schema.NewManager(db, log)
	strat := strategy.New(schemas, cfg.Tenancy, log)

	source, err := migration.NewDirSource(cfg.Migration.ScriptsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load migration scripts")
	}
	rewriter, err := migration.NewRewriter(cfg.Tenancy.DefaultSchema, cfg.Migration.HistoryTable)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build migration rewriter")
	}
	runner := migration.NewRunner(db, schemas, source, rewriter, cfg.Migration, log)
	tracker := migration.NewTracker(db, source, cfg.Migration.HistoryTable, log)

	// Tenant registry in the control schema
	protector, err := secrets.NewAESProtector(cfg.Registry.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential protector")
	}
	hasher := registry.NewAPIKeyHasher(cfg.Registry.APIKeyIterations)
	repo, err := registry.NewRepository(db, cfg.Registry.ControlSchema, hasher, protector, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tenant registry")
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := repo.EnsureSchema(startupCtx, cfg.Registry.ControlSchema); err != nil {
		cancelStartup()
		log.Fatal().Err(err).Msg("failed to prepare control schema")
	}
	cancelStartup()

	reg := registry.NewCachedRegistry(repo, cfg.Registry.CacheTTL)

	// Tenant manager and HTTP surface
	var lifecycle service.LifecyclePublisher
	if publisher != nil {
		lifecycle = publisher
	}
	tenantService := service.NewTenantService(reg, strat, runner, tracker, lifecycle, log)
	tenantHandler := handler.NewTenantHandler(tenantService, log)

	// Create router
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health and metrics (no tenant required)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		health := map[string]interface{}{
			"status":   "healthy",
			"service":  "tenant-service",
			"database": db.Health(req.Context()),
		}
		if rmq != nil {
			health["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, health)
	})
	r.Handle("/metrics", promhttp.Handler())

	// Management API
	r.Mount("/api/v1", tenantHandler.Routes())

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
