package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/riteshkumar/facepay-ledger/internal/auth"
	"github.com/riteshkumar/facepay-ledger/internal/biometric"
	"github.com/riteshkumar/facepay-ledger/internal/config"
	"github.com/riteshkumar/facepay-ledger/internal/handler"
	"github.com/riteshkumar/facepay-ledger/internal/ledger"
	"github.com/riteshkumar/facepay-ledger/internal/metrics"
	"github.com/riteshkumar/facepay-ledger/internal/notify"
	"github.com/riteshkumar/facepay-ledger/internal/repository"
	"github.com/riteshkumar/facepay-ledger/internal/service"
)

type stores struct {
	accounts repository.AccountRepository
	audits   repository.AuditRepository
	blocks   repository.LedgerRepository
	sessions repository.SessionRepository
	locker   service.SessionLocker
	closers  []func() error
}

// sessionLockLease bounds how long a crashed instance can hold a session.
const sessionLockLease = 30 * time.Second

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func main() {
	// Initialise logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	ctx := context.Background()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "storage", cfg.Storage, "error", err.Error())
		os.Exit(1)
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Ledger
	chain := ledger.New(st.blocks, logger, ledger.WithMetrics(m))
	if _, err := chain.Init(ctx); err != nil {
		logger.Error("failed to initialise ledger", "error", err.Error())
		os.Exit(1)
	}
	validator := ledger.NewValidator(chain, logger, m)
	if report, err := validator.Validate(ctx); err != nil {
		logger.Error("startup ledger validation failed", "error", err.Error())
	} else if !report.Valid {
		logger.Error("ledger integrity check failed at startup",
			"blocks_checked", report.BlocksChecked,
			"error", ledger.IntegrityErrors(report).Error(),
		)
	} else {
		logger.Info("ledger verified", "blocks_checked", report.BlocksChecked)
	}

	// Biometrics
	sealer, err := biometric.NewSealer(cfg.EmbeddingSealKey)
	if err != nil {
		logger.Error("invalid embedding seal key", "error", err.Error())
		os.Exit(1)
	}
	matcher, err := biometric.NewMatcher(
		biometric.NewHTTPExtractor(biometric.WithExtractorURL(cfg.ExtractorURL)),
		sealer,
		cfg.FaceMatchThreshold,
	)
	if err != nil {
		logger.Error("failed to build face matcher", "error", err.Error())
		os.Exit(1)
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, "facepay-ledger", cfg.JWTTTL)

	// Initialise services
	transactionService := service.NewTransactionService(st.accounts, st.audits, chain, m, logger)
	accountService := service.NewAccountService(st.accounts, st.audits, transactionService, matcher, tokens, logger)
	facePayService := service.NewFacePayService(st.sessions, st.accounts, st.audits, matcher, transactionService,
		service.FacePayConfig{
			SessionTTL:  cfg.SessionTTL,
			MaxAttempts: cfg.MaxAttempts,
			Retention:   service.DefaultFacePayConfig().Retention,
		},
		logger,
		service.WithFacePayMetrics(m),
		service.WithNotifier(notify.NewLogNotifier(logger)),
		service.WithSessionLocker(st.locker),
	)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	if cfg.SweepInterval > 0 {
		go facePayService.RunSweeper(sweepCtx, cfg.SweepInterval)
	}

	// Setup router
	router := mux.NewRouter()
	requireAuth := auth.RequireAuth(tokens, logger)

	handler.NewAccountHandler(accountService, transactionService, logger).RegisterRoutes(router, requireAuth)
	handler.NewTransactionHandler(transactionService, logger).RegisterRoutes(router, requireAuth)
	handler.NewFacePayHandler(facePayService, logger).RegisterRoutes(router, requireAuth)
	handler.NewBlockchainHandler(chain, validator, logger).RegisterRoutes(router)

	// Add health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Add middleware for logging
	router.Use(loggingMiddleware(logger))

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a go routine
	go func() {
		logger.Info("starting server on port "+cfg.ServerPort, "storage", cfg.Storage)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err.Error())
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")
	stopSweeper()

	// Create context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err.Error())
	}

	logger.Info("server exited gracefully")
}

// openStores selects account, audit and ledger storage from cfg.Storage.
// Sessions and their locks go to Redis when REDIS_URL is set.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{}

	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := connectDB(cfg)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, db.Close)
		logger.Info("connected to database successfully")

		if err := repository.Migrate(ctx, db); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}

		st.accounts = repository.NewAccountRepository(db)
		st.audits = repository.NewAuditRepository(db)
		st.blocks = repository.NewLedgerRepository(db)
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		accounts := repository.NewInMemoryAccountRepository()
		st.accounts = accounts
		st.audits = repository.NewInMemoryAuditRepository()
		st.blocks = repository.NewInMemoryLedgerRepository(accounts)
	}

	if cfg.RedisURL == "" {
		st.sessions = repository.NewInMemorySessionRepository()
		st.locker = service.NewKeyedLocker()
		return st, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	st.closers = append(st.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.Info("connected to redis successfully")
	st.sessions = repository.NewRedisSessionRepository(client)
	// instances sharing sessions must also share the session locks
	st.locker = repository.NewRedisLocker(client, sessionLockLease)
	return st, nil
}

// connectDB establishes a connection to the Postgres database
func connectDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Confirm connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(10 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// loggingMiddleware logs incoming HTTP requests
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("incoming request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
