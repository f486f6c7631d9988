package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"citeo/internal/auth"
	"citeo/internal/config"
	"citeo/internal/db"
	"citeo/internal/maintenance"
	"citeo/internal/observability"
	"citeo/internal/papers"
	"citeo/internal/signedurl"
)

type Options struct {
	LoadDotEnv bool
	// Logger defaults to JSON lines on stdout.
	Logger *observability.Logger
	// Clock is shared by every time-dependent component; tests inject it.
	Clock func() time.Time
	// Analyzer defaults to an in-memory status board.
	Analyzer papers.Analyzer
}

type Runtime struct {
	Config  config.Config
	Handler http.Handler
	Logger  *observability.Logger
	Signer  *signedurl.Signer
	Close   func() error
}

// Build loads configuration from the environment and assembles the runtime.
func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, err
	}
	return New(cfg, options)
}

func New(cfg config.Config, options Options) (*Runtime, error) {
	logger := options.Logger
	if logger == nil {
		logger = observability.NewLogger()
	}
	now := options.Clock
	if now == nil {
		now = time.Now
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env, cfg.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	var (
		database *sql.DB
		err      error
	)
	if cfg.Database.URL != "" {
		database, err = db.Open(context.Background(), cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Database.RunMigrations {
			applied, err := db.RunMigrations(context.Background(), database)
			if err != nil {
				_ = database.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.Info("migrations_applied", map[string]any{"versions": applied})
			}
		}
	}
	closeDatabase := func() error {
		if database == nil {
			return nil
		}
		return database.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	revocations := auth.NewRevocationStore().WithClock(now)
	limiter := auth.NewRateLimiter(
		auth.Limit{Max: cfg.RateLimit.AnalyzeRequests, Window: cfg.RateLimit.AnalyzeWindow},
		map[string]auth.Limit{
			papers.EndpointAnalyze: {Max: cfg.RateLimit.AnalyzeRequests, Window: cfg.RateLimit.AnalyzeWindow},
			auth.EndpointToken:     {Max: cfg.RateLimit.LoginRequests, Window: cfg.RateLimit.LoginWindow},
		},
	).WithClock(now)

	middlewareOptions := auth.MiddlewareOptions{
		Revocations:      revocations,
		Limiter:          limiter,
		Logger:           logger,
		Metrics:          metrics,
		InsecureDisabled: cfg.Auth.InsecureDisabled,
		AllowQueryAPIKey: cfg.Auth.AllowQueryAPIKey,
	}

	var authHandler *auth.Handler
	if !cfg.Auth.InsecureDisabled {
		tokenSigner, err := auth.NewTokenSigner(cfg.Auth.JWTSecret)
		if err != nil {
			_ = closeDatabase()
			return nil, fmt.Errorf("init token signer: %w", err)
		}
		tokenSigner.WithClock(now)

		credentials := auth.NewCredentialValidator(cfg.Auth.APIKey)
		authService := auth.NewService(credentials, tokenSigner, revocations, logger)
		if err := authService.WithTokenTTL(cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL); err != nil {
			_ = closeDatabase()
			return nil, fmt.Errorf("configure token lifetimes: %w", err)
		}
		authService.WithMetrics(metrics)
		metrics.RegisterActiveTokens(authService.ActiveTokenCount)

		middlewareOptions.Verifier = tokenSigner
		middlewareOptions.Credentials = credentials
		authHandler = auth.NewHandler(authService)
	} else {
		logger.Warn("auth_disabled", map[string]any{"env": cfg.Env})
	}

	middleware, err := auth.NewMiddleware(middlewareOptions)
	if err != nil {
		_ = closeDatabase()
		return nil, fmt.Errorf("init auth middleware: %w", err)
	}

	var linkSigner *signedurl.Signer
	var nonceCleaner maintenance.NonceCleaner
	if cfg.SignedURL.Enabled() {
		var nonces signedurl.NonceStore = signedurl.NewMemoryNonceStore()
		if database != nil {
			nonces = signedurl.NewPostgresNonceStore(database)
		}
		linkSigner, err = signedurl.NewSigner(cfg.SignedURL.Secret, cfg.SignedURL.Expiry, cfg.SignedURL.BaseURL, nonces)
		if err != nil {
			_ = closeDatabase()
			return nil, fmt.Errorf("init signed url signer: %w", err)
		}
		linkSigner.WithClock(now)
		nonceCleaner = linkSigner
	}

	analyzer := options.Analyzer
	if analyzer == nil {
		analyzer = papers.NewStatusBoard().WithClock(now)
	}
	var links papers.LinkVerifier
	if linkSigner != nil {
		links = linkSigner
	}
	paperHandler := papers.NewHandler(analyzer, links, logger)

	cleanupHandler := maintenance.NewCleanupHandler(
		nonceCleaner,
		revocations,
		limiter,
		logger,
		cfg.CronSecret,
		cfg.Maintenance.NonceRetention,
	)

	mux := http.NewServeMux()
	if authHandler != nil {
		mux.Handle("POST /auth/token", auth.LimitByClientIP(limiter, auth.EndpointToken, cfg.TrustProxyHeaders, metrics, http.HandlerFunc(authHandler.Token)))
		mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
		mux.HandleFunc("POST /auth/revoke", authHandler.Revoke)
		mux.HandleFunc("GET /auth/health", authHandler.Health)
	}
	mux.HandleFunc("GET /health", healthHandler(database, now))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("POST /api/papers/{arxiv_id}/analyze", middleware.ProtectRateLimited(papers.EndpointAnalyze, http.HandlerFunc(paperHandler.Analyze)))
	mux.Handle("GET /api/papers/{arxiv_id}/analysis", middleware.Protect(http.HandlerFunc(paperHandler.Analysis)))
	mux.HandleFunc("GET /api/papers/trigger-analysis", paperHandler.TriggerAnalysis)
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Logger:  logger,
		Signer:  linkSigner,
		Close: func() error {
			observability.FlushSentry()
			return closeDatabase()
		},
	}, nil
}

func healthHandler(database *sql.DB, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": now().UTC().Format(time.RFC3339)}

		if database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := database.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
