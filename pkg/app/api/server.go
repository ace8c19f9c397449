// Package api implements the sync-server process: the REST surface, the
// credential vault and the background ingestion scheduler.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apphttp "github.com/sitelens/insights-middleware/pkg/app/http"
	"github.com/sitelens/insights-middleware/pkg/auth"
	"github.com/sitelens/insights-middleware/pkg/config"
	"github.com/sitelens/insights-middleware/pkg/ingest"
	"github.com/sitelens/insights-middleware/pkg/pgutil"
	"github.com/sitelens/insights-middleware/pkg/provider"
	"github.com/sitelens/insights-middleware/pkg/provider/google"
	reconcilerpkg "github.com/sitelens/insights-middleware/pkg/reconciler"
	"github.com/sitelens/insights-middleware/pkg/syncstore"
	"github.com/sitelens/insights-middleware/pkg/vault"
)

// Server holds cfg to init the sync server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes new sync server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("sync server config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting sync server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database),
	)

	store := syncstore.NewStore(db)

	cipher, err := vault.NewCipher(cfg.Vault.EncryptionKey)
	if err != nil {
		return fmt.Errorf("setup credential cipher: %w", err)
	}
	credVault := vault.New(cipher, store, cfg.Vault.RefreshMargin.Std(), logger)

	registry := s.buildRegistry(logger)
	rec := reconcilerpkg.New(store, credVault, registry, logger)

	engine := ingest.New(store, credVault, registry, rec, ingest.Config{
		BackfillDays:     cfg.Sync.BackfillDays,
		ChunkSize:        cfg.Sync.ChunkSize,
		ChunkTimeout:     cfg.Sync.ChunkTimeout.Std(),
		ChunkDelay:       cfg.Sync.ChunkDelay.Std(),
		PeriodDelay:      cfg.Sync.PeriodDelay.Std(),
		IntegrationDelay: cfg.Sync.IntegrationDelay.Std(),
		RunBudget:        cfg.Sync.RunBudget.Std(),
		BackfillInterval: cfg.Sync.BackfillInterval.Std(),
		DailyInterval:    cfg.Sync.DailyInterval.Std(),
	}, logger)

	stopScheduler := s.startScheduler(engine, logger)
	// Engine.Stop is idempotent; the defer covers early returns, the
	// explicit call below keeps shutdown ordered before the DB close.
	defer stopScheduler()

	router := s.setupRouter(store, cipher, rec, engine, registry, logger)

	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server)

	// Stop background work before the deferred DB close kicks in.
	stopScheduler()

	return err
}

// buildRegistry wires the provider adapters from the shared OAuth client
// settings.
func (s *Server) buildRegistry(logger *zap.Logger) *provider.Registry {
	googleCfg := google.Config{
		ClientID:       s.cfg.Providers.ClientID,
		ClientSecret:   s.cfg.Providers.ClientSecret,
		TokenURL:       s.cfg.Providers.TokenURL,
		DeveloperToken: s.cfg.Providers.AdsDeveloperToken,
	}

	return provider.NewRegistry(
		google.NewAnalyticsAdapter(googleCfg, logger),
		google.NewSearchConsoleAdapter(googleCfg, logger),
		google.NewAdsAdapter(googleCfg, logger),
	)
}

func (s *Server) startScheduler(engine *ingest.Engine, logger *zap.Logger) func() {
	if !s.cfg.Sync.SchedulerEnabled {
		logger.Info("In-process scheduler disabled, sweeps run via cron endpoints only")
		return func() {}
	}

	logger.Info("Starting ingestion scheduler",
		zap.Duration("backfill_interval", s.cfg.Sync.BackfillInterval.Std()),
		zap.Duration("daily_interval", s.cfg.Sync.DailyInterval.Std()),
	)
	engine.Start()

	// Return stopper for deterministic shutdown ordering.
	return engine.Stop
}

func (s *Server) setupRouter(
	store syncstore.Store,
	cipher Encryptor,
	rec AccountReconciler,
	engine Sweeper,
	registry *provider.Registry,
	logger *zap.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Middleware stack. The request timeout lives on the user routes so
	// long-running cron sweeps stay unbounded.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	jwtValidator := auth.NewJWTValidator(s.cfg.Auth.JWTSecret, s.cfg.Auth.JWTIssuer)
	cronVerifier := auth.NewCronVerifier(s.cfg.Auth.CronSecret)

	RegisterRoutes(r, store, cipher, rec, engine, registry.Providers(), jwtValidator, cronVerifier, logger)

	return r
}
