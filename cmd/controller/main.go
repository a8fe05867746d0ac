// Package main is the entry point for the draftplane controller.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"draftplane/internal/auth"
	"draftplane/internal/callbacks"
	"draftplane/internal/config"
	"draftplane/internal/controller"
	"draftplane/internal/controller/handlers"
	"draftplane/internal/controller/middleware"
	"draftplane/internal/jobs"
	"draftplane/internal/logger"
	"draftplane/internal/observability"
	"draftplane/internal/orchestrator"
	"draftplane/internal/projects"
	"draftplane/internal/store"
	"draftplane/internal/store/memory"
	"draftplane/internal/store/postgres"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	log := logger.New()
	slog.SetDefault(log)

	if err := run(*configPath, *migrateFlag, log); err != nil {
		log.Error("controller stopped", "error", err)
		os.Exit(1)
	}
}

// backend is the selected store plus its optional readiness check.
type backend struct {
	store  store.Store
	pinger handlers.Pinger
	close  func() error
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool, log *slog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if migrate {
			log.Info("running database migrations")
			if err := pg.Migrate(); err != nil {
				pg.Close()
				return nil, err
			}
			version, dirty, err := pg.SchemaVersion()
			if err != nil {
				pg.Close()
				return nil, fmt.Errorf("failed to read schema version: %w", err)
			}
			log.Info("migrations completed", "version", version, "dirty", dirty)
		}
		return &backend{store: pg, pinger: pg, close: pg.Close}, nil
	default:
		log.Warn("using in-memory store; data is lost on restart")
		mem := memory.New()
		return &backend{store: mem, close: mem.Close}, nil
	}
}

func newVerifier(cfg *config.Config, keys store.APIKeyStore) auth.TokenVerifier {
	if cfg.AuthProvider == config.AuthAPIKey {
		return &auth.APIKeyVerifier{Keys: keys}
	}
	return auth.MockVerifier{}
}

func newDispatcher(cfg *config.Config, log *slog.Logger) orchestrator.Dispatcher {
	if cfg.OrchestratorURL == "" {
		log.Warn("orchestrator_url is empty; dispatches are only logged")
		return &orchestrator.LogDispatcher{Logger: log}
	}
	return orchestrator.NewHTTPDispatcher(cfg.OrchestratorURL, cfg.OrchestratorToken)
}

func run(configPath string, migrate bool, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openStore(ctx, cfg, migrate, log)
	if err != nil {
		return err
	}
	defer be.close()

	shutdownTracer, err := observability.InitTracer(ctx, "draftplane-controller", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "draftplane-controller")
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	meter := otel.Meter("draftplane-controller")
	instruments, err := observability.NewInstruments(meter)
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}
	if err := observability.RegisterActiveJobsGauge(meter, be.store.CountActiveJobs); err != nil {
		log.Error("failed to register active jobs gauge", "error", err)
	}

	h := handlers.New(handlers.Deps{
		Projects: projects.New(be.store),
		Jobs: jobs.New(be.store, newDispatcher(cfg, log), cfg.PublicBaseURL,
			jobs.WithLogger(log),
			jobs.WithInstruments(instruments),
		),
		Callbacks: callbacks.NewProcessor(be.store,
			callbacks.WithLogger(log),
			callbacks.WithInstruments(instruments),
		),
		APIKeys: be.store,
		Pinger:  be.pinger,
		Logger:  log,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Options{
		Addr:           addr,
		Handlers:       h,
		Verifier:       newVerifier(cfg, be.store),
		Limiter:        middleware.NewRateLimiter(middleware.WithLimit(cfg.RateLimit, cfg.RateLimitBurst)),
		CallbackSecret: cfg.CallbackSecret,
		AdminSecret:    cfg.AdminSecret,
		Metrics:        metricsHandler,
		Logger:         log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("draftplane controller starting",
			"addr", addr,
			"store", cfg.StoreBackend,
			"auth", cfg.AuthProvider,
		)
		return srv.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("controller exited")
	return err
}
