// Package main is the entry point for the draftplane worker.
// The worker receives dispatches from the workflow orchestrator and runs the
// media pipeline for them.
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
	"syscall"
	"time"

	"draftplane/internal/config"
	"draftplane/internal/logger"
	"draftplane/internal/observability"
	"draftplane/internal/worker"
	"draftplane/internal/worker/runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	log := logger.New()
	slog.SetDefault(log)

	if err := run(*configPath, log); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func newRuntime(cfg *config.Config, log *slog.Logger) (runtime.Runtime, error) {
	switch cfg.Runtime {
	case config.RuntimeExec:
		rt := runtime.NewExecRuntime(cfg.RuntimeWorkDir)
		log.Info("using exec runtime", "workdir", rt.WorkDir)
		return rt, nil
	case config.RuntimeKubernetes:
		rt, err := runtime.NewKubernetesRuntime(runtime.KubernetesConfig{
			Namespace: cfg.K8sNamespace,
			Logger:    log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes runtime: %w", err)
		}
		log.Info("using kubernetes runtime", "namespace", cfg.K8sNamespace)
		return rt, nil
	default:
		rt, err := runtime.NewDockerRuntime()
		if err != nil {
			return nil, fmt.Errorf("failed to create docker runtime: %w", err)
		}
		log.Info("using docker runtime")
		return rt, nil
	}
}

func run(configPath string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "draftplane-worker", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Error("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, "draftplane-worker")
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	rt, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}

	agent := worker.New(rt, worker.AgentConfig{
		ID:             "worker-" + uuid.NewString()[:8],
		Concurrency:    cfg.WorkerConcurrency,
		ControllerURL:  cfg.ControllerURL,
		CallbackSecret: cfg.CallbackSecret,
		Image:          cfg.WorkflowImage,
		Command:        cfg.WorkflowCommand,
		Timeout:        cfg.WorkflowTimeout,
	}, log)
	receiver := worker.NewServer(fmt.Sprintf(":%d", cfg.WorkerPort), cfg.OrchestratorToken, agent, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return agent.Run(gctx)
	})
	g.Go(func() error {
		log.Info("worker listening", "port", cfg.WorkerPort)
		return receiver.Run(gctx)
	})
	g.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metricsHandler)
		metricsSrv := &http.Server{Addr: ":6263", Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-gctx.Done()
			metricsSrv.Close()
		}()
		log.Info("worker metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("worker exited")
	return err
}
