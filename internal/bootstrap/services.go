package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/venturekit/evosearch/config"
	"github.com/venturekit/evosearch/internal/adapters/dispatch"
	"github.com/venturekit/evosearch/internal/adapters/oracle"
	"github.com/venturekit/evosearch/internal/adapters/worker"
	"github.com/venturekit/evosearch/internal/core"
	"github.com/venturekit/evosearch/internal/data"
	"github.com/venturekit/evosearch/internal/domain/orchestrator"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs         *core.JobService
	Orchestrator *core.OrchestratorService
	Runner       *worker.Runner
	Dispatcher   core.TaskDispatcher
	Store        core.JobStateStore
	Cache        core.CacheRepository
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	// Oracle overrides the OpenAI client when set (tests).
	Oracle core.Oracle
	Logger *slog.Logger
}

// NewServices wires repositories, adapters and services together.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	store := data.NewJobStateRepo(deps.DB, data.RepoConfig{Logger: logger})

	dispatcher, err := dispatch.NewRedisDispatcher(dispatch.RedisDispatcherOptions{
		Client: deps.RedisClient,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build dispatcher: %w", err)
	}

	orchestratorSvc := core.NewOrchestratorService(core.OrchestratorServiceOptions{
		Store:      store,
		Dispatcher: dispatcher,
		Timeouts: orchestrator.PhaseTimeouts{
			Variator: cfg.Orchestrator.VariatorTimeout,
			Enricher: cfg.Orchestrator.EnricherTimeout,
			Ranker:   cfg.Orchestrator.RankerTimeout,
		},
		Backoff: orchestrator.BackoffConfig{
			Base:        cfg.Orchestrator.CheckBackoffBase,
			Max:         cfg.Orchestrator.CheckBackoffMax,
			MaxJitter:   cfg.Orchestrator.CheckMaxJitter,
			MaxAttempts: cfg.Orchestrator.CheckMaxAttempts,
		},
		Logger: logger,
	})

	jobService := core.NewJobService(core.JobServiceOptions{
		Store:        store,
		Orchestrator: orchestratorSvc,
		Logger:       logger,
	})

	container := ServiceContainer{
		Jobs:         jobService,
		Orchestrator: orchestratorSvc,
		Dispatcher:   dispatcher,
		Store:        store,
	}

	// Phase execution dependencies are only needed by the phase worker.
	if cfg.IsPhaseWorkerEnabled() {
		oracleClient := deps.Oracle
		if oracleClient == nil {
			client, oracleErr := oracle.NewClient(oracle.ClientOptions{
				APIKey:      cfg.Oracle.APIKey,
				Model:       cfg.Oracle.Model,
				Timeout:     cfg.Oracle.Timeout,
				Temperature: cfg.Oracle.Temperature,
				Logger:      logger,
			})
			if oracleErr != nil {
				return ServiceContainer{}, fmt.Errorf("build oracle client: %w", oracleErr)
			}
			oracleClient = client
		}

		cacheRepo := data.NewRedisCacheRepo(data.NewRedisClient(data.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		}))
		ideaCache := core.NewIdeaCacheService(cacheRepo, core.IdeaCacheConfig{
			TTL: cfg.Cache.IdeaTTL,
		})

		runner, runnerErr := worker.NewRunner(worker.RunnerOptions{
			Store:        store,
			Orchestrator: orchestratorSvc,
			Variation: core.NewVariationService(core.VariationServiceOptions{
				Oracle: oracleClient,
				Logger: logger,
			}),
			Enrichment: core.NewEnrichmentService(core.EnrichmentServiceOptions{
				Oracle: oracleClient,
				Cache:  ideaCache,
				Logger: logger,
			}),
			Logger: logger,
		})
		if runnerErr != nil {
			return ServiceContainer{}, fmt.Errorf("build task runner: %w", runnerErr)
		}

		container.Runner = runner
		container.Cache = cacheRepo
	} else if cfg.IsOrchestratorEnabled() {
		// The orchestrator consumer needs a handler for check tasks only.
		runner, runnerErr := worker.NewRunner(worker.RunnerOptions{
			Store:        store,
			Orchestrator: orchestratorSvc,
			Logger:       logger,
		})
		if runnerErr != nil {
			return ServiceContainer{}, fmt.Errorf("build check runner: %w", runnerErr)
		}
		container.Runner = runner
	}

	return container, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
const shutdownWaitTimeout = 15 * time.Second

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	name string
	done <-chan struct{}
}

func newCheckConsumerService(cfg *ServiceOrchestrationConfig, logger *slog.Logger) backgroundService {
	return backgroundService{
		mode: config.ServiceModeOrchestrator,
		name: "orchestrator check consumer",
		start: func(ctx context.Context) error {
			return runConsumer(ctx, consumerConfig{
				Services:    cfg.Services,
				Redis:       cfg.RedisClient,
				TaskType:    core.TaskTypeOrchestratorCheck,
				Concurrency: cfg.Config.Orchestrator.Concurrency,
				Logger:      logger,
			})
		},
	}
}

func newPhaseConsumerService(cfg *ServiceOrchestrationConfig, logger *slog.Logger) backgroundService {
	return backgroundService{
		mode: config.ServiceModePhaseWorker,
		name: "phase worker consumer",
		start: func(ctx context.Context) error {
			return runConsumer(ctx, consumerConfig{
				Services:    cfg.Services,
				Redis:       cfg.RedisClient,
				TaskType:    core.TaskTypePhaseWorker,
				Concurrency: cfg.Config.Worker.Concurrency,
				Logger:      logger,
			})
		},
	}
}

// consumerConfig groups dependencies for one queue consumer.
type consumerConfig struct {
	Services    ServiceContainer
	Redis       redis.UniversalClient
	TaskType    core.TaskType
	Concurrency int
	Logger      *slog.Logger
}

func runConsumer(ctx context.Context, cfg consumerConfig) error {
	dispatcher, ok := cfg.Services.Dispatcher.(*dispatch.RedisDispatcher)
	if !ok {
		return errors.New("redis dispatcher is required for queue consumers")
	}
	if cfg.Services.Runner == nil {
		return errors.New("task runner is not configured")
	}

	consumer, err := dispatch.NewRedisConsumer(dispatch.RedisConsumerOptions{
		Dispatcher:  dispatcher,
		Handler:     cfg.Services.Runner,
		Type:        cfg.TaskType,
		Concurrency: cfg.Concurrency,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("build consumer: %w", err)
	}
	return consumer.Run(ctx)
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, len(enabledServices)+1)

	var httpServer *http.Server
	if enabledServices[config.ServiceModeHTTP] {
		httpServer = StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			DB:       cfg.DB,
			Logger:   logger,
		})
	}

	candidates := []backgroundService{
		newCheckConsumerService(cfg, logger),
		newPhaseConsumerService(cfg, logger),
	}

	var handles []backgroundServiceHandle
	for _, svc := range candidates {
		if !enabledServices[svc.mode] {
			continue
		}
		handles = append(handles, launchBackground(serviceCtx, svc, errCh, logger))
	}

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  httpServer,
		logger:      logger,
		backgrounds: handles,
	})
}

func launchBackground(
	ctx context.Context,
	svc backgroundService,
	errCh chan<- error,
	logger *slog.Logger,
) backgroundServiceHandle {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.start(ctx); err != nil {
			select {
			case errCh <- fmt.Errorf("%s failed: %w", svc.name, err):
			case <-ctx.Done():
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", svc.name, "mode", svc.mode)
	return backgroundServiceHandle{name: svc.name, done: done}
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop attempts to gracefully stop all services.
func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	for _, svc := range cfg.backgrounds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			waitForService(svc.done, svc.name, cfg.logger)
		}()
	}
	wg.Wait()

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
