// Command dispatcherd runs the dispatcher as a standalone HTTP service:
// it wires the Executor Registry, worker pool, Dispatch Registry, Observer
// Fan-out, blob storage, and Dispatch Store into one Dispatcher and fronts
// it with the HTTP command surface (§6).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/latticerun/dispatcher/internal/application/dispatcher"
	"github.com/latticerun/dispatcher/internal/application/filestorage"
	"github.com/latticerun/dispatcher/internal/application/observer"
	"github.com/latticerun/dispatcher/internal/application/workerpool"
	"github.com/latticerun/dispatcher/internal/config"
	"github.com/latticerun/dispatcher/internal/dispatchregistry"
	"github.com/latticerun/dispatcher/internal/infrastructure/httpapi"
	"github.com/latticerun/dispatcher/internal/infrastructure/logger"
	"github.com/latticerun/dispatcher/internal/infrastructure/storage"
	"github.com/latticerun/dispatcher/internal/infrastructure/tracing"
	"github.com/latticerun/dispatcher/pkg/executor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)
	appLogger.Info("starting dispatcher", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracingProvider, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.OTLPEndpoint,
		Insecure:    true,
		SampleRate:  cfg.Tracing.SampleRatio,
	})
	if err != nil {
		appLogger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	if tracingProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := tracingProvider.Shutdown(shutdownCtx); err != nil {
				appLogger.Error("tracing shutdown failed", "error", err)
			}
		}()
	}

	db, err := storage.Open(storage.Config{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxConnections,
		MaxIdleTime:     cfg.Database.MaxIdleTime,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		appLogger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := storage.NewDispatchStore(db)
	if err := store.CreateSchema(ctx); err != nil {
		appLogger.Error("failed to create dispatch schema", "error", err)
		os.Exit(1)
	}

	blobs := filestorage.NewRegistry()
	localProvider, err := filestorage.NewLocalProvider(cfg.FileStorage.StoragePath)
	if err != nil {
		appLogger.Error("failed to initialize local blob storage", "error", err)
		os.Exit(1)
	}
	blobs.Register(localProvider)
	defer blobs.Close()

	callables := executor.NewMapCallableRegistry()

	executors := executor.NewRegistry()
	executors.Register("local", executor.NewLocalExecutorFactory(callables, appLogger.Slog()))
	executors.Register("subprocess", executor.NewSubprocessExecutorFactory(callables))
	executors.Register("container", executor.NewContainerExecutorFactory(callables))

	pool := workerpool.New(cfg.Pool.WorkerCapacity)
	dispatchRegistry := dispatchregistry.New()

	observerOpts := []observer.ManagerOption{
		observer.WithLogger(appLogger.Slog()),
		observer.WithBufferSize(cfg.Observer.BufferSize),
	}
	observerManager := observer.NewManager(observerOpts...)

	var wsObserver *observer.WebSocketObserver
	if cfg.Observer.EnableLogger {
		observerManager.Register(observer.NewLoggerObserver(appLogger.Slog()))
	}
	if cfg.Observer.EnableWebSocket {
		wsObserver = observer.NewWebSocketObserver(appLogger.Slog())
		observerManager.Register(wsObserver)
	}
	if cfg.Observer.EnableHTTP {
		observerManager.Register(observer.NewHTTPObserver(cfg.Observer.HTTPCallbackURL,
			observer.WithHTTPMethod(cfg.Observer.HTTPMethod),
			observer.WithHTTPTimeout(cfg.Observer.HTTPTimeout),
			observer.WithHTTPRetries(cfg.Observer.HTTPMaxRetries, cfg.Observer.HTTPRetryDelay),
			observer.WithHTTPHeaders(cfg.Observer.HTTPHeaders),
			observer.WithHTTPLogger(appLogger.Slog()),
		))
	}

	d := dispatcher.New(executors, pool, dispatchRegistry, observerManager, store, blobs, callables.AsDepsRegistry(), appLogger.Slog())

	srv := httpapi.New(cfg, appLogger, d, store, observerManager, wsObserver)

	if err := srv.Run(ctx); err != nil {
		appLogger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("dispatcher stopped")
}
