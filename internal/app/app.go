package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sirupsen/logrus"

	"brokle/internal/config"
	httpTransport "brokle/internal/transport/http"
	"brokle/pkg/logging"
)

// App is the top-level process handle for both deployment modes §5 names:
// the HTTP server (Ingress + WebSocket + health) and the four worker roles.
type App struct {
	config       *config.Config
	logger       *slog.Logger
	core         *CoreContainer
	server       *ServerContainer
	worker       *WorkerContainer
	httpServer   *httpTransport.Server
	mode         DeploymentMode
	shutdownOnce sync.Once
}

// newLogrusLogger builds the logrus logger the pipeline's worker-loop
// components log through, honoring the same level/format the slog logger
// uses so the two don't visibly diverge in a given deployment.
func newLogrusLogger(cfg config.LoggingConfig) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	return l
}

// NewServer builds an App running the Ingress/WebSocket/health HTTP server.
func NewServer(cfg *config.Config) (*App, error) {
	logger := logging.NewLoggerWithFormat(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logrusLogger := newLogrusLogger(cfg.Logging)

	core, err := ProvideCore(cfg, logrusLogger, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	server := ProvideServer(cfg, core)

	httpServer, err := httpTransport.NewServer(cfg, logrusLogger, server.Ingress, server.KeyAuth, server.Health, server.BroadcastHub)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize http server: %w", err)
	}

	return &App{
		mode:       ModeServer,
		config:     cfg,
		logger:     logger,
		core:       core,
		server:     server,
		httpServer: httpServer,
	}, nil
}

// NewWorker builds an App running exactly one consumer role, per §5.
func NewWorker(cfg *config.Config, role WorkerRole, consumerName string) (*App, error) {
	logger := logging.NewLoggerWithFormat(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logrusLogger := newLogrusLogger(cfg.Logging)

	core, err := ProvideCore(cfg, logrusLogger, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize core: %w", err)
	}

	worker, err := ProvideWorker(cfg, core, role, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize worker: %w", err)
	}

	return &App{
		mode:   ModeWorker,
		config: cfg,
		logger: logger,
		core:   core,
		worker: worker,
	}, nil
}

// Start begins serving (ModeServer) or begins the single consumer loop
// (ModeWorker). In ModeWorker it blocks until ctx is canceled or the
// consumer returns an error; in ModeServer it starts the HTTP listener in
// the background and returns without waiting for it to accept connections;
// a later serve failure is logged.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("starting", "mode", a.mode)

	switch a.mode {
	case ModeServer:
		if err := a.server.BroadcastHub.EnsureGroup(ctx); err != nil {
			return fmt.Errorf("failed to ensure broadcast consumer group: %w", err)
		}
		go func() {
			if err := a.server.BroadcastHub.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("broadcast hub stopped unexpectedly", "error", err)
			}
		}()

		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start http server: %w", err)
		}
		a.logger.Info("http server started", "addr", a.config.GetServerAddress())

		go func() {
			if err, ok := <-a.httpServer.ServeErr(); ok {
				a.logger.Error("http server failed unexpectedly", "error", err)
			}
		}()

		return nil

	case ModeWorker:
		return a.runWorker(ctx)
	}

	return fmt.Errorf("unknown deployment mode %q", a.mode)
}

// runWorker ensures the selected consumer's group exists, then runs its
// blocking Run loop until ctx is canceled.
func (a *App) runWorker(ctx context.Context) error {
	switch a.worker.Role {
	case RolePersistence:
		if err := a.worker.Writer.EnsureGroup(ctx); err != nil {
			return err
		}
		a.logger.Info("persistence writer started")
		return a.worker.Writer.Run(ctx)

	case RoleSecurity:
		if err := a.worker.Analyzer.EnsureGroup(ctx); err != nil {
			return err
		}
		a.logger.Info("security analyzer started")
		return a.worker.Analyzer.Run(ctx)

	case RoleCost:
		if err := a.worker.Aggregator.EnsureGroup(ctx); err != nil {
			return err
		}
		a.logger.Info("cost aggregator started")
		return a.worker.Aggregator.Run(ctx)

	case RoleBroadcast:
		if err := a.worker.BroadcastHub.EnsureGroup(ctx); err != nil {
			return err
		}
		a.logger.Info("broadcast hub started")
		return a.worker.BroadcastHub.Run(ctx)
	}

	return fmt.Errorf("unknown worker role %q", a.worker.Role)
}

// Shutdown tears down the HTTP server (if any) and every backing
// connection, following the teacher's sync.Once-guarded, WaitGroup/timeout
// shutdown shape.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.shutdownOnce.Do(func() {
		shutdownErr = a.doShutdown(ctx)
	})
	return shutdownErr
}

func (a *App) doShutdown(ctx context.Context) error {
	a.logger.Info("shutting down", "mode", a.mode)

	var wg sync.WaitGroup

	if a.mode == ModeServer && a.httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.httpServer.Shutdown(ctx); err != nil {
				a.logger.Error("failed to shut down http server", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if a.core != nil && a.core.Databases != nil {
			if err := a.core.Databases.Close(); err != nil {
				a.logger.Error("failed to close database connections", "error", err)
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("shutdown completed")
		return nil
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout exceeded, forcing shutdown")
		return ctx.Err()
	}
}

// Health reports the liveness of every backing connection.
func (a *App) Health() map[string]string {
	if a.core == nil || a.core.Databases == nil {
		return map[string]string{"status": "not initialized"}
	}
	return a.core.Databases.HealthCheck()
}

// GetLogger returns the application logger.
func (a *App) GetLogger() *slog.Logger {
	return a.logger
}

// GetConfig returns the application configuration.
func (a *App) GetConfig() *config.Config {
	return a.config
}

// GetDatabases returns the database connections.
func (a *App) GetDatabases() *DatabaseContainer {
	if a.core == nil {
		return nil
	}
	return a.core.Databases
}
