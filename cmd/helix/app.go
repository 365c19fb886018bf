package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Helix/internal/backend"
	"Helix/internal/config"
	"Helix/internal/controller"
	"Helix/internal/store"
	"Helix/internal/supervisor"
	"Helix/internal/telemetry"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Debug = debug
	return cfg, nil
}

// startBackend launches the backend process unless it is managed elsewhere.
// The returned supervisor is nil for an external backend.
func startBackend(cfg *config.Config, logger *slog.Logger) (*supervisor.Supervisor, error) {
	if cfg.Backend.External {
		logger.Info("using external backend", "base_url", cfg.Backend.BaseURL)
		return nil, nil
	}

	path, args := cfg.ResolveCommand()
	sup, err := supervisor.New(supervisor.Config{
		ExecutablePath: path,
		Args:           args,
		Env:            cfg.Backend.Env,
		Dir:            cfg.Backend.Dir,
		ShutdownGrace:  cfg.Backend.ShutdownGrace.Duration,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create supervisor: %w", err)
	}
	if err := sup.Start(); err != nil {
		return nil, fmt.Errorf("failed to start backend: %w", err)
	}
	return sup, nil
}

func waitForBackend(ctx context.Context, cfg *config.Config, sup *supervisor.Supervisor) error {
	fmt.Fprintf(os.Stderr, "Waiting for backend at %s ...\n", cfg.Backend.BaseURL)
	probe := supervisor.NewHTTPProbe(cfg.ProbeURL(), cfg.Backend.ProbeTimeout.Duration)
	if _, err := supervisor.WaitUntilReady(ctx, probe, cfg.Backend.PollInterval.Duration, sup); err != nil {
		return fmt.Errorf("backend did not become ready: %w", err)
	}
	return nil
}

func runApp(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, logFile, err := telemetry.InitLogger(cfg.Paths.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter, shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.Paths.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdownTelemetry()

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	sup, err := startBackend(cfg, logger)
	if err != nil {
		return err
	}
	if sup != nil {
		defer func() {
			if err := sup.Shutdown(); err != nil {
				logger.Error("failed to stop backend", "error", err)
			}
		}()
	}

	if err := waitForBackend(ctx, cfg, sup); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	journal, err := store.Open(cfg.Paths.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()

	clientOpts := []backend.ClientOption{
		backend.WithReadBuffer(cfg.Stream.ReadBuffer),
		backend.WithTracer(tracer),
		backend.WithMeter(meter),
	}
	if cfg.Stream.Transport == config.TransportWebSocket {
		clientOpts = append(clientOpts, backend.WithWebSocketURL(cfg.Stream.WSURL))
	}
	client, err := backend.NewClient(cfg.Backend.BaseURL, logger, clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	ctrl, err := controller.New(client, logger,
		controller.WithJournal(journal),
		controller.WithIdleTimeout(cfg.Stream.IdleTimeout.Duration),
		controller.WithModel(cfg.UI.Model),
	)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	if saved, ok, err := journal.LoadContext(ctx); err != nil {
		logger.Warn("failed to load saved ui context", "error", err)
	} else if ok {
		ctrl.Restore(ctx, saved)
	}

	runErr := ctrl.Run(ctx, os.Stdin)

	// The signal context may already be done; give the final saves their own budget.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down cleanly", "error", err)
	}

	fmt.Println("Goodbye!")
	return runErr
}
