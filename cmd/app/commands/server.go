package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/sallyport/gateway/internal/app"
	"github.com/sallyport/gateway/internal/config"
)

// RunServer starts the gateway with graceful shutdown support.
// Loads configuration, initializes the DI container, starts the HTTP and
// metrics servers, and launches the background workers: the audit flush loop,
// the session sweep, the credential rotation sweep, and the verification
// expiry sweep. Blocks until receiving SIGINT/SIGTERM or encountering a fatal
// error.
func RunServer(ctx context.Context, version string) error {
	// Load configuration
	cfg := config.Load()

	// Set Gin mode based on log level
	gin.SetMode(cfg.GetGinMode())

	// Create DI container
	container := app.NewContainer(cfg)

	// Get logger from container
	logger := container.Logger()
	logger.Info("starting gateway", slog.String("version", version))

	// Ensure cleanup on exit
	defer closeContainer(container, logger)

	// Get HTTP server from container (this initializes all dependencies)
	server, err := container.HTTPServer()
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	// Get Metrics server from container
	metricsServer, err := container.MetricsServer()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics server: %w", err)
	}

	recorder, err := container.AuditRecorder()
	if err != nil {
		return fmt.Errorf("failed to initialize audit recorder: %w", err)
	}

	sessions, err := container.SessionManager()
	if err != nil {
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}

	credentials, err := container.CredentialUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize credential use case: %w", err)
	}

	verifications, err := container.VerificationUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize verification use case: %w", err)
	}

	catalog, err := container.PolicyCatalog()
	if err != nil {
		return fmt.Errorf("failed to initialize policy catalog: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)

	// SIGHUP re-reads configuration and swaps in a fresh bundle catalog.
	// In-flight requests keep the generation they resolved; a failed reload
	// keeps the current catalog.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	group.Go(func() error {
		defer signal.Stop(reload)
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-reload:
				fresh := config.Load()
				if err := catalog.Reload(fresh.PolicyBundlesJSON); err != nil {
					logger.Error("policy catalog reload failed", slog.Any("error", err))
					continue
				}
				logger.Info("policy catalog reloaded")
			}
		}
	})

	group.Go(func() error {
		if err := server.Start(groupCtx); err != nil {
			return fmt.Errorf("api server error: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		group.Go(func() error {
			if err := metricsServer.Start(groupCtx); err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		if err := recorder.Start(groupCtx); err != nil {
			return fmt.Errorf("audit recorder error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		if err := sessions.Start(groupCtx); err != nil {
			return fmt.Errorf("session sweep error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		if err := credentials.Start(groupCtx); err != nil {
			return fmt.Errorf("credential rotation sweep error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		if err := verifications.Start(groupCtx); err != nil {
			return fmt.Errorf("verification expiry sweep error: %w", err)
		}
		return nil
	})

	// The listeners do not watch the context themselves, so unblock them once
	// a shutdown signal arrives or another component fails.
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DBConnMaxLifetime)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown: %w", err)
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("metrics server shutdown: %w", err)
			}
		}
		return nil
	})

	if err := shutdownError(group.Wait()); err != nil {
		logger.Error("gateway stopped with error", slog.Any("error", err))
		return err
	}

	logger.Info("gateway stopped")
	return nil
}

// shutdownError filters the context cancellation that a shutdown signal
// propagates through the worker group. The sweep loops return their context's
// error when asked to stop, so a clean SIGINT/SIGTERM shutdown surfaces as a
// wrapped context.Canceled rather than a real failure.
func shutdownError(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
