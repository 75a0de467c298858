package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"github.com/upb/api-auth/app"
	"github.com/upb/api-auth/config"
	"github.com/upb/api-auth/internal/observability"
	"github.com/upb/api-auth/routes"
	"github.com/upb/api-auth/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:")
		printConfigError(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ln, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		logger.Fatal("failed to listen", zap.String("address", cfg.Server.Address()), zap.Error(err))
	}

	if err := run(ctx, cfg, logger, ln); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// printConfigError writes one line per invalid field when err carries field
// errors, and the error text otherwise.
func printConfigError(w io.Writer, err error) {
	if !utils.IsValidationError(err) {
		fmt.Fprintf(w, "  %v\n", err)
		return
	}
	fields := utils.GetValidationFields(err)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", fields[name])
	}
}

// run serves the API on ln until ctx is cancelled, then drains in-flight
// requests for at most the configured shutdown timeout.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, ln net.Listener) error {
	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	srv := &http.Server{
		Handler:           routes.SetupRoutes(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api-auth listening",
			zap.String("address", ln.Addr().String()),
			zap.String("environment", cfg.Environment))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := deps.Close(shutdownCtx); err != nil {
		return fmt.Errorf("failed to close dependencies: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
