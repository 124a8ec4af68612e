package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"chatrelay/internal/app"
	"chatrelay/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Relay exited")
	}
}

// run loads configuration, starts the relay and blocks until SIGINT or
// SIGTERM, then shuts down within the configured timeout.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app.SetupLogger(cfg)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	return awaitShutdown(ctx, application)
}

// awaitShutdown blocks until ctx is done, then stops application
func awaitShutdown(ctx context.Context, application *app.Application) error {
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), application.ShutdownTimeout())
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
