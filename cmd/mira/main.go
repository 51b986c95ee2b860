package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/luminalabs/mira/internal/app"
	"github.com/luminalabs/mira/internal/config"
	"github.com/luminalabs/mira/internal/logging"
)

func main() {
	// Optional; deployment environments set real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info")
		bootLog.Fatal().Err(err).Msg("config error")
	}
	log := logging.New(cfg.LogLevel)

	ctx := context.Background()
	result, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("service build failed")
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: result.API.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}
	if err := result.Cleanup(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("cleanup reported errors")
	}

	log.Info().Msg("shutdown complete")
}
