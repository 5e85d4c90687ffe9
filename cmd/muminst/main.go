// cmd/muminst/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/app"
	"github.com/keshon/muminst/internal/config"
	"github.com/keshon/muminst/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Setup("info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.LogLevel)

	log.Info().Str("addr", cfg.HTTPAddr).Str("policy", cfg.LockPolicy).Msg("Starting muminst...")

	if err := app.Run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("muminst exited with error")
		os.Exit(1)
	}
	log.Info().Msg("muminst exited cleanly")
}
