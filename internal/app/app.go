// Package app wires the soundboard together and runs its services until shutdown.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/broadcast"
	"github.com/keshon/muminst/internal/config"
	"github.com/keshon/muminst/internal/discord"
	"github.com/keshon/muminst/internal/lock"
	"github.com/keshon/muminst/internal/metrics"
	"github.com/keshon/muminst/internal/music/player"
	"github.com/keshon/muminst/internal/music/stream"
	"github.com/keshon/muminst/internal/server"
	"github.com/keshon/muminst/internal/storage"
	"github.com/keshon/muminst/internal/voice"
	"github.com/keshon/muminst/pkg/jobmgr"
	"github.com/keshon/muminst/pkg/workpool"
)

// Run builds every component from cfg and blocks until ctx is done or a
// critical service fails.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := log.With().Str("module", "app").Logger()

	store, err := storage.New(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	m := metrics.New()

	hub := broadcast.NewHub(broadcast.Config{
		PingInterval:  cfg.WSPingInterval,
		ClientTimeout: cfg.WSClientTimeout,
	})
	hub.OnCountChange = m.SetSubscribers

	locks := lock.New(cfg.Policy(), lock.Publishers{hub, m})
	hub.Bind(locks)

	pool := workpool.New(cfg.DecodeWorkers)
	output := voice.NewDiscordOutput()
	p := player.New(output, &stream.FFmpegDecoder{Binary: cfg.FFmpegPath}, pool, locks)

	srv := server.New(server.Config{
		Addr:      cfg.HTTPAddr,
		AudioPath: cfg.AudioPath,
		PlayRate:  cfg.PlayRate,
		PlayBurst: cfg.PlayBurst,
		Debug:     strings.EqualFold(cfg.LogLevel, "debug"),
	}, server.Deps{
		Store:   store,
		Player:  p,
		Hub:     hub,
		Metrics: m.Handler(),
		Record:  m,
	})

	bot, err := discord.New(cfg, output, discord.Deps{
		Store:     store,
		Player:    p,
		AudioPath: cfg.AudioPath,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jm := jobmgr.NewManager(ctx, func(msg string) {
		if strings.HasPrefix(msg, "error:") {
			logger.Error().Msg(msg)
			return
		}
		logger.Debug().Msg(msg)
	})

	// critical services take the whole process down when they fail.
	critical := func(run func(context.Context) error) func(context.Context) error {
		return func(ctx context.Context) error {
			err := run(ctx)
			if err != nil {
				cancel()
			}
			return err
		}
	}

	jobs := []struct {
		name string
		run  func(context.Context) error
	}{
		{"lock", func(ctx context.Context) error { locks.Run(ctx); return nil }},
		{"decode-pool", func(ctx context.Context) error { pool.Run(ctx); return nil }},
		{"player-events", func(ctx context.Context) error { consumeEvents(ctx, p, m); return nil }},
		{"http", critical(srv.Run)},
		{"discord", critical(bot.Run)},
	}
	for _, j := range jobs {
		if err := jm.StartAsync(j.name, j.run); err != nil {
			cancel()
			return err
		}
	}
	logger.Info().Msg(jm.Status())

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	hub.CloseAll()
	err = jm.Wait()
	output.Stop()
	p.Wait()
	return err
}

// consumeEvents logs player events and counts them.
func consumeEvents(ctx context.Context, p *player.Player, m *metrics.Metrics) {
	logger := log.With().Str("module", "player").Logger()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.Events:
			m.ObservePlayerEvent(string(ev.Status))
			e := logger.Info()
			if ev.Err != nil {
				e = logger.Warn().Err(ev.Err)
			}
			e.Str("status", string(ev.Status)).Str("sound", ev.Sound.Name).Msg("player event")
		}
	}
}
