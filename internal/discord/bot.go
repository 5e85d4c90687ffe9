package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/config"
	"github.com/keshon/muminst/internal/voice"
	"github.com/keshon/muminst/pkg/cmd"
	"github.com/keshon/muminst/pkg/retrylimit"
)

// Bot is the Discord side of the soundboard: it owns the gateway session, answers
// text commands and keeps the voice output pointed at the current voice channel.
type Bot struct {
	dg          *discordgo.Session
	cfg         *config.Config
	output      *voice.DiscordOutput
	registry    *cmd.Registry
	joinLimiter *retrylimit.AdaptiveLimiter
	ctx         context.Context
	log         zerolog.Logger
}

// New creates the bot. Commands are built from deps; deps.Voice is set to the bot.
func New(cfg *config.Config, output *voice.DiscordOutput, deps Deps) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	b := &Bot{
		dg:          dg,
		cfg:         cfg,
		output:      output,
		joinLimiter: retrylimit.NewAdaptiveLimiter(1, 1, 5, 1, 0.5),
		ctx:         context.Background(),
		log:         log.With().Str("module", "discord").Logger(),
	}

	deps.Voice = b
	deps.GuildID = cfg.GuildID
	deps.Prefix = cfg.CommandPrefix
	b.registry = NewRegistry(deps)
	return b, nil
}

// Run opens the gateway session and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx

	b.configureIntents()
	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onMessageCreate)
	b.dg.AddHandler(b.onVoiceStateUpdate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	b.log.Info().Msg("❎ Shutdown signal received. Cleaning up...")
	if err := b.Leave(); err != nil {
		b.log.Warn().Err(err).Msg("failed to leave voice channel")
	}
	return nil
}

// configureIntents asks only for what text commands and voice tracking need.
func (b *Bot) configureIntents() {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
}

// onReady is called when the bot is ready
func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("✅ Discord bot is running")

	if b.cfg.VoiceChannelID == "" {
		return
	}
	go func() {
		if err := b.JoinChannel(b.ctx, b.cfg.GuildID, b.cfg.VoiceChannelID); err != nil {
			b.log.Error().Err(err).Str("channel", b.cfg.VoiceChannelID).Msg("auto-join failed")
		}
	}()
}

// onMessageCreate is called when a message is created
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	mc := &MessageContext{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		Username:  m.Author.Username,
		Reply: func(content string) error {
			_, err := s.ChannelMessageSend(m.ChannelID, content)
			return err
		},
	}
	Dispatch(b.ctx, b.registry, b.cfg.CommandPrefix, m.Content, mc)
}

// onVoiceStateUpdate drops the voice connection when the bot is moved out of voice.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if s.State == nil || s.State.User == nil || v.UserID != s.State.User.ID {
		return
	}
	if v.ChannelID == "" && b.output.Connection() != nil {
		b.log.Info().Str("guild", v.GuildID).Msg("bot left voice")
		b.output.SetConnection(nil)
	}
}
