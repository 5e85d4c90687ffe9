package discord

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/storage"
	"github.com/keshon/muminst/pkg/cmd"
)

// CommandLogger persists executed commands.
type CommandLogger interface {
	AppendCommandToHistory(ctx context.Context, rec storage.CommandRecord) error
}

// WithGuildOnly ignores direct messages and, when guildID is set, every other guild.
func WithGuildOnly(guildID string) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			mc, err := messageContext(inv)
			if err != nil {
				return err
			}
			if mc.GuildID == "" || (guildID != "" && mc.GuildID != guildID) {
				return nil
			}
			return c.Run(ctx, inv)
		})
	}
}

// WithCommandLogger records a command after it ran.
func WithCommandLogger(store CommandLogger) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			err := c.Run(ctx, inv)

			mc, mcErr := messageContext(inv)
			if mcErr != nil || store == nil {
				return err
			}
			rec := storage.CommandRecord{
				GuildID:   mc.GuildID,
				ChannelID: mc.ChannelID,
				UserID:    mc.UserID,
				Username:  mc.Username,
				Command:   c.Name(),
				Param:     strings.Join(inv.Args, " "),
			}
			if e := store.AppendCommandToHistory(ctx, rec); e != nil {
				log.Warn().Str("module", "discord").Err(e).Str("command", c.Name()).Msg("failed to log command")
			}
			return err
		})
	}
}

// Deps are the collaborators bot commands need.
type Deps struct {
	Store     SoundStore
	Player    Playback
	Voice     Voice
	AudioPath string
	GuildID   string
	Prefix    string
}

// NewRegistry builds the text command set with its middleware chain.
func NewRegistry(d Deps) *cmd.Registry {
	reg := cmd.NewRegistry()
	commands := []cmd.Command{
		&JoinCommand{Voice: d.Voice},
		&LeaveCommand{Voice: d.Voice},
		&PlayCommand{Store: d.Store, Player: d.Player, AudioPath: d.AudioPath},
		&StopCommand{Player: d.Player},
		&SoundsCommand{Store: d.Store},
		&HistoryCommand{Store: d.Store},
		&HelpCommand{Registry: reg, Prefix: d.Prefix},
	}
	for _, c := range commands {
		reg.Register(cmd.Apply(c,
			WithCommandLogger(d.Store),
			WithGuildOnly(d.GuildID),
		))
	}
	return reg
}

// Dispatch runs the command named by line, if any. Command failures are reported
// back to the channel. It reports whether line was a known command.
func Dispatch(ctx context.Context, reg *cmd.Registry, prefix, line string, mc *MessageContext) bool {
	inv, ok := cmd.Parse(prefix, line)
	if !ok {
		return false
	}
	c, ok := reg.Get(inv.Name)
	if !ok {
		return false
	}
	inv.Data = mc

	logger := log.With().Str("module", "discord").Str("command", c.Name()).Logger()
	logger.Debug().Strs("args", inv.Args).Str("user", mc.Username).Msg("running command")
	if err := c.Run(ctx, inv); err != nil {
		logger.Error().Err(err).Msg("Error running command")
		if mc.Reply != nil {
			_ = mc.Reply("Error running command: " + err.Error())
		}
	}
	return true
}
