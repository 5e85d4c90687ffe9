package discord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/config"
	"github.com/keshon/muminst/internal/lock"
	"github.com/keshon/muminst/internal/music/player"
	"github.com/keshon/muminst/internal/music/stream"
	"github.com/keshon/muminst/internal/sound"
	"github.com/keshon/muminst/internal/storage"
	"github.com/keshon/muminst/internal/voice"
	"github.com/keshon/muminst/pkg/cmd"
)

// messageLimit is Discord's maximum message length.
const messageLimit = 2000

type JoinCommand struct {
	Voice Voice
}

func (c *JoinCommand) Name() string        { return "join" }
func (c *JoinCommand) Description() string { return "Join your voice channel" }
func (c *JoinCommand) Aliases() []string   { return []string{"j"} }
func (c *JoinCommand) Category() string    { return config.CategoryVoice }

func (c *JoinCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}
	channelID, err := c.Voice.JoinUser(ctx, mc.GuildID, mc.UserID)
	if errors.Is(err, ErrUserNotInVoice) {
		return mc.Reply("🔇 Join a voice channel first.")
	}
	if err != nil {
		return fmt.Errorf("join voice: %w", err)
	}
	return mc.Reply(fmt.Sprintf("🔊 Joined <#%s>", channelID))
}

type LeaveCommand struct {
	Voice Voice
}

func (c *LeaveCommand) Name() string        { return "leave" }
func (c *LeaveCommand) Description() string { return "Leave the voice channel" }
func (c *LeaveCommand) Aliases() []string   { return []string{"l"} }
func (c *LeaveCommand) Category() string    { return config.CategoryVoice }

func (c *LeaveCommand) Run(_ context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}
	if err := c.Voice.Leave(); err != nil {
		return fmt.Errorf("leave voice: %w", err)
	}
	return mc.Reply("👋 Left the voice channel")
}

type PlayCommand struct {
	Store     SoundStore
	Player    Playback
	AudioPath string
}

func (c *PlayCommand) Name() string        { return "play" }
func (c *PlayCommand) Description() string { return "Play a sound by name or id" }
func (c *PlayCommand) Aliases() []string   { return []string{"p"} }
func (c *PlayCommand) Category() string    { return config.CategorySound }

func (c *PlayCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}
	query := inv.Arg()
	if query == "" {
		return mc.Reply("Usage: `play <name|id>`")
	}

	snd, err := c.resolve(ctx, query)
	if errors.Is(err, storage.ErrNotFound) {
		return mc.Reply(fmt.Sprintf("❓ No sound called `%s`", query))
	}
	if err != nil {
		return err
	}

	path := snd.Path(c.AudioPath)
	if _, err := os.Stat(path); err != nil {
		return mc.Reply(fmt.Sprintf("⚠️ Audio is missing for `%s`", snd.Name))
	}

	if err := c.Player.PlayAudio(ctx, path, snd); err != nil {
		switch {
		case errors.Is(err, voice.ErrNotConnected):
			return mc.Reply("🔇 Bot has to join a voice channel first.")
		case errors.Is(err, stream.ErrDecode):
			return mc.Reply(fmt.Sprintf("⚠️ `%s` could not be decoded", snd.Name))
		case errors.Is(err, lock.ErrBusy):
			return mc.Reply("⏳ Another sound is playing.")
		}
		return err
	}

	if err := c.Store.AppendPlayToHistory(ctx, storage.PlayRecord{SoundID: snd.ID, Name: snd.Name, Client: "discord"}); err != nil {
		log.Warn().Str("module", "discord").Err(err).Str("sound_id", snd.ID).Msg("failed to record play")
	}
	return mc.Reply(fmt.Sprintf("▶️ Playing **%s**", snd.Name))
}

func (c *PlayCommand) resolve(ctx context.Context, query string) (sound.Sound, error) {
	snd, err := c.Store.SoundByID(ctx, query)
	if errors.Is(err, storage.ErrNotFound) {
		return c.Store.SoundByName(ctx, query)
	}
	return snd, err
}

type StopCommand struct {
	Player Playback
}

func (c *StopCommand) Name() string        { return "stop" }
func (c *StopCommand) Description() string { return "Stop the current sound" }
func (c *StopCommand) Aliases() []string   { return []string{"s"} }
func (c *StopCommand) Category() string    { return config.CategorySound }

func (c *StopCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}
	err = c.Player.Stop(ctx)
	if errors.Is(err, player.ErrNoTrackPlaying) {
		return mc.Reply("Nothing is playing.")
	}
	if err != nil {
		return err
	}
	return mc.Reply("⏹️ Stopped")
}

type SoundsCommand struct {
	Store SoundStore
}

func (c *SoundsCommand) Name() string        { return "sounds" }
func (c *SoundsCommand) Description() string { return "List stored sounds" }
func (c *SoundsCommand) Aliases() []string   { return []string{"ls"} }
func (c *SoundsCommand) Category() string    { return config.CategorySound }

func (c *SoundsCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}
	list, err := c.Store.ListSoundsWithTags(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return mc.Reply("No sounds yet.")
	}

	lines := make([]string, 0, len(list))
	for _, s := range list {
		line := fmt.Sprintf("• **%s** `%s`", s.Name, s.ID)
		if len(s.Tags) > 0 {
			line += " " + strings.Join(s.Tags, ", ")
		}
		lines = append(lines, line)
	}
	return replyChunks(mc, lines)
}

type HistoryCommand struct {
	Store SoundStore
}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Description() string { return "Show recently played sounds" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h"} }
func (c *HistoryCommand) Category() string    { return config.CategorySound }

func (c *HistoryCommand) Run(ctx context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}
	list, err := c.Store.FetchPlayHistory(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return mc.Reply("Nothing was played yet.")
	}
	lines := make([]string, 0, len(list))
	for _, rec := range list {
		lines = append(lines, fmt.Sprintf("• %s **%s** via %s", rec.Datetime.Format("15:04"), rec.Name, rec.Client))
	}
	return replyChunks(mc, lines)
}

type HelpCommand struct {
	Registry *cmd.Registry
	Prefix   string
}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Category() string    { return config.CategoryInfo }

func (c *HelpCommand) Run(_ context.Context, inv *cmd.Invocation) error {
	mc, err := messageContext(inv)
	if err != nil {
		return err
	}

	byCategory := map[string][]cmd.Command{}
	for _, command := range c.Registry.GetAll() {
		cat := config.CategoryInfo
		if cc, ok := cmd.Root(command).(Categorized); ok {
			cat = cc.Category()
		}
		byCategory[cat] = append(byCategory[cat], command)
	}

	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Slice(categories, func(i, j int) bool {
		return config.CategoryWeights[categories[i]] < config.CategoryWeights[categories[j]]
	})

	var lines []string
	for _, cat := range categories {
		lines = append(lines, "**"+cat+"**")
		for _, command := range byCategory[cat] {
			lines = append(lines, fmt.Sprintf("`%s%s` %s", c.Prefix, command.Name(), command.Description()))
		}
	}
	return replyChunks(mc, lines)
}

// replyChunks sends lines in as few messages as Discord's length limit allows.
func replyChunks(mc *MessageContext, lines []string) error {
	var b strings.Builder
	for _, line := range lines {
		if b.Len() > 0 && b.Len()+len(line)+1 > messageLimit {
			if err := mc.Reply(b.String()); err != nil {
				return err
			}
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() == 0 {
		return nil
	}
	return mc.Reply(b.String())
}
