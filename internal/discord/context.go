package discord

import (
	"context"
	"errors"

	"github.com/keshon/muminst/internal/lock"
	"github.com/keshon/muminst/internal/sound"
	"github.com/keshon/muminst/internal/storage"
	"github.com/keshon/muminst/pkg/cmd"
)

var (
	ErrUserNotInVoice = errors.New("user not in any voice channel")
	errNoContext      = errors.New("command invoked without a message context")
)

// MessageContext is the Invocation payload for text commands.
type MessageContext struct {
	GuildID   string
	ChannelID string
	UserID    string
	Username  string
	Reply     func(content string) error
}

func messageContext(inv *cmd.Invocation) (*MessageContext, error) {
	mc, ok := inv.Data.(*MessageContext)
	if !ok || mc == nil {
		return nil, errNoContext
	}
	return mc, nil
}

// SoundStore is the storage used by bot commands.
type SoundStore interface {
	SoundByID(ctx context.Context, id string) (sound.Sound, error)
	SoundByName(ctx context.Context, name string) (sound.Sound, error)
	ListSoundsWithTags(ctx context.Context) ([]sound.WithTags, error)
	AppendPlayToHistory(ctx context.Context, rec storage.PlayRecord) error
	FetchPlayHistory(ctx context.Context) ([]storage.PlayRecord, error)
	AppendCommandToHistory(ctx context.Context, rec storage.CommandRecord) error
}

// Playback is the player as seen by bot commands.
type Playback interface {
	PlayAudio(ctx context.Context, path string, snd sound.Sound) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (lock.Status, error)
}

// Voice moves the bot between voice channels.
type Voice interface {
	JoinUser(ctx context.Context, guildID, userID string) (channelID string, err error)
	Leave() error
}

// Categorized commands are grouped by category in help output.
type Categorized interface {
	Category() string
}
