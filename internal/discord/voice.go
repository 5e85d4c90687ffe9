package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/muminst/pkg/retrylimit"
)

const joinTimeout = 30 * time.Second

// VoiceState holds minimal voice channel state for a user.
type VoiceState struct {
	ChannelID string
	UserID    string
}

// JoinUser joins the voice channel the user sits in.
func (b *Bot) JoinUser(ctx context.Context, guildID, userID string) (string, error) {
	vs, err := b.FindUserVoiceState(guildID, userID)
	if err != nil {
		return "", err
	}
	if err := b.JoinChannel(ctx, guildID, vs.ChannelID); err != nil {
		return "", err
	}
	return vs.ChannelID, nil
}

// JoinChannel connects to a voice channel, retrying the gateway handshake.
func (b *Bot) JoinChannel(ctx context.Context, guildID, channelID string) error {
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	return retrylimit.WithRetryMax(ctx, func() error {
		vc, err := b.dg.ChannelVoiceJoin(guildID, channelID, false, true)
		if err != nil {
			return joinError(err)
		}
		b.output.SetConnection(vc)
		return nil
	}, b.joinLimiter, 5)
}

// joinError marks errors a retry cannot fix: a missing channel or missing permissions.
func joinError(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return err
	}
	switch restErr.Response.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return retrylimit.Fatal(err)
	}
	return err
}

// Leave stops playback and disconnects from voice.
func (b *Bot) Leave() error {
	return b.output.Disconnect()
}

// FindUserVoiceState finds the voice state of a user
func (b *Bot) FindUserVoiceState(guildID, userID string) (*VoiceState, error) {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("error retrieving guild: %w", err)
	}

	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return &VoiceState{
				ChannelID: vs.ChannelID,
				UserID:    vs.UserID,
			}, nil
		}
	}
	return nil, ErrUserNotInVoice
}
