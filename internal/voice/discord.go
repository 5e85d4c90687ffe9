package voice

import (
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/music/stream"
)

// DiscordOutput plays PCM sources into the bot's current Discord voice connection.
type DiscordOutput struct {
	mu      sync.Mutex
	vc      *discordgo.VoiceConnection
	current *Handle
	log     zerolog.Logger
}

// NewDiscordOutput returns an output with no voice connection.
func NewDiscordOutput() *DiscordOutput {
	return &DiscordOutput{
		log: log.With().Str("module", "voice").Logger(),
	}
}

// SetConnection replaces the voice connection. Passing nil marks the bot as not
// connected and stops the current track.
func (o *DiscordOutput) SetConnection(vc *discordgo.VoiceConnection) {
	o.mu.Lock()
	o.vc = vc
	o.mu.Unlock()
	if vc == nil {
		o.Stop()
		return
	}
	o.log.Info().Str("guild", vc.GuildID).Str("channel", vc.ChannelID).Msg("voice connection set")
}

// Connection returns the current voice connection, if any.
func (o *DiscordOutput) Connection() *discordgo.VoiceConnection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.vc
}

// Disconnect stops playback and leaves the voice channel.
func (o *DiscordOutput) Disconnect() error {
	o.mu.Lock()
	vc := o.vc
	o.mu.Unlock()
	o.SetConnection(nil)
	if vc == nil {
		return nil
	}
	return vc.Disconnect()
}

// Connected implements Port.
func (o *DiscordOutput) Connected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return ready(o.vc)
}

// ready reads Ready under the connection's own lock; discordgo updates it from its goroutines.
func ready(vc *discordgo.VoiceConnection) bool {
	if vc == nil {
		return false
	}
	vc.RLock()
	defer vc.RUnlock()
	return vc.Ready
}

// Play implements Port. The previous track is stopped and fully drained before
// the new one starts, so only one goroutine ever writes to OpusSend.
func (o *DiscordOutput) Play(src Source) (*Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !ready(o.vc) {
		return nil, ErrNotConnected
	}

	if prev := o.current; prev != nil {
		prev.Stop()
		<-prev.Done()
		o.log.Debug().Msg("previous track superseded")
	}

	h := NewHandle()
	o.current = h
	vc := o.vc

	go func() {
		defer src.Close()

		if err := vc.Speaking(true); err != nil {
			o.log.Warn().Err(err).Msg("speaking on")
		}
		err := stream.SendOpus(src, h.Stopping(), vc.OpusSend)
		if err := vc.Speaking(false); err != nil {
			o.log.Warn().Err(err).Msg("speaking off")
		}
		if err != nil {
			o.log.Error().Err(err).Msg("playback finished with error")
		} else {
			o.log.Debug().Msg("playback finished")
		}
		h.Finish(err)
	}()

	return h, nil
}

// Stop implements Port.
func (o *DiscordOutput) Stop() {
	o.mu.Lock()
	h := o.current
	o.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}
