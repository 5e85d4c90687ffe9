package voice

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleLifecycle(t *testing.T) {
	h := NewHandle()

	select {
	case <-h.Done():
		t.Fatal("done before finish")
	default:
	}

	h.Stop()
	h.Stop()
	select {
	case <-h.Stopping():
	default:
		t.Fatal("stop not signalled")
	}

	boom := errors.New("boom")
	go h.Finish(boom)

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle never finished")
	}
	assert.ErrorIs(t, h.Err(), boom)
}

func TestDiscordOutputWithoutConnection(t *testing.T) {
	o := NewDiscordOutput()

	assert.False(t, o.Connected())
	assert.Nil(t, o.Connection())

	src := io.NopCloser(strings.NewReader("pcm"))
	h, err := o.Play(src)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Nil(t, h)

	o.Stop()
	assert.NoError(t, o.Disconnect())
}

func TestDiscordOutputFollowsConnectionReadiness(t *testing.T) {
	o := NewDiscordOutput()
	vc := &discordgo.VoiceConnection{GuildID: "g1", ChannelID: "c1", Ready: true}
	o.SetConnection(vc)
	assert.True(t, o.Connected())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		vc.Lock()
		vc.Ready = false
		vc.Unlock()
	}()
	for i := 0; i < 100; i++ {
		_ = o.Connected()
	}
	wg.Wait()

	assert.False(t, o.Connected())
	_, err := o.Play(io.NopCloser(strings.NewReader("pcm")))
	assert.ErrorIs(t, err, ErrNotConnected)

	o.SetConnection(nil)
	assert.False(t, o.Connected())
}
