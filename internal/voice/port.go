// Package voice is the single shared audio output: whatever voice channel the bot
// currently sits in. Only one track plays at a time; starting a new one supersedes
// the current one.
package voice

import (
	"errors"
	"io"
	"sync"
)

// ErrNotConnected is returned when the bot is not in a voice channel.
var ErrNotConnected = errors.New("bot has to join a voice channel first")

// Source is a decoded 48 kHz stereo s16le PCM stream.
type Source = io.ReadCloser

// Port is the voice output used by the player.
type Port interface {
	Connected() bool
	// Play stops the current track, if any, and starts src. The returned handle
	// reports when src stops playing for any reason.
	Play(src Source) (*Handle, error)
	// Stop ends the current track, if any.
	Stop()
}

// Handle represents one in-flight track.
type Handle struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	err      error
}

// NewHandle returns a handle for a track that has not finished yet.
func NewHandle() *Handle {
	return &Handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Stop asks the track to end. Safe to call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Stopping is closed once Stop was called.
func (h *Handle) Stopping() <-chan struct{} { return h.stop }

// Done is closed when the track ended, naturally, with an error, or by Stop.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the reason playback ended early. Valid after Done is closed.
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

// Finish marks the track ended. Must be called exactly once by the output.
func (h *Handle) Finish(err error) {
	h.err = err
	close(h.done)
}
