package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/lock"
	"github.com/keshon/muminst/internal/music/stream"
	"github.com/keshon/muminst/internal/sound"
	"github.com/keshon/muminst/internal/voice"
	"github.com/keshon/muminst/pkg/workpool"
)

type PlayerStatus string

const (
	StatusPlaying PlayerStatus = "Playing"
	StatusStopped PlayerStatus = "Playback Stopped"
	StatusError   PlayerStatus = "Error"
)

// Event reports what happened to a playback request.
type Event struct {
	Status PlayerStatus
	Sound  sound.Sound
	Err    error
}

var ErrNoTrackPlaying = errors.New("no track is currently playing")

// Locker is the part of the lock coordinator the player needs.
type Locker interface {
	Lock(ctx context.Context, snd sound.Sound) (lock.Ticket, error)
	Release(ctx context.Context, t lock.Ticket) (bool, error)
	Status(ctx context.Context) (lock.Status, error)
}

// Player turns play requests into tracks on the shared voice output and keeps the
// lock in step with what is actually playing.
type Player struct {
	out     voice.Port
	decoder stream.Decoder
	pool    *workpool.Pool
	locks   Locker
	log     zerolog.Logger

	// mu makes Lock and Play one step, so the lock holder always matches the
	// track on the output even when requests race.
	mu       sync.Mutex
	watchers sync.WaitGroup

	Events chan Event
}

// New creates a Player. The pool must be running.
func New(out voice.Port, decoder stream.Decoder, pool *workpool.Pool, locks Locker) *Player {
	return &Player{
		out:     out,
		decoder: decoder,
		pool:    pool,
		locks:   locks,
		log:     log.With().Str("module", "player").Logger(),
		Events:  make(chan Event, 10), // buffered to reduce drops
	}
}

// PlayAudio plays the file at path as snd. It fails with voice.ErrNotConnected or
// an error wrapping stream.ErrDecode before touching the lock. On success the lock
// is released exactly once, when this track ends or is superseded.
func (p *Player) PlayAudio(ctx context.Context, path string, snd sound.Sound) error {
	log := p.log.With().Str("sound_id", snd.ID).Str("sound", snd.Name).Logger()
	log.Info().Str("path", path).Msg("PlayAudio called")

	if !p.out.Connected() {
		return voice.ErrNotConnected
	}

	src, err := workpool.Do(ctx, p.pool, func(ctx context.Context) (io.ReadCloser, error) {
		return p.decoder.Open(ctx, path)
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to open stream")
		p.emit(Event{Status: StatusError, Sound: snd, Err: err})
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// the connection may have dropped while decoding
	if !p.out.Connected() {
		_ = src.Close()
		return voice.ErrNotConnected
	}

	ticket, err := p.locks.Lock(ctx, snd)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("lock sound: %w", err)
	}

	h, err := p.out.Play(src)
	if err != nil {
		_ = src.Close()
		p.release(ticket, snd)
		p.emit(Event{Status: StatusError, Sound: snd, Err: err})
		return fmt.Errorf("start playback: %w", err)
	}

	p.watchers.Add(1)
	go p.watch(h, ticket, snd)

	log.Info().Uint64("ticket", uint64(ticket)).Msg("now playing")
	p.emit(Event{Status: StatusPlaying, Sound: snd})
	return nil
}

// watch waits for the track to end and releases its lock.
func (p *Player) watch(h *voice.Handle, ticket lock.Ticket, snd sound.Sound) {
	defer p.watchers.Done()
	<-h.Done()

	if err := h.Err(); err != nil {
		p.emit(Event{Status: StatusError, Sound: snd, Err: err})
	} else {
		p.emit(Event{Status: StatusStopped, Sound: snd})
	}
	p.release(ticket, snd)
}

func (p *Player) release(ticket lock.Ticket, snd sound.Sound) {
	released, err := p.locks.Release(context.Background(), ticket)
	if err != nil {
		p.log.Error().Err(err).Str("sound_id", snd.ID).Msg("failed to release lock")
		return
	}
	p.log.Debug().Str("sound_id", snd.ID).Bool("released", released).Msg("track ended")
}

// Stop ends the current track. Its lock is released when the track winds down.
func (p *Player) Stop(ctx context.Context) error {
	st, err := p.locks.Status(ctx)
	if err != nil {
		return err
	}
	if !st.IsLocked {
		return ErrNoTrackPlaying
	}
	p.log.Info().Str("sound_id", st.Sound.ID).Msg("Stop called")
	p.out.Stop()
	return nil
}

// Status returns the current lock snapshot.
func (p *Player) Status(ctx context.Context) (lock.Status, error) {
	return p.locks.Status(ctx)
}

// Connected reports whether the voice output can play.
func (p *Player) Connected() bool {
	return p.out.Connected()
}

// Wait blocks until every started track has ended and released its lock.
func (p *Player) Wait() {
	p.watchers.Wait()
}

// emit safely sends a player event
func (p *Player) emit(ev Event) {
	select {
	case p.Events <- ev:
	default:
		p.log.Debug().Str("status", string(ev.Status)).Msg("player event dropped (channel full)")
	}
}
