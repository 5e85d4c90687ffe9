// Package lock owns the process-wide "something is playing" state.
//
// The state lives inside a single goroutine (Coordinator.Run). Every Lock, Unlock,
// Release, Status and Watch call is a message into its inbox, so transitions never
// interleave and each transition is published exactly once, after the state changed.
package lock

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/sound"
)

var (
	// ErrBusy is returned by Lock under PolicyReject while a sound holds the lock.
	ErrBusy = errors.New("lock is held by another sound")
	// ErrStopped means the coordinator is not running; callers must treat it as fatal.
	ErrStopped = errors.New("lock coordinator is not running")
)

// Publisher receives lock transitions. Publish is called from the coordinator
// goroutine and must not block.
type Publisher interface {
	Publish(Changed)
}

// Publishers fans one transition out to several publishers in order.
type Publishers []Publisher

// Publish implements Publisher.
func (ps Publishers) Publish(c Changed) {
	for _, p := range ps {
		p.Publish(c.snapshot())
	}
}

type request struct {
	handle func(*Coordinator)
	done   chan struct{}
}

// Coordinator is the serialized owner of the lock Status.
type Coordinator struct {
	policy    Policy
	publisher Publisher
	inbox     chan request
	stopped   chan struct{}
	log       zerolog.Logger

	st state
}

// New returns a coordinator in the Unlocked state. Call Run to start it.
func New(policy Policy, publisher Publisher) *Coordinator {
	if !policy.Valid() {
		policy = PolicyOverwrite
	}
	if publisher == nil {
		publisher = Publishers(nil)
	}
	return &Coordinator{
		policy:    policy,
		publisher: publisher,
		inbox:     make(chan request),
		stopped:   make(chan struct{}),
		log:       log.With().Str("module", "lock").Logger(),
	}
}

// Policy returns the busy policy the coordinator was built with.
func (c *Coordinator) Policy() Policy { return c.policy }

// Run processes requests one at a time until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	c.log.Info().Str("policy", string(c.policy)).Msg("lock coordinator started")
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("lock coordinator stopped")
			return
		case req := <-c.inbox:
			req.handle(c)
			close(req.done)
		}
	}
}

// call delivers fn to the actor and waits until it has been handled.
func (c *Coordinator) call(ctx context.Context, fn func(*Coordinator)) error {
	req := request{handle: fn, done: make(chan struct{})}
	select {
	case c.inbox <- req:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}

// Lock makes snd the lock holder and returns the ticket that can release it.
func (c *Coordinator) Lock(ctx context.Context, snd sound.Sound) (Ticket, error) {
	var (
		ticket Ticket
		ok     bool
	)
	err := c.call(ctx, func(c *Coordinator) {
		prev := c.st.holder
		ticket, ok = c.st.lock(snd, c.policy)
		if !ok {
			c.log.Debug().Str("sound_id", snd.ID).Str("holder", prev.ID).Msg("lock rejected, busy")
			return
		}
		ev := c.log.Info().Str("sound_id", snd.ID).Str("sound", snd.Name).Uint64("ticket", uint64(ticket))
		if prev != nil {
			ev = ev.Str("superseded", prev.ID)
		}
		ev.Msg("locked")
		c.publish(Changed{Locked: true, Sound: &snd})
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrBusy
	}
	return ticket, nil
}

// Unlock moves to Unlocked from any state and always publishes the transition.
func (c *Coordinator) Unlock(ctx context.Context) error {
	return c.call(ctx, func(c *Coordinator) {
		c.st.unlock()
		c.log.Info().Msg("unlocked")
		c.publish(Changed{Locked: false})
	})
}

// Release unlocks only if t still identifies the current holder. A ticket that
// was superseded by a later Lock is ignored and nothing is published.
func (c *Coordinator) Release(ctx context.Context, t Ticket) (bool, error) {
	var released bool
	err := c.call(ctx, func(c *Coordinator) {
		released = c.st.release(t)
		if !released {
			c.log.Debug().Uint64("ticket", uint64(t)).Msg("stale release ignored")
			return
		}
		c.log.Info().Uint64("ticket", uint64(t)).Msg("released")
		c.publish(Changed{Locked: false})
	})
	return released, err
}

// Status returns a snapshot of the current lock state.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.call(ctx, func(c *Coordinator) {
		st = c.st.status()
	})
	return st, err
}

// Watch runs fn inside the coordinator with the current status. No transition can
// happen while fn runs, which lets a subscriber register and receive its initial
// snapshot without missing or reordering events.
func (c *Coordinator) Watch(ctx context.Context, fn func(Status)) error {
	return c.call(ctx, func(c *Coordinator) {
		fn(c.st.status())
	})
}

func (c *Coordinator) publish(ev Changed) {
	c.publisher.Publish(ev)
}
