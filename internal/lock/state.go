package lock

import (
	"github.com/keshon/muminst/internal/sound"
)

// Policy decides what Lock does while a sound already holds the lock.
type Policy string

const (
	// PolicyOverwrite replaces the held sound with the new one (last writer wins).
	PolicyOverwrite Policy = "overwrite"
	// PolicyReject refuses the new Lock with ErrBusy.
	PolicyReject Policy = "reject"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == PolicyOverwrite || p == PolicyReject
}

// Ticket identifies one accepted Lock. Zero is never issued.
type Ticket uint64

// Status is a snapshot of the lock. IsLocked is true exactly when Sound is set.
type Status struct {
	IsLocked bool
	Sound    *sound.Sound
}

// Changed is published after every Lock/Unlock transition.
type Changed struct {
	Locked bool
	Sound  *sound.Sound
}

// state is the pure state machine. Only the coordinator goroutine touches it.
type state struct {
	holder *sound.Sound
	ticket Ticket
	issued Ticket
}

func (s *state) status() Status {
	if s.holder == nil {
		return Status{}
	}
	snd := *s.holder
	return Status{IsLocked: true, Sound: &snd}
}

// lock moves to Locked(snd). It returns false when the policy refuses the transition.
func (s *state) lock(snd sound.Sound, policy Policy) (Ticket, bool) {
	if s.holder != nil && policy == PolicyReject {
		return 0, false
	}
	s.issued++
	s.holder = &snd
	s.ticket = s.issued
	return s.ticket, true
}

// unlock moves to Unlocked from any state.
func (s *state) unlock() {
	s.holder = nil
	s.ticket = 0
}

// release unlocks only when t is the current holder's ticket.
func (s *state) release(t Ticket) bool {
	if s.holder == nil || t == 0 || t != s.ticket {
		return false
	}
	s.unlock()
	return true
}

func (c Changed) snapshot() Changed {
	if c.Sound == nil {
		return c
	}
	snd := *c.Sound
	return Changed{Locked: c.Locked, Sound: &snd}
}
