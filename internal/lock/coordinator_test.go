package lock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/muminst/internal/sound"
)

type recorder struct {
	mu     sync.Mutex
	events []Changed
}

func (r *recorder) Publish(c Changed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, c)
}

func (r *recorder) all() []Changed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Changed(nil), r.events...)
}

func startCoordinator(t *testing.T, policy Policy) (*Coordinator, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := New(policy, rec)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, rec
}

func soundA() sound.Sound { return sound.Sound{ID: "1", Name: "A"} }
func soundB() sound.Sound { return sound.Sound{ID: "2", Name: "B"} }

func assertInvariant(t *testing.T, st Status) {
	t.Helper()
	assert.Equal(t, st.IsLocked, st.Sound != nil, "is_locked must match sound presence")
}

func TestInitialStatusIsUnlocked(t *testing.T) {
	c, rec := startCoordinator(t, PolicyOverwrite)

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, st.IsLocked)
	assert.Nil(t, st.Sound)
	assert.Empty(t, rec.all())
}

func TestLockUnlockTransitions(t *testing.T) {
	ctx := context.Background()
	c, rec := startCoordinator(t, PolicyOverwrite)

	ticket, err := c.Lock(ctx, soundA())
	require.NoError(t, err)
	assert.NotZero(t, ticket)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assertInvariant(t, st)
	require.True(t, st.IsLocked)
	assert.Equal(t, "1", st.Sound.ID)

	require.NoError(t, c.Unlock(ctx))
	st, err = c.Status(ctx)
	require.NoError(t, err)
	assertInvariant(t, st)
	assert.False(t, st.IsLocked)

	events := rec.all()
	require.Len(t, events, 2)
	assert.True(t, events[0].Locked)
	assert.Equal(t, "1", events[0].Sound.ID)
	assert.False(t, events[1].Locked)
	assert.Nil(t, events[1].Sound)
}

func TestUnlockIsIdempotentAndStillPublishes(t *testing.T) {
	ctx := context.Background()
	c, rec := startCoordinator(t, PolicyOverwrite)

	_, err := c.Lock(ctx, soundA())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, c.Unlock(ctx))
		st, err := c.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, Status{}, st)
	}

	events := rec.all()
	require.Len(t, events, 3)
	assert.False(t, events[1].Locked)
	assert.False(t, events[2].Locked)
}

func TestUnlockFromUnlockedIsSafe(t *testing.T) {
	c, rec := startCoordinator(t, PolicyOverwrite)

	require.NoError(t, c.Unlock(context.Background()))
	require.Len(t, rec.all(), 1)
	assert.False(t, rec.all()[0].Locked)
}

func TestOverwritePolicyReplacesHolder(t *testing.T) {
	ctx := context.Background()
	c, rec := startCoordinator(t, PolicyOverwrite)

	first, err := c.Lock(ctx, soundA())
	require.NoError(t, err)
	second, err := c.Lock(ctx, soundB())
	require.NoError(t, err)
	assert.Greater(t, second, first)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.IsLocked)
	assert.Equal(t, "2", st.Sound.ID)

	events := rec.all()
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[1].Sound.ID)
}

func TestRejectPolicyReturnsBusy(t *testing.T) {
	ctx := context.Background()
	c, rec := startCoordinator(t, PolicyReject)

	_, err := c.Lock(ctx, soundA())
	require.NoError(t, err)
	_, err = c.Lock(ctx, soundB())
	require.ErrorIs(t, err, ErrBusy)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", st.Sound.ID)
	assert.Len(t, rec.all(), 1)
}

func TestReleaseIgnoresSupersededTicket(t *testing.T) {
	ctx := context.Background()
	c, rec := startCoordinator(t, PolicyOverwrite)

	first, err := c.Lock(ctx, soundA())
	require.NoError(t, err)
	second, err := c.Lock(ctx, soundB())
	require.NoError(t, err)

	released, err := c.Release(ctx, first)
	require.NoError(t, err)
	assert.False(t, released)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.IsLocked)
	assert.Equal(t, "2", st.Sound.ID)
	assert.Len(t, rec.all(), 2)

	released, err = c.Release(ctx, second)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = c.Release(ctx, second)
	require.NoError(t, err)
	assert.False(t, released)

	events := rec.all()
	require.Len(t, events, 3)
	assert.False(t, events[2].Locked)
}

func TestStatusNeverMutates(t *testing.T) {
	ctx := context.Background()
	c, rec := startCoordinator(t, PolicyOverwrite)
	_, err := c.Lock(ctx, soundA())
	require.NoError(t, err)

	first, err := c.Status(ctx)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		st, err := c.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, st)
	}
	assert.Len(t, rec.all(), 1)
}

func TestSnapshotIsDetachedFromState(t *testing.T) {
	ctx := context.Background()
	c, _ := startCoordinator(t, PolicyOverwrite)
	_, err := c.Lock(ctx, soundA())
	require.NoError(t, err)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	st.Sound.Name = "mutated"

	again, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", again.Sound.Name)
}

func TestInvariantHoldsUnderConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	c, rec := startCoordinator(t, PolicyOverwrite)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%3 == 0 {
				assert.NoError(t, c.Unlock(ctx))
				return
			}
			snd := soundA()
			if i%2 == 0 {
				snd = soundB()
			}
			_, err := c.Lock(ctx, snd)
			assert.NoError(t, err)
			st, err := c.Status(ctx)
			assert.NoError(t, err)
			assertInvariant(t, st)
		}(i)
	}
	wg.Wait()

	for _, ev := range rec.all() {
		assert.Equal(t, ev.Locked, ev.Sound != nil)
	}
	assert.Len(t, rec.all(), 50)
}

func TestWatchSeesCurrentStatus(t *testing.T) {
	ctx := context.Background()
	c, _ := startCoordinator(t, PolicyOverwrite)
	_, err := c.Lock(ctx, soundB())
	require.NoError(t, err)

	var seen Status
	require.NoError(t, c.Watch(ctx, func(st Status) { seen = st }))
	require.True(t, seen.IsLocked)
	assert.Equal(t, "2", seen.Sound.ID)
}

func TestCallsFailAfterStop(t *testing.T) {
	c := New(PolicyOverwrite, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	_, err := c.Lock(context.Background(), soundA())
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, c.Unlock(context.Background()), ErrStopped)
	_, err = c.Status(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestPublishersFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	ps := Publishers{a, b}
	snd := soundA()
	ps.Publish(Changed{Locked: true, Sound: &snd})

	require.Len(t, a.all(), 1)
	require.Len(t, b.all(), 1)
	a.all()[0].Sound.Name = "changed"
	assert.Equal(t, "A", b.all()[0].Sound.Name)
}

func TestInvalidPolicyFallsBackToOverwrite(t *testing.T) {
	c := New(Policy("queue"), nil)
	assert.Equal(t, PolicyOverwrite, c.Policy())
}
