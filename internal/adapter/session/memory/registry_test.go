package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"econcore/internal/app/ports"
	"econcore/internal/domain/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRegistry(c *clock) *Registry {
	var n atomic.Int64
	return New(Options{
		Now:   c.Now,
		NewID: func() string { return fmt.Sprintf("s%d", n.Add(1)) },
	})
}

func game(p string) session.NewEntry {
	return session.NewEntry{Kind: session.KindBlackjack, Participants: []string{p}, TTL: time.Minute}
}

func TestTTLBoundary(t *testing.T) {
	c := newClock()
	r := newRegistry(c)
	ctx := context.Background()

	e, err := r.Create(ctx, game("p1"))
	require.NoError(t, err)

	c.Advance(time.Minute - time.Millisecond)
	_, err = r.Get(ctx, e.ID)
	require.NoError(t, err)

	c.Advance(2 * time.Millisecond)
	_, err = r.Get(ctx, e.ID)
	require.ErrorIs(t, err, ports.ErrSessionNotFound)
	assert.Equal(t, 0, r.Len())
}

func TestExclusivityPerParticipantAndKind(t *testing.T) {
	c := newClock()
	r := newRegistry(c)
	ctx := context.Background()

	_, err := r.Create(ctx, game("p1"))
	require.NoError(t, err)
	_, err = r.Create(ctx, game("p1"))
	require.ErrorIs(t, err, ports.ErrSessionConflict)

	_, err = r.Create(ctx, session.NewEntry{Kind: session.KindCoinflip, Participants: []string{"p1"}, TTL: time.Minute})
	require.NoError(t, err, "different kind is independent")

	c.Advance(time.Minute)
	_, err = r.Create(ctx, game("p1"))
	require.NoError(t, err, "expired entry frees the slot")
}

func TestConcurrentCreateYieldsOneWinner(t *testing.T) {
	r := newRegistry(newClock())
	var ok, conflict atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(context.Background(), game("racer"))
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, ports.ErrSessionConflict):
				conflict.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), ok.Load())
	assert.Equal(t, int64(63), conflict.Load())
}

func TestUpdateKeepsDeadlineAndRenewMovesIt(t *testing.T) {
	c := newClock()
	r := newRegistry(c)
	ctx := context.Background()

	e, err := r.Create(ctx, game("p1"))
	require.NoError(t, err)

	c.Advance(30 * time.Second)
	updated, err := r.Update(ctx, e.ID, json.RawMessage(`{"bet":5}`))
	require.NoError(t, err)
	assert.Equal(t, e.ExpiresAt, updated.ExpiresAt)
	assert.JSONEq(t, `{"bet":5}`, string(updated.Payload))

	renewed, err := r.Renew(ctx, e.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, c.Now().Add(time.Minute), renewed.ExpiresAt)

	c.Advance(45 * time.Second)
	_, err = r.Get(ctx, e.ID)
	require.NoError(t, err)
}

func TestRenewIsCappedAtMaxTTL(t *testing.T) {
	c := newClock()
	r := newRegistry(c)
	e, err := r.Create(context.Background(), session.NewEntry{Kind: session.KindCoinflip, Participants: []string{"p"}, TTL: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, c.Now().Add(session.MaxTTL), e.ExpiresAt)
}

func TestDeleteIsIdempotentAndTakeIsExclusive(t *testing.T) {
	r := newRegistry(newClock())
	ctx := context.Background()

	e, err := r.Create(ctx, game("p1"))
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, e.ID))
	require.NoError(t, r.Delete(ctx, e.ID))
	_, err = r.FindByParticipant(ctx, session.KindBlackjack, "p1")
	require.ErrorIs(t, err, ports.ErrSessionNotFound)

	e, err = r.Create(ctx, game("p1"))
	require.NoError(t, err)

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Take(ctx, e.ID); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), wins.Load())
}

func TestMirroredProposalAutoAccepts(t *testing.T) {
	r := newRegistry(newClock())
	ctx := context.Background()
	terms := json.RawMessage(`{"stake":50}`)
	same := func(existing session.Entry) bool {
		return string(existing.Payload) == string(terms)
	}

	first, matched, err := r.Propose(ctx, session.NewEntry{Kind: session.KindDuel, Participants: []string{"a", "b"}, Payload: terms, TTL: time.Minute}, same)
	require.NoError(t, err)
	assert.False(t, matched)

	got, matched, err := r.Propose(ctx, session.NewEntry{Kind: session.KindDuel, Participants: []string{"b", "a"}, Payload: terms, TTL: time.Minute}, same)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, 0, r.Len(), "no pending entries remain")
}

func TestProposalConflicts(t *testing.T) {
	r := newRegistry(newClock())
	ctx := context.Background()
	never := func(session.Entry) bool { return false }
	duel := func(from, to, stake string) session.NewEntry {
		return session.NewEntry{Kind: session.KindDuel, Participants: []string{from, to}, Payload: json.RawMessage(stake), TTL: time.Minute}
	}

	_, _, err := r.Propose(ctx, duel("a", "b", `1`), never)
	require.NoError(t, err)

	_, _, err = r.Propose(ctx, duel("a", "b", `1`), never)
	require.ErrorIs(t, err, ports.ErrSessionConflict, "same direction again")

	_, _, err = r.Propose(ctx, duel("b", "a", `2`), never)
	require.ErrorIs(t, err, ports.ErrSessionConflict, "mirror with different terms")

	_, _, err = r.Propose(ctx, duel("c", "b", `1`), never)
	require.ErrorIs(t, err, ports.ErrSessionConflict, "b is busy")

	_, _, err = r.Propose(ctx, duel("c", "c", `1`), never)
	require.ErrorIs(t, err, ports.ErrInvalidRequest)
	assert.Equal(t, 1, r.Len())
}

func TestSweepEvictsInDeadlineOrder(t *testing.T) {
	c := newClock()
	r := newRegistry(c)
	ctx := context.Background()
	for i, ttl := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second} {
		_, err := r.Create(ctx, session.NewEntry{Kind: session.KindCoinflip, Participants: []string{fmt.Sprint(i)}, TTL: ttl})
		require.NoError(t, err)
	}

	c.Advance(time.Second)
	assert.Equal(t, 1, r.Sweep())
	c.Advance(time.Second)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
	c.Advance(time.Hour)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.Len())
}

func TestRunStopsWithContext(t *testing.T) {
	r := newRegistry(newClock())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, time.Millisecond) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
