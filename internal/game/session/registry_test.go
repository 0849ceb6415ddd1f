package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/arena/internal/game/battle"
)

func waitingSession(battleID int64, lastActivity time.Time) (*battle.Session, error) {
	return battle.Reconstruct(battle.Snapshot{
		Record: battle.Record{
			ID: battleID, PlayerA: 1, PlayerAName: "A", Status: battle.StatusWaiting,
			LastActivity: lastActivity,
		},
	}, 10)
}

type countingLoader struct {
	calls atomic.Int32
	err   error
	at    time.Time
}

func (l *countingLoader) load(_ context.Context, battleID int64) (*battle.Session, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return waitingSession(battleID, l.at)
}

func TestRegistry_LoadsOnce(t *testing.T) {
	l := &countingLoader{}
	r := NewRegistry(l.load, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := r.With(ctx, 5, func(h *Handle) error {
			assert.Equal(t, int64(5), h.Session().ID())
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), l.calls.Load())
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_LoadErrorLeavesNoEntry(t *testing.T) {
	boom := errors.New("db down")
	l := &countingLoader{err: boom}
	r := NewRegistry(l.load, zaptest.NewLogger(t))

	err := r.With(context.Background(), 5, func(*Handle) error {
		t.Fatal("callback must not run")
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DiscardForcesReconstruct(t *testing.T) {
	l := &countingLoader{}
	r := NewRegistry(l.load, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, r.With(ctx, 9, func(h *Handle) error {
		h.Discard()
		return nil
	}))
	assert.Equal(t, 0, r.Len())

	require.NoError(t, r.With(ctx, 9, func(*Handle) error { return nil }))
	assert.Equal(t, int32(2), l.calls.Load())
}

func TestRegistry_CallbackErrorPropagates(t *testing.T) {
	l := &countingLoader{}
	r := NewRegistry(l.load, zaptest.NewLogger(t))
	sentinel := errors.New("rejected")
	err := r.With(context.Background(), 1, func(*Handle) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, r.Len(), "a rejected action keeps the session")
}

func TestRegistry_IfPresent(t *testing.T) {
	l := &countingLoader{}
	r := NewRegistry(l.load, zaptest.NewLogger(t))

	ran, err := r.IfPresent(3, func(*Handle) error { return nil })
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, int32(0), l.calls.Load())

	require.NoError(t, r.With(context.Background(), 3, func(*Handle) error { return nil }))
	ran, err = r.IfPresent(3, func(h *Handle) error {
		h.Session().Connect(1)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestRegistry_SerialisesOneBattle(t *testing.T) {
	l := &countingLoader{}
	r := NewRegistry(l.load, zaptest.NewLogger(t))
	ctx := context.Background()

	var inside atomic.Int32
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.With(ctx, 1, func(*Handle) error {
				if inside.Add(1) != 1 {
					t.Error("two callbacks ran concurrently for one battle")
				}
				counter++
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Equal(t, int32(1), l.calls.Load())
}

func TestRegistry_BattlesAreIndependent(t *testing.T) {
	l := &countingLoader{}
	r := NewRegistry(l.load, zaptest.NewLogger(t))
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = r.With(ctx, 1, func(*Handle) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	done := make(chan struct{})
	go func() {
		_ = r.With(ctx, 2, func(*Handle) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("battle 2 blocked behind battle 1")
	}
	close(release)
}

func TestRegistry_Sweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := &countingLoader{at: now.Add(-time.Hour)}
	r := NewRegistry(l.load, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, r.With(ctx, 1, func(*Handle) error { return nil }))
	require.NoError(t, r.With(ctx, 2, func(h *Handle) error {
		h.Session().Touch(now)
		return nil
	}))

	require.NoError(t, r.With(ctx, 3, func(h *Handle) error {
		h.Session().Connect(7)
		return nil
	}))

	evicted := r.Sweep(now.Add(-30 * time.Minute))
	assert.Equal(t, []int64{1}, evicted)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_SweepKeepsConnectedSessions(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := &countingLoader{at: now.Add(-time.Hour)}
	r := NewRegistry(l.load, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, r.With(ctx, 1, func(h *Handle) error {
		h.Session().Connect(7)
		return nil
	}))
	assert.Empty(t, r.Sweep(now))
	assert.Equal(t, 1, r.Len())

	_, err := r.IfPresent(1, func(h *Handle) error {
		h.Session().Disconnect(7)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, r.Sweep(now))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, int32(1), l.calls.Load(), "the connected session was never rebuilt")
}

// TestRegistry_DiscardRace_Property interleaves discards with concurrent
// access and requires every callback to observe a loaded session.
func TestRegistry_DiscardRace_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		l := &countingLoader{}
		r := NewRegistry(l.load, zaptest.NewLogger(t))
		ops := rapid.SliceOfN(rapid.Bool(), 1, 20).Draw(rt, "discard")

		var wg sync.WaitGroup
		var nilSeen atomic.Bool
		for _, discard := range ops {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = r.With(context.Background(), 1, func(h *Handle) error {
					if h.Session() == nil {
						nilSeen.Store(true)
					}
					if discard {
						h.Discard()
					}
					return nil
				})
			}()
		}
		wg.Wait()
		if nilSeen.Load() {
			rt.Fatalf("callback observed a nil session")
		}
	})
}
