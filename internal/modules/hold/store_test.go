// README: Hold store contract run against memory and miniredis.
package hold

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridebid/internal/types"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// setupMiniredis starts an in-memory Redis and returns a client connected to it.
func setupMiniredis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(setupMiniredis(t)),
	}
}

func TestStoreConflictCreatesNothing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, conflict, err := s.Acquire(ctx, "dA", "r1", t0, t0.Add(5*time.Minute))
			require.NoError(t, err)
			require.Nil(t, conflict)
			require.NotNil(t, a)

			b, conflict, err := s.Acquire(ctx, "dB", "r1", t0.Add(time.Minute), t0.Add(6*time.Minute))
			require.NoError(t, err)
			assert.Nil(t, b)
			require.NotNil(t, conflict)
			assert.Equal(t, types.ID("dA"), conflict.DriverID)

			active, err := s.ListActive(ctx, t0.Add(time.Minute))
			require.NoError(t, err)
			assert.Len(t, active, 1)
		})
	}
}

func TestStoreRefreshKeepsHold(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, _, err := s.Acquire(ctx, "dA", "r1", t0, t0.Add(5*time.Minute))
			require.NoError(t, err)
			again, _, err := s.Acquire(ctx, "dA", "r1", t0.Add(2*time.Minute), t0.Add(12*time.Minute))
			require.NoError(t, err)

			assert.Equal(t, first.ID, again.ID)
			assert.True(t, again.ExpiresAt.Equal(t0.Add(12*time.Minute)))
		})
	}
}

func TestStoreReleaseIsIdempotent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, err := s.Acquire(ctx, "dA", "r1", t0, t0.Add(5*time.Minute))
			require.NoError(t, err)

			ok, err := s.Release(ctx, "dB", "r1", t0)
			require.NoError(t, err)
			assert.False(t, ok, "another driver cannot release the hold")

			ok, err = s.Release(ctx, "dA", "r1", t0)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.Release(ctx, "dA", "r1", t0)
			require.NoError(t, err)
			assert.False(t, ok)

			h, err := s.ActiveForRide(ctx, "r1", t0)
			require.NoError(t, err)
			assert.Nil(t, h)
		})
	}
}

func TestStoreLapsedHoldStopsSuppressing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, err := s.Acquire(ctx, "dA", "r1", t0, t0.Add(5*time.Minute))
			require.NoError(t, err)
			later := t0.Add(5 * time.Minute)

			h, err := s.ActiveForRide(ctx, "r1", later)
			require.NoError(t, err)
			assert.Nil(t, h)

			mine, err := s.ListActiveByDriver(ctx, "dA", later)
			require.NoError(t, err)
			assert.Empty(t, mine)

			b, conflict, err := s.Acquire(ctx, "dB", "r1", later, later.Add(5*time.Minute))
			require.NoError(t, err)
			assert.Nil(t, conflict)
			require.NotNil(t, b)
			assert.Equal(t, types.ID("dB"), b.DriverID)
		})
	}
}

func TestStoreResolve(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, err := s.Acquire(ctx, "dA", "r1", t0, t0.Add(5*time.Minute))
			require.NoError(t, err)
			_, _, err = s.Acquire(ctx, "dB", "r2", t0, t0.Add(5*time.Minute))
			require.NoError(t, err)

			won, err := s.Resolve(ctx, "r1", "dA", t0)
			require.NoError(t, err)
			require.NotNil(t, won)
			assert.Equal(t, StatusAccepted, won.Status)

			lost, err := s.Resolve(ctx, "r2", "dA", t0)
			require.NoError(t, err)
			require.NotNil(t, lost)
			assert.Equal(t, StatusReleased, lost.Status)

			none, err := s.Resolve(ctx, "r3", "dA", t0)
			require.NoError(t, err)
			assert.Nil(t, none)
		})
	}
}

func TestStoreSweepExpired(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, err := s.Acquire(ctx, "dA", "r1", t0, t0.Add(time.Minute))
			require.NoError(t, err)
			_, _, err = s.Acquire(ctx, "dB", "r2", t0, t0.Add(10*time.Minute))
			require.NoError(t, err)

			swept, err := s.SweepExpired(ctx, t0.Add(time.Minute))
			require.NoError(t, err)
			require.Len(t, swept, 1)
			assert.Equal(t, types.ID("r1"), swept[0].RideID)
			assert.Equal(t, StatusExpired, swept[0].Status)

			again, err := s.SweepExpired(ctx, t0.Add(time.Minute))
			require.NoError(t, err)
			assert.Empty(t, again)
		})
	}
}

func TestStoreConcurrentAcquireSingleWinner(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const n = 10
			var wg sync.WaitGroup
			start := make(chan struct{})
			wins := make(chan types.ID, n)
			for i := 0; i < n; i++ {
				driver := types.ID("d" + string(rune('a'+i)))
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					h, _, err := s.Acquire(ctx, driver, "r1", t0, t0.Add(5*time.Minute))
					if err == nil && h != nil {
						wins <- driver
					}
				}()
			}
			close(start)
			wg.Wait()
			close(wins)
			assert.Len(t, wins, 1)
		})
	}
}

func TestMemoryStoreDropsClosedHolds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i, ride := range []types.ID{"r1", "r2", "r3", "r4"} {
		_, _, err := s.Acquire(ctx, types.ID("d"+string(ride)), ride, t0, t0.Add(time.Duration(i+1)*time.Minute))
		require.NoError(t, err)
	}
	require.Equal(t, 4, s.size())

	ok, err := s.Release(ctx, "dr1", "r1", t0)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.Resolve(ctx, "r2", "dr2", t0)
	require.NoError(t, err)
	swept, err := s.SweepExpired(ctx, t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, 1, s.size())

	// A lapsed hold replaced by a new acquire does not linger either.
	_, _, err = s.Acquire(ctx, "dx", "r4", t0.Add(5*time.Minute), t0.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, s.size())
}
