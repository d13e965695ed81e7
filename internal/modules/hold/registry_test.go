package hold

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridebid/internal/apperr"
	"ridebid/internal/types"
)

func TestRegistryDurations(t *testing.T) {
	reg := NewRegistry(NewMemoryStore(), Config{}, nil)

	d, err := reg.Duration(0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	_, err = reg.Duration(31)
	assert.True(t, errors.Is(err, apperr.ErrHoldTooLong))

	_, err = reg.Duration(-1)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestRegistryPutConflictCarriesHolder(t *testing.T) {
	now := t0
	reg := NewRegistry(NewMemoryStore(), DefaultConfig(), nil).WithClock(func() time.Time { return now })
	ctx := context.Background()

	h, err := reg.Put(ctx, "dA", "r1", 5)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute), h.ExpiresAt)

	_, err = reg.Put(ctx, "dB", "r1", 0)
	require.True(t, errors.Is(err, apperr.ErrHoldConflict))
	e, _ := apperr.As(err)
	assert.Equal(t, types.ID("dA"), e.State.(*Hold).DriverID)

	holders, err := reg.HoldersAt(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, map[types.ID]types.ID{"r1": "dA"}, holders)

	now = now.Add(6 * time.Minute)
	held, err := reg.ListActiveForDriver(ctx, "dA")
	require.NoError(t, err)
	assert.Empty(t, held)
}
