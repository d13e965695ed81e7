package block

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridebid/internal/apperr"
)

func newTestRegistry() (*Registry, *time.Time) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	reg := NewRegistry(NewMemoryStore(), DefaultConfig(), nil).WithClock(func() time.Time { return now })
	return reg, &now
}

func TestBlockUserDefaultsAndPermanence(t *testing.T) {
	reg, now := newTestRegistry()
	ctx := context.Background()

	temp, err := reg.BlockUser(ctx, BlockUserCommand{DriverID: "d1", UserID: "p1", Reason: "rude"})
	require.NoError(t, err)
	require.NotNil(t, temp.ExpiresAt)
	assert.False(t, temp.IsPermanent)
	assert.Equal(t, now.Add(30*24*time.Hour), *temp.ExpiresAt)

	perm, err := reg.BlockUser(ctx, BlockUserCommand{DriverID: "d1", UserID: "p2", Permanent: true})
	require.NoError(t, err)
	assert.Nil(t, perm.ExpiresAt)
	assert.True(t, perm.IsPermanent)

	*now = now.Add(365 * 24 * time.Hour)
	active, err := reg.ListActive(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, perm.ID, active[0].ID)
}

func TestBlockUserReplacesExisting(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.BlockUser(ctx, BlockUserCommand{DriverID: "d1", UserID: "p1"})
	require.NoError(t, err)
	_, err = reg.BlockUser(ctx, BlockUserCommand{DriverID: "d1", UserID: "p1", Permanent: true})
	require.NoError(t, err)

	active, err := reg.ListActive(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].IsPermanent)
}

func TestIsBlockedUserBeforeZone(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.BlockZone(ctx, BlockAddressCommand{DriverID: "d1", Address: "Calle 26 #68-35"})
	require.NoError(t, err)
	_, err = reg.BlockUser(ctx, BlockUserCommand{DriverID: "d1", UserID: "p1"})
	require.NoError(t, err)

	v, err := reg.IsBlocked(ctx, "d1", Subject{PassengerID: "p1", OriginAddress: "calle 26 # 68 - 35"})
	require.NoError(t, err)
	assert.True(t, v.Blocked)
	assert.Equal(t, TypeUser, v.Block.Type)

	v, err = reg.IsBlocked(ctx, "d1", Subject{PassengerID: "p9", OriginAddress: "CALLE 26 68-35"})
	require.NoError(t, err)
	assert.True(t, v.Blocked)
	assert.Equal(t, TypeZone, v.Block.Type)

	v, err = reg.IsBlocked(ctx, "d2", Subject{PassengerID: "p1", OriginAddress: "Calle 26 #68-35"})
	require.NoError(t, err)
	assert.False(t, v.Blocked)
}

func TestZoneBlockLapses(t *testing.T) {
	reg, now := newTestRegistry()
	ctx := context.Background()

	b, err := reg.BlockZone(ctx, BlockAddressCommand{DriverID: "d1", Address: "Main St 1"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), *b.ExpiresAt)

	*now = now.Add(24 * time.Hour)
	v, err := reg.IsBlocked(ctx, "d1", Subject{OriginAddress: "main street 1"})
	require.NoError(t, err)
	assert.False(t, v.Blocked)

	n, err := reg.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnblockAndRemove(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	n, err := reg.Unblock(ctx, "d1", "p1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = reg.BlockUser(ctx, BlockUserCommand{DriverID: "d1", UserID: "p1"})
	require.NoError(t, err)
	n, err = reg.Unblock(ctx, "d1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	route, err := reg.BlockRoute(ctx, BlockAddressCommand{DriverID: "d1", Address: "Airport", Hours: 2})
	require.NoError(t, err)
	assert.True(t, errors.Is(reg.Remove(ctx, "d2", route.ID), apperr.ErrBlockNotFound))
	require.NoError(t, reg.Remove(ctx, "d1", route.ID))

	_, err = reg.BlockZone(ctx, BlockAddressCommand{DriverID: "d1", Address: "  "})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
