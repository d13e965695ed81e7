// README: Block management for drivers.
package dispatch

import (
	"context"

	"ridebid/internal/audit"
	"ridebid/internal/modules/block"
	"ridebid/internal/types"
)

func (e *Engine) BlockUser(ctx context.Context, cmd block.BlockUserCommand) (*block.Block, error) {
	b, err := e.blocks.BlockUser(ctx, cmd)
	if err != nil {
		return nil, err
	}
	e.recordBlock(ctx, audit.ActionBlockUser, b)
	return b, nil
}

func (e *Engine) BlockZone(ctx context.Context, cmd block.BlockAddressCommand) (*block.Block, error) {
	b, err := e.blocks.BlockZone(ctx, cmd)
	if err != nil {
		return nil, err
	}
	e.recordBlock(ctx, audit.ActionBlockZone, b)
	return b, nil
}

func (e *Engine) BlockRoute(ctx context.Context, cmd block.BlockAddressCommand) (*block.Block, error) {
	b, err := e.blocks.BlockRoute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	e.recordBlock(ctx, audit.ActionBlockRoute, b)
	return b, nil
}

func (e *Engine) recordBlock(ctx context.Context, action string, b *block.Block) {
	e.record(ctx, action, b.DriverID, audit.ResourceBlock, b.ID, map[string]any{
		"blocked_user_id": b.BlockedUserID,
		"blocked_address": b.BlockedAddress,
		"permanent":       b.IsPermanent,
		"expires_at":      b.ExpiresAt,
		"reason":          b.Reason,
	})
}

// Unblock removes every block driverID holds on userID; removing nothing succeeds.
func (e *Engine) Unblock(ctx context.Context, driverID, userID types.ID) error {
	n, err := e.blocks.Unblock(ctx, driverID, userID)
	if err != nil {
		return err
	}
	if n > 0 {
		e.record(ctx, audit.ActionBlockRemove, driverID, audit.ResourceBlock, userID, map[string]any{"removed": n, "block_type": block.TypeUser})
	}
	return nil
}

func (e *Engine) UnblockZone(ctx context.Context, driverID types.ID, address string) error {
	n, err := e.blocks.UnblockAddress(ctx, driverID, address)
	if err != nil {
		return err
	}
	if n > 0 {
		e.record(ctx, audit.ActionBlockRemove, driverID, audit.ResourceBlock, "", map[string]any{"removed": n, "address": address})
	}
	return nil
}

func (e *Engine) RemoveBlock(ctx context.Context, driverID, blockID types.ID) error {
	if err := e.blocks.Remove(ctx, driverID, blockID); err != nil {
		return err
	}
	e.record(ctx, audit.ActionBlockRemove, driverID, audit.ResourceBlock, blockID, nil)
	return nil
}

func (e *Engine) ListBlocks(ctx context.Context, driverID types.ID) ([]block.Block, error) {
	return e.blocks.ListActive(ctx, driverID)
}

// IsBlocked reports whether driverID has blocked the ride's passenger or origin.
func (e *Engine) IsBlocked(ctx context.Context, driverID, rideID types.ID) (block.Verdict, error) {
	r, err := e.rides.Get(ctx, rideID)
	if err != nil {
		return block.Verdict{}, err
	}
	return e.blocks.IsBlocked(ctx, driverID, block.Subject{PassengerID: r.PassengerID, OriginAddress: r.Origin.Address})
}
