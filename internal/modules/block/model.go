// README: Driver-authored exclusion rules (user, zone, route) with optional expiry.
package block

import (
	"context"
	"time"

	"ridebid/internal/types"
)

type Type string

const (
	TypeUser  Type = "user"
	TypeZone  Type = "zone"
	TypeRoute Type = "route"
)

func (t Type) Valid() bool {
	return t == TypeUser || t == TypeZone || t == TypeRoute
}

// Block is permanent exactly when ExpiresAt is nil.
type Block struct {
	ID                types.ID   `json:"id"`
	DriverID          types.ID   `json:"driver_id"`
	Type              Type       `json:"block_type"`
	BlockedUserID     types.ID   `json:"blocked_user_id,omitempty"`
	BlockedAddress    string     `json:"blocked_address,omitempty"`
	NormalizedAddress string     `json:"-"`
	Reason            string     `json:"reason"`
	ExpiresAt         *time.Time `json:"expires_at"`
	IsPermanent       bool       `json:"is_permanent"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (b *Block) ActiveAt(now time.Time) bool {
	if b.IsPermanent {
		return true
	}
	return b.ExpiresAt != nil && now.Before(*b.ExpiresAt)
}

// Subject is the part of a ride request a block can match.
type Subject struct {
	PassengerID   types.ID
	OriginAddress string
}

type Verdict struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
	Block   *Block `json:"block,omitempty"`
}

type Store interface {
	Create(ctx context.Context, b *Block) error
	// ListActive returns the driver's blocks that are permanent or expire after now.
	ListActive(ctx context.Context, driverID types.ID, now time.Time) ([]Block, error)
	Delete(ctx context.Context, driverID, id types.ID) (bool, error)
	DeleteUser(ctx context.Context, driverID, userID types.ID) (int, error)
	DeleteAddress(ctx context.Context, driverID types.ID, t Type, normalized string) (int, error)
	// PurgeExpired removes non-permanent blocks with expiresAt <= now.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
