// README: Block store backed by PostgreSQL.
package block

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridebid/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, b *Block) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO driver_blocks (
			id, driver_id, block_type, blocked_user_id, blocked_address,
			normalized_address, reason, expires_at, is_permanent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(b.ID), string(b.DriverID), string(b.Type),
		nullable(string(b.BlockedUserID)), nullable(b.BlockedAddress), nullable(b.NormalizedAddress),
		b.Reason, b.ExpiresAt, b.IsPermanent, b.CreatedAt,
	)
	return err
}

func (s *PGStore) ListActive(ctx context.Context, driverID types.ID, now time.Time) ([]Block, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, block_type, blocked_user_id, blocked_address,
		       normalized_address, reason, expires_at, is_permanent, created_at
		FROM driver_blocks
		WHERE driver_id = $1 AND (is_permanent OR expires_at > $2)
		ORDER BY created_at DESC`, string(driverID), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Block, 0)
	for rows.Next() {
		var b Block
		var user, addr, normalized *string
		if err := rows.Scan(&b.ID, &b.DriverID, &b.Type, &user, &addr, &normalized,
			&b.Reason, &b.ExpiresAt, &b.IsPermanent, &b.CreatedAt); err != nil {
			return nil, err
		}
		if user != nil {
			b.BlockedUserID = types.ID(*user)
		}
		if addr != nil {
			b.BlockedAddress = *addr
		}
		if normalized != nil {
			b.NormalizedAddress = *normalized
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PGStore) Delete(ctx context.Context, driverID, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM driver_blocks WHERE id = $1 AND driver_id = $2`, string(id), string(driverID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) DeleteUser(ctx context.Context, driverID, userID types.ID) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM driver_blocks
		WHERE driver_id = $1 AND block_type = 'user' AND blocked_user_id = $2`,
		string(driverID), string(userID))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) DeleteAddress(ctx context.Context, driverID types.ID, t Type, normalized string) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM driver_blocks
		WHERE driver_id = $1 AND block_type = $2 AND normalized_address = $3`,
		string(driverID), string(t), normalized)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM driver_blocks
		WHERE NOT is_permanent AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
