// README: Bid store backed by PostgreSQL; a partial unique index keeps one active bid per pair.
package bid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ridebid/internal/apperr"
	"ridebid/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Place(ctx context.Context, b *Bid) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE bids SET status = 'superseded', updated_at = $3
		WHERE ride_id = $1 AND driver_id = $2 AND status = 'active'`,
		string(b.RideID), string(b.DriverID), b.CreatedAt); err != nil {
		return err
	}

	var price *decimal.Decimal
	currency := types.DefaultCurrency
	if b.OfferedPrice != nil {
		price = &b.OfferedPrice.Amount
		if b.OfferedPrice.Currency != "" {
			currency = b.OfferedPrice.Currency
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO bids (id, ride_id, driver_id, bid_type, offered_price, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $7)`,
		string(b.ID), string(b.RideID), string(b.DriverID), string(b.Type), price, currency, b.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Conflict("concurrent_bid", nil, "another bid from this driver was placed concurrently")
		}
		return fmt.Errorf("insert bid: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	b.Status = StatusActive
	return nil
}

const bidColumns = `id, ride_id, driver_id, bid_type, offered_price, currency, status, created_at, updated_at`

func (s *PGStore) Active(ctx context.Context, rideID, driverID types.ID) (*Bid, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids
		WHERE ride_id = $1 AND driver_id = $2 AND status = 'active'`, string(rideID), string(driverID))
	b, err := scanBid(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (s *PGStore) ListActiveForRide(ctx context.Context, rideID types.ID) ([]Bid, error) {
	rows, err := s.db.Query(ctx, `SELECT `+bidColumns+` FROM bids
		WHERE ride_id = $1 AND status = 'active' ORDER BY created_at`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Bid, 0)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PGStore) Withdraw(ctx context.Context, rideID, driverID types.ID, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE bids SET status = 'withdrawn', updated_at = $3
		WHERE ride_id = $1 AND driver_id = $2 AND status = 'active'`,
		string(rideID), string(driverID), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGStore) Settle(ctx context.Context, rideID, winner types.ID, now time.Time) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE bids
		SET status = CASE WHEN driver_id = $2 THEN 'accepted' ELSE 'declined' END,
		    updated_at = $3
		WHERE ride_id = $1 AND status = 'active'
		RETURNING driver_id, status`, string(rideID), string(winner), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var declined []types.ID
	for rows.Next() {
		var driver, status string
		if err := rows.Scan(&driver, &status); err != nil {
			return nil, err
		}
		if Status(status) == StatusDeclined {
			declined = append(declined, types.ID(driver))
		}
	}
	return declined, rows.Err()
}

func scanBid(row pgx.Row) (*Bid, error) {
	var b Bid
	var price decimal.NullDecimal
	var currency string
	if err := row.Scan(&b.ID, &b.RideID, &b.DriverID, &b.Type, &price, &currency, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if price.Valid {
		b.OfferedPrice = &types.Money{Amount: price.Decimal, Currency: currency}
	}
	return &b, nil
}
