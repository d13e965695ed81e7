// README: Negotiation store backed by PostgreSQL; the unique and check constraints enforce the ceiling.
package negotiation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridebid/internal/types"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, r *Round) (bool, error) {
	var msg *string
	if r.Message != "" {
		msg = &r.Message
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO bid_negotiations (
			ride_id, driver_id, round_number, initiator, offered_price, currency, message, created_at
		)
		SELECT $1::text, $2::text, $3::smallint, $4::text, $5::numeric, $6::text, $7::text, $8::timestamptz
		WHERE (
			SELECT COUNT(*) FROM bid_negotiations WHERE ride_id = $1 AND driver_id = $2
		) = $3::int - 1
		RETURNING id`,
		string(r.RideID), string(r.DriverID), r.RoundNumber, string(r.Initiator),
		r.OfferedPrice.Amount, r.OfferedPrice.Currency, msg, r.CreatedAt,
	)
	err := row.Scan(&r.ID)
	if err == nil {
		return true, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgUniqueViolation || pgErr.Code == pgCheckViolation) {
		return false, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, err
}

func (s *PGStore) List(ctx context.Context, rideID, driverID types.ID) ([]Round, error) {
	return s.query(ctx, `
		SELECT id, ride_id, driver_id, round_number, initiator, offered_price, currency, message, created_at
		FROM bid_negotiations
		WHERE ride_id = $1 AND driver_id = $2
		ORDER BY round_number`, string(rideID), string(driverID))
}

func (s *PGStore) ListForRide(ctx context.Context, rideID types.ID) ([]Round, error) {
	return s.query(ctx, `
		SELECT id, ride_id, driver_id, round_number, initiator, offered_price, currency, message, created_at
		FROM bid_negotiations
		WHERE ride_id = $1
		ORDER BY id`, string(rideID))
}

func (s *PGStore) query(ctx context.Context, sql string, args ...any) ([]Round, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Round, 0, MaxRounds)
	for rows.Next() {
		var r Round
		var msg *string
		if err := rows.Scan(&r.ID, &r.RideID, &r.DriverID, &r.RoundNumber, &r.Initiator,
			&r.OfferedPrice.Amount, &r.OfferedPrice.Currency, &msg, &r.CreatedAt); err != nil {
			return nil, err
		}
		if msg != nil {
			r.Message = *msg
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
