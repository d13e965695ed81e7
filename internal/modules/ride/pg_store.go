// README: Ride store backed by PostgreSQL; CAS via status + status_version.
package ride

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
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

const rideColumns = `
	id, passenger_id,
	origin_lat, origin_lng, origin_address,
	dest_lat, dest_lng, dest_address,
	offered_price, currency, vehicle_type, payment_method,
	status, status_version, matched_driver_id, final_price,
	expires_at, created_at, assigned_at, en_route_at, arrived_at,
	started_at, completed_at, cancelled_at, cancel_reason,
	deleted_at, deleted_by`

func (s *PGStore) Create(ctx context.Context, r *Ride) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_requests (
			id, passenger_id,
			origin_lat, origin_lng, origin_address,
			dest_lat, dest_lng, dest_address,
			offered_price, currency, vehicle_type, payment_method,
			status, status_version, expires_at, created_at
		) VALUES (
			$1, $2,
			$3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16
		)`,
		string(r.ID), string(r.PassengerID),
		r.Origin.Lat, r.Origin.Lng, r.Origin.Address,
		r.Destination.Lat, r.Destination.Lng, r.Destination.Address,
		r.OfferedPrice.Amount, r.OfferedPrice.Currency, string(r.VehicleType), string(r.PaymentMethod),
		string(r.Status), r.StatusVersion, r.ExpiresAt, r.CreatedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM ride_requests WHERE id = $1`, string(id))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrRideNotFound
	}
	return r, err
}

func (s *PGStore) ListRequested(ctx context.Context, q OpenQuery) ([]*Ride, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	vehicles := make([]string, len(q.Vehicles))
	for i, v := range q.Vehicles {
		vehicles[i] = string(v)
	}
	var (
		afterAt *time.Time
		afterID string
	)
	if q.After != nil {
		afterAt, afterID = &q.After.CreatedAt, string(q.After.ID)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+rideColumns+`
		FROM ride_requests
		WHERE status = 'requested'
		  AND deleted_at IS NULL
		  AND expires_at > $1
		  AND (cardinality($2::text[]) = 0 OR vehicle_type = ANY($2::text[]))
		  AND ($3::timestamptz IS NULL OR (created_at, id) > ($3::timestamptz, $4::text))
		ORDER BY created_at, id
		LIMIT $5`, q.Now, vehicles, afterAt, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) Assign(ctx context.Context, id types.ID, version int, driverID types.ID, price types.Money, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests
		SET status = 'assigned',
		    status_version = status_version + 1,
		    matched_driver_id = $1,
		    final_price = $2,
		    assigned_at = $3
		WHERE id = $4 AND status = 'requested' AND status_version = $5 AND deleted_at IS NULL`,
		string(driverID), price.Amount, at, string(id), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, at time.Time, reason *string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests
		SET status = $1,
		    status_version = status_version + 1,
		    en_route_at = CASE WHEN $1 = 'driver_en_route' THEN $2 ELSE en_route_at END,
		    arrived_at = CASE WHEN $1 = 'driver_arrived' THEN $2 ELSE arrived_at END,
		    started_at = CASE WHEN $1 = 'in_progress' THEN $2 ELSE started_at END,
		    completed_at = CASE WHEN $1 = 'completed' THEN $2 ELSE completed_at END,
		    cancelled_at = CASE WHEN $1 = 'cancelled' THEN $2 ELSE cancelled_at END,
		    cancel_reason = COALESCE($3, cancel_reason)
		WHERE id = $4 AND status = $5 AND status_version = $6 AND deleted_at IS NULL`,
		string(to), at, reason, string(id), string(from), version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) ExpireDue(ctx context.Context, now time.Time) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE ride_requests
		SET status = 'expired', status_version = status_version + 1
		WHERE status = 'requested' AND expires_at <= $1 AND deleted_at IS NULL
		RETURNING id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.ID(id))
	}
	return ids, rows.Err()
}

func (s *PGStore) SoftDelete(ctx context.Context, id types.ID, by types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests SET deleted_at = $1, deleted_by = $2
		WHERE id = $3 AND deleted_at IS NULL`, at, string(by), string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) Restore(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests SET deleted_at = NULL, deleted_by = NULL
		WHERE id = $1 AND deleted_at IS NOT NULL`, string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_state_events (
			ride_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RideID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		idPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func (s *PGStore) ListEvents(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, from_status, to_status, actor_type, actor_id, created_at
		FROM ride_state_events WHERE ride_id = $1 ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actor *string
		if err := rows.Scan(&e.ID, &e.RideID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actor != nil {
			a := types.ID(*actor)
			e.ActorID = &a
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var matched, deletedBy *string
	var final decimal.NullDecimal

	err := row.Scan(
		&r.ID, &r.PassengerID,
		&r.Origin.Lat, &r.Origin.Lng, &r.Origin.Address,
		&r.Destination.Lat, &r.Destination.Lng, &r.Destination.Address,
		&r.OfferedPrice.Amount, &r.OfferedPrice.Currency, &r.VehicleType, &r.PaymentMethod,
		&r.Status, &r.StatusVersion, &matched, &final,
		&r.ExpiresAt, &r.CreatedAt, &r.AssignedAt, &r.EnRouteAt, &r.ArrivedAt,
		&r.StartedAt, &r.CompletedAt, &r.CancelledAt, &r.CancelReason,
		&r.DeletedAt, &deletedBy,
	)
	if err != nil {
		return nil, err
	}
	if matched != nil {
		d := types.ID(*matched)
		r.MatchedDriverID = &d
	}
	if final.Valid {
		r.FinalPrice = &types.Money{Amount: final.Decimal, Currency: r.OfferedPrice.Currency}
	}
	if deletedBy != nil {
		b := types.ID(*deletedBy)
		r.DeletedBy = &b
	}
	return &r, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
