// README: Ride request aggregate, status definitions and transition table.
package ride

import (
	"time"

	"ridebid/internal/types"
)

type Status string

const (
	StatusNone          Status = "none"
	StatusRequested     Status = "requested"
	StatusAssigned      Status = "assigned"
	StatusDriverEnRoute Status = "driver_en_route"
	StatusDriverArrived Status = "driver_arrived"
	StatusInProgress    Status = "in_progress"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
	StatusExpired       Status = "expired"
)

type VehicleType string

const (
	VehicleTaxi VehicleType = "taxi"
	VehicleMoto VehicleType = "moto"
	VehicleAny  VehicleType = "any"
)

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleTaxi, VehicleMoto, VehicleAny:
		return true
	}
	return false
}

// Compatible reports whether a driver with capability drv may serve a ride
// requesting want. An empty capability is treated as any.
func Compatible(want, drv VehicleType) bool {
	if want == VehicleAny || drv == VehicleAny || drv == "" {
		return true
	}
	return want == drv
}

// ServedBy lists the ride vehicle types a driver with capability drv can
// take, or nil when it can take every type.
func ServedBy(drv VehicleType) []VehicleType {
	if drv == "" || drv == VehicleAny {
		return nil
	}
	return []VehicleType{drv, VehicleAny}
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentWallet PaymentMethod = "wallet"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentWallet:
		return true
	}
	return false
}

type Ride struct {
	ID              types.ID      `json:"id"`
	PassengerID     types.ID      `json:"passenger_id"`
	Origin          types.Place   `json:"origin"`
	Destination     types.Place   `json:"destination"`
	OfferedPrice    types.Money   `json:"offered_price"`
	VehicleType     VehicleType   `json:"vehicle_type"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	Status          Status        `json:"status"`
	StatusVersion   int           `json:"status_version"`
	MatchedDriverID *types.ID     `json:"matched_driver_id,omitempty"`
	FinalPrice      *types.Money  `json:"final_agreed_price,omitempty"`
	ExpiresAt       time.Time     `json:"expires_at"`
	CreatedAt       time.Time     `json:"created_at"`
	AssignedAt      *time.Time    `json:"assigned_at,omitempty"`
	EnRouteAt       *time.Time    `json:"en_route_at,omitempty"`
	ArrivedAt       *time.Time    `json:"arrived_at,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason    *string       `json:"cancel_reason,omitempty"`
	DeletedAt       *time.Time    `json:"deleted_at,omitempty"`
	DeletedBy       *types.ID     `json:"deleted_by,omitempty"`
}

// IsOpen reports whether the ride still accepts holds and bids at now.
func (r *Ride) IsOpen(now time.Time) bool {
	return r.Status == StatusRequested && r.DeletedAt == nil && now.Before(r.ExpiresAt)
}

// IsLapsed reports a ride still marked requested whose deadline has passed.
func (r *Ride) IsLapsed(now time.Time) bool {
	return r.Status == StatusRequested && !now.Before(r.ExpiresAt)
}

func (r *Ride) IsDeleted() bool {
	return r.DeletedAt != nil
}

// IsAssigned reports whether a driver has been matched (assigned or later, not cancelled).
func (r *Ride) IsAssigned() bool {
	switch r.Status {
	case StatusAssigned, StatusDriverEnRoute, StatusDriverArrived, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

func (r *Ride) MatchedTo(driverID types.ID) bool {
	return r.MatchedDriverID != nil && *r.MatchedDriverID == driverID
}

func (r *Ride) Clone() *Ride {
	cp := *r
	if r.MatchedDriverID != nil {
		v := *r.MatchedDriverID
		cp.MatchedDriverID = &v
	}
	if r.FinalPrice != nil {
		v := *r.FinalPrice
		cp.FinalPrice = &v
	}
	if r.DeletedBy != nil {
		v := *r.DeletedBy
		cp.DeletedBy = &v
	}
	return &cp
}

type Event struct {
	ID         int64
	RideID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

const (
	ActorPassenger = "passenger"
	ActorDriver    = "driver"
	ActorSystem    = "system"
	ActorAdmin     = "admin"
)

// AllowedTransitions represents the ride state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusRequested:     {StatusAssigned, StatusCancelled, StatusExpired},
	StatusAssigned:      {StatusDriverEnRoute, StatusCancelled},
	StatusDriverEnRoute: {StatusDriverArrived, StatusCancelled},
	StatusDriverArrived: {StatusInProgress, StatusCancelled},
	StatusInProgress:    {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
