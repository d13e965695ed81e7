// README: Engine error taxonomy shared by every module and mapped to HTTP by handlers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
	KindExpired       Kind = "expired"
)

// Error is a rejection returned to the caller. State optionally carries the
// authoritative record (ride, hold, round) so the caller can refresh its view.
type Error struct {
	Kind   Kind
	Code   string
	Reason string
	State  any
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Reason)
}

// Is matches on kind, and on code when the target has one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// WithState returns a copy of e carrying the given state.
func (e *Error) WithState(state any) *Error {
	cp := *e
	cp.State = state
	return &cp
}

// WithReason returns a copy of e with a more specific reason.
func (e *Error) WithReason(format string, args ...any) *Error {
	cp := *e
	cp.Reason = fmt.Sprintf(format, args...)
	return &cp
}

// Kind sentinels, for errors.Is checks on the whole category.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrExpired       = &Error{Kind: KindExpired}
)

var (
	ErrRideNotFound    = &Error{Kind: KindNotFound, Code: "ride_not_found", Reason: "ride request not found"}
	ErrRideUnavailable = &Error{Kind: KindConflict, Code: "ride_unavailable", Reason: "ride no longer available"}
	ErrRideExpired     = &Error{Kind: KindExpired, Code: "ride_expired", Reason: "ride request has expired"}
	ErrInvalidState    = &Error{Kind: KindConflict, Code: "invalid_state", Reason: "transition not allowed from current state"}
	ErrStaleVersion    = &Error{Kind: KindConflict, Code: "stale_version", Reason: "ride was modified concurrently"}
	ErrNotMatched      = &Error{Kind: KindAuthorization, Code: "not_matched_driver", Reason: "ride is assigned to another driver"}
	ErrNotOwner        = &Error{Kind: KindAuthorization, Code: "not_owner", Reason: "caller does not own this ride"}

	ErrHoldConflict = &Error{Kind: KindConflict, Code: "hold_conflict", Reason: "ride is held by another driver"}
	ErrHoldTooLong  = &Error{Kind: KindValidation, Code: "hold_too_long", Reason: "hold duration exceeds the maximum"}

	ErrBlocked       = &Error{Kind: KindAuthorization, Code: "driver_blocked", Reason: "driver has blocked this ride"}
	ErrBlockNotFound = &Error{Kind: KindNotFound, Code: "block_not_found", Reason: "block not found"}

	ErrCeilingExceeded   = &Error{Kind: KindConflict, Code: "negotiation_ceiling", Reason: "negotiation already has the maximum number of rounds"}
	ErrNoNegotiation     = &Error{Kind: KindNotFound, Code: "no_negotiation", Reason: "no negotiation rounds for this driver"}
	ErrPriceChanged      = &Error{Kind: KindConflict, Code: "price_changed", Reason: "offered price does not match the current price"}
	ErrAwaitingPassenger = &Error{Kind: KindConflict, Code: "awaiting_passenger", Reason: "latest round is the driver's own counteroffer; only the passenger can confirm it"}

	ErrBadPrice     = &Error{Kind: KindValidation, Code: "bad_price", Reason: "price must be positive"}
	ErrBadRequest   = &Error{Kind: KindValidation, Code: "bad_request", Reason: "invalid request"}
	ErrBadBidType   = &Error{Kind: KindValidation, Code: "bad_bid_type", Reason: "unknown bid type"}
	ErrBadVehicle   = &Error{Kind: KindValidation, Code: "bad_vehicle_type", Reason: "unknown vehicle type"}
	ErrBadInitiator = &Error{Kind: KindValidation, Code: "bad_initiator", Reason: "initiator must be passenger or driver"}

	ErrCurrencyMismatch = &Error{Kind: KindValidation, Code: "currency_mismatch", Reason: "price currency differs from the ride's currency"}
)

func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Reason: fmt.Sprintf(format, args...)}
}

func Conflict(code string, state any, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Reason: fmt.Sprintf(format, args...), State: state}
}

// KindOf reports the kind of err, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As unwraps err into an *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
