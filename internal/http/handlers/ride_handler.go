// README: Passenger-facing ride handlers: create, read, cancel and negotiate.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridebid/internal/apperr"
	"ridebid/internal/http/middleware"
	"ridebid/internal/modules/dispatch"
	"ridebid/internal/modules/negotiation"
	"ridebid/internal/modules/ride"
	"ridebid/internal/types"
)

type RideHandler struct {
	engine *dispatch.Engine
	log    *zap.Logger
}

func NewRideHandler(engine *dispatch.Engine, log *zap.Logger) *RideHandler {
	return &RideHandler{engine: engine, log: log}
}

type placeReq struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

func (p placeReq) place() types.Place {
	return types.Place{Point: types.Point{Lat: p.Lat, Lng: p.Lng}, Address: p.Address}
}

type createRideReq struct {
	Origin        placeReq `json:"origin"`
	Destination   placeReq `json:"destination"`
	Price         string   `json:"price"`
	Currency      string   `json:"currency"`
	VehicleType   string   `json:"vehicle_type"`
	PaymentMethod string   `json:"payment_method"`
	TTLSeconds    int      `json:"ttl_seconds"`
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if !bind(c, &req) {
		return
	}
	price, err := parsePrice(req.Price, req.Currency)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	if price == nil {
		writeAppError(c, h.log, apperr.ErrBadPrice.WithReason("missing price"))
		return
	}
	r, err := h.engine.CreateRide(c.Request.Context(), ride.CreateCommand{
		PassengerID:   caller(c),
		Origin:        req.Origin.place(),
		Destination:   req.Destination.place(),
		OfferedPrice:  *price,
		VehicleType:   ride.VehicleType(req.VehicleType),
		PaymentMethod: ride.PaymentMethod(req.PaymentMethod),
		TTL:           time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RideHandler) Get(c *gin.Context) {
	r, err := h.engine.GetRide(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	uid := caller(c)
	if r.PassengerID != uid && !r.MatchedTo(uid) && middleware.CallerRole(c) != ride.ActorAdmin {
		writeAppError(c, h.log, apperr.ErrNotOwner)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

// Cancel acts as the passenger unless the caller's role claim says driver or admin.
func (h *RideHandler) Cancel(c *gin.Context) {
	var req cancelReq
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	actorType := ride.ActorPassenger
	switch middleware.CallerRole(c) {
	case ride.ActorDriver:
		actorType = ride.ActorDriver
	case ride.ActorAdmin:
		actorType = ride.ActorAdmin
	}
	r, err := h.engine.CancelRide(c.Request.Context(), ride.CancelCommand{
		RideID:    types.ID(c.Param("id")),
		ActorType: actorType,
		ActorID:   caller(c),
		Reason:    req.Reason,
	})
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Negotiation(c *gin.Context) {
	rideID := types.ID(c.Param("id"))
	driverID := types.ID(c.Query("driver_id"))
	r, err := h.engine.GetRide(c.Request.Context(), rideID)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	uid := caller(c)
	switch {
	case r.PassengerID == uid:
	case driverID == "" || driverID == uid:
		// Drivers only see their own rounds.
		driverID = uid
	default:
		writeAppError(c, h.log, apperr.ErrNotOwner)
		return
	}
	rounds, err := h.engine.ListNegotiation(c.Request.Context(), rideID, driverID)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rounds": rounds, "max_rounds": negotiation.MaxRounds})
}

type passengerCounterReq struct {
	DriverID string `json:"driver_id"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	Message  string `json:"message"`
}

func (h *RideHandler) Counter(c *gin.Context) {
	var req passengerCounterReq
	if !bind(c, &req) {
		return
	}
	price, err := parsePrice(req.Price, req.Currency)
	if err != nil || price == nil {
		writeAppError(c, h.log, apperr.ErrBadPrice)
		return
	}
	round, err := h.engine.ProposeCounter(c.Request.Context(), dispatch.CounterCommand{
		ProposeCommand: negotiation.ProposeCommand{
			RideID:    types.ID(c.Param("id")),
			DriverID:  types.ID(req.DriverID),
			Initiator: negotiation.InitiatorPassenger,
			Price:     *price,
			Message:   req.Message,
		},
		ActorID: caller(c),
	})
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, round)
}

type acceptCounterReq struct {
	DriverID string `json:"driver_id"`
}

func (h *RideHandler) AcceptCounteroffer(c *gin.Context) {
	var req acceptCounterReq
	if !bind(c, &req) {
		return
	}
	r, err := h.engine.AcceptCounteroffer(c.Request.Context(), types.ID(c.Param("id")), caller(c), types.ID(req.DriverID))
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}
