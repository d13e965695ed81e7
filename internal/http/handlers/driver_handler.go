// README: Driver-facing handlers: queue, holds, blocks, bids, counters and trip progress.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridebid/internal/apperr"
	"ridebid/internal/modules/bid"
	"ridebid/internal/modules/block"
	"ridebid/internal/modules/dispatch"
	"ridebid/internal/modules/negotiation"
	"ridebid/internal/modules/ride"
	"ridebid/internal/types"
)

type DriverHandler struct {
	engine *dispatch.Engine
	log    *zap.Logger
}

func NewDriverHandler(engine *dispatch.Engine, log *zap.Logger) *DriverHandler {
	return &DriverHandler{engine: engine, log: log}
}

// Queue accepts optional vehicle_type, lat, lng and limit query parameters.
func (h *DriverHandler) Queue(c *gin.Context) {
	q := dispatch.QueueQuery{
		DriverID:    caller(c),
		VehicleType: ride.VehicleType(c.Query("vehicle_type")),
	}
	if lat, lng := c.Query("lat"), c.Query("lng"); lat != "" || lng != "" {
		la, errLat := strconv.ParseFloat(lat, 64)
		ln, errLng := strconv.ParseFloat(lng, 64)
		if errLat != nil || errLng != nil {
			writeError(c, http.StatusBadRequest, "lat and lng must both be numbers")
			return
		}
		q.Location = &types.Point{Lat: la, Lng: ln}
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		q.Limit = n
	}
	views, err := h.engine.GetQueue(c.Request.Context(), q)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": views})
}

type holdReq struct {
	RideID  string `json:"ride_id"`
	Minutes int    `json:"minutes"`
}

func (h *DriverHandler) PutOnHold(c *gin.Context) {
	var req holdReq
	if !bind(c, &req) {
		return
	}
	held, err := h.engine.PutOnHold(c.Request.Context(), caller(c), types.ID(req.RideID), req.Minutes)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, held)
}

func (h *DriverHandler) ReleaseHold(c *gin.Context) {
	if err := h.engine.ReleaseHold(c.Request.Context(), caller(c), types.ID(c.Param("rideId"))); err != nil {
		writeAppError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DriverHandler) ListHolds(c *gin.Context) {
	holds, err := h.engine.ListHeldRides(c.Request.Context(), caller(c))
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"holds": holds})
}

type blockReq struct {
	Type      string `json:"block_type"`
	UserID    string `json:"user_id"`
	Address   string `json:"address"`
	Reason    string `json:"reason"`
	Permanent bool   `json:"permanent"`
	Days      int    `json:"days"`
	Hours     int    `json:"hours"`
}

func (h *DriverHandler) CreateBlock(c *gin.Context) {
	var req blockReq
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	driverID := caller(c)
	addr := block.BlockAddressCommand{DriverID: driverID, Address: req.Address, Reason: req.Reason, Permanent: req.Permanent, Hours: req.Hours}

	var (
		b   *block.Block
		err error
	)
	switch block.Type(req.Type) {
	case block.TypeUser:
		b, err = h.engine.BlockUser(ctx, block.BlockUserCommand{
			DriverID:  driverID,
			UserID:    types.ID(req.UserID),
			Reason:    req.Reason,
			Permanent: req.Permanent,
			Days:      req.Days,
		})
	case block.TypeZone:
		b, err = h.engine.BlockZone(ctx, addr)
	case block.TypeRoute:
		b, err = h.engine.BlockRoute(ctx, addr)
	default:
		err = apperr.Validation("bad_block_type", "block_type must be user, zone or route")
	}
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, b)
}

func (h *DriverHandler) ListBlocks(c *gin.Context) {
	blocks, err := h.engine.ListBlocks(c.Request.Context(), caller(c))
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"blocks": blocks})
}

func (h *DriverHandler) RemoveBlock(c *gin.Context) {
	h.noContent(c, h.engine.RemoveBlock(c.Request.Context(), caller(c), types.ID(c.Param("blockId"))))
}

func (h *DriverHandler) UnblockUser(c *gin.Context) {
	h.noContent(c, h.engine.Unblock(c.Request.Context(), caller(c), types.ID(c.Param("userId"))))
}

func (h *DriverHandler) UnblockZone(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		writeError(c, http.StatusBadRequest, "missing address")
		return
	}
	h.noContent(c, h.engine.UnblockZone(c.Request.Context(), caller(c), address))
}

type bidReq struct {
	RideID   string `json:"ride_id"`
	Type     string `json:"bid_type"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
}

func (h *DriverHandler) SubmitBid(c *gin.Context) {
	var req bidReq
	if !bind(c, &req) {
		return
	}
	price, err := parsePrice(req.Price, req.Currency)
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	out, err := h.engine.SubmitBid(c.Request.Context(), bid.PlaceCommand{
		RideID:   types.ID(req.RideID),
		DriverID: caller(c),
		Type:     bid.Type(req.Type),
		Price:    price,
	})
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, out)
}

func (h *DriverHandler) WithdrawBid(c *gin.Context) {
	h.noContent(c, h.engine.WithdrawBid(c.Request.Context(), types.ID(c.Param("rideId")), caller(c)))
}

type driverCounterReq struct {
	RideID   string `json:"ride_id"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	Message  string `json:"message"`
}

func (h *DriverHandler) Counter(c *gin.Context) {
	var req driverCounterReq
	if !bind(c, &req) {
		return
	}
	price, err := parsePrice(req.Price, req.Currency)
	if err != nil || price == nil {
		writeAppError(c, h.log, apperr.ErrBadPrice)
		return
	}
	driverID := caller(c)
	round, err := h.engine.ProposeCounter(c.Request.Context(), dispatch.CounterCommand{
		ProposeCommand: negotiation.ProposeCommand{
			RideID:    types.ID(req.RideID),
			DriverID:  driverID,
			Initiator: negotiation.InitiatorDriver,
			Price:     *price,
			Message:   req.Message,
		},
		ActorID: driverID,
	})
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusCreated, round)
}

func (h *DriverHandler) AcceptNegotiated(c *gin.Context) {
	r, err := h.engine.AcceptNegotiatedPrice(c.Request.Context(), types.ID(c.Param("id")), caller(c))
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type progressFunc func(ctx context.Context, rideID, driverID types.ID) (*ride.Ride, error)

// Progress returns a handler for one trip step (en route, arrived, start, complete).
func (h *DriverHandler) Progress(step progressFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := step(c.Request.Context(), types.ID(c.Param("id")), caller(c))
		if err != nil {
			writeAppError(c, h.log, err)
			return
		}
		writeJSON(c, http.StatusOK, r)
	}
}

type positionReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *DriverHandler) UpdatePosition(c *gin.Context) {
	var req positionReq
	if !bind(c, &req) {
		return
	}
	h.noContent(c, h.engine.UpdateDriverPosition(c.Request.Context(), caller(c), types.Point{Lat: req.Lat, Lng: req.Lng}))
}

func (h *DriverHandler) noContent(c *gin.Context, err error) {
	if err != nil {
		writeAppError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
