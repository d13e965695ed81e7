// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ridebid/internal/events"
	"ridebid/internal/http/handlers"
	"ridebid/internal/http/middleware"
	"ridebid/internal/infra"
	"ridebid/internal/modules/dispatch"
)

type RouterDeps struct {
	Engine *dispatch.Engine
	Hub    *events.Hub
	// Verifier checks Firebase ID tokens. When nil the router trusts the
	// X-User-ID / X-User-Role headers, which is only meant for local runs.
	Verifier infra.TokenVerifier
	Log      *zap.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.DevAuth()
	if d.Verifier != nil {
		auth = middleware.Auth(d.Verifier)
	}

	if d.Hub != nil {
		ws := handlers.NewWSHandler(d.Hub, log)
		r.GET("/ws", auth, ws.Serve)
	}

	api := r.Group("/api", auth)

	rides := handlers.NewRideHandler(d.Engine, log)
	api.POST("/rides", rides.Create)
	api.GET("/rides/:id", rides.Get)
	api.POST("/rides/:id/cancel", rides.Cancel)
	api.GET("/rides/:id/negotiation", rides.Negotiation)
	api.POST("/rides/:id/counter", rides.Counter)
	api.POST("/rides/:id/accept-counteroffer", rides.AcceptCounteroffer)

	drv := handlers.NewDriverHandler(d.Engine, log)
	driver := api.Group("/driver")
	driver.GET("/queue", drv.Queue)
	driver.PUT("/position", drv.UpdatePosition)

	driver.POST("/holds", drv.PutOnHold)
	driver.GET("/holds", drv.ListHolds)
	driver.DELETE("/holds/:rideId", drv.ReleaseHold)

	driver.POST("/blocks", drv.CreateBlock)
	driver.GET("/blocks", drv.ListBlocks)
	driver.DELETE("/blocks/:blockId", drv.RemoveBlock)
	driver.DELETE("/blocked-users/:userId", drv.UnblockUser)
	driver.DELETE("/blocked-zones", drv.UnblockZone)

	driver.POST("/bids", drv.SubmitBid)
	driver.DELETE("/bids/:rideId", drv.WithdrawBid)
	driver.POST("/counters", drv.Counter)

	driver.POST("/rides/:id/accept-negotiated", drv.AcceptNegotiated)
	driver.POST("/rides/:id/en-route", drv.Progress(d.Engine.MarkEnRoute))
	driver.POST("/rides/:id/arrived", drv.Progress(d.Engine.MarkArrived))
	driver.POST("/rides/:id/start", drv.Progress(d.Engine.StartTrip))
	driver.POST("/rides/:id/complete", drv.Progress(d.Engine.CompleteTrip))

	adm := handlers.NewAdminHandler(d.Engine, log)
	admin := api.Group("/admin", handlers.RequireAdmin())
	admin.GET("/rides/:id/history", adm.History)
	admin.DELETE("/rides/:id", adm.Delete)
	admin.POST("/rides/:id/restore", adm.Restore)

	return r
}
