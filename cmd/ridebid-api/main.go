// README: Entry point; loads config, wires stores by backend, starts HTTP server and the expiry sweeper.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridebid/internal/audit"
	"ridebid/internal/config"
	"ridebid/internal/events"
	"ridebid/internal/geo"
	httptransport "ridebid/internal/http"
	"ridebid/internal/infra"
	"ridebid/internal/logging"
	"ridebid/internal/modules/bid"
	"ridebid/internal/modules/block"
	"ridebid/internal/modules/dispatch"
	"ridebid/internal/modules/hold"
	"ridebid/internal/modules/location"
	"ridebid/internal/modules/negotiation"
	"ridebid/internal/modules/ride"
)

func main() {
	cfg, err := config.LoadFile(os.Getenv("RIDEBID_CONFIG_FILE"))
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var verifier infra.TokenVerifier
	var fb *infra.Firebase
	if cfg.AuthEnabled() {
		fb, err = infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			logger.Fatal("firebase init", zap.Error(err))
		}
		verifier = fb.Verifier
	} else {
		logger.Warn("firebase not configured; trusting X-User-ID headers")
	}

	var pool *pgxpool.Pool
	if cfg.Storage.Backend == config.BackendPostgres {
		pool, err = infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("postgres init", zap.Error(err))
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("redis init", zap.Error(err))
		}
		defer func() { _ = redisClient.Close() }()
	}

	d := cfg.Dispatch
	var (
		rideStore  ride.Store        = ride.NewMemoryStore()
		bidStore   bid.Store         = bid.NewMemoryStore()
		roundStore negotiation.Store = negotiation.NewMemoryStore()
		blockStore block.Store       = block.NewMemoryStore()
		holdStore  hold.Store        = hold.NewMemoryStore()
		positions  location.Store    = location.NewMemoryStore(d.PositionStaleAfter)
		auditSink  audit.Sink        = audit.NewLogSink(logger)
	)
	var publishers events.Fanout
	if pool != nil {
		rideStore = ride.NewPGStore(pool)
		bidStore = bid.NewPGStore(pool)
		roundStore = negotiation.NewPGStore(pool)
		blockStore = block.NewPGStore(pool)
		auditSink = audit.Multi{auditSink, audit.NewPGStore(pool)}
	}
	if redisClient != nil {
		holdStore = hold.NewRedisStore(redisClient)
		positions = location.NewRedisStore(redisClient, d.PositionStaleAfter)
	}

	hub := events.NewHub(logger)
	publishers = append(publishers, hub)
	if len(cfg.Kafka.Brokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = kafka.Close() }()
		publishers = append(publishers, kafka)
	}
	if fb != nil && fb.Database != nil {
		publishers = append(publishers, events.NewPushPublisher(fb.Messaging, events.NewRTDBTokens(fb.Database)))
	}

	var estimator geo.Estimator = geo.Haversine{SpeedKmh: d.DriverSpeedKmh}
	if cfg.Maps.APIKey != "" {
		gm, err := geo.NewGoogleMaps(cfg.Maps.APIKey)
		if err != nil {
			logger.Fatal("maps init", zap.Error(err))
		}
		estimator = geo.NewCached(gm, cfg.Maps.CacheTTL)
	}

	auditAsync := audit.NewAsync(auditSink, d.SideChannelBuffer, logger)
	defer auditAsync.Close()
	eventsAsync := events.NewAsync(publishers, d.SideChannelBuffer, logger)
	defer eventsAsync.Close()

	engine := dispatch.New(dispatch.Deps{
		Rides:     ride.NewService(rideStore, logger).WithTTL(d.RideTTL),
		Holds:     hold.NewRegistry(holdStore, hold.Config{DefaultDuration: d.HoldDefault(), MaxDuration: d.HoldMax()}, logger),
		Blocks:    block.NewRegistry(blockStore, block.Config{UserDefault: d.UserBlockDefault(), ZoneDefault: d.ZoneBlockDefault()}, logger),
		Ledger:    negotiation.NewLedger(roundStore),
		Bids:      bid.NewBook(bidStore),
		Geo:       estimator,
		Positions: positions,
		Audit:     auditAsync,
		Events:    eventsAsync,
		Log:       logger,
	}, dispatch.Config{
		QueueLimit:     d.QueueLimit,
		SweepInterval:  d.SweepInterval,
		NearbyRadiusKm: d.NearbyRadiusKm,
		NearbyLimit:    dispatch.DefaultConfig().NearbyLimit,
	})

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Engine:   engine,
		Hub:      hub,
		Verifier: verifier,
		Log:      logger,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go engine.RunSweeper(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("ridebid api listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("redis", redisClient != nil),
		zap.Int("event_sinks", len(publishers)),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server", zap.Error(err))
	}
}
