package router

import (
	"context"
	"fmt"
	"time"

	"fieldclock/config"
	"fieldclock/internal/geofence"
	"fieldclock/internal/handler"
	"fieldclock/internal/ledger"
	"fieldclock/internal/logger"
	"fieldclock/internal/middleware"
	"fieldclock/internal/repository"
	"fieldclock/internal/service"
	"fieldclock/internal/timeclock"
	"fieldclock/internal/tracker"
	"fieldclock/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Setup wires the time clock service onto a gin engine. The returned func
// stops background work and flushes queued events; call it after the HTTP
// server has shut down.
func Setup(cfg *config.Config, db *gorm.DB, log *logrus.Logger, reg *prometheus.Registry) (*gin.Engine, func(), error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	tz, err := time.LoadLocation(cfg.Database.TimeZone)
	if err != nil {
		return nil, nil, fmt.Errorf("time zone: %w", err)
	}
	policy, err := geofence.ParsePolicy(cfg.Geofence.Policy)
	if err != nil {
		return nil, nil, err
	}
	metrics, err := timeclock.NewMetrics(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}

	var closers []func()
	ctx, cancel := context.WithCancel(context.Background())
	closers = append(closers, cancel)

	r := gin.New()
	r.Use(gin.Recovery())
	// Skip gin.Logger() to reduce log noise; use gin.Default() if you need request logging
	limiter := middleware.NewInMemoryRateLimiter(cfg.RateLimit.RequestsPerMinute, time.Minute, nil)
	go limiter.Run(ctx)
	r.Use(middleware.RateLimit(limiter))

	// Repositories
	timeClockRepo := repository.NewTimeClockRepository(db)
	workLocRepo := repository.NewWorkLocationRepository(db)
	locRepo := repository.NewLocationRepository(db)
	tokenRepo := repository.NewDeviceTokenRepository(db)

	// Services
	fcmSvc := service.NewFCMService(cfg.Firebase.CredentialsFile, logger.Component(log, "fcm"))
	var push service.Pusher
	if fcmSvc != nil {
		push = fcmSvc
		log.Info("push notifications enabled")
	} else if cfg.Firebase.CredentialsFile != "" {
		log.Warn("push notifications disabled: failed to init (check credentials file)")
	} else {
		log.Info("push notifications disabled: set FIREBASE_CREDENTIALS_FILE to enable")
	}
	notifSvc := service.NewNotificationService(tokenRepo, push, logger.Component(log, "notifications"))

	// Time clock core
	broker := timeclock.NewBroker(cfg.Events.QueueSize, logger.Component(log, "broker"), metrics)
	closers = append(closers, broker.Close)
	clockLedger := ledger.New(timeClockRepo, ledger.WithLocation(tz), ledger.WithLogger(logger.Component(log, "ledger")))
	source := tracker.NewReportedSource(locRepo, notifSvc, logger.Component(log, "location"))
	fetcher := tracker.NewFetcher(source, tracker.FetcherOptions{
		Timeout: cfg.Location.RequestTimeout,
		MaxAge:  cfg.Location.MaxFixAge,
		Logger:  logger.Component(log, "location"),
	})
	engine := timeclock.New(timeclock.Config{
		Ledger:  clockLedger,
		Sites:   workLocRepo,
		Matcher: geofence.NewMatcher(policy),
		Fetcher: fetcher,
		Broker:  broker,
		Metrics: metrics,
		Logger:  logger.Component(log, "engine"),

		MaxFixSkew: cfg.Location.MaxFixSkew,
	})

	// Observers
	hub := ws.NewHub()
	engine.Subscribe("websocket", hub.OnEvent)
	if push != nil {
		engine.Subscribe("push", notifSvc.OnEvent)
	}
	if cfg.RabbitMQ.URL != "" {
		publisher := service.NewEventPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger.Component(log, "rabbitmq"))
		engine.Subscribe("rabbitmq", publisher.OnEvent)
		closers = append(closers, func() { _ = publisher.Close() })
	}
	if rdb := service.NewRedisClient(cfg.Redis); rdb != nil {
		mirror := service.NewStatusMirror(rdb, cfg.Redis.Channel, cfg.Redis.StatusTTL, logger.Component(log, "redis"))
		engine.Subscribe("redis", mirror.OnEvent)
		closers = append(closers, func() { _ = rdb.Close() })
	} else if cfg.Redis.Addr != "" {
		log.Warn("redis unreachable, status mirror disabled")
	}

	// Handlers
	clockHandler := handler.NewTimeClockHandler(engine, clockLedger, tz)
	locationHandler := handler.NewLocationHandler(source, engine, logger.Component(log, "location"))
	deviceHandler := handler.NewDeviceHandler(tokenRepo)
	workLocHandler := handler.NewWorkLocationHandler(workLocRepo)
	healthHandler := handler.NewHealthHandler(func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})

	r.GET("/healthz", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	r.GET("/ws/timeclock", ws.UpgradeTimeClockWS(hub, engine.Status, logger.Component(log, "websocket")))

	api := r.Group("/api/v1")
	{
		api.POST("/clock-in", clockHandler.ClockIn)
		api.POST("/clock-out", clockHandler.ClockOut)
		api.GET("/status/:userId", clockHandler.Status)
		api.GET("/sessions/:userId", clockHandler.Sessions)
		api.GET("/hours/:userId", clockHandler.TotalHours)
		api.GET("/entries/:userId", clockHandler.Entries)

		users := api.Group("/users/:userId")
		{
			users.PUT("/location", locationHandler.UpdateLocation)
			users.GET("/location", locationHandler.GetLocation)
			users.POST("/location-check", locationHandler.CheckLocation)
			users.POST("/commands", clockHandler.Command)
			users.PUT("/push-token", deviceHandler.SetPushToken)
			users.DELETE("/push-token", deviceHandler.ClearPushToken)
		}

		sites := api.Group("/work-locations")
		{
			sites.GET("", workLocHandler.List)
			sites.POST("", workLocHandler.Create)
			sites.GET("/:id", workLocHandler.Get)
			sites.PUT("/:id", workLocHandler.Update)
			sites.DELETE("/:id", workLocHandler.Deactivate)
		}
	}

	shutdown := func() {
		// First in, last out: the broker drains before its observers close.
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return r, shutdown, nil
}
