package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/booking/internal/config"
	"github.com/clinicdesk/booking/internal/domain/appointment"
	"github.com/clinicdesk/booking/internal/platform/auth"
	"github.com/clinicdesk/booking/internal/platform/clock"
	"github.com/clinicdesk/booking/internal/platform/db"
	"github.com/clinicdesk/booking/internal/platform/events"
	"github.com/clinicdesk/booking/internal/platform/keylock"
	"github.com/clinicdesk/booking/internal/platform/middleware"
)

const version = "0.1.0"

// store bundles the repositories behind the booking service.
type store struct {
	bookings appointment.BookingRepository
	config   appointment.ScheduleConfigRepository
	pool     *pgxpool.Pool
}

func (s *store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// openStore connects to Postgres, or builds an in-memory store seeded with
// the default working-day rules.
func openStore(ctx context.Context, cfg *config.Config, inMemory bool) (*store, error) {
	if inMemory {
		mem := appointment.NewMemoryStore()
		for _, r := range appointment.DefaultWorkingDays() {
			r := r
			if err := mem.UpsertWorkingDay(ctx, &r); err != nil {
				return nil, err
			}
		}
		return &store{bookings: mem, config: mem}, nil
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	return &store{
		bookings: appointment.NewBookingRepoPG(pool),
		config:   appointment.NewScheduleConfigRepoPG(pool),
		pool:     pool,
	}, nil
}

// newLocker returns the in-process lock, chained with a Redis lock when
// REDIS_URL is set so replicas serialise on the same keys.
func newLocker(ctx context.Context, cfg *config.Config) (keylock.Locker, *redis.Client, error) {
	local := keylock.NewLocal()
	if cfg.RedisURL == "" {
		return local, nil, nil
	}
	shared, client, err := keylock.NewRedisFromURL(ctx, cfg.RedisURL, cfg.BookingLockTTL)
	if err != nil {
		return nil, nil, err
	}
	return keylock.Chain{local, shared}, client, nil
}

// newPublisher connects to RabbitMQ when AMQP_URL is set and discards events
// otherwise. The returned close func is never nil.
func newPublisher(cfg *config.Config) (events.Publisher, func(), error) {
	if cfg.AMQPURL == "" {
		return events.Nop{}, func() {}, nil
	}
	p, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { p.Close() }, nil
}

func newService(cfg *config.Config, s *store, locker keylock.Locker, logger zerolog.Logger) (*appointment.Service, error) {
	clk, err := clock.New(cfg.ClinicTimezone)
	if err != nil {
		return nil, err
	}
	patient, err := cfg.PatientPolicy()
	if err != nil {
		return nil, err
	}
	mr, err := cfg.MRPolicy()
	if err != nil {
		return nil, err
	}
	a, err := appointment.NewAssembler(clk, s.bookings, s.config, patient, mr)
	if err != nil {
		return nil, err
	}
	return appointment.NewService(a, locker, logger), nil
}

func authMiddleware(cfg *config.Config) (echo.MiddlewareFunc, error) {
	switch mode := cfg.ResolvedAuthMode(); mode {
	case "development":
		return auth.DevAuthMiddleware(), nil
	case "jwt":
		jc := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}
		if cfg.AuthSigningKey != "" {
			jc.SigningKey = []byte(cfg.AuthSigningKey)
		}
		return auth.JWTMiddleware(jc), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// newServer wires middleware and routes. pool and redisClient may be nil.
func newServer(cfg *config.Config, svc *appointment.Service, pool *pgxpool.Pool, redisClient *redis.Client, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	if redisClient != nil {
		e.GET("/health/redis", db.PingHandler("redis", db.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))

	h := appointment.NewHandler(svc, cfg.SlotRefreshInterval, logger)
	h.AllowOrigins(cfg.CORSOrigins...)
	h.RegisterRoutes(apiV1)

	authMW, err := authMiddleware(cfg)
	if err != nil {
		// Validate rejects unknown modes before we get here.
		logger.Fatal().Err(err).Msg("auth middleware")
	}
	h.RegisterAdminRoutes(apiV1.Group("/admin", authMW))

	return e
}
