package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// MaxClients bounds the tracked client keys; the least recently seen
	// client is forgotten first.
	MaxClients int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 10, BurstSize: 20, MaxClients: 10000}
}

// limiterStore holds one limiter per client key. A forgotten client starts
// again with a full bucket.
type limiterStore struct {
	cfg   RateLimitConfig
	cache *lru.Cache[string, *rate.Limiter]
}

func newLimiterStore(cfg RateLimitConfig) (*limiterStore, error) {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultRateLimitConfig().MaxClients
	}
	cache, err := lru.New[string, *rate.Limiter](cfg.MaxClients)
	if err != nil {
		return nil, fmt.Errorf("rate limiter cache: %w", err)
	}
	return &limiterStore{cfg: cfg, cache: cache}, nil
}

func (s *limiterStore) get(key string) *rate.Limiter {
	if lim, ok := s.cache.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)
	if prev, ok, _ := s.cache.PeekOrAdd(key, lim); ok {
		return prev
	}
	return lim
}

func (s *limiterStore) len() int { return s.cache.Len() }

// RateLimit throttles each client IP with a token bucket.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store, err := newLimiterStore(cfg)
	if err != nil {
		panic(err)
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			lim := store.get(c.RealIP())
			if lim.Allow() {
				return next(c)
			}

			h.Set("Retry-After", strconv.Itoa(retryAfter(lim)))
			h.Set("X-RateLimit-Remaining", "0")
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
	}
}

// retryAfter returns whole seconds until the next token, at least 1.
func retryAfter(lim *rate.Limiter) int {
	r := lim.Reserve()
	if !r.OK() {
		return 1
	}
	delay := r.Delay()
	r.Cancel()
	if secs := int(math.Ceil(delay.Seconds())); secs > 1 {
		return secs
	}
	return 1
}
