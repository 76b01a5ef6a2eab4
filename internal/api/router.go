package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service BookingService
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Log     *zap.SugaredLogger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability
	r.Get("/availability/{mentorID}", availabilityHandler(cfg.Service))

	// Slot holds
	r.Post("/bookings/hold-slot", holdSlotHandler(cfg.Service))
	r.Delete("/bookings/hold-slot", releaseHoldHandler(cfg.Service))

	// Payment flow
	r.Post("/payments/create-order", createOrderHandler(cfg.Service))
	r.Post("/payments/webhook", webhookHandler(cfg.Service))

	// Client-side confirmation fallback
	r.Post("/bookings/confirm", confirmBookingHandler(cfg.Service))

	return r
}
