package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mentorbook/mentorship-booking/internal/api"
	"github.com/mentorbook/mentorship-booking/internal/booking"
	"github.com/mentorbook/mentorship-booking/internal/config"
	"github.com/mentorbook/mentorship-booking/internal/db"
	"github.com/mentorbook/mentorship-booking/internal/logger"
	"github.com/mentorbook/mentorship-booking/internal/notify"
	"github.com/mentorbook/mentorship-booking/internal/payment"
	redisclient "github.com/mentorbook/mentorship-booking/internal/redis"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" || cfg.RazorpayWebhookSecret == "" {
		log.Fatal("RAZORPAY_KEY_ID, RAZORPAY_KEY_SECRET and RAZORPAY_WEBHOOK_SECRET are required")
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Infow("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatalw("postgres connection error", "error", err)
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg)
	if err != nil {
		zlog.Fatalw("redis connection error", "error", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zlog.Warnw("error closing redis", "error", err)
		}
	}()
	zlog.Info("connected to Redis")

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	provider := payment.NewRazorpayProvider(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret)
	notifier := notify.NewLogNotifier(zlog)
	svc := booking.NewService(repo, locker, provider, notifier, cfg, zlog)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		PgPool:  pgPool,
		Redis:   rdb,
		Log:     zlog,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zlog.Infow("listening", "addr", srv.Addr,
			"hold_duration", cfg.HoldDuration, "lock_ttl", cfg.LockTTL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatalw("http server error", "error", err)
		}
	}()

	<-rootCtx.Done()
	zlog.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Errorw("graceful shutdown failed", "error", err)
	}
}
