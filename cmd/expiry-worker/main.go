package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mentorbook/mentorship-booking/internal/booking"
	"github.com/mentorbook/mentorship-booking/internal/config"
	"github.com/mentorbook/mentorship-booking/internal/db"
	"github.com/mentorbook/mentorship-booking/internal/logger"
)

// The worker's sweep is advisory: hold admission re-checks expiry on every
// conditional write, so a stalled worker never compromises correctness. It
// keeps the slots table tidy and availability reads honest.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	zlog.Infow("expiry-worker starting up", "env", cfg.Env, "interval", cfg.WorkerInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatalw("postgres connection error", "error", err)
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	repo := booking.NewPgRepository(pgPool)

	// Run once at startup
	runOnce(rootCtx, repo, zlog)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zlog.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, repo, zlog)
		}
	}
}

func runOnce(ctx context.Context, repo booking.Repository, zlog *zap.SugaredLogger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := repo.ClearExpiredHolds(runCtx, time.Now())
	if err != nil {
		zlog.Errorw("expiry sweep error", "error", err)
		return
	}
	zlog.Infow("expiry sweep complete", "cleared", n, "duration", time.Since(start))
}
