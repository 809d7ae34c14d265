// Package main provides the scheduler entry point: it enqueues a swap task
// for every due trading job on each tick.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/swap-cycler/internal/config"
	"github.com/swap-cycler/internal/health"
	"github.com/swap-cycler/internal/logging"
	"github.com/swap-cycler/internal/metrics"
	"github.com/swap-cycler/internal/queue"
	"github.com/swap-cycler/internal/scheduler"
	"github.com/swap-cycler/internal/storage"
)

func main() {
	fmt.Println("Swap Cycler Scheduler")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.WithError(err).Fatal("Scheduler exited with error")
	}
	logging.Infof("Scheduler stopped. Goodbye!")
}

func run(ctx context.Context, cfg *config.Config) error {
	postgres, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer postgres.Close()

	redisClient, err := storage.NewRedisClient(ctx, &cfg.Database.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	registry := health.NewRegistry()
	promRegistry := prometheus.NewRegistry()
	m := metrics.New("swap_cycler", promRegistry)

	q, err := queue.NewRedisQueue(&queue.Config{
		Redis:    redisClient,
		Name:     cfg.Queue.Name,
		LeaseTTL: cfg.Queue.LeaseTTL,
		DedupTTL: cfg.Queue.DedupTTL,
		DoneTTL:  cfg.Queue.DoneTTL,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	s, err := scheduler.New(&scheduler.Config{
		Jobs:         storage.NewJobRepository(postgres),
		Queue:        q,
		Counter:      scheduler.NewRedisTickCounter(redisClient, cfg.Queue.Name+":tick"),
		Health:       registry,
		Metrics:      m,
		TickInterval: cfg.Scheduler.TickInterval,
		TickWrap:     cfg.Scheduler.TickWrap,
		BatchSize:    cfg.Scheduler.BatchSize,
		BatchDelay:   cfg.Scheduler.BatchDelay,
	})
	if err != nil {
		return err
	}

	server := health.NewServer(health.ServerConfig{Host: cfg.Server.Host, Port: cfg.Scheduler.HealthPort}, registry, metrics.Handler(promRegistry))
	go func() {
		if err := server.Start(); err != nil {
			logging.WithError(err).Error("Health server failed")
		}
	}()
	go registry.Watch(ctx, 15*time.Second, map[string]health.Pinger{
		"postgres": postgres,
		"redis":    q,
	})

	runErr := s.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.WithError(err).Warn("Health server shutdown")
	}
	return runErr
}
