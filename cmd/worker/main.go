// Package main provides the swap worker entry point: it consumes swap tasks
// and serves health and metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/swap-cycler/internal/adapter"
	"github.com/swap-cycler/internal/circuitbreaker"
	"github.com/swap-cycler/internal/config"
	"github.com/swap-cycler/internal/health"
	"github.com/swap-cycler/internal/logging"
	"github.com/swap-cycler/internal/metrics"
	"github.com/swap-cycler/internal/pricing"
	"github.com/swap-cycler/internal/queue"
	"github.com/swap-cycler/internal/storage"
	"github.com/swap-cycler/internal/txbuilder"
	"github.com/swap-cycler/internal/types"
	"github.com/swap-cycler/internal/wallet"
	"github.com/swap-cycler/internal/worker"
)

func main() {
	fmt.Println("Swap Cycler Worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.WithError(err).Fatal("Worker exited with error")
	}
	logging.Infof("Worker stopped. Goodbye!")
}

func run(ctx context.Context, cfg *config.Config) error {
	logging.Infof("Connecting to databases...")
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

	pingers := map[string]health.Pinger{"postgres": postgres}

	var ledger storage.TradeLedger = storage.LogLedger{}
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
		if err != nil {
			return fmt.Errorf("connect to clickhouse: %w", err)
		}
		defer clickhouse.Close()
		ledger = storage.NewTradeRepository(clickhouse)
		pingers["clickhouse"] = clickhouse
	}
	logging.Infof("Database connections established")

	registry := health.NewRegistry()
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("swap_cycler", promRegistry)

	pools, err := config.LoadPoolRegistry(cfg.Pools.RegistryPath)
	if err != nil {
		return err
	}
	logging.Infof("Loaded %d bonding-curve pools", pools.Len())

	chain, err := adapter.NewSolanaAdapter(adapter.SolanaConfig{
		RPCURL:            cfg.Solana.RPCURL,
		SenderURL:         cfg.Solana.SenderURL,
		Commitment:        rpc.CommitmentType(cfg.Solana.Commitment),
		RequestsPerSecond: cfg.Solana.RequestsPerSecond,
		MaxAttempts:       cfg.Solana.MaxRPCAttempts,
	})
	if err != nil {
		return err
	}

	aggregator := pricing.NewAggregatorClient(pricing.AggregatorConfig{
		BaseURL:           cfg.Aggregator.BaseURL,
		Timeout:           cfg.Aggregator.Timeout,
		RequestsPerSecond: cfg.Aggregator.RequestsPerSecond,
		BreakerFailures:   cfg.Aggregator.BreakerFailures,
		BreakerTimeout:    cfg.Aggregator.BreakerTimeout,
		OnBreakerChange: func(name string, from, to circuitbreaker.State) {
			status := types.StatusDegraded
			if to == circuitbreaker.StateClosed {
				status = types.StatusUp
			}
			registry.Report("aggregator", status, fmt.Sprintf("breaker %s -> %s", from, to))
		},
	})

	admin, err := solana.PublicKeyFromBase58(cfg.Fees.AdminWallet)
	if err != nil {
		return fmt.Errorf("admin wallet: %w", err)
	}

	owners, err := wallet.LoadOwnerKeys(cfg.Wallets.OwnerKeypairPath)
	if err != nil {
		return err
	}
	workers, err := wallet.LoadWorkerKeys(cfg.Wallets.WorkerKeysFile)
	if err != nil {
		return err
	}
	selector, err := wallet.NewSelector(cfg.Wallets.Strategy)
	if err != nil {
		return err
	}
	pool, err := wallet.NewPool(owners, workers, selector, cfg.Wallets.Serialize)
	if err != nil {
		return err
	}
	logging.WithFields(map[string]interface{}{
		"workers":   pool.Size(),
		"strategy":  cfg.Wallets.Strategy,
		"serialize": cfg.Wallets.Serialize,
	}).Info("Wallet pool loaded")

	submitter := txbuilder.NewSubmitter(chain, txbuilder.SubmitterConfig{
		ConfirmTimeout: cfg.Solana.ConfirmTimeout,
		PollInterval:   cfg.Solana.ConfirmPoll,
	})

	consumer, err := worker.NewConsumer(&worker.Config{
		Jobs:   storage.NewJobRepository(postgres),
		Ledger: ledger,
		Oracle: chain,
		Quoter: pricing.NewQuoter(aggregator, chain, pools),
		Builder: txbuilder.NewBuilder(chain, aggregator, txbuilder.Config{
			ComputeUnitLimit: cfg.Solana.ComputeUnitLimit,
			ComputeUnitPrice: cfg.Solana.ComputeUnitPrice,
			AdminWallet:      admin,
		}),
		Submitter: submitter,
		Funder: wallet.NewFunder(chain, submitter, wallet.FunderConfig{
			RentBuffer:   cfg.Wallets.RentBuffer,
			FeeAllowance: cfg.Wallets.FeeAllowance,
		}),
		Wallets:     pool,
		Health:      registry,
		Metrics:     m,
		PriorityFee: cfg.Solana.PriorityFee,
	})
	if err != nil {
		return err
	}

	q, err := queue.NewRedisQueue(&queue.Config{
		Redis:        redisClient,
		Name:         cfg.Queue.Name,
		ConsumerID:   cfg.Queue.ConsumerID,
		Prefetch:     cfg.Queue.Prefetch,
		MaxRetries:   cfg.Queue.MaxRetries,
		RetryBackoff: cfg.Queue.RetryBackoff,
		LeaseTTL:     cfg.Queue.LeaseTTL,
		DedupTTL:     cfg.Queue.DedupTTL,
		DoneTTL:      cfg.Queue.DoneTTL,
		OnDrop:       consumer.MarkFailed,
		Metrics:      m,
	})
	if err != nil {
		return err
	}
	pingers["redis"] = q

	server := health.NewServer(health.ServerConfig{Host: cfg.Server.Host, Port: cfg.Server.Port}, registry, metrics.Handler(promRegistry))
	go func() {
		if err := server.Start(); err != nil {
			logging.WithError(err).Error("Health server failed")
		}
	}()
	go registry.Watch(ctx, 15*time.Second, pingers)

	runErr := consumer.Run(ctx, q)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.WithError(err).Warn("Health server shutdown")
	}

	status := consumer.GetStatus()
	logging.WithFields(map[string]interface{}{
		"handled":  status.Handled,
		"trades":   status.Trades,
		"failures": status.Failures,
	}).Info("Consumer drained")
	return runErr
}
