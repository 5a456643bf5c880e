package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitos/credit_line/internal/config"
	"github.com/vitos/credit_line/internal/infrastructure/chain"
	"github.com/vitos/credit_line/internal/infrastructure/exchange"
	"github.com/vitos/credit_line/internal/infrastructure/logger"
	"github.com/vitos/credit_line/internal/infrastructure/metrics"
	"github.com/vitos/credit_line/internal/infrastructure/scheduler"
	"github.com/vitos/credit_line/internal/infrastructure/storage"
	"github.com/vitos/credit_line/internal/usecase"
	"github.com/vitos/credit_line/internal/web"
	"go.uber.org/zap"
)

const maintenanceInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config file")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	assets, err := cfg.AssetSet()
	if err != nil {
		log.Fatal("Invalid asset configuration", zap.Error(err))
	}

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()
	locker := storage.NewSQLiteLocker(store, storage.LockRetry{
		Attempts: cfg.Lock.RetryCount,
		Delay:    cfg.Lock.RetryDelay,
		Jitter:   cfg.Lock.Jitter,
	}, log.Named("lock"))

	// 4. Init Chain
	rpc, err := chain.Dial(cfg.Chain.RPCURL)
	if err != nil {
		log.Fatal("Failed to dial rpc", zap.Error(err))
	}
	defer rpc.Close()
	pool := common.HexToAddress(cfg.Chain.PoolAddress)
	oracle := chain.NewPoolOracle(rpc, pool)
	balances := chain.NewERC20Reader(rpc)
	txs := chain.NewTxBuilder(pool)

	// 5. Init Remote APIs
	swapClient := exchange.NewClient(cfg.Swap.APIKey, cfg.Swap.APISecret, cfg.Swap.BaseURL, cfg.Swap.RequestsPerSecond)
	swaps := exchange.NewSwapAdapter(swapClient, cfg.Swap.SlippageBips)
	relayClient := exchange.NewClient(cfg.Relay.APIKey, cfg.Relay.APISecret, cfg.Relay.BaseURL, cfg.Relay.RequestsPerSecond)
	signers := exchange.NewSignerRelay(relayClient, log.Named("relay"))

	// 6. Init Services
	m := metrics.Credit()
	sched := scheduler.NewHTTPRetryScheduler(nil, m, log.Named("scheduler"))
	defer sched.Close()

	watcher := usecase.NewBalanceWatcher(balances, cfg.Limits.PollInterval, log.Named("watcher"))
	financing := usecase.NewFinancingPlanner(assets, oracle, balances, txs, watcher, usecase.FinancingConfig{
		MaxUtilizationPercent: cfg.Limits.MaxUtilizationPercent,
		BorrowTimeout:         cfg.Limits.BorrowTimeout,
		Treasury:              common.HexToAddress(cfg.Fees.Treasury),
	}, log.Named("financing"))
	rebalancer := usecase.NewStablecoinRebalancer(balances, swaps, swaps, watcher, cfg.Limits.SwapTimeout, log.Named("rebalancer"))
	repayment := usecase.NewRepaymentPlanner(assets, oracle, balances, txs, rebalancer, watcher, cfg.Limits.RepayTimeout, log.Named("repayment"))

	fees := usecase.FeeSchedule{
		DefaultBips: cfg.Fees.DefaultBips,
		ByProvider:  cfg.Fees.ByProvider,
		Floor:       config.USDToNative(cfg.Fees.FloorUSD),
	}
	hub := web.NewHub(log.Named("ws"))
	ledger := usecase.NewIntentLedger(store, log.Named("ledger"))
	coordinator := usecase.NewCoordinator(ledger, store, signers, locker, sched, financing, repayment, store, hub, m,
		usecase.CoordinatorConfig{
			BaseURI: cfg.Scheduler.BaseURI,
			Secret:  cfg.Scheduler.Secret,
			Policy:  cfg.RetryPolicy(),
			LockTTL: cfg.Lock.TTL,
			Fees:    fees,
		}, log.Named("coordinator"))
	svc := usecase.NewCreditLineService(coordinator, financing, repayment, oracle, store, store, usecase.CreditLineConfig{
		Fees:    fees,
		MinSend: config.USDToNative(cfg.Fees.MinSendUSD),
		ViewTTL: cfg.Limits.PositionCacheTTL,
	}, log.Named("service"))

	// 7. Wait for Shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go maintain(ctx, store, svc, cfg.Limits.StuckAfter, log.Named("maintenance"))

	// 8. Start Web Server
	server := web.NewServer(web.ServerConfig{
		Port:       cfg.Server.Port,
		StuckAfter: cfg.Limits.StuckAfter,
	}, svc, coordinator, hub, web.NewRateLimiter(float64(cfg.Server.RequestsPerMinute), cfg.Server.RequestsPerMinute), log.Named("web"))
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("Web server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}

// maintain prunes expired views and reports intents that never completed.
func maintain(ctx context.Context, store *storage.SQLiteStore, svc *usecase.CreditLineService, stuckAfter time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := store.PruneViews(ctx); err != nil {
			log.Warn("Failed to prune views", zap.Error(err))
		} else if n > 0 {
			log.Debug("Pruned expired views", zap.Int64("rows", n))
		}

		stuck, err := svc.StuckIntents(ctx, stuckAfter, 100)
		if err != nil {
			log.Warn("Failed to list stuck intents", zap.Error(err))
			continue
		}
		for _, in := range stuck {
			log.Warn("Intent not completed",
				zap.String("intent", in.ID),
				zap.String("kind", string(in.Kind)),
				zap.String("owner", in.OwnerKey),
				zap.Time("created_at", in.CreatedAt))
		}
	}
}
