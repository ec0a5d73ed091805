package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/escrow-hub/escrow-hub/internal/api/http"
	"github.com/escrow-hub/escrow-hub/internal/application/reconciler"
	"github.com/escrow-hub/escrow-hub/internal/application/supervisor"
	appTrade "github.com/escrow-hub/escrow-hub/internal/application/trade"
	"github.com/escrow-hub/escrow-hub/internal/config"
	"github.com/escrow-hub/escrow-hub/internal/domain/escrow"
	"github.com/escrow-hub/escrow-hub/internal/domain/trade"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/evm"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/keystore"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/memory"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/metrics"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/postgres"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/sse"
	"github.com/escrow-hub/escrow-hub/internal/migrations"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer closeStore()

	m := metrics.Trade()
	sseHub := sse.NewHub(cfg.SSEHeartbeat, logger)

	// escrow contract link
	var escrowClient escrow.Client
	var watcher *evm.Watcher
	var operator string
	if cfg.EVM.Enabled() {
		if !common.IsHexAddress(cfg.EVM.ContractAddress) {
			log.Fatalf("config error: ESCROW_CONTRACT_ADDRESS %q is not an address", cfg.EVM.ContractAddress)
		}
		contract := common.HexToAddress(cfg.EVM.ContractAddress)
		eth, err := evm.Dial(cfg.EVM.RPCURL)
		if err != nil {
			log.Fatalf("evm error: %v", err)
		}
		defer eth.Close()

		watcher = evm.NewWatcher(eth, repo, evm.WatcherConfig{
			Contract:      contract,
			Confirmations: cfg.EVM.Confirmations,
			StartBlock:    cfg.EVM.StartBlock,
			PollInterval:  cfg.EVM.PollInterval,
			BatchBlocks:   cfg.EVM.BatchBlocks,
		}, m, logger)

		keys, err := keystore.Parse(cfg.EVM.SignerKey, cfg.EVM.SignerKeyID)
		if err != nil {
			log.Fatalf("keystore error: %v", err)
		}
		if keys.Empty() {
			logger.Warn().Msg("ESCROW_SIGNER_KEY not set, lock and release requests will fail")
		} else {
			keyID, key, err := keys.DefaultKey(ctx)
			if err != nil {
				log.Fatalf("keystore error: %v", err)
			}
			client, err := evm.NewEscrowClient(eth, contract, big.NewInt(cfg.EVM.ChainID), key, logger)
			if err != nil {
				log.Fatalf("evm error: %v", err)
			}
			escrowClient = client
			operator = client.Operator().Hex()
			logger.Info().Str("key_id", keyID).Str("operator", operator).Msg("escrow signer loaded")
		}
	}

	// services
	tradeSvc := appTrade.NewService(repo, escrowClient, sseHub, m, logger)
	sup, err := supervisor.New(tradeSvc, repo, cfg.StageDeadlines, m, logger)
	if err != nil {
		log.Fatalf("supervisor error: %v", err)
	}
	rec := reconciler.New(tradeSvc, repo, reconciler.Config{
		OperatorAddress: operator,
		ParkTTL:         cfg.ReconcilerParkTTL,
		MaxParked:       cfg.ReconcilerMaxParked,
	}, m, logger)

	verifier, err := httpapi.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		log.Fatalf("auth error: %v", err)
	}
	apiServer := httpapi.NewServer(tradeSvc, verifier, httpapi.RateLimit{
		RequestsPerMinute: cfg.RateLimitPerMinute,
		Burst:             cfg.RateLimitBurst,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sseHub.Start(gctx)
		return nil
	})
	g.Go(func() error {
		return sup.Run(gctx, cfg.SupervisorInterval, cfg.SupervisorBatch)
	})
	if watcher != nil {
		events := make(chan escrow.Event, 256)
		g.Go(func() error {
			return watcher.Run(gctx, events)
		})
		g.Go(func() error {
			return rec.Run(gctx, events, cfg.ReconcilerFlushInterval)
		})
	}
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ServerAddr).Str("store", cfg.StoreDriver).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sseHub.Stop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("server stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (trade.Repository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn().Msg("using in-memory store, state is lost on restart")
		return memory.NewTradeRepository(), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.RunMigrations(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return postgres.NewTradeRepository(pool), pool.Close, nil
}
