package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/walletmesh/wallet-indexer/internal/api"
	"github.com/walletmesh/wallet-indexer/internal/indexer"
	"github.com/walletmesh/wallet-indexer/internal/metrics"
	"github.com/walletmesh/wallet-indexer/internal/rpc"
	"github.com/walletmesh/wallet-indexer/internal/rpc/evm"
	"github.com/walletmesh/wallet-indexer/internal/worker"
	"github.com/walletmesh/wallet-indexer/pkg/cache/txcache"
	"github.com/walletmesh/wallet-indexer/pkg/common/config"
	"github.com/walletmesh/wallet-indexer/pkg/common/logger"
	"github.com/walletmesh/wallet-indexer/pkg/events"
	"github.com/walletmesh/wallet-indexer/pkg/retry"
	"github.com/walletmesh/wallet-indexer/pkg/store/ledger"
)

func main() {
	var (
		configPath string
		debug      bool
	)

	root := &cobra.Command{
		Use:   "wallet-indexer",
		Short: "Custodial wallet on-chain transfer indexer",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the indexer and its API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, debug)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to config file")
	runCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logs")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger.Init(&logger.Options{Level: level, TimeFormat: time.RFC3339})

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.L().Info("Config loaded", "networks", len(cfg.Networks.Items))

	store, err := ledger.Open(cfg.Storage.Directory)
	if err != nil {
		return err
	}
	defer store.Close()

	cache := txcache.New(cfg.Cache.Capacity, cfg.Cache.TTL)

	emitter := events.NewNoop()
	if cfg.NATS.Enabled {
		err := retry.Constant(func() error {
			var err error
			emitter, err = events.NewNATSEmitter(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
			return err
		}, 2*time.Second, 3)
		if err != nil {
			return err
		}
	}
	defer emitter.Close()

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workers := make([]worker.Worker, 0, len(cfg.Networks.Items))
	for name, netCfg := range cfg.Networks.Items {
		chain, err := buildChainIndexer(name, netCfg)
		if err != nil {
			return err
		}
		if err := probeChain(ctx, chain); err != nil {
			return err
		}
		w := worker.NewTransferWorker(ctx, worker.Deps{
			Chain:   chain,
			Ledger:  store,
			Cache:   cache,
			Emitter: emitter,
			Metrics: m,
			Config:  netCfg,
		})
		workers = append(workers, w)
	}

	for _, w := range workers {
		w.Start()
	}

	mux := http.NewServeMux()
	api.NewServer(store, cache, m, cfg.API.PageSize).Register(mux, registry)
	srv := &http.Server{Addr: cfg.API.ListenAddr, Handler: mux}

	go func() {
		logger.L().Info("API listening", "addr", cfg.API.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("API server failed", "err", err)
		}
	}()

	logger.L().Info("Indexer is running... Press Ctrl+C to stop")
	<-ctx.Done()

	for _, w := range workers {
		w.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L().Warn("API shutdown incomplete", "err", err)
	}

	logger.L().Info("Indexer stopped")
	return nil
}

// probeChain verifies at least one node answers before the worker starts, so
// a misconfigured endpoint fails loudly at boot instead of on the first tick.
func probeChain(ctx context.Context, chain *indexer.ChainIndexer) error {
	return retry.Exponential(func() error {
		_, err := chain.LatestBlock(ctx)
		return err
	}, retry.ExponentialConfig{
		InitialInterval: time.Second,
		MaxElapsedTime:  30 * time.Second,
		OnRetry: func(err error, next time.Duration) {
			logger.L().Warn("Chain probe failed, retrying",
				"network", chain.Network(), "next", next, "err", err)
		},
	})
}

func buildChainIndexer(name string, netCfg config.NetworkConfig) (*indexer.ChainIndexer, error) {
	providers := make([]evm.API, 0, len(netCfg.Nodes))
	for _, node := range netCfg.Nodes {
		var auth *rpc.AuthConfig
		if node.Auth != nil {
			auth = &rpc.AuthConfig{
				Type:  rpc.AuthType(node.Auth.Type),
				Key:   node.Auth.Key,
				Value: node.Auth.Value,
			}
		}
		providers = append(providers, evm.NewClient(node.URL, auth, netCfg.Client.Timeout))
	}

	failover, err := rpc.NewFailover(name, providers)
	if err != nil {
		return nil, err
	}

	return indexer.NewChainIndexer(
		name,
		netCfg.ExplorerURL,
		failover,
		indexer.NewTokenRegistry(netCfg.Tokens),
		logger.With(slog.String("network", name)),
	), nil
}
