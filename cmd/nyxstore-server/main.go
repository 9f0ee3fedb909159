package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nyxstore/internal/config"
	"nyxstore/internal/logutil"
	"nyxstore/internal/observability/metrics"
	"nyxstore/internal/observability/tracing"
	"nyxstore/internal/pd"
	pdgrpc "nyxstore/internal/pd/grpc"
	"nyxstore/internal/raftstore"
	"nyxstore/internal/raftstore/message"
	"nyxstore/internal/raftstore/worker"
	regionpkg "nyxstore/internal/region"
	"nyxstore/internal/util/bgworker"
)

// firstRegionID and firstPeerID name the region covering the whole keyspace
// that the first store creates.
const (
	firstRegionID regionpkg.ID = 1
	firstPeerID   uint64       = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		storeID    uint64
		pdEndpoint string
		dataDir    string
	)
	cmd := &cobra.Command{
		Use:          "nyxstore-server",
		Short:        "Run a nyxstore store node",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig(configPath)
			if err != nil {
				return err
			}
			if storeID != 0 {
				cfg.StoreID = storeID
			}
			if pdEndpoint != "" {
				cfg.PD.Endpoint = pdEndpoint
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to server config")
	cmd.Flags().Uint64Var(&storeID, "store-id", 0, "store id (overrides config)")
	cmd.Flags().StringVar(&pdEndpoint, "pd", "", "PD endpoint (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	return cmd
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
	logger, err := logutil.New(cfg.Log)
	if err != nil {
		return err
	}
	logger = logger.With(zap.Uint64("store_id", cfg.StoreID))
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := tracing.Setup(ctx, cfg.TracingConfig())
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := pebble.Open(cfg.DataDir, &pebble.Options{})
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("close engine failed", zap.Error(err))
		}
	}()

	client, err := pdgrpc.NewClient(cfg.PD.Endpoint, nil, pdgrpc.WithRequestTimeout(cfg.PD.RequestTimeout))
	if err != nil {
		return fmt.Errorf("connect pd: %w", err)
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pdCollector := metrics.NewPDCollector(reg, "")
	storeCollector := metrics.NewStoreCollector(reg, "")

	g, gctx := errgroup.WithContext(ctx)

	ch := message.NewSendCh("raftstore", cfg.Raftstore.MessageCapacity)
	pdWorker := bgworker.New[worker.PDTask]("pd-worker", cfg.Workers.PDQueueCapacity, logger)
	compactWorker := bgworker.New[worker.CompactTask]("compact-worker", cfg.Workers.CompactQueueCapacity, logger)
	defer compactWorker.Stop()
	defer pdWorker.Stop()

	pdRunner := worker.NewPDRunner(client, ch,
		worker.WithObserver(pdCollector),
		worker.WithLogger(logger.Named("pd-worker")))
	if err := pdWorker.Start(gctx, pdRunner); err != nil {
		return err
	}
	compactRunner := worker.NewCompactRunner(db, pdCollector, logger.Named("compact-worker"))
	if err := compactWorker.Start(gctx, compactRunner); err != nil {
		return err
	}

	store, err := raftstore.New(cfg.RaftstoreConfig(), db, ch, pdWorker, compactWorker, logger.Named("raftstore"))
	if err != nil {
		return err
	}
	if err := bootstrap(ctx, cfg.StoreID, store, client, logger); err != nil {
		return err
	}

	if cfg.Metrics.Address != "" {
		if err := metrics.StartServer(gctx, cfg.Metrics.Address, reg, logger); err != nil {
			return err
		}
	}
	g.Go(func() error {
		storeCollector.Sample(gctx, cfg.Metrics.SampleInterval, store.Diagnostics)
		return nil
	})
	g.Go(func() error {
		return store.Run(gctx)
	})

	logger.Info("store started",
		zap.String("addr", cfg.Address),
		zap.String("pd", cfg.PD.Endpoint),
		zap.String("data_dir", cfg.DataDir))
	err = g.Wait()
	ch.Close()
	logger.Info("store stopped")
	return err
}

// bootstrap makes sure a fresh store hosts the first region when the cluster
// has none, or its existing peer of it otherwise.
func bootstrap(ctx context.Context, storeID uint64, store *raftstore.Store, client *pdgrpc.Client, logger *zap.Logger) error {
	if len(store.Regions()) > 0 {
		return nil
	}
	first := regionpkg.Region{
		ID:     firstRegionID,
		Epoch:  regionpkg.Epoch{Version: 1, ConfVersion: 1},
		Peers:  []regionpkg.Peer{{ID: firstPeerID, StoreID: storeID}},
		Leader: firstPeerID,
	}
	err := client.Bootstrap(ctx, first)
	switch {
	case err == nil:
		logger.Info("bootstrapped cluster", zap.Stringer("region", first))
		return store.Bootstrap(first)
	case pd.IsRegionExistsError(err):
		known, err := client.GetRegionByID(ctx, firstRegionID)
		if err != nil {
			return fmt.Errorf("fetch first region: %w", err)
		}
		if known == nil {
			return nil
		}
		if _, ok := known.FindPeerByStore(storeID); !ok {
			logger.Info("joining cluster without regions")
			return nil
		}
		return store.Bootstrap(*known)
	default:
		return fmt.Errorf("bootstrap cluster: %w", err)
	}
}
