package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"nyxstore/internal/config"
	"nyxstore/internal/logutil"
	"nyxstore/internal/observability/metrics"
	"nyxstore/internal/observability/tracing"
	"nyxstore/internal/pd"
	pdgrpc "nyxstore/internal/pd/grpc"
	"nyxstore/pkg/api"
)

const lockFileName = "LOCK"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		dataDir    string
	)
	cmd := &cobra.Command{
		Use:          "nyxstore-pd",
		Short:        "Run the nyxstore placement driver",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadPDConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddress = addr
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to pd config")
	cmd.Flags().StringVar(&addr, "addr", "", "gRPC listen address (overrides config)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "PD data directory (overrides config)")
	return cmd
}

func run(ctx context.Context, cfg *config.PDConfig) error {
	logger, err := logutil.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.DataDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("data dir %s is used by another process", cfg.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	shutdownTracing, err := tracing.Setup(ctx, cfg.TracingConfig())
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	service, err := pd.NewPersistentService(cfg.DataDir, pd.WithLogger(logger.Named("pd")))
	if err != nil {
		return fmt.Errorf("create pd service: %w", err)
	}
	defer service.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	pdgrpc.Register(grpcServer, service)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(api.PDServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	if cfg.Metrics.Address != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := metrics.StartServer(ctx, cfg.Metrics.Address, reg, logger); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("pd server listening", zap.String("addr", lis.Addr().String()), zap.String("data_dir", cfg.DataDir))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})
	err = g.Wait()
	logger.Info("pd server stopped")
	return err
}
