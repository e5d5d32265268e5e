package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/api/tc"
	"github.com/escalopa/txcoord/internal/config"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/metrics"
	"github.com/escalopa/txcoord/internal/rpc"
	"github.com/escalopa/txcoord/internal/service"
	"github.com/escalopa/txcoord/internal/storage"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			logger.SetLevel(config.LogLevel())

			return serve(ctx)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional file with environment variables")

	return cmd
}

func serve(ctx context.Context) error {
	cfg, err := config.NewAppConfig(ctx)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	db, err := storage.NewDB(cfg.Badger.Path)
	if err != nil {
		return errors.Wrap(err, "open badger")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.ErrorKV(ctx, "close badger", "error", err)
		}
	}()

	caller := rpc.NewGRPCCaller()
	defer func() { _ = caller.Close() }()

	coord, err := service.New(ctx, cfg, caller, cfg.Coordinator.Channels, storage.NewRecoveryStore(db))
	if err != nil {
		return err
	}
	coord.Run()
	defer func() { _ = coord.Close() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return errors.Wrap(err, "register metrics")
	}

	srv := grpc.NewServer(tc.ServerOptions()...)
	tc.NewCoordinator(coord).Register(srv)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)

	lis, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.Server.ListenAddr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errG, ctx := errgroup.WithContext(ctx)

	errG.Go(func() error {
		logger.WarnKV(ctx, "grpc server listening", "addr", cfg.Server.ListenAddr)
		return srv.Serve(lis)
	})

	errG.Go(func() error {
		err := metricsSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	errG.Go(func() error {
		state, err := coord.ChangeRole(ctx, cfg.Coordinator.InitialRole)
		if err != nil {
			return errors.Wrap(err, "apply initial role")
		}
		if state == core.StateActive {
			healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		}
		logger.WarnKV(ctx, "initial role applied", "state", state)
		return nil
	})

	errG.Go(func() error {
		<-ctx.Done()
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.ErrorKV(ctx, "shutdown metrics server", "error", err)
		}

		srv.GracefulStop()
		return nil
	})

	err = errG.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
