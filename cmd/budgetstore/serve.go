package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/nainya/budgetstore/internal/config"
	"github.com/nainya/budgetstore/internal/logger"
	"github.com/nainya/budgetstore/internal/metrics"
	"github.com/nainya/budgetstore/internal/server"
	"github.com/nainya/budgetstore/pkg/engine"
	"github.com/nainya/budgetstore/pkg/journal"
	"github.com/nainya/budgetstore/pkg/storage"
)

// gcDiscardRatio is the share of stale data a value log file needs before GC rewrites it
const gcDiscardRatio = 0.5

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.InitGlobalLogger(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
	})
	log := logger.GetGlobalLogger()
	log.LogServerStart(cfg.Server.GRPCPort, cfg.Storage.Path)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	kv := &storage.KV{
		Path:       cfg.Storage.Path,
		InMemory:   cfg.Storage.InMemory,
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     log.GetZerolog(),
	}
	if err := kv.Open(); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer kv.Close()

	j := &journal.Journal{
		Path:        cfg.Journal.Path,
		MaxFileSize: cfg.Journal.MaxFileSize,
		SyncWrites:  cfg.Journal.SyncWrites,
	}
	if err := j.Open(); err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	engineLog := log.WithFields(map[string]interface{}{
		"db_path":      cfg.Storage.Path,
		"journal_path": cfg.Journal.Path,
	})
	eng, err := engine.New(engine.Deps{
		KV:      kv,
		Journal: j,
		Logger:  engineLog,
		Metrics: m,
		Options: engine.Options{
			SeverityThreshold: cfg.Engine.SeverityThreshold,
			PriceFloorRatio:   cfg.Engine.PriceFloorRatio,
			SessionTimeout:    cfg.Engine.SessionTimeout,
			FeedConcurrency:   cfg.Engine.FeedConcurrency,
			FeedRatePerSecond: cfg.Engine.FeedRatePerSecond,
			FeedBurst:         cfg.Engine.FeedBurst,
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go eng.RunMaintenance(ctx, cfg.Engine.SweepInterval, cfg.Storage.GCInterval, func() error {
		start := time.Now()
		err := kv.RunGC(gcDiscardRatio)
		log.LogStoreOperation("value_log_gc", time.Since(start), err)
		return err
	})
	go m.RunUptime(ctx.Done())

	var ready atomic.Bool
	obs := server.NewObservabilityServer(cfg.Server.MetricsPort, reg, ready.Load, log)
	go func() {
		if err := obs.Start(); err != nil {
			log.Error("Observability server stopped").Err(err).Send()
		}
	}()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, log)),
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
	)
	server.NewServer(eng, log).Register(grpcServer)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(lis)
	}()
	ready.Store(true)
	log.LogServerReady(cfg.Server.GRPCPort)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
	}

	log.LogServerShutdown()
	ready.Store(false)
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return obs.Shutdown(shutdownCtx)
}
