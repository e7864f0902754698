package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/macomeau/Artifacts-sub001/internal/config"
	"github.com/macomeau/Artifacts-sub001/internal/control"
	"github.com/macomeau/Artifacts-sub001/internal/monitor"
	"github.com/macomeau/Artifacts-sub001/internal/storage"
	"github.com/macomeau/Artifacts-sub001/internal/supervisor"
)

func main() {
	envFile := flag.String("env", "", "path to an env file loaded before configuration")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Connect to NATS with retry
	opts := []nats.Option{
		nats.Name("task-supervisor"),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	store, err := storage.NewTaskStore(logger, cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open task store", zap.Error(err))
	}
	defer store.Close()

	sup := supervisor.New(store, supervisor.Config{
		WorkerBinary:         cfg.Supervisor.WorkerBinary,
		EnvFile:              cfg.Supervisor.EnvFile,
		DefaultCharacter:     cfg.Supervisor.DefaultCharacter,
		AllowedWorkers:       cfg.Supervisor.AllowedWorkers,
		MaxConcurrentWorkers: cfg.Supervisor.MaxConcurrentWorkers,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := control.NewService(nc, js, sup, logger)
	if err := service.Start(ctx); err != nil {
		logger.Fatal("Failed to start control service", zap.Error(err))
	}
	defer service.Stop()

	// Relaunch tasks interrupted by the previous shutdown or crash.
	if err := sup.Recover(ctx); err != nil {
		logger.Error("Recovery pass failed", zap.Error(err))
	}

	// Nightly retention sweep keeps the last known row per character.
	retention := time.Duration(cfg.Supervisor.RetentionDays) * 24 * time.Hour
	c := cron.New()
	if _, err := c.AddFunc("0 3 * * *", func() {
		removed, err := store.Sweep(ctx, retention)
		if err != nil {
			logger.Error("Retention sweep failed", zap.Error(err))
			return
		}
		logger.Info("Retention sweep complete", zap.Int64("removed", removed))
	}); err != nil {
		logger.Fatal("Failed to schedule retention sweep", zap.Error(err))
	}
	c.Start()
	defer c.Stop()

	stats := monitor.NewStatsCollector(nc, sup, cfg.Supervisor.StatsInterval, logger)
	stats.Start(ctx)
	defer stats.Stop()

	logger.Info("Supervisor started",
		zap.String("worker_binary", cfg.Supervisor.WorkerBinary),
		zap.Int("max_concurrent", cfg.Supervisor.MaxConcurrentWorkers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Pause running tasks so the next start recovers them.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", zap.Error(err))
	}
	logger.Info("Supervisor stopped")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Log.Development {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
