package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/macomeau/Artifacts-sub001/internal/activity"
	"github.com/macomeau/Artifacts-sub001/internal/config"
	"github.com/macomeau/Artifacts-sub001/internal/executor"
	"github.com/macomeau/Artifacts-sub001/internal/game"
)

func main() {
	var (
		envFile   string
		recovered bool
	)

	root := &cobra.Command{
		Use:   "worker <activity> <character> [args...]",
		Short: "Runs one activity loop for one character",
		Long: "Runs a single activity loop (" + strings.Join(activity.Names(), ", ") +
			") for one character until it completes or hits a terminal condition.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(args[0], args[1:], envFile, recovered)
		},
	}
	root.Flags().StringVar(&envFile, "env", "", "path to an env file loaded before configuration")
	root.Flags().BoolVar(&recovered, "recovered", false, "resume after an interrupted run")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(name string, args []string, envFile string, recovered bool) error {
	fn, err := activity.Lookup(name)
	if err != nil {
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Game.Token == "" {
		return fmt.Errorf("no API token configured, set ARTIFACTS_TOKEN")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	deps := &activity.Deps{
		Client: game.NewClient(cfg.Game.BaseURL, cfg.Game.Token, logger),
		Exec:   executor.New(logger),
		Logger: logger,
	}
	params := activity.Params{
		Character: args[0],
		Args:      args,
		Recovered: recovered,
	}

	logger.Info("Worker starting",
		zap.String("activity", name),
		zap.String("character", params.Character),
		zap.Bool("recovered", recovered))

	if err := fn(ctx, deps, params); err != nil {
		logger.Error("Activity failed", zap.Error(err))
		return err
	}
	logger.Info("Activity complete", zap.String("activity", name))
	return nil
}
