// =================================
// File: cmd/bot/main.go
// =================================
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/config"
	"github.com/rovshanmuradov/solana-trader/internal/logger"
	"github.com/rovshanmuradov/solana-trader/internal/trader"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "path to configuration file")
	tasksPath := flag.String("tasks", "configs/tasks.yaml", "path to entry tasks file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		fallback.Fatal("Failed to load configuration", zap.Error(err))
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		fallback.Fatal("Failed to initialize logger", zap.Error(err))
	}

	log.Info("Starting solana-trader",
		zap.String("config", *configPath),
		zap.Bool("simulate", cfg.Simulate))

	runner, err := trader.NewRunner(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize trader", zap.Error(err))
	}

	tasks, err := trader.LoadTasks(*tasksPath, cfg.DefaultSlippage, log.Logger)
	if err != nil {
		log.Fatal("Failed to load tasks", zap.Error(err))
	}
	log.Info("📋 Tasks loaded", zap.Int("count", len(tasks)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = runner.Run(ctx, tasks)
	runner.Shutdown()
	if err != nil {
		log.Error("Trading session ended with error", zap.Error(err))
		os.Exit(1)
	}
}
