package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JackAiTrading/FEDformer/internal/app"
	"github.com/JackAiTrading/FEDformer/internal/infra"
)

func main() {
	configPath := flag.String("config", "", "config file (default: configs/config.yaml)")
	csvPath := flag.String("csv", "", "kline CSV, overrides backtest.csv_path")
	flag.Parse()

	if *csvPath != "" {
		os.Setenv(infra.EnvPrefix+"BACKTEST_CSV", *csvPath)
	}
	os.Setenv(infra.EnvPrefix+"MODE", "BACKTEST")

	bootstrap := app.NewBootstrap()
	bootstrap.ConfigPath = *configPath
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()
	infra.PrintBanner(os.Stdout, bootstrap.Config)

	runner, err := bootstrap.BuildBacktest()
	if err != nil {
		bootstrap.Log.Error("❌ Backtest setup failed", slog.Any("error", err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := runner.Run(ctx)
	if err != nil {
		bootstrap.Log.Error("❌ Backtest failed", slog.Any("error", err))
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		bootstrap.Log.Error("Failed to write report", slog.Any("error", err))
	}
}
