package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JackAiTrading/FEDformer/internal/app"
	"github.com/JackAiTrading/FEDformer/internal/infra"
	"github.com/JackAiTrading/FEDformer/internal/infra/binance"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "", "config file (default: configs/config.yaml)")
	pprofAddr := flag.String("pprof", "localhost:6060", "pprof listen address, empty to disable")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	bootstrap.ConfigPath = *configPath
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()
	cfg := bootstrap.Config
	log := bootstrap.Log
	infra.PrintBanner(os.Stdout, cfg)

	if cfg.Trading.Mode != "PAPER" {
		log.Error("❌ cmd/app runs PAPER mode only; use cmd/backtest for BACKTEST", slog.String("mode", cfg.Trading.Mode))
		return
	}

	// 2. Pprof Server (for performance profiling)
	if *pprofAddr != "" {
		go func() {
			log.Info("🕵️ Pprof server started", slog.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Engine: snapshot restore + WAL replay happen here
	if err := bootstrap.BuildEngine(ctx); err != nil {
		log.Error("❌ Engine setup failed", slog.Any("error", err))
		return
	}
	seq := bootstrap.Sequencer

	done := make(chan struct{})
	go func() {
		defer close(done)
		seq.Run(ctx)
	}()
	log.InfoContext(ctx, "✅ Sequencer (Hotpath) started", slog.Uint64("next_seq", seq.GetNextSeq()))

	// 5. Mark-price feed (Gateway); numbering continues after the WAL
	nextSeq := seq.GetNextSeq() - 1
	feed := binance.NewMarkPriceWorker(cfg.Feed.WSURL, cfg.Trading.Symbols, seq.Inbox(), &nextSeq, log, nil)
	feed.Base().ReadTimeout = time.Duration(cfg.Feed.ReadTimeoutSec) * time.Second
	feed.Base().Breaker = infra.NewCircuitBreaker(infra.CircuitBreakerConfig{
		Name:             feed.ID(),
		FailureThreshold: cfg.Feed.FailureThreshold,
		SuccessThreshold: 1,
		Timeout:          time.Duration(cfg.Feed.BreakerCooldownSec) * time.Second,
		Logger:           log,
	})
	if err := feed.Connect(ctx); err != nil {
		log.Error("Failed to connect mark-price feed", slog.Any("error", err))
	}
	defer feed.Disconnect()
	log.InfoContext(ctx, "✅ MarkPriceWorker started", slog.String("url", feed.GetURL()))

	log.InfoContext(ctx, "✨ Simulator fully operational. Press Ctrl+C to exit.")
	<-ctx.Done()
	<-done

	log.Info("👋 Shutting down gracefully...")
	if info, err := bootstrap.Sim.GetAccountInfo(context.Background()); err == nil {
		log.Info("📒 Final account",
			slog.String("wallet", info.TotalWalletBalanceMicros.String()),
			slog.String("unrealized", info.TotalUnrealizedMicros.String()),
			slog.String("available", info.AvailableBalanceMicros.String()),
			slog.Int("trades", len(bootstrap.Sim.Trades())))
	}
}
