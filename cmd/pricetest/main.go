package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/event"
	"github.com/JackAiTrading/FEDformer/internal/infra/binance"
)

// pricetest prints live Binance mark prices as the simulator sees them:
// fixed-point micros, no float64 on the way in.
func main() {
	symbols := flag.String("symbols", "BTCUSDT,ETHUSDT", "comma separated symbols")
	count := flag.Int("n", 10, "tickers to print before exiting")
	url := flag.String("url", binance.DefaultWSURL, "websocket base URL")
	timeout := flag.Duration("timeout", 30*time.Second, "give up after")
	flag.Parse()

	fmt.Println("=== FEDformer Fixed-Point Mark Price Check ===")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	tickers := make(chan domain.Ticker, 64)
	inbox := make(chan event.Event, 64)
	var seq uint64

	w := binance.NewMarkPriceWorker(*url, strings.Split(*symbols, ","), inbox, &seq, log, func(t domain.Ticker) {
		select {
		case tickers <- t:
		default:
		}
	})
	if err := w.Connect(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}
	defer w.Disconnect()

	for printed := 0; printed < *count; {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "stopped:", ctx.Err())
			return
		case ev := <-inbox:
			if mu, ok := ev.(*event.MarketUpdateEvent); ok {
				event.ReleaseMarketUpdateEvent(mu)
			}
		case t := <-tickers:
			printed++
			fmt.Printf("📊 %s @ %s\n", t.Symbol, time.UnixMicro(int64(t.EventUnixM)).UTC().Format(time.RFC3339))
			fmt.Printf("   MarkPriceMicros:  %d ($%s)\n", t.MarkPriceMicros, t.MarkPriceMicros)
			fmt.Printf("   IndexPriceMicros: %d ($%s)\n", t.IndexPriceMicros, t.IndexPriceMicros)
			fmt.Printf("   Basis:            %d micros (1%% = 10000)\n", t.BasisMicros())
			fmt.Printf("   Funding rate:     %s\n", t.FundingRate)
			fmt.Println()
		}
	}
	fmt.Println("✅ 모든 가격이 float64 없이 int64로 처리됨!")
}
