package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/execution"
	"github.com/JackAiTrading/FEDformer/internal/infra"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// integration runs the reference account scenario through the full
// Exchange surface and exits non-zero on any mismatch:
// 10000 USDT, open 1@100, mark 110, close, expect 10009.895.
const scenarioConfig = `
trading:
  mode: BACKTEST
  symbols: [BTCUSDT]
  initial_balance: "10000"
fees:
  maker: "0.0005"
  taker: "0.0005"
backtest:
  csv_path: unused.csv
logging:
  level: info
`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("🚀 Starting simulator integration scenario...")

	cfg, err := infra.ParseConfig([]byte(scenarioConfig))
	if err != nil {
		fail("config", err)
	}
	sim, err := execution.NewExecutionFactory(cfg, logger).CreateSimulation(nil, nil)
	if err != nil {
		fail("factory", err)
	}
	var ex execution.Exchange = execution.NewLoggingExchange(sim, logger)
	defer ex.Close()
	ctx := context.Background()
	const sym = "BTCUSDT"

	// STEP 1: resting limit far below the market, then cancel it
	must("mark 100", ex.UpdateMarketPrice(ctx, sym, price("100")))
	lim, err := ex.PlaceLimitOrder(ctx, sym, domain.SideBuy, qty("0.001"), price("10"), domain.TimeInForceGTC, false)
	if err != nil {
		fail("place limit", err)
	}
	if _, err := ex.CancelOrder(ctx, sym, lim.ID); err != nil {
		fail("cancel", err)
	}
	slog.Info("✅ STEP 1: limit placed and canceled", "oid", lim.ID)

	// STEP 2: open 1@100
	if _, err := ex.PlaceMarketOrder(ctx, sym, domain.SideBuy, qty("1"), false); err != nil {
		fail("open", err)
	}
	expectBalance(ctx, ex, "9899.95")

	// STEP 3: mark 110, unrealized +10
	must("mark 110", ex.UpdateMarketPrice(ctx, sym, price("110")))
	risk, err := ex.GetPositionRisk(ctx, sym)
	if err != nil {
		fail("risk", err)
	}
	if risk[0].UnrealizedPnLMicros != price("10") {
		fail("unrealized", fmt.Errorf("got %s, want 10", risk[0].UnrealizedPnLMicros))
	}

	// STEP 4: close
	if _, err := ex.PlaceMarketOrder(ctx, sym, domain.SideSell, qty("1"), true); err != nil {
		fail("close", err)
	}
	expectBalance(ctx, ex, "10009.895")
	slog.Info("🎉 Integration scenario passed!")
}

func expectBalance(ctx context.Context, ex execution.Exchange, want string) {
	bals, err := ex.GetBalance(ctx)
	if err != nil {
		fail("balance", err)
	}
	if bals[0].BalanceMicros != price(want) {
		fail("balance", fmt.Errorf("got %s, want %s", bals[0].BalanceMicros, want))
	}
	slog.Info("✅ Balance", "usdt", bals[0].BalanceMicros.String())
}

func price(s string) quant.PriceMicros { return quant.ToPriceMicrosStr(s) }
func qty(s string) quant.QtySats       { return quant.ToQtySatsStr(s) }

func must(step string, err error) {
	if err != nil {
		fail(step, err)
	}
}

func fail(step string, err error) {
	slog.Error("❌ "+step+" failed", "error", err)
	os.Exit(1)
}
