package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

func px(s string) quant.PriceMicros {
	p, err := quant.ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

func qty(s string) quant.QtySats {
	q, err := quant.ParseQty(s)
	if err != nil {
		panic(err)
	}
	return q
}

type seqIDs struct{ n int }

func (s *seqIDs) next() string {
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

func newTestSim(t *testing.T, balance string) *SimulationClient {
	t.Helper()
	ids := &seqIDs{}
	var clock quant.TimeStamp
	return NewSimulationClient(SimConfig{
		InitialBalance: px(balance),
		Fees:           domain.CommissionPolicy{MakerRate: 500, TakerRate: 500},
		Leverage:       1,
		Clock: func() quant.TimeStamp {
			clock++
			return clock
		},
		NewID:  ids.next,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func cash(t *testing.T, s *SimulationClient) quant.PriceMicros {
	t.Helper()
	bal, err := s.GetBalance(context.Background())
	if err != nil || len(bal) != 1 {
		t.Fatalf("GetBalance: %v %v", bal, err)
	}
	return bal[0].BalanceMicros
}

func TestSimulation_Scenario(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "10000")

	if err := sim.UpdateMarketPrice(ctx, "BTCUSDT", px("100")); err != nil {
		t.Fatal(err)
	}
	o, err := sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), false)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != domain.OrderStatusFilled || o.AvgFillMicros != px("100") {
		t.Fatalf("market order = %+v", o)
	}
	if got := cash(t, sim); got != px("9899.95") {
		t.Fatalf("cash after open = %s", got)
	}

	if err := sim.UpdateMarketPrice(ctx, "BTCUSDT", px("110")); err != nil {
		t.Fatal(err)
	}
	risk, _ := sim.GetPositionRisk(ctx, "BTCUSDT")
	if risk[0].UnrealizedPnLMicros != px("10") || risk[0].EntryPriceMicros != px("100") {
		t.Fatalf("risk = %+v", risk[0])
	}

	if _, err := sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideSell, qty("1"), true); err != nil {
		t.Fatal(err)
	}
	if got := cash(t, sim); got != px("10009.895") {
		t.Errorf("cash after close = %s; want 10009.895", got)
	}

	trades := sim.Trades()
	if len(trades) != 2 {
		t.Fatalf("trades = %d", len(trades))
	}
	if trades[1].RealizedPnLMicros != px("10") || trades[1].CommissionMicros != px("0.055") || !trades[1].Closing {
		t.Errorf("closing trade = %+v", trades[1])
	}
}

func TestSimulation_MarketWithoutPrice(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "1000")

	_, err := sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), false)
	if !errors.Is(err, domain.ErrNoPriceReference) {
		t.Fatalf("err = %v; want ErrNoPriceReference", err)
	}
	all, _ := sim.GetAllOrders(ctx, "BTCUSDT", OrderQuery{})
	if len(all) != 0 {
		t.Errorf("rejected market order must not be recorded, got %d", len(all))
	}
}

func TestSimulation_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "100")
	_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("100"))

	before := sim.Snapshot()
	_, err := sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), false)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v; want ErrInsufficientBalance", err)
	}
	after := sim.Snapshot()
	if after.Ledger.CashMicros != before.Ledger.CashMicros || len(after.Orders) != 0 || len(after.Trades) != 0 {
		t.Errorf("state changed: %+v", after)
	}
	risk, _ := sim.GetPositionRisk(ctx, "BTCUSDT")
	if risk[0].PositionAmtSats != 0 {
		t.Errorf("position opened on rejection: %+v", risk[0])
	}
}

func TestSimulation_LimitFillMonotonicity(t *testing.T) {
	ticks := []string{"105", "103", "101", "100.000001", "100", "99", "101", "98"}

	tests := []struct {
		name      string
		side      domain.Side
		wantFirst int // index into ticks of the first fill
	}{
		{"buy fills at or below limit", domain.SideBuy, 4},
		{"sell fills at or above limit", domain.SideSell, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			sim := newTestSim(t, "10000")
			if tt.side == domain.SideSell {
				// seed a long so the sell has something to reduce
				_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("90"))
				if _, err := sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), false); err != nil {
					t.Fatal(err)
				}
			}

			o, err := sim.PlaceLimitOrder(ctx, "BTCUSDT", tt.side, qty("1"), px("100"), domain.TimeInForceGTC, false)
			if err != nil {
				t.Fatal(err)
			}
			if o.Status != domain.OrderStatusNew {
				t.Fatalf("limit order status = %s", o.Status)
			}

			for i, tick := range ticks {
				_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px(tick))
				got, _ := sim.GetOrder(ctx, "BTCUSDT", o.ID)
				filled := got.Status == domain.OrderStatusFilled
				if filled != (i >= tt.wantFirst) {
					t.Fatalf("tick %d (%s): filled=%v", i, tick, filled)
				}
				if filled && got.AvgFillMicros != px("100") {
					t.Fatalf("limit filled at %s; want limit price 100", got.AvgFillMicros)
				}
			}
		})
	}
}

func TestSimulation_LimitFillFIFO(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "10000")
	_ = sim.UpdateMarketPrice(ctx, "ETHUSDT", px("200"))

	first, _ := sim.PlaceLimitOrder(ctx, "ETHUSDT", domain.SideBuy, qty("1"), px("190"), domain.TimeInForceGTC, false)
	second, _ := sim.PlaceLimitOrder(ctx, "ETHUSDT", domain.SideBuy, qty("1"), px("195"), domain.TimeInForceGTC, false)

	_ = sim.UpdateMarketPrice(ctx, "ETHUSDT", px("180"))

	trades := sim.Trades()
	if len(trades) != 2 {
		t.Fatalf("trades = %d; want 2", len(trades))
	}
	if trades[0].OrderID != first.ID || trades[1].OrderID != second.ID {
		t.Errorf("fill order = %s,%s; want %s,%s", trades[0].OrderID, trades[1].OrderID, first.ID, second.ID)
	}
	// scale-in at 190 then 195
	risk, _ := sim.GetPositionRisk(ctx, "ETHUSDT")
	if risk[0].EntryPriceMicros != px("192.5") {
		t.Errorf("entry = %s; want 192.5", risk[0].EntryPriceMicros)
	}
}

func TestSimulation_LimitRefusedAtMatchIsCanceled(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "150")
	_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("120"))

	o, _ := sim.PlaceLimitOrder(ctx, "BTCUSDT", domain.SideBuy, qty("2"), px("100"), domain.TimeInForceGTC, false)
	_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("99"))

	got, _ := sim.GetOrder(ctx, "BTCUSDT", o.ID)
	if got.Status != domain.OrderStatusCanceled {
		t.Errorf("status = %s; want CANCELED", got.Status)
	}
	if len(sim.Trades()) != 0 || cash(t, sim) != px("150") {
		t.Error("refused limit must not trade")
	}
}

func TestSimulation_Cancel(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "1000")
	o, _ := sim.PlaceLimitOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), px("10"), "", false)
	if o.TimeInForce != domain.TimeInForceGTC {
		t.Errorf("default tif = %s", o.TimeInForce)
	}

	c, err := sim.CancelOrder(ctx, "BTCUSDT", o.ID)
	if err != nil || c.Status != domain.OrderStatusCanceled {
		t.Fatalf("cancel: %+v %v", c, err)
	}
	if _, err := sim.CancelOrder(ctx, "BTCUSDT", o.ID); !errors.Is(err, domain.ErrNotCancelable) {
		t.Errorf("second cancel err = %v", err)
	}
	if _, err := sim.CancelOrder(ctx, "BTCUSDT", "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("missing cancel err = %v", err)
	}
	if _, err := sim.CancelOrder(ctx, "ETHUSDT", o.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("wrong symbol cancel err = %v", err)
	}
	open, _ := sim.GetOpenOrders(ctx, "")
	if len(open) != 0 {
		t.Errorf("open orders = %d", len(open))
	}
}

func TestSimulation_CancelAll(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "1000")
	for i := 0; i < 3; i++ {
		_, _ = sim.PlaceLimitOrder(ctx, "BTCUSDT", domain.SideBuy, qty("0.01"), px("10"), domain.TimeInForceGTC, false)
	}
	_, _ = sim.PlaceLimitOrder(ctx, "ETHUSDT", domain.SideBuy, qty("0.01"), px("10"), domain.TimeInForceGTC, false)

	canceled, err := sim.CancelAllOrders(ctx, "BTCUSDT")
	if err != nil || len(canceled) != 3 {
		t.Fatalf("canceled = %d, %v", len(canceled), err)
	}
	open, _ := sim.GetOpenOrders(ctx, "")
	if len(open) != 1 || open[0].Symbol != "ETHUSDT" {
		t.Errorf("open = %+v", open)
	}
}

func TestSimulation_GetAllOrdersFilters(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "1000")
	var ids []string
	for i := 0; i < 5; i++ {
		o, _ := sim.PlaceLimitOrder(ctx, "BTCUSDT", domain.SideBuy, qty("0.01"), px("10"), domain.TimeInForceGTC, false)
		ids = append(ids, o.ID)
	}

	last2, _ := sim.GetAllOrders(ctx, "BTCUSDT", OrderQuery{Limit: 2})
	if len(last2) != 2 || last2[0].ID != ids[3] || last2[1].ID != ids[4] {
		t.Errorf("limit=2 -> %v", last2)
	}

	all, _ := sim.GetAllOrders(ctx, "BTCUSDT", OrderQuery{})
	start, end := all[1].CreatedUnixM, all[3].CreatedUnixM
	window, _ := sim.GetAllOrders(ctx, "BTCUSDT", OrderQuery{Start: start, End: end})
	if len(window) != 3 || window[0].ID != ids[1] {
		t.Errorf("window -> %v", window)
	}
}

func TestSimulation_ReduceOnlyRejectedWhenFlat(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "1000")
	_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("100"))
	if _, err := sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideSell, qty("1"), true); !errors.Is(err, domain.ErrReduceOnly) {
		t.Errorf("err = %v; want ErrReduceOnly", err)
	}
}

func TestSimulation_IOCCancelsWhenNotMarketable(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "1000")
	_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("100"))

	o, _ := sim.PlaceLimitOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), px("90"), domain.TimeInForceIOC, false)
	if o.Status != domain.OrderStatusCanceled {
		t.Errorf("IOC away from market = %s", o.Status)
	}
	o, _ = sim.PlaceLimitOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), px("101"), domain.TimeInForceIOC, false)
	if o.Status != domain.OrderStatusFilled || o.AvgFillMicros != px("101") {
		t.Errorf("marketable IOC = %+v", o)
	}
}

func TestSimulation_UpdateMarksEverySymbol(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "10000")
	_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("100"))
	_ = sim.UpdateMarketPrice(ctx, "ETHUSDT", px("50"))
	_, _ = sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), false)
	_, _ = sim.PlaceMarketOrder(ctx, "ETHUSDT", domain.SideSell, qty("2"), false)

	_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("101"))

	risk, _ := sim.GetPositionRisk(ctx, "")
	if len(risk) != 2 {
		t.Fatalf("risk rows = %d", len(risk))
	}
	// ETH is marked against its own last price, not BTC's tick.
	for _, r := range risk {
		switch r.Symbol {
		case "BTCUSDT":
			if r.UnrealizedPnLMicros != px("1") {
				t.Errorf("BTC pnl = %s", r.UnrealizedPnLMicros)
			}
		case "ETHUSDT":
			if r.UnrealizedPnLMicros != 0 || r.PositionAmtSats != -qty("2") {
				t.Errorf("ETH = %+v", r)
			}
		}
	}

	info, _ := sim.GetAccountInfo(ctx)
	if len(info.Positions) != 2 || info.TotalUnrealizedMicros != px("1") {
		t.Errorf("account info = %+v", info)
	}
}

type captureSink struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (c *captureSink) OnFill(_ context.Context, t domain.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trades = append(c.trades, t)
}

func TestSimulation_FillSinkAndConcurrentSymbols(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "1000")
	sink := &captureSink{}
	sim.AddFillSink(sink)

	symbols := []string{"A", "B", "C", "D"}
	for _, s := range symbols {
		_ = sim.UpdateMarketPrice(ctx, s, px("10"))
	}

	var wg sync.WaitGroup
	for _, s := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = sim.PlaceMarketOrder(ctx, sym, domain.SideBuy, qty("1"), false)
				_ = sim.UpdateMarketPrice(ctx, sym, px("10"))
			}
		}(s)
	}
	wg.Wait()

	if got := cash(t, sim); got < 0 {
		t.Fatalf("cash went negative: %s", got)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.trades) != len(sim.Trades()) {
		t.Errorf("sink saw %d trades, simulator recorded %d", len(sink.trades), len(sim.Trades()))
	}
	// 1000 cash buys at most 99 lots of 10 + 0.005 fee
	if len(sink.trades) != 99 {
		t.Errorf("fills = %d; want 99", len(sink.trades))
	}
}

func TestSimulation_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "1000")
	_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("100"))
	_, _ = sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), false)
	resting, _ := sim.PlaceLimitOrder(ctx, "BTCUSDT", domain.SideSell, qty("1"), px("120"), domain.TimeInForceGTC, true)

	restored := newTestSim(t, "0")
	restored.Restore(sim.Snapshot())

	if cash(t, restored) != cash(t, sim) {
		t.Errorf("cash %s != %s", cash(t, restored), cash(t, sim))
	}
	_ = restored.UpdateMarketPrice(ctx, "BTCUSDT", px("121"))
	got, _ := restored.GetOrder(ctx, "BTCUSDT", resting.ID)
	if got.Status != domain.OrderStatusFilled {
		t.Errorf("restored resting order did not match: %s", got.Status)
	}
}

func TestSimulation_InvalidInputs(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "1000")
	if err := sim.UpdateMarketPrice(ctx, "BTCUSDT", 0); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("zero tick: %v", err)
	}
	if _, err := sim.PlaceLimitOrder(ctx, "BTCUSDT", domain.SideBuy, 0, px("1"), "", false); !errors.Is(err, domain.ErrInvalidSize) {
		t.Errorf("zero qty limit: %v", err)
	}
	if _, err := sim.PlaceLimitOrder(ctx, "BTCUSDT", "HOLD", qty("1"), px("1"), "", false); !errors.Is(err, domain.ErrInvalidSide) {
		t.Errorf("bad side: %v", err)
	}
	if _, err := sim.SetLeverage(ctx, "BTCUSDT", 500); !errors.Is(err, domain.ErrInvalidLeverage) {
		t.Errorf("leverage 500: %v", err)
	}
	if lv, err := sim.SetLeverage(ctx, "BTCUSDT", 10); err != nil || lv != 10 {
		t.Errorf("leverage 10: %d %v", lv, err)
	}
	if mt, err := sim.SetMarginType(ctx, "BTCUSDT", domain.MarginIsolated); err != nil || mt != domain.MarginIsolated {
		t.Errorf("margin type: %s %v", mt, err)
	}
}

func TestSimulation_ShortCloseSettlement(t *testing.T) {
	tests := []struct {
		settle domain.Settlement
		want   string
	}{
		// 9899.95 + 1x50 - 0.025
		{domain.SettleNotional, "9949.925"},
		{domain.SettleSideAware, "10049.925"},
	}
	for _, tt := range tests {
		t.Run(string(tt.settle), func(t *testing.T) {
			ctx := context.Background()
			sim := NewSimulationClient(SimConfig{
				InitialBalance: px("10000"),
				Fees:           domain.CommissionPolicy{MakerRate: 500, TakerRate: 500},
				Leverage:       1,
				Settlement:     tt.settle,
				NewID:          (&seqIDs{}).next,
				Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
			_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("100"))
			if _, err := sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideSell, qty("1"), false); err != nil {
				t.Fatal(err)
			}
			if got := cash(t, sim); got != px("9899.95") {
				t.Fatalf("cash after short = %s", got)
			}
			_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("50"))
			if _, err := sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), true); err != nil {
				t.Fatal(err)
			}
			if got := cash(t, sim); got != px(tt.want) {
				t.Errorf("cash after close = %s; want %s", got, tt.want)
			}
			if tr := sim.Trades()[1]; tr.RealizedPnLMicros != px("50") {
				t.Errorf("realized = %s", tr.RealizedPnLMicros)
			}
		})
	}
}

// Quantities whose notional cannot be represented are rejected up front and
// leave the client usable.
func TestSimulation_OverflowingOrdersRejected(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "10000")
	huge := quant.QtySats(9e18)

	if err := sim.UpdateMarketPrice(ctx, "BTCUSDT", px("1000000")); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideBuy, huge, false); !errors.Is(err, domain.ErrInvalidSize) {
		t.Errorf("huge market: %v", err)
	}
	if _, err := sim.PlaceLimitOrder(ctx, "BTCUSDT", domain.SideBuy, huge, px("1000000"), domain.TimeInForceGTC, false); !errors.Is(err, domain.ErrInvalidSize) {
		t.Errorf("huge GTC limit: %v", err)
	}
	if open, _ := sim.GetOpenOrders(ctx, "BTCUSDT"); len(open) != 0 {
		t.Errorf("rejected limit rests: %+v", open)
	}

	// the next ticks and calls still go through
	if err := sim.UpdateMarketPrice(ctx, "BTCUSDT", px("999999")); err != nil {
		t.Fatal(err)
	}
	if got := cash(t, sim); got != px("10000") {
		t.Errorf("cash = %s", got)
	}
	if risk, _ := sim.GetPositionRisk(ctx, ""); len(risk) != 0 {
		t.Errorf("rejected orders left positions: %+v", risk)
	}

	if err := sim.UpdateMarketPrice(ctx, "ETHUSDT", px("100")); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.PlaceMarketOrder(ctx, "ETHUSDT", domain.SideBuy, qty("10"), false); err != nil {
		t.Fatal(err)
	}
	if err := sim.UpdateMarketPrice(ctx, "ETHUSDT", quant.PriceMicros(1<<62)); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("huge tick: %v", err)
	}
	if p, _ := sim.LastPrice("ETHUSDT"); p != px("100") {
		t.Errorf("rejected tick cached: %s", p)
	}
	if _, err := sim.PlaceMarketOrder(ctx, "ETHUSDT", domain.SideSell, qty("10"), true); err != nil {
		t.Errorf("close after rejected tick: %v", err)
	}
}

// A panic inside a locked section must not leave the mutex held.
func TestSimulation_PanicReleasesLock(t *testing.T) {
	ctx := context.Background()
	sim := newTestSim(t, "10000")
	sim.clock = func() quant.TimeStamp { panic("clock") }
	_ = sim.UpdateMarketPrice(ctx, "BTCUSDT", px("100"))

	func() {
		defer func() { _ = recover() }()
		_, _ = sim.PlaceMarketOrder(ctx, "BTCUSDT", domain.SideBuy, qty("1"), false)
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = sim.GetBalance(ctx)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("client lock still held after panic")
	}
}
