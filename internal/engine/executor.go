package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/execution"
	"github.com/JackAiTrading/FEDformer/internal/infra"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
	"github.com/JackAiTrading/FEDformer/pkg/safe"
)

// ErrThrottled means the symbol traded inside its minimum order interval.
var ErrThrottled = errors.New("minimum order interval not elapsed")

// batchParts is how many slices a Batch decision splits its size into;
// each decision places one slice.
const batchParts = 3

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// MinOrderInterval spaces orders per symbol on event time. 0 disables.
	MinOrderInterval time.Duration
	// LotSats rounds order sizes down to a multiple. 0 disables.
	LotSats quant.QtySats
	Logger  *slog.Logger
}

// Executor turns decisions into orders against an Exchange:
// Buy opens long when flat or short (closing the short first), Sell mirrors
// it, Flat closes with a reduce-only market order.
type Executor struct {
	ex       execution.Exchange
	throttle *infra.KeyedThrottle
	lot      quant.QtySats
	log      *slog.Logger
}

func NewExecutor(ex execution.Exchange, cfg ExecutorConfig) *Executor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		ex:       ex,
		throttle: infra.NewKeyedThrottle(cfg.MinOrderInterval),
		lot:      cfg.LotSats,
		log:      cfg.Logger,
	}
}

// Execute applies d at event time now and returns the orders it placed.
// Decisions that need no action return (nil, nil).
func (e *Executor) Execute(ctx context.Context, d domain.Decision, now quant.TimeStamp) ([]domain.Order, error) {
	if d.Action == domain.ActionHold {
		return nil, nil
	}

	risk, err := e.position(ctx, d.Symbol)
	if err != nil {
		return nil, err
	}
	amt := risk.PositionAmtSats

	var want domain.Side
	switch d.Action {
	case domain.ActionBuy:
		if amt > 0 {
			return nil, nil
		}
		want = domain.SideBuy
	case domain.ActionSell:
		if amt < 0 {
			return nil, nil
		}
		want = domain.SideSell
	case domain.ActionFlat:
		if amt == 0 {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("unknown action %d", d.Action)
	}

	if !e.throttle.Allow(d.Symbol, time.UnixMicro(int64(now))) {
		e.log.Debug("EXEC: throttled", slog.String("symbol", d.Symbol), slog.String("action", d.Action.String()))
		return nil, ErrThrottled
	}

	var placed []domain.Order
	if amt != 0 {
		o, err := e.closeAll(ctx, d.Symbol, amt)
		if err != nil {
			return nil, err
		}
		placed = append(placed, o)
	}
	if d.Action == domain.ActionFlat {
		return placed, nil
	}

	o, err := e.open(ctx, d, want, risk.MarkPriceMicros)
	if err != nil {
		return placed, err
	}
	if o.ID != "" {
		placed = append(placed, o)
	}
	return placed, nil
}

func (e *Executor) position(ctx context.Context, symbol string) (domain.PositionRisk, error) {
	rs, err := e.ex.GetPositionRisk(ctx, symbol)
	if err != nil {
		return domain.PositionRisk{}, fmt.Errorf("position risk %s: %w", symbol, err)
	}
	for _, r := range rs {
		if r.Symbol == symbol {
			return r, nil
		}
	}
	return domain.PositionRisk{Symbol: symbol}, nil
}

func (e *Executor) closeAll(ctx context.Context, symbol string, amt quant.QtySats) (domain.Order, error) {
	side := domain.SideSell
	if amt < 0 {
		side = domain.SideBuy
	}
	o, err := e.ex.PlaceMarketOrder(ctx, symbol, side, amt.Abs(), true)
	if err != nil {
		return domain.Order{}, fmt.Errorf("close %s: %w", symbol, err)
	}
	e.log.Info("EXEC: Position closed",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("qty", amt.Abs().String()))
	return o, nil
}

// open sizes a new position from available balance x confidence share.
func (e *Executor) open(ctx context.Context, d domain.Decision, side domain.Side, mark quant.PriceMicros) (domain.Order, error) {
	if mark <= 0 {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrNoPriceReference, d.Symbol)
	}
	avail, err := e.available(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	alloc := safe.MulDiv(int64(avail), d.Confidence.AllocationPermille(), 1000)
	qty := quant.QtySats(safe.MulDiv(alloc, quant.QtyScale, int64(mark)))
	if d.Style == domain.ExecBatch {
		qty /= batchParts
	}
	if e.lot > 0 {
		qty -= qty % e.lot
	}
	if qty <= 0 {
		e.log.Info("EXEC: size below minimum, skipped",
			slog.String("symbol", d.Symbol),
			slog.String("available", avail.String()))
		return domain.Order{}, nil
	}

	var o domain.Order
	if d.Style == domain.ExecLimit {
		o, err = e.ex.PlaceLimitOrder(ctx, d.Symbol, side, qty, mark, domain.TimeInForceGTC, false)
	} else {
		o, err = e.ex.PlaceMarketOrder(ctx, d.Symbol, side, qty, false)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("open %s %s: %w", side, d.Symbol, err)
	}

	e.log.Info("EXEC: Decision executed",
		slog.String("symbol", d.Symbol),
		slog.String("action", d.Action.String()),
		slog.String("qty", qty.String()),
		slog.String("order", o.ID),
		slog.String("reason", d.Reason))
	return o, nil
}

func (e *Executor) available(ctx context.Context) (quant.PriceMicros, error) {
	bals, err := e.ex.GetBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("balance: %w", err)
	}
	for _, b := range bals {
		if b.Asset == domain.QuoteAsset {
			return b.AvailableBalanceMicros, nil
		}
	}
	return 0, nil
}
