package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/engine"
	"github.com/JackAiTrading/FEDformer/internal/execution"
	"github.com/JackAiTrading/FEDformer/internal/feature"
	"github.com/JackAiTrading/FEDformer/internal/strategy"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// SimBuilder builds the simulator on the runner's bar clock.
type SimBuilder func(clock func() quant.TimeStamp) (*execution.SimulationClient, error)

// RunnerConfig configures a bar-by-bar backtest.
type RunnerConfig struct {
	Frame    *feature.Frame
	Strategy strategy.Strategy
	NewSim   SimBuilder
	Executor engine.ExecutorConfig

	// Warmup bars reach the strategy but may not trade.
	Warmup      int
	PeriodsYear int
	// CloseAtEnd flattens every position on the last bar.
	CloseAtEnd bool
	Logger     *slog.Logger
}

// Runner drives the simulator from a feature frame: each bar marks the
// market at its close, asks the strategy, executes, then records equity.
type Runner struct {
	cfg  RunnerConfig
	sim  *execution.SimulationClient
	exec *engine.Executor
	now  quant.TimeStamp
	log  *slog.Logger
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Frame == nil || cfg.Strategy == nil || cfg.NewSim == nil {
		return nil, errors.New("backtest: frame, strategy and simulator are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PeriodsYear <= 0 {
		cfg.PeriodsYear = 252
	}
	r := &Runner{cfg: cfg, log: cfg.Logger}
	sim, err := cfg.NewSim(r.clock)
	if err != nil {
		return nil, fmt.Errorf("backtest: build simulator: %w", err)
	}
	r.sim = sim
	if cfg.Executor.Logger == nil {
		cfg.Executor.Logger = cfg.Logger
	}
	r.exec = engine.NewExecutor(sim, cfg.Executor)
	return r, nil
}

func (r *Runner) clock() quant.TimeStamp { return r.now }

// Sim exposes the simulator for post-run inspection.
func (r *Runner) Sim() *execution.SimulationClient { return r.sim }

// Run walks every bar once.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	f := r.cfg.Frame
	equity := make([]EquityPoint, 0, f.Len())

	for step, bar := range f.Bars {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		r.now = bar.CloseTime
		if r.now == 0 {
			r.now = bar.OpenTime
		}
		if err := r.sim.UpdateMarketPrice(ctx, f.Symbol, bar.Close); err != nil {
			return Report{}, fmt.Errorf("step %d: %w", step, err)
		}

		d := r.cfg.Strategy.OnMarketUpdate(domain.MarketState{
			Symbol:          f.Symbol,
			PriceMicros:     bar.Close,
			TotalQtySats:    bar.Volume,
			LastUpdateUnixM: r.now,
			Ticks:           uint64(step + 1),
		})
		if step >= r.cfg.Warmup {
			if err := r.execute(ctx, d); err != nil {
				return Report{}, fmt.Errorf("step %d: %w", step, err)
			}
		}
		equity = append(equity, EquityPoint{UnixM: r.now, Equity: r.sim.NetLiquidation()})
	}

	if r.cfg.CloseAtEnd && len(equity) > 0 {
		// unthrottled so the close cannot be skipped
		closer := engine.NewExecutor(r.sim, engine.ExecutorConfig{Logger: r.log})
		flat := domain.Decision{Symbol: f.Symbol, Action: domain.ActionFlat, Reason: "end of data"}
		if _, err := closer.Execute(ctx, flat, r.now); err != nil {
			return Report{}, fmt.Errorf("final close: %w", err)
		}
		equity[len(equity)-1].Equity = r.sim.NetLiquidation()
	}

	rep := ComputeReport(equity, r.sim.Trades(), r.cfg.PeriodsYear)
	r.log.Info("Backtest finished",
		slog.String("symbol", f.Symbol),
		slog.Int("steps", rep.Steps),
		slog.Int("trades", rep.Trades),
		slog.String("final_equity", rep.FinalEquity.String()),
		slog.Float64("return_pct", rep.TotalReturnPct),
		slog.Float64("max_dd_pct", rep.MaxDrawdownPct))
	return rep, nil
}

// execute runs one decision; refusals the account can recover from are
// logged and skipped.
func (r *Runner) execute(ctx context.Context, d domain.Decision) error {
	_, err := r.exec.Execute(ctx, d, r.now)
	switch {
	case err == nil, errors.Is(err, engine.ErrThrottled):
		return nil
	case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrReduceOnly):
		r.log.Debug("Decision refused", slog.String("action", d.Action.String()), slog.Any("error", err))
		return nil
	default:
		return err
	}
}
