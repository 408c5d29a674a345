package execution

import (
	"fmt"
	"log/slog"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/infra"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// Mode represents the trading execution mode
type Mode string

const (
	ModePaper    Mode = "PAPER"
	ModeBacktest Mode = "BACKTEST"
	ModeLive     Mode = "LIVE"
)

// ExecutionFactory creates execution instances based on mode
type ExecutionFactory struct {
	config *infra.Config
	log    *slog.Logger
}

// NewExecutionFactory creates a new factory
func NewExecutionFactory(cfg *infra.Config, log *slog.Logger) *ExecutionFactory {
	if log == nil {
		log = slog.Default()
	}
	return &ExecutionFactory{config: cfg, log: log}
}

// SimConfig derives the simulator settings from configuration.
func (f *ExecutionFactory) SimConfig() (SimConfig, error) {
	t := f.config.Trading
	balance, err := quant.ParsePrice(t.InitialBalance)
	if err != nil {
		return SimConfig{}, fmt.Errorf("trading.initial_balance: %w", err)
	}
	maker, err := quant.ParseRate(f.config.Fees.Maker)
	if err != nil {
		return SimConfig{}, fmt.Errorf("fees.maker: %w", err)
	}
	taker, err := quant.ParseRate(f.config.Fees.Taker)
	if err != nil {
		return SimConfig{}, fmt.Errorf("fees.taker: %w", err)
	}
	mmr, err := quant.ParseRate(f.config.Risk.MaintenanceMarginRate)
	if err != nil {
		return SimConfig{}, fmt.Errorf("risk.maintenance_margin_rate: %w", err)
	}
	settle := domain.Settlement(t.Settlement)
	if settle != "" && !settle.Valid() {
		return SimConfig{}, fmt.Errorf("trading.settlement: unknown %q", t.Settlement)
	}
	return SimConfig{
		InitialBalance: balance,
		Fees: domain.CommissionPolicy{
			MakerRate:    maker,
			TakerRate:    taker,
			LimitAsMaker: f.config.Fees.LimitAsMaker,
		},
		Leverage:              t.Leverage,
		MaintenanceMarginRate: mmr,
		Settlement:            settle,
		Logger:                f.log,
	}, nil
}

// CreateSimulation builds the simulator with per-symbol settings applied.
// clock and newID may be nil; the sequencer passes its event clock so WAL
// replay regenerates the same orders.
func (f *ExecutionFactory) CreateSimulation(clock func() quant.TimeStamp, newID func() string) (*SimulationClient, error) {
	mode := Mode(f.config.Trading.Mode)
	f.log.Info("Initializing Execution System", "mode", mode)
	switch mode {
	case ModePaper, ModeBacktest:
	case ModeLive:
		return nil, fmt.Errorf("execution mode %s: no live venue client in this build", mode)
	default:
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}

	cfg, err := f.SimConfig()
	if err != nil {
		return nil, err
	}
	cfg.Clock = clock
	cfg.NewID = newID
	sim := NewSimulationClient(cfg)

	mt := domain.MarginType(f.config.Trading.MarginType)
	for _, sym := range f.config.Trading.Symbols {
		if err := sim.ledger.SetLeverage(sym, f.config.Trading.Leverage); err != nil {
			return nil, fmt.Errorf("%s: %w", sym, err)
		}
		if mt != "" {
			if err := sim.ledger.SetMarginType(sym, mt); err != nil {
				return nil, fmt.Errorf("%s: %w", sym, err)
			}
		}
	}
	return sim, nil
}
