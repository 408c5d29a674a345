package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JackAiTrading/FEDformer/backtest"
	"github.com/JackAiTrading/FEDformer/internal/engine"
	"github.com/JackAiTrading/FEDformer/internal/event"
	"github.com/JackAiTrading/FEDformer/internal/execution"
	"github.com/JackAiTrading/FEDformer/internal/feature"
	"github.com/JackAiTrading/FEDformer/internal/infra"
	"github.com/JackAiTrading/FEDformer/internal/infra/kafka"
	"github.com/JackAiTrading/FEDformer/internal/storage"
	"github.com/JackAiTrading/FEDformer/internal/strategy"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// eventPoolWarmup pre-allocates pooled market events before the feed starts.
const eventPoolWarmup = 1024

// Bootstrap orchestrates the application startup sequence and owns every
// long-lived component. Close releases them in reverse order.
type Bootstrap struct {
	ConfigPath string // empty: infra.ResolveConfigPath()
	WorkDir    string // empty: infra.DefaultWorkspaceRoot()

	Config    *infra.Config
	Workspace infra.Workspace
	Log       *slog.Logger
	DataDir   string
	Store     *storage.EventStore
	Snapshots *storage.SnapshotManager

	Sequencer *engine.Sequencer
	Sim       *execution.SimulationClient
	Exchange  execution.Exchange
	Fills     *kafka.FillPublisher

	// LiveSinks are attached after WAL recovery, so they only see fills
	// made from here on. The Kafka publisher joins them when enabled.
	LiveSinks []execution.FillSink

	closers []func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config, installs the logger, prepares the workspace
// (data/{mode}, logs/{mode}, instance lock) and opens the event store.
func (b *Bootstrap) Initialize() error {
	// 1. Load Config (Dynamic Path Resolution)
	path := b.ConfigPath
	if path == "" {
		path = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Workspace: data/{mode}, logs/{mode}
	ws, err := infra.OpenWorkspace(b.WorkDir, cfg.Trading.Mode)
	if err != nil {
		return err
	}
	b.Workspace = ws
	b.WorkDir = ws.Root
	b.DataDir = ws.DataDir()

	// 3. Logger
	cfg.Logging.File = ws.Log(cfg.Logging.File)
	logger, closeLog, err := infra.NewLogger(cfg)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, closeLog)
	b.Log = logger
	slog.SetDefault(logger)
	b.Log.Info("🚀 Bootstrapping FEDformer simulator...", slog.String("config", path), slog.String("mode", cfg.Trading.Mode))

	// Runtime Warmup (GC Optimization)
	event.Warmup(eventPoolWarmup)

	// 4. Singleton Instance Lock: one process per workspace
	unlock, err := ws.Lock()
	if err != nil {
		return err
	}
	b.closers = append(b.closers, unlock)

	// 5. EventStore (Single-Writer WAL DB) and snapshots
	dbPath := ws.Data(cfg.Storage.DBFile)
	store, err := storage.NewEventStore(dbPath, b.Log)
	if err != nil {
		return err
	}
	b.Store = store
	b.closers = append(b.closers, func() { store.Close() })
	b.Snapshots = storage.NewSnapshotManager(ws.Data(cfg.Storage.SnapshotDir), b.Log)
	b.Log.Info("✅ EventStore initialized (WAL-mode)", slog.String("path", dbPath))
	return nil
}

// BuildEngine wires sequencer, simulator, strategy and executor for the
// live-fed loop, then restores the latest snapshot and replays the WAL tail.
func (b *Bootstrap) BuildEngine(ctx context.Context) error {
	if b.Config == nil {
		return errors.New("bootstrap: Initialize first")
	}
	cfg := b.Config

	every := uint64(0)
	if cfg.Storage.SnapshotEvery > 0 {
		every = uint64(cfg.Storage.SnapshotEvery)
	}
	seq := engine.NewSequencer(engine.SequencerConfig{
		Store:         b.Store,
		Snapshots:     b.Snapshots,
		SnapshotEvery: every,
		SnapshotKeep:  cfg.Storage.SnapshotKeep,
		DumpPath:      b.Workspace.Data("panic_dump.json"),
		Logger:        b.Log,
	})

	// the simulator runs on the sequencer's event clock and id source
	sim, err := execution.NewExecutionFactory(cfg, b.Log).CreateSimulation(seq.Now, seq.NewID)
	if err != nil {
		return err
	}
	// the journal sees replayed fills too; SaveTrade skips ids it has
	sim.AddFillSink(b.Store)

	strat, err := NewStrategy(cfg)
	if err != nil {
		return err
	}
	b.Exchange = execution.NewLoggingExchange(sim, b.Log)
	exec := engine.NewExecutor(b.Exchange, engine.ExecutorConfig{
		MinOrderInterval: time.Duration(cfg.Strategy.MinOrderIntervalSec) * time.Second,
		Logger:           b.Log,
	})
	seq.Attach(b.Exchange, strat, exec)
	seq.SetSimState(sim)
	b.Sequencer = seq
	b.Sim = sim

	// 6. Recovery: snapshot, strategy warm-up, WAL tail
	snap, err := b.Snapshots.LoadLatest()
	if err != nil {
		b.Log.Warn("Snapshot unreadable, replaying full WAL", slog.Any("error", err))
		snap = nil
	}
	if snap != nil {
		if snap.Sim != nil {
			sim.Restore(*snap.Sim)
		}
		seq.Restore(snap)
		if err := seq.WarmStrategy(ctx, snap.Seq); err != nil {
			return err
		}
	}
	if err := seq.RecoverFromWAL(ctx); err != nil {
		return fmt.Errorf("wal recovery: %w", err)
	}

	// 7. Downstream publishers: replayed fills were already published
	if cfg.Kafka.Enabled {
		b.Fills = kafka.NewFillPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, b.Log)
		fills := b.Fills
		b.closers = append(b.closers, func() { fills.Close() })
		b.LiveSinks = append(b.LiveSinks, b.Fills)
	}
	for _, sink := range b.LiveSinks {
		sim.AddFillSink(sink)
	}
	return nil
}

// NewStrategy builds one decision policy per configured symbol.
func NewStrategy(cfg *infra.Config) (strategy.Strategy, error) {
	sc := cfg.Strategy
	conf, err := strategy.ParseConfidence(sc.Confidence)
	if err != nil {
		return nil, err
	}
	style, err := strategy.ParseStyle(sc.Style)
	if err != nil {
		return nil, err
	}
	p := strategy.Params{Confidence: conf, Style: style}

	multi := make(strategy.Multi, len(cfg.Trading.Symbols))
	for _, sym := range cfg.Trading.Symbols {
		switch sc.Kind {
		case "sma_cross":
			multi[sym] = strategy.NewSMACrossStrategy(sym, sc.ShortWindow, sc.LongWindow, p)
		case "rsi":
			multi[sym] = strategy.NewRSIStrategy(sym, sc.RSIPeriod, sc.RSIOversold, sc.RSIOverbought, p)
		default:
			return nil, fmt.Errorf("unknown strategy kind %q", sc.Kind)
		}
	}
	return multi, nil
}

// BuildBacktest loads the configured kline CSV and prepares a runner on
// the bar clock.
func (b *Bootstrap) BuildBacktest() (*backtest.Runner, error) {
	if b.Config == nil {
		return nil, errors.New("bootstrap: Initialize first")
	}
	cfg := b.Config
	symbol := cfg.Backtest.Symbol
	if symbol == "" {
		symbol = cfg.Trading.Symbols[0]
	}

	bars, err := feature.LoadKlinesFile(cfg.Backtest.CSVPath)
	if err != nil {
		return nil, err
	}
	frame, err := feature.NewFrame(symbol, bars, feature.FrameConfig{
		ShortWindow: cfg.Strategy.ShortWindow,
		LongWindow:  cfg.Strategy.LongWindow,
		RSIPeriod:   cfg.Strategy.RSIPeriod,
	})
	if err != nil {
		return nil, err
	}
	b.Log.Info("📊 Kline frame loaded", slog.String("symbol", symbol), slog.Int("bars", frame.Len()))

	strat, err := NewStrategy(cfg)
	if err != nil {
		return nil, err
	}
	factory := execution.NewExecutionFactory(cfg, b.Log)
	return backtest.NewRunner(backtest.RunnerConfig{
		Frame:    frame,
		Strategy: strat,
		NewSim: func(clock func() quant.TimeStamp) (*execution.SimulationClient, error) {
			sim, err := factory.CreateSimulation(clock, nil)
			if err != nil {
				return nil, err
			}
			sim.AddFillSink(b.Store)
			b.Sim = sim
			return sim, nil
		},
		Executor: engine.ExecutorConfig{
			MinOrderInterval: time.Duration(cfg.Strategy.MinOrderIntervalSec) * time.Second,
		},
		Warmup:      cfg.Backtest.WarmupBars,
		PeriodsYear: cfg.Backtest.PeriodsYear,
		CloseAtEnd:  true,
		Logger:      b.Log,
	})
}

// Close releases everything Initialize and Build* acquired, newest first.
func (b *Bootstrap) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
