package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/event"
	"github.com/JackAiTrading/FEDformer/internal/execution"
	"github.com/JackAiTrading/FEDformer/internal/storage"
	"github.com/JackAiTrading/FEDformer/internal/strategy"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// maxToleratedGap is the largest forward sequence gap accepted (dropped
// feed events); anything larger halts.
const maxToleratedGap = 10

// MetaSnapshotSeq is the store metadata key holding the latest snapshot seq.
const MetaSnapshotSeq = "snapshot_seq"

// idNamespace scopes order/trade ids derived from event sequence numbers.
var idNamespace = uuid.MustParse("6f1c1d2e-8a4b-4c55-9d0e-5b7a3c2f1e90")

// SimState is the simulator view the sequencer snapshots.
type SimState interface {
	Snapshot() execution.SimSnapshot
}

// SequencerConfig wires a Sequencer. Only InboxSize is required.
type SequencerConfig struct {
	InboxSize int
	Store     *storage.EventStore
	Exchange  execution.Exchange
	Strategy  strategy.Strategy
	Executor  *Executor
	OnUpdate  func(*domain.MarketState)
	Logger    *slog.Logger

	Snapshots     *storage.SnapshotManager
	SimState      SimState
	SnapshotEvery uint64 // events between snapshots; 0 disables
	SnapshotKeep  int
	DumpPath      string // panic dump file
}

// Sequencer is the core single-threaded event processor: every tick is
// persisted, marked on the exchange, then offered to the strategy.
type Sequencer struct {
	inbox   chan event.Event
	markets map[string]*domain.MarketState
	nextSeq uint64
	halted  bool
	cfg     SequencerConfig
	log     *slog.Logger

	// event clock for the simulator; read from other goroutines
	curSeq atomic.Uint64
	curTs  atomic.Int64
	idN    uint64

	mu sync.RWMutex // guards markets for external reads
}

// NewSequencer creates a new sequencer instance.
func NewSequencer(cfg SequencerConfig) *Sequencer {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DumpPath == "" {
		cfg.DumpPath = "panic_dump.json"
	}
	return &Sequencer{
		inbox:   make(chan event.Event, cfg.InboxSize),
		markets: make(map[string]*domain.MarketState),
		nextSeq: 1,
		cfg:     cfg,
		log:     cfg.Logger,
	}
}

// Attach sets the trading components after construction, for wiring where
// the simulator needs the sequencer's clock first.
func (s *Sequencer) Attach(ex execution.Exchange, strat strategy.Strategy, exec *Executor) {
	s.cfg.Exchange = ex
	s.cfg.Strategy = strat
	s.cfg.Executor = exec
}

// SetSimState registers the simulator for periodic snapshots.
func (s *Sequencer) SetSimState(st SimState) {
	s.cfg.SimState = st
}

// Now is the timestamp of the event being processed. Pass it as the
// simulator clock so replay reproduces order and trade times.
func (s *Sequencer) Now() quant.TimeStamp {
	return quant.TimeStamp(s.curTs.Load())
}

// NewID derives order/trade ids from the current sequence number, so a WAL
// replay regenerates the same ids. Sequencer goroutine only.
func (s *Sequencer) NewID() string {
	seq := s.curSeq.Load()
	s.idN++
	return uuid.NewSHA1(idNamespace, fmt.Appendf(nil, "%d/%d", seq, s.idN)).String()
}

// Restore adopts a snapshot's market state; the WAL tail after snap.Seq is
// replayed by RecoverFromWAL.
func (s *Sequencer) Restore(snap *storage.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets = make(map[string]*domain.MarketState, len(snap.Markets))
	for k, v := range snap.Markets {
		st := *v
		s.markets[k] = &st
	}
	s.nextSeq = snap.Seq + 1
	s.log.Info("Sequencer restored from snapshot", slog.Uint64("next_seq", s.nextSeq))
}

// RecoverFromWAL replays every stored event from nextSeq on through the live
// code path, minus persistence.
func (s *Sequencer) RecoverFromWAL(ctx context.Context) error {
	if s.cfg.Store == nil {
		s.log.Info("No store configured, starting fresh")
		return nil
	}

	lastSeq, err := s.cfg.Store.GetLastSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last seq: %w", err)
	}
	if lastSeq < s.nextSeq {
		s.log.Info("WAL has nothing to replay", slog.Uint64("last_seq", lastSeq))
		return nil
	}

	events, err := s.cfg.Store.LoadEvents(ctx, s.nextSeq)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	s.log.Info("Replaying events from WAL", slog.Int("count", len(events)))
	for _, ev := range events {
		if err := s.ReplayEvent(ctx, ev); err != nil {
			return err
		}
	}
	s.log.Info("State recovered from WAL", slog.Uint64("next_seq", s.nextSeq))
	return nil
}

// WarmStrategy feeds stored market updates up to and including through to
// the strategy only, rebuilding its indicator state after a snapshot
// restore. Decisions are discarded.
func (s *Sequencer) WarmStrategy(ctx context.Context, through uint64) error {
	if s.cfg.Store == nil || s.cfg.Strategy == nil || through == 0 {
		return nil
	}
	events, err := s.cfg.Store.LoadEvents(ctx, 1)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	ticks := make(map[string]uint64)
	var n int
	for _, ev := range events {
		if ev.GetSeq() > through {
			break
		}
		mu, ok := ev.(*event.MarketUpdateEvent)
		if !ok {
			continue
		}
		ticks[mu.Symbol]++
		s.cfg.Strategy.OnMarketUpdate(domain.MarketState{
			Symbol:          mu.Symbol,
			PriceMicros:     mu.PriceMicros,
			TotalQtySats:    mu.QtySats,
			LastUpdateUnixM: mu.Ts,
			Ticks:           ticks[mu.Symbol],
		})
		n++
	}
	s.log.Info("Strategy warmed from WAL", slog.Int("ticks", n), slog.Uint64("through", through))
	return nil
}

// ValidateSequence checks for gaps. Duplicates return false (skip);
// small forward gaps fast-forward; large gaps panic.
func (s *Sequencer) ValidateSequence(evSeq uint64) bool {
	expected := s.nextSeq
	if evSeq == expected {
		return true
	}

	if evSeq < expected {
		s.log.Warn("SEQUENCE_DUPLICATE_IGNORED", slog.Uint64("expected", expected), slog.Uint64("got", evSeq))
		return false
	}

	gap := evSeq - expected
	if gap <= maxToleratedGap {
		s.log.Warn("SEQUENCE_GAP_TOLERATED",
			slog.Uint64("expected", expected),
			slog.Uint64("got", evSeq),
			slog.Uint64("gap", gap))
		s.nextSeq = evSeq
		return true
	}
	panic(fmt.Sprintf("SEQUENCE_GAP_FATAL: expected %d, got %d", expected, evSeq))
}

// Inbox returns the event channel. External workers send events here.
func (s *Sequencer) Inbox() chan<- event.Event {
	return s.inbox
}

// Run starts the main event loop. This MUST be run in a single goroutine.
// A panic dumps state to DumpPath and re-panics.
func (s *Sequencer) Run(ctx context.Context) {
	s.log.Info("Sequencer started (Single-Thread Hotpath)")

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.cfg.DumpPath)
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sequencer stopping...")
			return
		case ev := <-s.inbox:
			s.processEvent(ctx, ev)
			if mu, ok := ev.(*event.MarketUpdateEvent); ok {
				event.ReleaseMarketUpdateEvent(mu)
			}
		}
	}
}

func (s *Sequencer) processEvent(ctx context.Context, ev event.Event) {
	if !s.ValidateSequence(ev.GetSeq()) {
		return
	}

	// WAL-first
	if s.cfg.Store != nil {
		if err := s.cfg.Store.SaveEvent(ctx, ev); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
		}
	}

	s.dispatch(ctx, ev)
	s.nextSeq++
	s.maybeSnapshot(ctx)
}

// ReplayEvent processes a stored event without WAL logging. Replay must be
// gap-free.
func (s *Sequencer) ReplayEvent(ctx context.Context, ev event.Event) error {
	if ev.GetSeq() != s.nextSeq {
		return fmt.Errorf("REPLAY_GAP_DETECTED: expected %d, got %d", s.nextSeq, ev.GetSeq())
	}
	s.dispatch(ctx, ev)
	s.nextSeq++
	return nil
}

func (s *Sequencer) dispatch(ctx context.Context, ev event.Event) {
	s.curSeq.Store(ev.GetSeq())
	s.curTs.Store(int64(ev.GetTs()))
	s.idN = 0

	switch e := ev.(type) {
	case *event.MarketUpdateEvent:
		s.handleMarketUpdate(ctx, e)
	case *event.OrderUpdateEvent:
		// venue-side order updates only matter for a live exchange
		s.log.Debug("Order update", slog.String("order", e.OrderID), slog.String("status", e.Status))
	case *event.SystemHaltEvent:
		s.halted = true
		s.log.Warn("⛔ Trading halted", slog.String("reason", e.Reason))
	default:
		s.log.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}
}

func (s *Sequencer) handleMarketUpdate(ctx context.Context, e *event.MarketUpdateEvent) {
	s.mu.Lock()
	state, ok := s.markets[e.Symbol]
	if !ok {
		state = &domain.MarketState{Symbol: e.Symbol}
		s.markets[e.Symbol] = state
	}
	state.PriceMicros = e.PriceMicros
	state.TotalQtySats = e.QtySats
	state.LastUpdateUnixM = e.Ts
	state.Ticks++
	snapshot := *state
	s.mu.Unlock()

	if s.cfg.Exchange != nil {
		if err := s.cfg.Exchange.UpdateMarketPrice(ctx, e.Symbol, e.PriceMicros); err != nil {
			s.log.Warn("Mark update rejected", slog.String("symbol", e.Symbol), slog.Any("error", err))
			return
		}
	}

	if s.cfg.Strategy != nil && !s.halted {
		d := s.cfg.Strategy.OnMarketUpdate(snapshot)
		if d.Action != domain.ActionHold {
			s.log.Info("STRATEGY_ACTION",
				slog.String("symbol", d.Symbol),
				slog.String("action", d.Action.String()),
				slog.String("reason", d.Reason))
			if s.cfg.Executor != nil {
				s.execute(ctx, d, e.Ts)
			}
		}
	}

	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(&snapshot)
	}
}

func (s *Sequencer) execute(ctx context.Context, d domain.Decision, ts quant.TimeStamp) {
	_, err := s.cfg.Executor.Execute(ctx, d, ts)
	switch {
	case err == nil:
	case errors.Is(err, ErrThrottled):
	case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrReduceOnly):
		s.log.Warn("Decision rejected", slog.String("symbol", d.Symbol), slog.Any("error", err))
	default:
		s.log.Error("Decision failed", slog.String("symbol", d.Symbol), slog.Any("error", err))
	}
}

func (s *Sequencer) maybeSnapshot(ctx context.Context) {
	c := s.cfg
	if c.Snapshots == nil || c.SnapshotEvery == 0 {
		return
	}
	last := s.nextSeq - 1
	if last%c.SnapshotEvery != 0 {
		return
	}
	var sim *execution.SimSnapshot
	if c.SimState != nil {
		snap := c.SimState.Snapshot()
		sim = &snap
	}
	s.mu.RLock()
	snap := storage.CreateSnapshot(last, s.markets, sim, time.UnixMicro(s.curTs.Load()))
	s.mu.RUnlock()

	if err := c.Snapshots.Save(snap); err != nil {
		s.log.Error("Snapshot failed", slog.Any("error", err))
		return
	}
	// operators read this without listing the snapshot dir
	if c.Store != nil {
		if err := c.Store.UpsertMetadata(ctx, MetaSnapshotSeq, strconv.FormatUint(last, 10), snap.TsUnix); err != nil {
			s.log.Warn("Snapshot metadata not recorded", slog.Any("error", err))
		}
	}
	if c.SnapshotKeep > 0 {
		if err := c.Snapshots.Cleanup(c.SnapshotKeep); err != nil {
			s.log.Warn("Snapshot cleanup failed", slog.Any("error", err))
		}
	}
}

// GetNextSeq returns the next expected sequence number.
func (s *Sequencer) GetNextSeq() uint64 {
	return s.nextSeq
}

// Halted reports whether a SystemHaltEvent stopped trading.
func (s *Sequencer) Halted() bool {
	return s.halted
}

// GetMarketState returns a copy of the market state (external read).
func (s *Sequencer) GetMarketState(symbol string) (domain.MarketState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.markets[symbol]
	if !ok {
		return domain.MarketState{}, false
	}
	return *state, true
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.log.Info("Dumping internal state...", slog.String("file", filename))

	s.mu.RLock()
	data := struct {
		NextSeq uint64                         `json:"next_seq"`
		Markets map[string]*domain.MarketState `json:"markets"`
	}{
		NextSeq: s.nextSeq,
		Markets: s.markets,
	}
	b, err := json.MarshalIndent(data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		s.log.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.log.Error("Failed to write state dump", slog.Any("error", err))
	}
}
