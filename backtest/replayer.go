package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JackAiTrading/FEDformer/internal/engine"
	"github.com/JackAiTrading/FEDformer/internal/storage"
)

// Replayer feeds a recorded event log into a Sequencer.
type Replayer struct {
	store *storage.EventStore
	log   *slog.Logger
}

// NewReplayer creates a replayer over an open store.
func NewReplayer(store *storage.EventStore, log *slog.Logger) *Replayer {
	if log == nil {
		log = slog.Default()
	}
	return &Replayer{store: store, log: log}
}

// RunReplay replays every event from the sequencer's next seq on, in order
// and synchronously, so the run is deterministic.
func (r *Replayer) RunReplay(ctx context.Context, seq *engine.Sequencer) (int, error) {
	events, err := r.store.LoadEvents(ctx, seq.GetNextSeq())
	if err != nil {
		return 0, fmt.Errorf("failed to load events: %w", err)
	}
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := seq.ReplayEvent(ctx, ev); err != nil {
			return i, err
		}
	}
	r.log.Info("Replay finished", slog.Int("events", len(events)), slog.Uint64("next_seq", seq.GetNextSeq()))
	return len(events), nil
}
