package storage

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/execution"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func emptySnap(seq uint64) *Snapshot {
	return &Snapshot{Seq: seq, TsUnix: int64(seq), Markets: map[string]*domain.MarketState{}}
}

func saveAll(t *testing.T, sm *SnapshotManager, seqs ...uint64) {
	t.Helper()
	for _, seq := range seqs {
		if err := sm.Save(emptySnap(seq)); err != nil {
			t.Fatalf("Save(%d): %v", seq, err)
		}
	}
}

func TestSnapshot_RoundTripsSimState(t *testing.T) {
	sm := NewSnapshotManager(t.TempDir(), quietLog())

	markets := map[string]*domain.MarketState{
		"BTCUSDT": {Symbol: "BTCUSDT", PriceMicros: 50_000 * quant.PriceScale, TotalQtySats: quant.QtyScale},
	}
	sim := &execution.SimSnapshot{
		Ledger: domain.LedgerSnapshot{
			CashMicros: 9_000 * quant.PriceScale,
			Positions: []domain.Position{{
				Symbol:           "BTCUSDT",
				Side:             domain.PositionLong,
				QtySats:          quant.QtyScale / 10,
				EntryPriceMicros: 10_000 * quant.PriceScale,
				CapitalMicros:    1_000 * quant.PriceScale,
			}},
		},
		Orders: []domain.Order{{ID: "o-1", Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
			PriceMicros: 9_500 * quant.PriceScale, QtySats: 1000, Status: domain.OrderStatusNew}},
		Prices: map[string]quant.PriceMicros{"BTCUSDT": 10_000 * quant.PriceScale},
	}
	snap := CreateSnapshot(100, markets, sim, time.Unix(1_700_000_000, 0))
	markets["BTCUSDT"].PriceMicros = 1 // after capture

	if err := sm.Save(snap); err != nil {
		t.Fatal(err)
	}
	got, err := sm.LoadLatest()
	if err != nil || got == nil {
		t.Fatalf("LoadLatest = %v, %v", got, err)
	}

	if got.Version != SnapshotVersion || got.Seq != 100 || got.TsUnix != 1_700_000_000 {
		t.Errorf("header = v%d seq %d ts %d", got.Version, got.Seq, got.TsUnix)
	}
	if got.Markets["BTCUSDT"].PriceMicros != 50_000*quant.PriceScale {
		t.Errorf("market copy leaked a later mutation: %d", got.Markets["BTCUSDT"].PriceMicros)
	}
	if got.Sim == nil || got.Sim.Ledger.CashMicros != 9_000*quant.PriceScale {
		t.Fatalf("sim = %+v", got.Sim)
	}
	if p := got.Sim.Ledger.Positions[0]; p.QtySats != quant.QtyScale/10 || p.Side != domain.PositionLong {
		t.Errorf("position = %+v", p)
	}
	if o := got.Sim.Orders[0]; o.PriceMicros != 9_500*quant.PriceScale || o.Status != domain.OrderStatusNew {
		t.Errorf("order = %+v", o)
	}
}

func TestSnapshot_LoadLatest(t *testing.T) {
	tests := []struct {
		name  string
		saved []uint64
		want  uint64 // 0 means no snapshot
	}{
		{"none", nil, 0},
		{"single", []uint64{7}, 7},
		{"out of order", []uint64{10, 50, 30}, 50},
		// 9 < 10 numerically even though "9" > "10" as text
		{"numeric order", []uint64{9, 10}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewSnapshotManager(t.TempDir(), quietLog())
			saveAll(t, sm, tt.saved...)
			got, err := sm.LoadLatest()
			if err != nil {
				t.Fatal(err)
			}
			switch {
			case tt.want == 0 && got != nil:
				t.Errorf("got seq %d, want none", got.Seq)
			case tt.want != 0 && (got == nil || got.Seq != tt.want):
				t.Errorf("got %+v, want seq %d", got, tt.want)
			}
		})
	}
}

func TestSnapshot_MissingDir(t *testing.T) {
	sm := NewSnapshotManager(filepath.Join(t.TempDir(), "missing"), quietLog())
	got, err := sm.LoadLatest()
	if err != nil || got != nil {
		t.Errorf("LoadLatest = %v, %v", got, err)
	}
	if err := sm.Cleanup(1); err != nil {
		t.Errorf("Cleanup on missing dir: %v", err)
	}
}

func TestSnapshot_SkipsUnreadable(t *testing.T) {
	dir := t.TempDir()
	sm := NewSnapshotManager(dir, quietLog())
	saveAll(t, sm, 3, 8)

	if err := os.WriteFile(sm.pathFor(12), []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sm.pathFor(8), []byte(`{"version":99,"seq":8}`), 0o644); err != nil {
		t.Fatal(err)
	}
	// stray files are ignored
	os.WriteFile(filepath.Join(dir, "notes.json"), []byte("{}"), 0o644)

	if _, err := sm.load(8); !errors.Is(err, ErrSnapshotVersion) {
		t.Errorf("load(8) = %v", err)
	}
	got, err := sm.LoadLatest()
	if err != nil || got == nil || got.Seq != 3 {
		t.Fatalf("LoadLatest = %+v, %v", got, err)
	}
}

func TestSnapshot_Cleanup(t *testing.T) {
	dir := t.TempDir()
	sm := NewSnapshotManager(dir, quietLog())
	saveAll(t, sm, 1, 2, 3, 4, 5)

	if err := sm.Cleanup(2); err != nil {
		t.Fatal(err)
	}
	seqs, err := sm.seqs()
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 2 || seqs[0] != 5 || seqs[1] != 4 {
		t.Errorf("kept %v, want [5 4]", seqs)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("%d files left, temp files not cleaned?", len(entries))
	}
}
