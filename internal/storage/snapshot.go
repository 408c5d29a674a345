package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/execution"
)

// SnapshotVersion is bumped when the file layout changes incompatibly.
const SnapshotVersion = 1

const (
	snapPrefix = "snapshot-"
	snapExt    = ".json"
)

// ErrSnapshotVersion is returned for files written by another layout.
var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// Snapshot captures sequencer market state and the simulator at Seq so that
// recovery only replays events after it.
type Snapshot struct {
	Version int                            `json:"version"`
	Seq     uint64                         `json:"seq"` // last applied event
	TsUnix  int64                          `json:"ts"`
	Markets map[string]*domain.MarketState `json:"markets"`
	Sim     *execution.SimSnapshot         `json:"sim,omitempty"`
}

// CreateSnapshot copies markets so later ticks don't leak in. sim is taken
// as given; SimulationClient.Snapshot already returns a copy.
func CreateSnapshot(seq uint64, markets map[string]*domain.MarketState, sim *execution.SimSnapshot, now time.Time) *Snapshot {
	cp := make(map[string]*domain.MarketState, len(markets))
	for sym, st := range markets {
		v := *st
		cp[sym] = &v
	}
	return &Snapshot{Version: SnapshotVersion, Seq: seq, TsUnix: now.Unix(), Markets: cp, Sim: sim}
}

// SnapshotManager keeps snapshot files in one directory, named by zero
// padded sequence number.
type SnapshotManager struct {
	dir string
	log *slog.Logger
}

func NewSnapshotManager(dir string, log *slog.Logger) *SnapshotManager {
	if log == nil {
		log = slog.Default()
	}
	return &SnapshotManager{dir: dir, log: log}
}

func (sm *SnapshotManager) pathFor(seq uint64) string {
	return filepath.Join(sm.dir, fmt.Sprintf("%s%020d%s", snapPrefix, seq, snapExt))
}

// Save writes snap through a synced temp file and a rename, so a crash
// leaves either the old set or the new file, never a torn one.
func (sm *SnapshotManager) Save(snap *Snapshot) error {
	if err := os.MkdirAll(sm.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}
	if snap.Version == 0 {
		snap.Version = SnapshotVersion
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %d: %w", snap.Seq, err)
	}

	final := sm.pathFor(snap.Seq)
	tmp, err := os.CreateTemp(sm.dir, ".snap-*")
	if err != nil {
		return err
	}
	commit := func() error {
		if _, err := tmp.Write(data); err != nil {
			return err
		}
		if err := tmp.Sync(); err != nil {
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		return os.Rename(tmp.Name(), final)
	}
	if err := commit(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot %d: %w", snap.Seq, err)
	}

	sm.log.Info("Snapshot saved", slog.Uint64("seq", snap.Seq), slog.Int("bytes", len(data)))
	return nil
}

// seqs lists the sequence numbers on disk, newest first. A missing
// directory is an empty list.
func (sm *SnapshotManager) seqs() ([]uint64, error) {
	entries, err := os.ReadDir(sm.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	var out []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapPrefix) || !strings.HasSuffix(name, snapExt) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, snapPrefix), snapExt), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out, nil
}

func (sm *SnapshotManager) load(seq uint64) (*Snapshot, error) {
	data, err := os.ReadFile(sm.pathFor(seq))
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}
	return &snap, nil
}

// LoadLatest returns the newest readable snapshot, or nil when there is
// none. Unreadable files are skipped with a warning so an older snapshot
// plus a longer WAL tail still recovers.
func (sm *SnapshotManager) LoadLatest() (*Snapshot, error) {
	seqs, err := sm.seqs()
	if err != nil {
		return nil, err
	}
	for _, seq := range seqs {
		snap, err := sm.load(seq)
		if err != nil {
			sm.log.Warn("Skipping unreadable snapshot", slog.Uint64("seq", seq), slog.Any("error", err))
			continue
		}
		sm.log.Info("Snapshot loaded", slog.Uint64("seq", snap.Seq))
		return snap, nil
	}
	return nil, nil
}

// Cleanup keeps the newest keep snapshots and removes the rest.
func (sm *SnapshotManager) Cleanup(keep int) error {
	seqs, err := sm.seqs()
	if err != nil || len(seqs) <= keep {
		return err
	}
	var errs []error
	for _, seq := range seqs[max(keep, 0):] {
		if err := os.Remove(sm.pathFor(seq)); err != nil {
			errs = append(errs, err)
			continue
		}
		sm.log.Debug("Removed old snapshot", slog.Uint64("seq", seq))
	}
	return errors.Join(errs...)
}
