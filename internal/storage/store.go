package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/glebarez/go-sqlite"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/internal/event"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// EventStore persists the input WAL (events) and the fill journal (trades)
// in one SQLite file.
type EventStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewEventStore opens (or creates) the SQLite store with WAL mode enabled.
func NewEventStore(dbPath string, log *slog.Logger) (*EventStore, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			type INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price INTEGER NOT NULL,
			qty INTEGER NOT NULL,
			commission INTEGER NOT NULL,
			realized_pnl INTEGER NOT NULL,
			liquidity TEXT NOT NULL,
			closing INTEGER NOT NULL,
			ts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, ts);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &EventStore{db: db, log: log}, nil
}

// SaveEvent appends an event to the WAL. Sequence numbers are unique.
func (s *EventStore) SaveEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (id, type, ts, payload) VALUES (?, ?, ?, ?)",
		ev.GetSeq(), ev.GetType(), ev.GetTs(), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *EventStore) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table ("" when absent).
func (s *EventStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// GetLastSeq returns the highest event sequence number stored in WAL.
// Returns 0 if no events exist.
func (s *EventStore) GetLastSeq(ctx context.Context) (uint64, error) {
	var lastSeq sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(id) FROM events").Scan(&lastSeq)
	if err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !lastSeq.Valid {
		return 0, nil
	}
	return uint64(lastSeq.Int64), nil
}

// LoadEvents loads WAL events with seq >= fromSeq, in order.
func (s *EventStore) LoadEvents(ctx context.Context, fromSeq uint64) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, payload FROM events WHERE id >= ? ORDER BY id ASC",
		fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			id      int64
			evType  int
			payload []byte
		)
		if err := rows.Scan(&id, &evType, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		var ev event.Event
		switch event.Type(evType) {
		case event.EvMarketUpdate:
			ev = &event.MarketUpdateEvent{}
		case event.EvOrderUpdate:
			ev = &event.OrderUpdateEvent{}
		case event.EvSystemHalt:
			ev = &event.SystemHaltEvent{}
		default:
			return nil, fmt.Errorf("event %d: unknown type %d", id, evType)
		}
		if err := json.Unmarshal(payload, ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %d: %w", id, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return events, nil
}

// SaveTrade appends a fill to the trade journal. Re-saving an id is a no-op
// so WAL replay after a crash cannot double-book.
func (s *EventStore) SaveTrade(ctx context.Context, t domain.Trade) error {
	closing := 0
	if t.Closing {
		closing = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, order_id, symbol, side, price, qty, commission, realized_pnl, liquidity, closing, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		t.ID, t.OrderID, t.Symbol, string(t.Side), int64(t.PriceMicros), int64(t.QtySats),
		int64(t.CommissionMicros), int64(t.RealizedPnLMicros), string(t.Liquidity), closing, int64(t.UnixM),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", t.ID, err)
	}
	return nil
}

// LoadTrades returns journaled fills for symbol ("" = all) in insert order.
func (s *EventStore) LoadTrades(ctx context.Context, symbol string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, symbol, side, price, qty, commission, realized_pnl, liquidity, closing, ts
		 FROM trades WHERE ? = '' OR symbol = ? ORDER BY seq ASC`,
		symbol, symbol,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Trade, 0)
	for rows.Next() {
		var (
			t                        domain.Trade
			side, liq                string
			price, qty, fee, pnl, ts int64
			closing                  int
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &price, &qty, &fee, &pnl, &liq, &closing, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		t.Liquidity = domain.Liquidity(liq)
		t.PriceMicros = quant.PriceMicros(price)
		t.QtySats = quant.QtySats(qty)
		t.CommissionMicros = quant.PriceMicros(fee)
		t.RealizedPnLMicros = quant.PriceMicros(pnl)
		t.Closing = closing != 0
		t.UnixM = quant.TimeStamp(ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

// OnFill journals every simulated fill. It satisfies execution.FillSink.
func (s *EventStore) OnFill(ctx context.Context, t domain.Trade) {
	if err := s.SaveTrade(ctx, t); err != nil {
		s.log.Error("STORAGE: trade journal write failed", slog.String("trade", t.ID), slog.Any("error", err))
	}
}

// Close closes the database connection.
func (s *EventStore) Close() error {
	return s.db.Close()
}
