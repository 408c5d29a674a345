package execution

import (
	"context"
	"log/slog"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// LoggingExchange wraps an Exchange and logs every order-path call.
// Queries and ticks pass through silently.
type LoggingExchange struct {
	Exchange
	log *slog.Logger
}

func NewLoggingExchange(inner Exchange, log *slog.Logger) *LoggingExchange {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingExchange{Exchange: inner, log: log}
}

func (l *LoggingExchange) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty quant.QtySats, reduceOnly bool) (domain.Order, error) {
	o, err := l.Exchange.PlaceMarketOrder(ctx, symbol, side, qty, reduceOnly)
	l.record(ctx, "ORDER: Submit Market", err,
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Int64("qty", int64(qty)),
		slog.Bool("reduce_only", reduceOnly),
		slog.String("id", o.ID))
	return o, err
}

func (l *LoggingExchange) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, qty quant.QtySats, price quant.PriceMicros, tif domain.TimeInForce, reduceOnly bool) (domain.Order, error) {
	o, err := l.Exchange.PlaceLimitOrder(ctx, symbol, side, qty, price, tif, reduceOnly)
	l.record(ctx, "ORDER: Submit Limit", err,
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Int64("price", int64(price)),
		slog.Int64("qty", int64(qty)),
		slog.String("tif", string(tif)),
		slog.String("id", o.ID))
	return o, err
}

func (l *LoggingExchange) CancelOrder(ctx context.Context, symbol, orderID string) (domain.Order, error) {
	o, err := l.Exchange.CancelOrder(ctx, symbol, orderID)
	l.record(ctx, "ORDER: Cancel", err, slog.String("symbol", symbol), slog.String("id", orderID))
	return o, err
}

func (l *LoggingExchange) record(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.log.LogAttrs(ctx, level, msg, attrs...)
}
