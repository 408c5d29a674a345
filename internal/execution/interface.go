package execution

import (
	"context"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// DefaultOrderQueryLimit matches the venue default for allOrders.
const DefaultOrderQueryLimit = 500

// OrderQuery filters GetAllOrders. Zero Start/End mean unbounded.
type OrderQuery struct {
	Limit int
	Start quant.TimeStamp
	End   quant.TimeStamp
}

// Exchange is the capability surface shared by the simulator and a live venue
// client, so the execution driver does not care which backend it talks to.
//
// The simulator reports every rejection as a wrapped domain sentinel
// (domain.ErrNoPriceReference, domain.ErrOrderNotFound, ...) and leaves its
// state untouched when it does.
type Exchange interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) (int, error)
	SetMarginType(ctx context.Context, symbol string, mt domain.MarginType) (domain.MarginType, error)

	// GetPositionRisk returns one record for symbol, or every known symbol when empty.
	GetPositionRisk(ctx context.Context, symbol string) ([]domain.PositionRisk, error)
	GetBalance(ctx context.Context) ([]domain.AssetBalance, error)
	GetAccountInfo(ctx context.Context) (domain.AccountInfo, error)

	PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty quant.QtySats, reduceOnly bool) (domain.Order, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, qty quant.QtySats, price quant.PriceMicros, tif domain.TimeInForce, reduceOnly bool) (domain.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (domain.Order, error)
	CancelAllOrders(ctx context.Context, symbol string) ([]domain.Order, error)

	// GetOpenOrders returns resting orders for symbol, or for all symbols when empty.
	GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (domain.Order, error)
	GetAllOrders(ctx context.Context, symbol string, q OrderQuery) ([]domain.Order, error)

	// UpdateMarketPrice feeds one tick: resting orders are matched, then every
	// position is marked to its own symbol's latest price.
	UpdateMarketPrice(ctx context.Context, symbol string, price quant.PriceMicros) error

	Close() error
}

// FillSink receives every trade after the fill is committed.
type FillSink interface {
	OnFill(ctx context.Context, trade domain.Trade)
}
