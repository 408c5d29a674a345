package execution

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// OrderBook keeps every order the simulator accepted, in submission order.
// Only one resting price per order is modelled: there are no depth levels,
// so matching is a FIFO scan of resting orders for the ticked symbol.
type OrderBook struct {
	orders []*domain.Order
	index  map[string]*domain.Order
	newID  func() string
}

// NewOrderBook creates an empty book. A nil idGen uses random UUIDs.
func NewOrderBook(idGen func() string) *OrderBook {
	if idGen == nil {
		idGen = uuid.NewString
	}
	return &OrderBook{
		index: make(map[string]*domain.Order),
		newID: idGen,
	}
}

// NextID hands out a fresh order/trade id.
func (b *OrderBook) NextID() string {
	return b.newID()
}

// Add records an order. The id must be unique.
func (b *OrderBook) Add(o *domain.Order) {
	if _, dup := b.index[o.ID]; dup {
		panic(fmt.Sprintf("CORE_BOOK_DUPLICATE_ID: %s", o.ID))
	}
	b.orders = append(b.orders, o)
	b.index[o.ID] = o
}

// Get returns the live order record for id.
func (b *OrderBook) Get(symbol, id string) (*domain.Order, bool) {
	o, ok := b.index[id]
	if !ok || (symbol != "" && o.Symbol != symbol) {
		return nil, false
	}
	return o, true
}

// Crossed returns resting limit orders for symbol marketable at price, FIFO.
func (b *OrderBook) Crossed(symbol string, price quant.PriceMicros) []*domain.Order {
	var out []*domain.Order
	for _, o := range b.orders {
		if o.Symbol == symbol && o.Crosses(price) {
			out = append(out, o)
		}
	}
	return out
}

// Open returns copies of resting orders, filtered by symbol when non-empty.
func (b *OrderBook) Open(symbol string) []domain.Order {
	out := make([]domain.Order, 0)
	for _, o := range b.orders {
		if o.IsOpen() && (symbol == "" || o.Symbol == symbol) {
			out = append(out, *o)
		}
	}
	return out
}

// All returns copies of the symbol's orders inside [Start, End], keeping the
// most recent q.Limit of them.
func (b *OrderBook) All(symbol string, q OrderQuery) []domain.Order {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultOrderQueryLimit
	}
	out := make([]domain.Order, 0)
	for _, o := range b.orders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if q.Start != 0 && o.CreatedUnixM < q.Start {
			continue
		}
		if q.End != 0 && o.CreatedUnixM > q.End {
			continue
		}
		out = append(out, *o)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Cancel moves a resting order to Canceled.
func (b *OrderBook) Cancel(symbol, id string) (*domain.Order, error) {
	o, ok := b.Get(symbol, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrOrderNotFound, symbol, id)
	}
	if !o.IsOpen() {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrNotCancelable, id, o.Status)
	}
	o.Status = domain.OrderStatusCanceled
	return o, nil
}

// Snapshot copies every order in submission order.
func (b *OrderBook) Snapshot() []domain.Order {
	out := make([]domain.Order, len(b.orders))
	for i, o := range b.orders {
		out[i] = *o
	}
	return out
}

// Restore replaces the book contents with orders.
func (b *OrderBook) Restore(orders []domain.Order) {
	b.orders = make([]*domain.Order, 0, len(orders))
	b.index = make(map[string]*domain.Order, len(orders))
	for i := range orders {
		o := orders[i]
		b.Add(&o)
	}
}
