package domain

import "github.com/JackAiTrading/FEDformer/pkg/quant"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that reduces exposure opened by s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "NEW"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// Order represents a trading order.
// All monetary values are strictly int64.
type Order struct {
	ID            string            `json:"orderId"`
	Symbol        string            `json:"symbol"`
	Side          Side              `json:"side"`
	Type          OrderType         `json:"type"`
	TimeInForce   TimeInForce       `json:"timeInForce,omitempty"`
	PriceMicros   quant.PriceMicros `json:"price,string"` // Limit price. 0 for market orders.
	QtySats       quant.QtySats     `json:"origQty,string"`
	AvgFillMicros quant.PriceMicros `json:"avgPrice,string"` // Set once filled.
	ReduceOnly    bool              `json:"reduceOnly"`
	Status        OrderStatus       `json:"status"`
	CreatedUnixM  quant.TimeStamp   `json:"time,string"`
	UpdatedUnixM  quant.TimeStamp   `json:"updateTime,string"`
}

// IsOpen checks if the order is still resting.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusNew
}

// Crosses reports whether a resting limit order is marketable at price.
// Buys fill at or below the limit, sells at or above.
func (o *Order) Crosses(price quant.PriceMicros) bool {
	if o.Type != OrderTypeLimit || !o.IsOpen() {
		return false
	}
	if o.Side == SideBuy {
		return price <= o.PriceMicros
	}
	return price >= o.PriceMicros
}
