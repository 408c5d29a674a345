package event

import (
	"sync"

	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvMarketUpdate Type = iota + 1
	EvOrderUpdate
	EvSystemHalt
)

func (t Type) String() string {
	switch t {
	case EvMarketUpdate:
		return "MARKET_UPDATE"
	case EvOrderUpdate:
		return "ORDER_UPDATE"
	case EvSystemHalt:
		return "SYSTEM_HALT"
	default:
		return "UNKNOWN"
	}
}

// Event is the interface for all sequencer events.
type Event interface {
	GetSeq() uint64
	GetTs() quant.TimeStamp
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64          `json:"seq"`
	Ts  quant.TimeStamp `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetTs() quant.TimeStamp { return e.Ts }

// MarketUpdateEvent is one price observation for a symbol. It is the only
// input the simulator needs, so it is what the WAL records and replays.
type MarketUpdateEvent struct {
	BaseEvent
	Symbol      string            `json:"symbol"`
	PriceMicros quant.PriceMicros `json:"price"`
	QtySats     quant.QtySats     `json:"qty"`
	Exchange    string            `json:"exchange"`
}

func (e *MarketUpdateEvent) GetType() Type { return EvMarketUpdate }

// OrderUpdateEvent is an externally reported order status change.
type OrderUpdateEvent struct {
	BaseEvent
	Symbol             string            `json:"symbol"`
	OrderID            string            `json:"order_id"`
	Status             string            `json:"status"`
	PriceMicros        quant.PriceMicros `json:"price"`
	AccumulatedQtySats quant.QtySats     `json:"qty"`
}

func (e *OrderUpdateEvent) GetType() Type { return EvOrderUpdate }

// SystemHaltEvent asks the sequencer to stop trading.
type SystemHaltEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

func (e *SystemHaltEvent) GetType() Type { return EvSystemHalt }

var marketUpdatePool = sync.Pool{
	New: func() any { return new(MarketUpdateEvent) },
}

// AcquireMarketUpdateEvent takes a zeroed event from the pool.
func AcquireMarketUpdateEvent() *MarketUpdateEvent {
	return marketUpdatePool.Get().(*MarketUpdateEvent)
}

// ReleaseMarketUpdateEvent resets ev and returns it to the pool.
// The caller must not touch ev afterwards.
func ReleaseMarketUpdateEvent(ev *MarketUpdateEvent) {
	if ev == nil {
		return
	}
	*ev = MarketUpdateEvent{}
	marketUpdatePool.Put(ev)
}

// Warmup pre-allocates n pooled events so the first ticks do not allocate.
func Warmup(n int) {
	evs := make([]*MarketUpdateEvent, n)
	for i := range evs {
		evs[i] = AcquireMarketUpdateEvent()
	}
	for _, ev := range evs {
		ReleaseMarketUpdateEvent(ev)
	}
}
