package domain

import "github.com/JackAiTrading/FEDformer/pkg/quant"

// MarketState is the sequencer's view of one symbol: the last tick and how
// many ticks it has applied. It is what strategies decide on and what
// snapshots persist.
type MarketState struct {
	PriceMicros     quant.PriceMicros `json:"price,string"`
	TotalQtySats    quant.QtySats     `json:"qty,string"`
	LastUpdateUnixM quant.TimeStamp   `json:"last_update,string"`
	Ticks           uint64            `json:"ticks"`
	Symbol          string            `json:"symbol"`
}
