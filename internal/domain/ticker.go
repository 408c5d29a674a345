package domain

import (
	"github.com/JackAiTrading/FEDformer/pkg/quant"
	"github.com/JackAiTrading/FEDformer/pkg/safe"
)

// Ticker is one mark-price update from a futures feed.
type Ticker struct {
	Symbol           string            `json:"symbol"`
	MarkPriceMicros  quant.PriceMicros `json:"mark_price"`
	IndexPriceMicros quant.PriceMicros `json:"index_price"`
	FundingRate      quant.Rate        `json:"funding_rate"`
	NextFundingUnixM quant.TimeStamp   `json:"next_funding_time,omitempty"`
	EventUnixM       quant.TimeStamp   `json:"event_time"`
	Exchange         string            `json:"exchange"`
}

// BasisMicros returns the mark vs index premium in micros (1% = 10,000).
// 0 when the index is missing.
func (t *Ticker) BasisMicros() int64 {
	if t.IndexPriceMicros == 0 {
		return 0
	}
	diff := safe.SafeSub(int64(t.MarkPriceMicros), int64(t.IndexPriceMicros))
	return safe.MulDiv(diff, quant.PriceScale, int64(t.IndexPriceMicros))
}
