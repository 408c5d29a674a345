package domain

import "github.com/JackAiTrading/FEDformer/pkg/quant"

// Trade is an immutable fill record. The ledger keeps them append-only.
type Trade struct {
	ID                string            `json:"id"`
	OrderID           string            `json:"orderId"`
	Symbol            string            `json:"symbol"`
	Side              Side              `json:"side"`
	PriceMicros       quant.PriceMicros `json:"price,string"`
	QtySats           quant.QtySats     `json:"qty,string"`
	CommissionMicros  quant.PriceMicros `json:"commission,string"`
	RealizedPnLMicros quant.PriceMicros `json:"realizedPnl,string"`
	Liquidity         Liquidity         `json:"liquidity"`
	Closing           bool              `json:"closing"`
	UnixM             quant.TimeStamp   `json:"time,string"`
}
