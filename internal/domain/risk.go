package domain

import (
	"github.com/shopspring/decimal"

	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

type MarginType string

const (
	MarginCrossed  MarginType = "CROSSED"
	MarginIsolated MarginType = "ISOLATED"
)

func (m MarginType) Valid() bool {
	return m == MarginCrossed || m == MarginIsolated
}

// DefaultMaintenanceMarginRate is the 0.4% tier-one USDT-M rate.
const DefaultMaintenanceMarginRate quant.Rate = 4000

// PositionRisk mirrors the exchange position-risk record.
type PositionRisk struct {
	Symbol                 string            `json:"symbol"`
	PositionAmtSats        quant.QtySats     `json:"positionAmt,string"` // Signed: negative for shorts.
	EntryPriceMicros       quant.PriceMicros `json:"entryPrice,string"`
	MarkPriceMicros        quant.PriceMicros `json:"markPrice,string"`
	UnrealizedPnLMicros    quant.PriceMicros `json:"unRealizedProfit,string"`
	LiquidationPriceMicros quant.PriceMicros `json:"liquidationPrice,string"`
	Leverage               int               `json:"leverage,string"`
	MarginType             MarginType        `json:"marginType"`
}

// AssetBalance mirrors one row of the exchange balance response.
type AssetBalance struct {
	Asset                    string            `json:"asset"`
	BalanceMicros            quant.PriceMicros `json:"balance,string"`
	CrossWalletBalanceMicros quant.PriceMicros `json:"crossWalletBalance,string"`
	CrossUnPnlMicros         quant.PriceMicros `json:"crossUnPnl,string"`
	AvailableBalanceMicros   quant.PriceMicros `json:"availableBalance,string"`
}

// AccountInfo aggregates wallet and position state.
type AccountInfo struct {
	TotalWalletBalanceMicros quant.PriceMicros `json:"totalWalletBalance,string"`
	TotalUnrealizedMicros    quant.PriceMicros `json:"totalUnrealizedProfit,string"`
	TotalMarginBalanceMicros quant.PriceMicros `json:"totalMarginBalance,string"`
	AvailableBalanceMicros   quant.PriceMicros `json:"availableBalance,string"`
	Positions                []PositionRisk    `json:"positions"`
}

// LiquidationPrice estimates the static single-position liquidation price:
// long entry*(1 - 1/L + mmr), short entry*(1 + 1/L - mmr). 0 when flat.
// Cross-margin effects of other positions are ignored.
func LiquidationPrice(side PositionSide, entry quant.PriceMicros, leverage int, mmr quant.Rate) quant.PriceMicros {
	if leverage <= 0 || entry <= 0 {
		return 0
	}
	one := decimal.NewFromInt(1)
	inv := one.Div(decimal.NewFromInt(int64(leverage)))

	var factor decimal.Decimal
	switch side {
	case PositionLong:
		factor = one.Sub(inv).Add(mmr.Decimal())
	case PositionShort:
		factor = one.Add(inv).Sub(mmr.Decimal())
	default:
		return 0
	}

	liq := entry.Decimal().Mul(factor)
	if liq.IsNegative() {
		return 0
	}
	return quant.PriceMicros(liq.Shift(6).Truncate(0).IntPart())
}
