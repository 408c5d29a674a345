package domain

import "github.com/JackAiTrading/FEDformer/pkg/quant"

// Liquidity marks whether a fill added (maker) or removed (taker) liquidity.
type Liquidity string

const (
	LiquidityMaker Liquidity = "MAKER"
	LiquidityTaker Liquidity = "TAKER"
)

// CommissionPolicy maps a fill notional to its fee.
type CommissionPolicy struct {
	MakerRate quant.Rate
	TakerRate quant.Rate
	// LimitAsMaker charges resting limit fills at MakerRate. Off by default:
	// the simulator historically billed every fill as taker.
	LimitAsMaker bool
}

// DefaultCommissionPolicy returns futures VIP0 rates (0.02% maker, 0.05% taker).
func DefaultCommissionPolicy() CommissionPolicy {
	return CommissionPolicy{
		MakerRate: 200,
		TakerRate: 500,
	}
}

// Fee returns the commission for a fill of the given notional.
func (c CommissionPolicy) Fee(notional quant.PriceMicros, liq Liquidity) quant.PriceMicros {
	if notional < 0 {
		notional = -notional
	}
	rate := c.TakerRate
	if liq == LiquidityMaker {
		rate = c.MakerRate
	}
	return quant.ApplyRate(notional, rate)
}

// LiquidityFor classifies a fill by the order type that produced it.
func (c CommissionPolicy) LiquidityFor(t OrderType) Liquidity {
	if t == OrderTypeLimit && c.LimitAsMaker {
		return LiquidityMaker
	}
	return LiquidityTaker
}
