package domain

import (
	"testing"

	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

func TestCommissionPolicy_Fee(t *testing.T) {
	c := DefaultCommissionPolicy()
	tests := []struct {
		name     string
		notional quant.PriceMicros
		liq      Liquidity
		want     quant.PriceMicros
	}{
		{"taker 100", px("100"), LiquidityTaker, px("0.05")},
		{"maker 100", px("100"), LiquidityMaker, px("0.02")},
		{"taker 110", px("110"), LiquidityTaker, px("0.055")},
		{"negative notional billed on magnitude", px("-110"), LiquidityTaker, px("0.055")},
		{"zero", 0, LiquidityTaker, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Fee(tt.notional, tt.liq); got != tt.want {
				t.Errorf("Fee(%s, %s) = %s; want %s", tt.notional, tt.liq, got, tt.want)
			}
		})
	}
}

func TestCommissionPolicy_LiquidityFor(t *testing.T) {
	c := DefaultCommissionPolicy()
	if c.LiquidityFor(OrderTypeLimit) != LiquidityTaker {
		t.Error("limit fills default to taker")
	}
	c.LimitAsMaker = true
	if c.LiquidityFor(OrderTypeLimit) != LiquidityMaker {
		t.Error("LimitAsMaker should bill limit fills as maker")
	}
	if c.LiquidityFor(OrderTypeMarket) != LiquidityTaker {
		t.Error("market fills are always taker")
	}
}
