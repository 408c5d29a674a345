package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/JackAiTrading/FEDformer/internal/domain"
)

// RSIStrategy buys oversold and sells overbought, using talib's Wilder RSI
// over a bounded history of closes.
type RSIStrategy struct {
	symbol     string
	period     int
	oversold   float64
	overbought float64
	params     Params

	closes []float64
	keep   int
}

func NewRSIStrategy(symbol string, period int, oversold, overbought float64, p Params) *RSIStrategy {
	if period < 2 {
		panic(fmt.Sprintf("RSIStrategy: period must be >= 2, got %d", period))
	}
	if !(0 <= oversold && oversold < overbought && overbought <= 100) {
		panic(fmt.Sprintf("RSIStrategy: bad bands %.1f/%.1f", oversold, overbought))
	}
	keep := period * 4
	return &RSIStrategy{
		symbol:     symbol,
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		params:     p,
		closes:     make([]float64, 0, keep+1),
		keep:       keep,
	}
}

// Value is the latest RSI, or false before period+1 closes.
func (s *RSIStrategy) Value() (float64, bool) {
	if len(s.closes) <= s.period {
		return 0, false
	}
	out := talib.Rsi(s.closes, s.period)
	return out[len(out)-1], true
}

func (s *RSIStrategy) OnMarketUpdate(state domain.MarketState) domain.Decision {
	hold := domain.Decision{Symbol: state.Symbol, Action: domain.ActionHold}
	if state.Symbol != s.symbol {
		return hold
	}

	s.closes = append(s.closes, state.PriceMicros.Float64())
	if len(s.closes) > s.keep {
		s.closes = append(s.closes[:0], s.closes[len(s.closes)-s.keep:]...)
	}

	rsi, ok := s.Value()
	if !ok || flat(s.closes) {
		// talib reports 0 for a flat window
		return hold
	}

	d := domain.Decision{Symbol: s.symbol, Confidence: s.params.Confidence, Style: s.params.Style}
	switch {
	case rsi < s.oversold:
		d.Action = domain.ActionBuy
		d.Reason = fmt.Sprintf("rsi %.1f < %.0f", rsi, s.oversold)
	case rsi > s.overbought:
		d.Action = domain.ActionSell
		d.Reason = fmt.Sprintf("rsi %.1f > %.0f", rsi, s.overbought)
	default:
		return hold
	}
	return d
}

func flat(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}
