package strategy

import (
	"fmt"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/pkg/safe"
)

// window is a fixed ring of prices with running sums over its tail (the last
// short values) and over the whole ring. Push does not allocate.
type window struct {
	buf     []int64
	next    int // slot the next price goes into
	n       int
	short   int
	tailSum int64
	fullSum int64
}

func newWindow(short, long int) *window {
	return &window{buf: make([]int64, long), short: short}
}

// at returns the price pushed back steps ago (0 is the latest).
func (w *window) at(back int) int64 {
	i := (w.next - 1 - back) % len(w.buf)
	if i < 0 {
		i += len(w.buf)
	}
	return w.buf[i]
}

func (w *window) push(p int64) {
	// the price leaving the short tail is the one short-1 steps back
	if w.n >= w.short {
		w.tailSum = safe.SafeSub(w.tailSum, w.at(w.short-1))
	}
	if w.n == len(w.buf) {
		w.fullSum = safe.SafeSub(w.fullSum, w.buf[w.next])
	} else {
		w.n++
	}
	w.buf[w.next] = p
	w.next = (w.next + 1) % len(w.buf)
	w.tailSum = safe.SafeAdd(w.tailSum, p)
	w.fullSum = safe.SafeAdd(w.fullSum, p)
}

func (w *window) full() bool { return w.n == len(w.buf) }

// means returns the short and long averages in price micros.
func (w *window) means() (short, long int64) {
	return safe.SafeDiv(w.tailSum, int64(w.short)), safe.SafeDiv(w.fullSum, int64(len(w.buf)))
}

// SMACrossStrategy goes long when the short SMA crosses above the long SMA
// and short on the opposite cross. Deterministic for a given tick sequence.
type SMACrossStrategy struct {
	symbol string
	params Params
	prices *window

	primed    bool
	lastShort int64
	lastLong  int64
}

func NewSMACrossStrategy(symbol string, shortPeriod, longPeriod int, p Params) *SMACrossStrategy {
	if shortPeriod <= 0 || shortPeriod >= longPeriod {
		panic(fmt.Sprintf("SMACrossStrategy: need 0 < short < long, got %d/%d", shortPeriod, longPeriod))
	}
	return &SMACrossStrategy{
		symbol: symbol,
		params: p,
		prices: newWindow(shortPeriod, longPeriod),
	}
}

func (s *SMACrossStrategy) OnMarketUpdate(state domain.MarketState) domain.Decision {
	if state.Symbol != s.symbol {
		return domain.Decision{Symbol: state.Symbol, Action: domain.ActionHold}
	}
	s.prices.push(int64(state.PriceMicros))
	if !s.prices.full() {
		return domain.Decision{Symbol: s.symbol, Action: domain.ActionHold}
	}

	short, long := s.prices.means()
	action, why := domain.ActionHold, ""
	if s.primed {
		switch {
		case s.lastShort <= s.lastLong && short > long:
			action, why = domain.ActionBuy, "golden cross"
		case s.lastShort >= s.lastLong && short < long:
			action, why = domain.ActionSell, "dead cross"
		}
	}
	s.primed, s.lastShort, s.lastLong = true, short, long

	if action == domain.ActionHold {
		return domain.Decision{Symbol: s.symbol, Action: domain.ActionHold}
	}
	return domain.Decision{
		Symbol:     s.symbol,
		Action:     action,
		Confidence: s.params.Confidence,
		Style:      s.params.Style,
		Reason:     why,
	}
}
