package domain

import (
	"fmt"

	"github.com/JackAiTrading/FEDformer/pkg/quant"
	"github.com/JackAiTrading/FEDformer/pkg/safe"
)

type PositionSide string

const (
	PositionFlat  PositionSide = "FLAT"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// PositionSideFor maps an order side to the exposure it opens.
func PositionSideFor(s Side) PositionSide {
	if s == SideBuy {
		return PositionLong
	}
	return PositionShort
}

// Settlement selects what Close credits back to cash.
type Settlement string

const (
	// SettleNotional credits size x price - commission for either side. A
	// short therefore gains cash as price rises; kept as the documented
	// account arithmetic.
	SettleNotional Settlement = "NOTIONAL"
	// SettleSideAware credits the released cost basis plus realized PnL,
	// so a short gains as price falls. Opt-in.
	SettleSideAware Settlement = "SIDE_AWARE"
)

func (s Settlement) Valid() bool {
	return s == SettleNotional || s == SettleSideAware
}

// Position is one symbol's exposure in an isolated simulated account.
// All monetary values are strictly int64. QtySats is unsigned in meaning;
// direction lives in Side.
type Position struct {
	Symbol              string            `json:"symbol"`
	Side                PositionSide      `json:"side"`
	QtySats             quant.QtySats     `json:"qty,string"`
	EntryPriceMicros    quant.PriceMicros `json:"entry_price,string"` // Weighted Average Entry Price.
	UnrealizedPnLMicros quant.PriceMicros `json:"unrealized_pnl,string"`
	CapitalMicros       quant.PriceMicros `json:"capital,string"` // Cost basis incl. commission.
	MaxProfitMicros     quant.PriceMicros `json:"max_profit,string"`
	MaxLossMicros       quant.PriceMicros `json:"max_loss,string"`
	HoldingTicks        int64             `json:"holding_ticks"`
	IdleTicks           int64             `json:"idle_ticks"`

	Fees       CommissionPolicy `json:"-"`
	Settlement Settlement       `json:"-"` // empty means SettleNotional
}

// NewPosition creates a flat position billed with the given policy.
func NewPosition(symbol string, fees CommissionPolicy) *Position {
	return &Position{Symbol: symbol, Side: PositionFlat, Fees: fees}
}

// IsLong checks if the position is Long.
func (p *Position) IsLong() bool {
	return p.Side == PositionLong
}

// IsShort checks if the position is Short.
func (p *Position) IsShort() bool {
	return p.Side == PositionShort
}

func (p *Position) IsFlat() bool {
	return p.Side == PositionFlat || p.Side == ""
}

// SignedQty returns size with direction: positive long, negative short.
func (p *Position) SignedQty() quant.QtySats {
	if p.IsShort() {
		return -p.QtySats
	}
	return p.QtySats
}

// Open opens a new position or scales into an existing same-side one.
// It returns the balance after debiting notional plus commission.
// On error the position and the caller's balance are untouched.
func (p *Position) Open(price quant.PriceMicros, qty quant.QtySats, balance quant.PriceMicros, side PositionSide, liq Liquidity) (quant.PriceMicros, error) {
	if qty <= 0 {
		return balance, fmt.Errorf("%w: open qty %s", ErrInvalidSize, qty)
	}
	if price <= 0 {
		return balance, fmt.Errorf("%w: open price %s", ErrInvalidPrice, price)
	}
	if side != PositionLong && side != PositionShort {
		return balance, fmt.Errorf("%w: open side %q", ErrInvalidSide, side)
	}
	if !p.IsFlat() && p.Side != side {
		return balance, fmt.Errorf("%w: %s is %s, open %s", ErrPositionFlip, p.Symbol, p.Side, side)
	}

	notional, err := quant.CheckedNotional(price, qty)
	if err != nil {
		return balance, fmt.Errorf("%w: %w", ErrInvalidSize, err)
	}
	fee := p.Fees.Fee(notional, liq)
	cost := quant.PriceMicros(safe.SafeAdd(int64(notional), int64(fee)))
	if !p.IsFlat() {
		total, ok := safe.CheckedAdd(int64(p.QtySats), int64(qty))
		if !ok {
			return balance, fmt.Errorf("%w: scale-in qty overflows", ErrInvalidSize)
		}
		if _, err := quant.CheckedNotional(p.EntryPriceMicros, quant.QtySats(total)); err != nil {
			return balance, fmt.Errorf("%w: scale-in %w", ErrInvalidSize, err)
		}
	}
	if balance < cost {
		return balance, fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, cost, balance)
	}

	if p.IsFlat() {
		p.Side = side
		p.QtySats = qty
		p.EntryPriceMicros = price
		p.CapitalMicros = cost
		p.UnrealizedPnLMicros = 0
		p.MaxProfitMicros = 0
		p.MaxLossMicros = 0
		p.HoldingTicks = 1
		p.IdleTicks = 0
	} else {
		// Scale-in: entry = (S1*P1 + S2*P2) / (S1+S2)
		held := quant.Notional(p.EntryPriceMicros, p.QtySats)
		total := safe.SafeAdd(int64(held), int64(notional))
		newQty := quant.QtySats(safe.SafeAdd(int64(p.QtySats), int64(qty)))
		p.EntryPriceMicros = quant.PriceMicros(safe.MulDiv(total, quant.QtyScale, int64(newQty)))
		p.QtySats = newQty
		p.CapitalMicros = quant.PriceMicros(safe.SafeAdd(int64(p.CapitalMicros), int64(cost)))
		p.UnrealizedPnLMicros = p.pnlAt(price, p.QtySats)
	}

	return quant.PriceMicros(safe.SafeSub(int64(balance), int64(cost))), nil
}

// Close realizes the whole position at price and resets it to Flat.
func (p *Position) Close(price quant.PriceMicros, balance quant.PriceMicros, liq Liquidity) (realized, newBalance quant.PriceMicros, err error) {
	return p.Reduce(price, p.QtySats, balance, liq)
}

// Reduce realizes qty of the position at price. qty above the held size is
// clamped: the excess never flips the position.
//
// Cash is credited per p.Settlement (see SettleNotional). A settlement that
// would drive the balance below zero is floored at zero and reports
// realized = -balance.
func (p *Position) Reduce(price quant.PriceMicros, qty quant.QtySats, balance quant.PriceMicros, liq Liquidity) (realized, newBalance quant.PriceMicros, err error) {
	if p.IsFlat() {
		return 0, balance, fmt.Errorf("%w: %s", ErrNoPosition, p.Symbol)
	}
	if qty <= 0 {
		return 0, balance, fmt.Errorf("%w: reduce qty %s", ErrInvalidSize, qty)
	}
	if price <= 0 {
		return 0, balance, fmt.Errorf("%w: reduce price %s", ErrInvalidPrice, price)
	}
	if qty > p.QtySats {
		qty = p.QtySats
	}
	notional, err := quant.CheckedNotional(price, qty)
	if err != nil {
		return 0, balance, fmt.Errorf("%w: %w", ErrInvalidPrice, err)
	}

	realized = p.pnlAt(price, qty)
	fee := p.Fees.Fee(notional, liq)

	nb := safe.SafeAdd(int64(balance), int64(p.SettleValue(price, qty)))
	nb = safe.SafeSub(nb, int64(fee))
	if nb < 0 {
		nb = 0
		realized = -balance
	}
	newBalance = quant.PriceMicros(nb)

	if qty == p.QtySats {
		p.reset()
		return realized, newBalance, nil
	}

	p.CapitalMicros = quant.PriceMicros(safe.SafeSub(int64(p.CapitalMicros), safe.MulDiv(int64(p.CapitalMicros), int64(qty), int64(p.QtySats))))
	p.QtySats = quant.QtySats(safe.SafeSub(int64(p.QtySats), int64(qty)))
	p.UnrealizedPnLMicros = p.pnlAt(price, p.QtySats)
	return realized, newBalance, nil
}

// Update marks the position to price. Called once per tick.
func (p *Position) Update(price quant.PriceMicros) {
	if p.IsFlat() {
		p.UnrealizedPnLMicros = 0
		p.MaxProfitMicros = 0
		p.MaxLossMicros = 0
		p.HoldingTicks = 0
		p.IdleTicks++
		return
	}

	p.UnrealizedPnLMicros = p.pnlAt(price, p.QtySats)
	p.HoldingTicks++
	p.IdleTicks = 0
	if p.UnrealizedPnLMicros > p.MaxProfitMicros {
		p.MaxProfitMicros = p.UnrealizedPnLMicros
	}
	if p.UnrealizedPnLMicros < p.MaxLossMicros {
		p.MaxLossMicros = p.UnrealizedPnLMicros
	}
}

// Commission previews the fee for closing at price. 0 when flat.
func (p *Position) Commission(price quant.PriceMicros, liq Liquidity) quant.PriceMicros {
	if p.IsFlat() {
		return 0
	}
	return p.Fees.Fee(quant.Notional(price, p.QtySats), liq)
}

// VerifyInvariant panics if Flat, zero size and zero entry disagree.
func (p *Position) VerifyInvariant() {
	flat := p.IsFlat()
	if flat != (p.QtySats == 0) || flat != (p.EntryPriceMicros == 0) {
		panic(fmt.Sprintf("CORE_POSITION_INVARIANT: %s side=%s qty=%d entry=%d", p.Symbol, p.Side, p.QtySats, p.EntryPriceMicros))
	}
	if p.QtySats < 0 {
		panic(fmt.Sprintf("CORE_POSITION_NEGATIVE_QTY: %s qty=%d", p.Symbol, p.QtySats))
	}
	if p.HoldingTicks > 0 && p.IdleTicks > 0 {
		panic(fmt.Sprintf("CORE_POSITION_TICK_COUNTERS: %s holding=%d idle=%d", p.Symbol, p.HoldingTicks, p.IdleTicks))
	}
}

// SettleValue is the cash a close of qty at price credits before commission.
func (p *Position) SettleValue(price quant.PriceMicros, qty quant.QtySats) quant.PriceMicros {
	if p.Settlement == SettleSideAware {
		released := quant.Notional(p.EntryPriceMicros, qty)
		return quant.PriceMicros(safe.SafeAdd(int64(released), int64(p.pnlAt(price, qty))))
	}
	return quant.Notional(price, qty)
}

func (p *Position) pnlAt(price quant.PriceMicros, qty quant.QtySats) quant.PriceMicros {
	diff := safe.SafeSub(int64(price), int64(p.EntryPriceMicros))
	if p.IsShort() {
		diff = -diff
	}
	return quant.PriceMicros(safe.MulDiv(diff, int64(qty), quant.QtyScale))
}

func (p *Position) reset() {
	p.Side = PositionFlat
	p.QtySats = 0
	p.EntryPriceMicros = 0
	p.UnrealizedPnLMicros = 0
	p.CapitalMicros = 0
	p.MaxProfitMicros = 0
	p.MaxLossMicros = 0
	p.HoldingTicks = 0
	p.IdleTicks = 1
}
