package domain

import (
	"fmt"
	"sort"

	"github.com/JackAiTrading/FEDformer/pkg/quant"
	"github.com/JackAiTrading/FEDformer/pkg/safe"
)

// QuoteAsset is the single settlement currency of the simulated account.
const QuoteAsset = "USDT"

// MaxLeverage caps SetLeverage like a USDT-M venue.
const MaxLeverage = 125

// Ledger is the simulated account: one cash balance, a position per symbol,
// and the per-symbol leverage/margin settings. It is not safe for concurrent
// use; the owning client serializes access.
type Ledger struct {
	cash   quant.PriceMicros
	fees   CommissionPolicy
	mmr    quant.Rate
	defLv  int
	settle Settlement

	positions   map[string]*Position
	marks       map[string]quant.PriceMicros
	leverage    map[string]int
	marginTypes map[string]MarginType
}

// FillResult is what one ledger fill did to cash and exposure.
type FillResult struct {
	QtySats           quant.QtySats
	CommissionMicros  quant.PriceMicros
	RealizedPnLMicros quant.PriceMicros
	Closing           bool
}

// NewLedger creates an account holding initial quote cash.
func NewLedger(initial quant.PriceMicros, fees CommissionPolicy, leverage int, mmr quant.Rate) *Ledger {
	if leverage <= 0 {
		leverage = 1
	}
	return &Ledger{
		cash:        initial,
		fees:        fees,
		mmr:         mmr,
		defLv:       leverage,
		settle:      SettleNotional,
		positions:   make(map[string]*Position),
		marks:       make(map[string]quant.PriceMicros),
		leverage:    make(map[string]int),
		marginTypes: make(map[string]MarginType),
	}
}

func (l *Ledger) Cash() quant.PriceMicros { return l.cash }

func (l *Ledger) Fees() CommissionPolicy { return l.fees }

// Position returns the symbol's position. A symbol never filled gets a
// detached flat position that is not recorded in the ledger.
func (l *Ledger) Position(symbol string) *Position {
	if p, ok := l.positions[symbol]; ok {
		return p
	}
	return l.newPosition(symbol)
}

func (l *Ledger) newPosition(symbol string) *Position {
	p := NewPosition(symbol, l.fees)
	p.Settlement = l.settle
	return p
}

// SetSettlement switches how closes credit cash for every position.
func (l *Ledger) SetSettlement(s Settlement) error {
	if !s.Valid() {
		return fmt.Errorf("invalid settlement %q", s)
	}
	l.settle = s
	for _, p := range l.positions {
		p.Settlement = s
	}
	return nil
}

func (l *Ledger) Settlement() Settlement { return l.settle }

// Symbols returns every symbol with a position record, sorted.
func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Fill applies one execution to the symbol's position and the cash balance.
// Flat or same-side exposure opens/scales in; opposite-side reduces, with any
// quantity beyond the held size dropped rather than flipped.
func (l *Ledger) Fill(symbol string, side Side, price quant.PriceMicros, qty quant.QtySats, reduceOnly bool, liq Liquidity) (FillResult, error) {
	if !side.Valid() {
		return FillResult{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	pos, known := l.positions[symbol]
	if !known {
		pos = l.newPosition(symbol)
	}
	opens := PositionSideFor(side)

	if pos.IsFlat() || pos.Side == opens {
		if reduceOnly {
			return FillResult{}, fmt.Errorf("%w: %s %s on %s", ErrReduceOnly, side, symbol, pos.Side)
		}
		if m, ok := l.marks[symbol]; ok {
			total, ok := safe.CheckedAdd(int64(pos.QtySats), int64(qty))
			if !ok {
				return FillResult{}, fmt.Errorf("%w: qty overflows on %s", ErrInvalidSize, symbol)
			}
			if _, err := quant.CheckedNotional(m, quant.QtySats(total)); err != nil {
				return FillResult{}, fmt.Errorf("%w: at mark %w", ErrInvalidSize, err)
			}
		}
		nb, err := pos.Open(price, qty, l.cash, opens, liq)
		if err != nil {
			return FillResult{}, err
		}
		fee := l.fees.Fee(quant.Notional(price, qty), liq)
		l.cash = nb
		if !known {
			l.positions[symbol] = pos
		}
		return FillResult{QtySats: qty, CommissionMicros: fee}, nil
	}

	filled := qty
	if filled > pos.QtySats {
		filled = pos.QtySats
	}
	realized, nb, err := pos.Reduce(price, filled, l.cash, liq)
	if err != nil {
		return FillResult{}, err
	}
	l.cash = nb
	return FillResult{
		QtySats:           filled,
		CommissionMicros:  l.fees.Fee(quant.Notional(price, filled), liq),
		RealizedPnLMicros: realized,
		Closing:           true,
	}, nil
}

// CheckMark reports whether price is usable as a mark for symbol: the held
// position valued at it must stay within quant.MaxNotional.
func (l *Ledger) CheckMark(symbol string, price quant.PriceMicros) error {
	p, ok := l.positions[symbol]
	if !ok || p.IsFlat() {
		return nil
	}
	if _, err := quant.CheckedNotional(price, p.QtySats); err != nil {
		return fmt.Errorf("%w: mark %w", ErrInvalidPrice, err)
	}
	return nil
}

// Mark records the latest price for symbol.
func (l *Ledger) Mark(symbol string, price quant.PriceMicros) {
	l.marks[symbol] = price
}

// MarkPrice returns the latest price, falling back to the entry price.
func (l *Ledger) MarkPrice(symbol string) quant.PriceMicros {
	if m, ok := l.marks[symbol]; ok {
		return m
	}
	if p, ok := l.positions[symbol]; ok {
		return p.EntryPriceMicros
	}
	return 0
}

// UpdateAll ticks every position against its own symbol's latest price.
func (l *Ledger) UpdateAll() {
	for sym, p := range l.positions {
		p.Update(l.MarkPrice(sym))
	}
}

// UnrealizedPnL sums unrealized PnL over all positions.
func (l *Ledger) UnrealizedPnL() quant.PriceMicros {
	var sum int64
	for _, p := range l.positions {
		sum = safe.SafeAdd(sum, int64(p.UnrealizedPnLMicros))
	}
	return quant.PriceMicros(sum)
}

// Equity is cash plus unrealized PnL.
func (l *Ledger) Equity() quant.PriceMicros {
	return quant.PriceMicros(safe.SafeAdd(int64(l.cash), int64(l.UnrealizedPnL())))
}

// UsedMargin sums |size x mark| / leverage over open positions.
func (l *Ledger) UsedMargin() quant.PriceMicros {
	var used int64
	for sym, p := range l.positions {
		if p.IsFlat() {
			continue
		}
		notional := quant.Notional(l.MarkPrice(sym), p.QtySats)
		used = safe.SafeAdd(used, safe.SafeDiv(int64(notional), int64(l.Leverage(sym))))
	}
	return quant.PriceMicros(used)
}

// AvailableMargin is cash minus used margin.
func (l *Ledger) AvailableMargin() quant.PriceMicros {
	return quant.PriceMicros(safe.SafeSub(int64(l.cash), int64(l.UsedMargin())))
}

// NetLiquidation values the account as cash plus what closing every
// position at its mark would credit before commission. Used for equity
// curves, so it follows the ledger's Settlement.
func (l *Ledger) NetLiquidation() quant.PriceMicros {
	total := int64(l.cash)
	for sym, p := range l.positions {
		if p.IsFlat() {
			continue
		}
		total = safe.SafeAdd(total, int64(p.SettleValue(l.MarkPrice(sym), p.QtySats)))
	}
	return quant.PriceMicros(total)
}

func (l *Ledger) Leverage(symbol string) int {
	if lv, ok := l.leverage[symbol]; ok {
		return lv
	}
	return l.defLv
}

func (l *Ledger) SetLeverage(symbol string, leverage int) error {
	if leverage < 1 || leverage > MaxLeverage {
		return fmt.Errorf("%w: %d", ErrInvalidLeverage, leverage)
	}
	l.leverage[symbol] = leverage
	return nil
}

func (l *Ledger) MarginType(symbol string) MarginType {
	if mt, ok := l.marginTypes[symbol]; ok {
		return mt
	}
	return MarginCrossed
}

func (l *Ledger) SetMarginType(symbol string, mt MarginType) error {
	if !mt.Valid() {
		return fmt.Errorf("invalid margin type %q", mt)
	}
	l.marginTypes[symbol] = mt
	return nil
}

// Risk builds the position-risk record for symbol.
func (l *Ledger) Risk(symbol string) PositionRisk {
	p, ok := l.positions[symbol]
	if !ok {
		p = l.newPosition(symbol)
	}
	lv := l.Leverage(symbol)
	return PositionRisk{
		Symbol:                 symbol,
		PositionAmtSats:        p.SignedQty(),
		EntryPriceMicros:       p.EntryPriceMicros,
		MarkPriceMicros:        l.MarkPrice(symbol),
		UnrealizedPnLMicros:    p.UnrealizedPnLMicros,
		LiquidationPriceMicros: LiquidationPrice(p.Side, p.EntryPriceMicros, lv, l.mmr),
		Leverage:               lv,
		MarginType:             l.MarginType(symbol),
	}
}

// Balance builds the quote-asset balance row.
func (l *Ledger) Balance() AssetBalance {
	return AssetBalance{
		Asset:                    QuoteAsset,
		BalanceMicros:            l.cash,
		CrossWalletBalanceMicros: l.cash,
		CrossUnPnlMicros:         l.UnrealizedPnL(),
		AvailableBalanceMicros:   l.AvailableMargin(),
	}
}

// VerifyInvariant panics if cash went negative or any position is inconsistent.
func (l *Ledger) VerifyInvariant() {
	if l.cash < 0 {
		panic(fmt.Sprintf("CORE_LEDGER_NEGATIVE_CASH: %d", l.cash))
	}
	for _, p := range l.positions {
		p.VerifyInvariant()
	}
}

// LedgerSnapshot is the persisted form of a Ledger.
type LedgerSnapshot struct {
	CashMicros  quant.PriceMicros            `json:"cash,string"`
	Positions   []Position                   `json:"positions"`
	Marks       map[string]quant.PriceMicros `json:"marks"`
	Leverage    map[string]int               `json:"leverage"`
	MarginTypes map[string]MarginType        `json:"margin_types"`
}

// Snapshot copies the ledger state. Positions are sorted by symbol.
func (l *Ledger) Snapshot() LedgerSnapshot {
	snap := LedgerSnapshot{
		CashMicros:  l.cash,
		Marks:       make(map[string]quant.PriceMicros, len(l.marks)),
		Leverage:    make(map[string]int, len(l.leverage)),
		MarginTypes: make(map[string]MarginType, len(l.marginTypes)),
	}
	for _, sym := range l.Symbols() {
		snap.Positions = append(snap.Positions, *l.positions[sym])
	}
	for k, v := range l.marks {
		snap.Marks[k] = v
	}
	for k, v := range l.leverage {
		snap.Leverage[k] = v
	}
	for k, v := range l.marginTypes {
		snap.MarginTypes[k] = v
	}
	return snap
}

// Restore replaces the ledger state with snap and verifies it.
func (l *Ledger) Restore(snap LedgerSnapshot) {
	l.cash = snap.CashMicros
	l.positions = make(map[string]*Position, len(snap.Positions))
	for i := range snap.Positions {
		p := snap.Positions[i]
		p.Fees = l.fees
		p.Settlement = l.settle
		l.positions[p.Symbol] = &p
	}
	l.marks = make(map[string]quant.PriceMicros, len(snap.Marks))
	for k, v := range snap.Marks {
		l.marks[k] = v
	}
	l.leverage = make(map[string]int, len(snap.Leverage))
	for k, v := range snap.Leverage {
		l.leverage[k] = v
	}
	l.marginTypes = make(map[string]MarginType, len(snap.MarginTypes))
	for k, v := range snap.MarginTypes {
		l.marginTypes[k] = v
	}
	l.VerifyInvariant()
}
