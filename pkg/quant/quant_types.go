package quant

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/JackAiTrading/FEDformer/pkg/safe"
)

// PriceMicros represents price multiplied by 1,000,000 (10^6).
// E.g., 1.23 USDT = 1,230,000 PriceMicros.
// Quote-currency amounts (balance, PnL, commission) use the same scale.
type PriceMicros int64

// QtySats represents quantity multiplied by 100,000,000 (10^8).
// E.g., 1.0 BTC = 100,000,000 QtySats.
type QtySats int64

// Rate is a dimensionless ratio multiplied by 1,000,000.
// E.g., a 0.05% taker fee = 500 Rate.
type Rate int64

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

const (
	PriceScale = 1000000
	QtyScale   = 100000000
	RateScale  = 1000000
)

// ToPriceMicros converts a float64 (from external API) to PriceMicros.
// Note: Only used at the boundary. Internal logic uses PriceMicros directly.
func ToPriceMicros(f float64) PriceMicros {
	return PriceMicros(math.Round(f * PriceScale))
}

// ToQtySats converts a float64 to QtySats.
func ToQtySats(f float64) QtySats {
	return QtySats(math.Round(f * QtyScale))
}

// ToRate converts a float64 ratio to Rate.
func ToRate(f float64) Rate {
	return Rate(math.Round(f * RateScale))
}

func (p PriceMicros) String() string {
	return decimal.New(int64(p), -6).StringFixed(6)
}

func (q QtySats) String() string {
	return decimal.New(int64(q), -8).StringFixed(8)
}

func (r Rate) String() string {
	return decimal.New(int64(r), -6).String()
}

// Float64 is for reporting only (metrics, logs). Never feed it back into the ledger.
func (p PriceMicros) Float64() float64 {
	return float64(p) / PriceScale
}

func (q QtySats) Float64() float64 {
	return float64(q) / QtyScale
}

func (r Rate) Float64() float64 {
	return float64(r) / RateScale
}

// Decimal exposes the value for boundary maths that needs ratios.
func (p PriceMicros) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -6)
}

func (q QtySats) Decimal() decimal.Decimal {
	return decimal.New(int64(q), -8)
}

func (r Rate) Decimal() decimal.Decimal {
	return decimal.New(int64(r), -6)
}

// Abs returns the magnitude of the quantity.
func (q QtySats) Abs() QtySats {
	return QtySats(safe.SafeAbs(int64(q)))
}

// Notional returns price x qty in quote micros.
func Notional(price PriceMicros, qty QtySats) PriceMicros {
	return PriceMicros(safe.MulDiv(int64(price), int64(qty), QtyScale))
}

// MaxNotional bounds a single fill, about 72 billion quote units. It keeps
// fees, scale-ins and account-wide sums well inside int64.
const MaxNotional PriceMicros = 1 << 56

// ErrNotionalRange is returned for price x qty products above MaxNotional.
var ErrNotionalRange = errors.New("notional out of range")

// CheckedNotional is Notional for caller-supplied sizes. It never panics.
func CheckedNotional(price PriceMicros, qty QtySats) (PriceMicros, error) {
	n, ok := safe.CheckedMulDiv(int64(price), int64(qty), QtyScale)
	if !ok || n > int64(MaxNotional) || n < -int64(MaxNotional) {
		return 0, fmt.Errorf("%w: %s x %s", ErrNotionalRange, price, qty)
	}
	return PriceMicros(n), nil
}

// ApplyRate returns amount x rate, truncated toward zero.
func ApplyRate(amount PriceMicros, rate Rate) PriceMicros {
	return PriceMicros(safe.MulDiv(int64(amount), int64(rate), RateScale))
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

// ParseTimeStamp converts a string (ms) to TimeStamp (micros).
func ParseTimeStamp(s string) (TimeStamp, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TimeStamp(safe.SafeMul(ms, 1000)), nil
}

// MillisToTimeStamp converts exchange milliseconds to TimeStamp.
func MillisToTimeStamp(ms int64) TimeStamp {
	return TimeStamp(safe.SafeMul(ms, 1000))
}

// ParsePrice parses a decimal string ("123.45") into PriceMicros.
// Extra precision is truncated.
func ParsePrice(s string) (PriceMicros, error) {
	v, err := parseScaled(s, 6)
	return PriceMicros(v), err
}

// ParseQty parses a decimal string into QtySats.
func ParseQty(s string) (QtySats, error) {
	v, err := parseScaled(s, 8)
	return QtySats(v), err
}

// ParseRate parses a decimal ratio ("0.0005") into Rate.
func ParseRate(s string) (Rate, error) {
	v, err := parseScaled(s, 6)
	return Rate(v), err
}

// ToPriceMicrosStr is the lenient form of ParsePrice: bad input yields 0.
func ToPriceMicrosStr(s string) PriceMicros {
	p, _ := ParsePrice(s)
	return p
}

// ToQtySatsStr is the lenient form of ParseQty.
func ToQtySatsStr(s string) QtySats {
	q, _ := ParseQty(s)
	return q
}

func parseScaled(s string, places int32) (int64, error) {
	if s == "" || s == "null" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	scaled := d.Shift(places).Truncate(0)
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("parse %q: out of int64 range", s)
	}
	return scaled.IntPart(), nil
}
