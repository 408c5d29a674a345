package feature

import (
	"errors"
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// Column names, in Window row order.
const (
	ColClose      = "close"
	ColVolume     = "volume"
	ColSMAShort   = "sma_short"
	ColSMALong    = "sma_long"
	ColRSI        = "rsi"
	ColMACD       = "macd"
	ColMACDSignal = "macd_signal"
	ColMACDHist   = "macd_hist"
	ColATR        = "atr"
)

var ErrStepOutOfRange = errors.New("step out of range")

// FrameConfig holds indicator periods.
type FrameConfig struct {
	ShortWindow int
	LongWindow  int
	RSIPeriod   int
	ATRPeriod   int
	MACDFast    int
	MACDSlow    int
	MACDSignal  int
}

func DefaultFrameConfig() FrameConfig {
	return FrameConfig{
		ShortWindow: 5,
		LongWindow:  20,
		RSIPeriod:   14,
		ATRPeriod:   14,
		MACDFast:    12,
		MACDSlow:    26,
		MACDSignal:  9,
	}
}

// Frame is a bar series plus per-bar indicator columns. Steps index Bars.
type Frame struct {
	Symbol string
	Bars   []Bar

	names  []string
	cols   [][]float64
	warmup int
}

// NewFrame computes the indicator columns over bars. Zero periods take the
// defaults; bars must outnumber the longest lookback.
func NewFrame(symbol string, bars []Bar, cfg FrameConfig) (*Frame, error) {
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	def := DefaultFrameConfig()
	orDefault(&cfg.ShortWindow, def.ShortWindow)
	orDefault(&cfg.LongWindow, def.LongWindow)
	orDefault(&cfg.RSIPeriod, def.RSIPeriod)
	orDefault(&cfg.ATRPeriod, def.ATRPeriod)
	orDefault(&cfg.MACDFast, def.MACDFast)
	orDefault(&cfg.MACDSlow, def.MACDSlow)
	orDefault(&cfg.MACDSignal, def.MACDSignal)
	if cfg.ShortWindow >= cfg.LongWindow || cfg.MACDFast >= cfg.MACDSlow {
		return nil, fmt.Errorf("invalid periods: sma %d/%d macd %d/%d",
			cfg.ShortWindow, cfg.LongWindow, cfg.MACDFast, cfg.MACDSlow)
	}

	warmup := max(cfg.LongWindow-1, cfg.RSIPeriod, cfg.MACDSlow+cfg.MACDSignal-2, cfg.ATRPeriod)
	if len(bars) <= warmup {
		return nil, fmt.Errorf("%w: %d bars, indicators need more than %d", ErrNoBars, len(bars), warmup)
	}

	n := len(bars)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	vols := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close.Float64()
		highs[i] = b.High.Float64()
		lows[i] = b.Low.Float64()
		vols[i] = b.Volume.Float64()
	}

	macd, signal, hist := talib.Macd(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	f := &Frame{
		Symbol: symbol,
		Bars:   bars,
		names: []string{
			ColClose, ColVolume, ColSMAShort, ColSMALong, ColRSI,
			ColMACD, ColMACDSignal, ColMACDHist, ColATR,
		},
		cols: [][]float64{
			closes,
			vols,
			talib.Sma(closes, cfg.ShortWindow),
			talib.Sma(closes, cfg.LongWindow),
			talib.Rsi(closes, cfg.RSIPeriod),
			macd,
			signal,
			hist,
			talib.Atr(highs, lows, closes, cfg.ATRPeriod),
		},
		warmup: warmup,
	}
	return f, nil
}

func orDefault(v *int, d int) {
	if *v <= 0 {
		*v = d
	}
}

func (f *Frame) Len() int { return len(f.Bars) }

// Warmup is the first step at which every indicator column is populated.
func (f *Frame) Warmup() int { return f.warmup }

// Names lists the feature columns in row order.
func (f *Frame) Names() []string { return append([]string(nil), f.names...) }

// Column returns the named column, or nil.
func (f *Frame) Column(name string) []float64 {
	for i, n := range f.names {
		if n == name {
			return f.cols[i]
		}
	}
	return nil
}

// CurrentPrice is the close at step.
func (f *Frame) CurrentPrice(step int) (quant.PriceMicros, error) {
	if step < 0 || step >= len(f.Bars) {
		return 0, fmt.Errorf("%w: %d of %d", ErrStepOutOfRange, step, len(f.Bars))
	}
	return f.Bars[step].Close, nil
}

// Window returns the n feature rows ending at step, min-max normalized per
// column over the window.
func (f *Frame) Window(step, n int) ([][]float64, error) {
	if n <= 0 || step >= len(f.Bars) || step-n+1 < 0 {
		return nil, fmt.Errorf("%w: window %d ending at %d of %d", ErrStepOutOfRange, n, step, len(f.Bars))
	}
	rows := make([][]float64, n)
	for r := range rows {
		row := make([]float64, len(f.cols))
		for c, col := range f.cols {
			row[c] = col[step-n+1+r]
		}
		rows[r] = row
	}
	return MinMax(rows), nil
}

// MinMax scales each column of rows into [0, 1] in place. Constant columns
// become 0.
func MinMax(rows [][]float64) [][]float64 {
	if len(rows) == 0 {
		return rows
	}
	for c := range rows[0] {
		lo, hi := rows[0][c], rows[0][c]
		for _, r := range rows[1:] {
			lo = min(lo, r[c])
			hi = max(hi, r[c])
		}
		span := hi - lo
		if span == 0 {
			span = 1
		}
		for _, r := range rows {
			r[c] = (r[c] - lo) / span
		}
	}
	return rows
}
