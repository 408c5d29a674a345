package backtest

import (
	"math"

	"github.com/JackAiTrading/FEDformer/internal/domain"
	"github.com/JackAiTrading/FEDformer/pkg/quant"
)

// EquityPoint is the account value after one step.
type EquityPoint struct {
	UnixM  quant.TimeStamp   `json:"time,string"`
	Equity quant.PriceMicros `json:"equity,string"`
}

// Report summarizes a run.
type Report struct {
	Equity         []EquityPoint `json:"-"`
	TotalReturnPct float64       `json:"total_return_pct"`
	MaxDrawdownPct float64       `json:"max_drawdown_pct"`
	Sharpe         float64       `json:"sharpe"`
	WinRate        float64       `json:"win_rate"`

	InitialEquity quant.PriceMicros `json:"initial_equity,string"`
	FinalEquity   quant.PriceMicros `json:"final_equity,string"`

	Steps         int `json:"steps"`
	Trades        int `json:"trades"`
	ClosingTrades int `json:"closing_trades"`
	Wins          int `json:"wins"`
}

// ComputeReport derives the run metrics. Sharpe annualizes per-step returns
// by sqrt(periodsPerYear); win rate counts closing trades with positive
// realized PnL net of commission.
func ComputeReport(equity []EquityPoint, trades []domain.Trade, periodsPerYear int) Report {
	r := Report{Equity: equity, Steps: len(equity), Trades: len(trades)}
	if len(equity) == 0 {
		return r
	}
	r.InitialEquity = equity[0].Equity
	r.FinalEquity = equity[len(equity)-1].Equity
	if r.InitialEquity > 0 {
		r.TotalReturnPct = (r.FinalEquity.Float64()/r.InitialEquity.Float64() - 1) * 100
	}
	r.MaxDrawdownPct = maxDrawdownPct(equity)
	r.Sharpe = sharpe(equity, periodsPerYear)

	for _, t := range trades {
		if !t.Closing {
			continue
		}
		r.ClosingTrades++
		if t.RealizedPnLMicros-t.CommissionMicros > 0 {
			r.Wins++
		}
	}
	if r.ClosingTrades > 0 {
		r.WinRate = float64(r.Wins) / float64(r.ClosingTrades)
	}
	return r
}

func maxDrawdownPct(equity []EquityPoint) float64 {
	peak := equity[0].Equity.Float64()
	var worst float64
	for _, p := range equity {
		v := p.Equity.Float64()
		if v > peak {
			peak = v
		}
		if peak > 0 {
			worst = math.Max(worst, (peak-v)/peak)
		}
	}
	return worst * 100
}

func sharpe(equity []EquityPoint, periodsPerYear int) float64 {
	if len(equity) < 3 || periodsPerYear <= 0 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity.Float64()
		if prev == 0 {
			continue
		}
		rets = append(rets, equity[i].Equity.Float64()/prev-1)
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, x := range rets {
		mean += x
	}
	mean /= float64(len(rets))
	var variance float64
	for _, x := range rets {
		variance += (x - mean) * (x - mean)
	}
	std := math.Sqrt(variance / float64(len(rets)))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(float64(periodsPerYear))
}
