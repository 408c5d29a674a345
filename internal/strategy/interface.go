package strategy

import (
	"fmt"

	"github.com/JackAiTrading/FEDformer/internal/domain"
)

// Strategy turns market state into trading decisions. Implementations are
// stateful, deterministic, and only ever called from the sequencer goroutine.
type Strategy interface {
	// OnMarketUpdate returns ActionHold when there is nothing to do.
	OnMarketUpdate(state domain.MarketState) domain.Decision
}

// Params are shared by every strategy: how strongly and how to act.
type Params struct {
	Confidence domain.Confidence
	Style      domain.ExecStyle
}

// ParseConfidence maps config strings ("low", "mid", "high").
func ParseConfidence(s string) (domain.Confidence, error) {
	switch s {
	case "", "low":
		return domain.ConfidenceLow, nil
	case "mid", "medium":
		return domain.ConfidenceMid, nil
	case "high":
		return domain.ConfidenceHigh, nil
	}
	return 0, fmt.Errorf("unknown confidence %q", s)
}

// ParseStyle maps config strings ("immediate", "batch", "limit").
func ParseStyle(s string) (domain.ExecStyle, error) {
	switch s {
	case "", "immediate":
		return domain.ExecImmediate, nil
	case "batch":
		return domain.ExecBatch, nil
	case "limit":
		return domain.ExecLimit, nil
	}
	return 0, fmt.Errorf("unknown execution style %q", s)
}

// Multi fans one tick out to a per-symbol strategy.
type Multi map[string]Strategy

func (m Multi) OnMarketUpdate(state domain.MarketState) domain.Decision {
	s, ok := m[state.Symbol]
	if !ok {
		return domain.Decision{Symbol: state.Symbol, Action: domain.ActionHold}
	}
	return s.OnMarketUpdate(state)
}
