package domain

// Action is the discrete decision emitted by a policy.
type Action int

const (
	ActionHold Action = iota
	ActionBuy
	ActionSell
	ActionFlat // close whatever is open
)

func (a Action) String() string {
	switch a {
	case ActionHold:
		return "HOLD"
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	case ActionFlat:
		return "FLAT"
	default:
		return "UNKNOWN"
	}
}

// Confidence scales how much of the available margin one decision commits.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMid
	ConfidenceHigh
)

// AllocationPermille returns the share of available balance to commit, in 1/1000.
func (c Confidence) AllocationPermille() int64 {
	switch c {
	case ConfidenceHigh:
		return 300
	case ConfidenceMid:
		return 200
	default:
		return 100
	}
}

// ExecStyle selects how a decision turns into orders.
type ExecStyle int

const (
	ExecImmediate ExecStyle = iota // one market order
	ExecBatch                      // a third of the size per decision
	ExecLimit                      // rest a limit at the current price
)

// Decision is the policy output consumed by the executor.
type Decision struct {
	Symbol     string
	Action     Action
	Confidence Confidence
	Style      ExecStyle
	Reason     string
}
