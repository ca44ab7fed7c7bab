package domain

import "time"

// GateVerdict is the oracle's fast pre-filter answer.
type GateVerdict string

const (
	GatePass GateVerdict = "PASS"
	GateFail GateVerdict = "FAIL"
)

// DecisionAction is the oracle's full-evaluation verdict.
type DecisionAction string

const (
	ActionBuy    DecisionAction = "BUY"
	ActionReject DecisionAction = "REJECT"
)

// Decision is the oracle's full evaluation of a candidate. Oracle failures
// are mapped to a REJECT decision by the caller, never propagated, so a
// Decision always exists for every evaluated candidate.
type Decision struct {
	Action       DecisionAction
	CeilingPrice float64 // maximum price the oracle considers payable
	Rationale    string
	HypeScore    int // 0-10 confidence/hype score
	EvaluatedAt  time.Time
}

// IsBuy reports whether the decision approves entry.
func (d Decision) IsBuy() bool { return d.Action == ActionBuy }

// RejectDecision builds the conservative decision used when the oracle
// errors or times out: uncertainty never defaults to risk-taking.
func RejectDecision(reason string) Decision {
	return Decision{
		Action:      ActionReject,
		Rationale:   reason,
		EvaluatedAt: time.Now().UTC(),
	}
}
