package domain

import "time"

// ExitKind identifies which branch of the exit state machine fired.
type ExitKind string

const (
	ExitTarget      ExitKind = "target"
	ExitStopLoss    ExitKind = "stop_loss"
	ExitTrailing    ExitKind = "trailing_break_even"
	ExitZeroBalance ExitKind = "zero_balance"
	ExitTimeBased   ExitKind = "time_based_break_even"
)

// ExitEvent is published by the monitor when an exit order is placed or a
// position is detected as closed. The consumer owns persistence, so the
// monitor communicates by message passing instead of writing shared state.
type ExitEvent struct {
	TokenID   string
	Kind      ExitKind
	Price     float64 // limit price of the exit order, 0 for zero-balance
	Placed    bool    // whether an exit order was accepted by the exchange
	Closed    bool    // whether the position is known closed
	Status    PositionStatus
	Note      string
	Timestamp time.Time
}
