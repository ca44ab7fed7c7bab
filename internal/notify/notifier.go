// Package notify pushes trade lifecycle alerts to operator channels. The
// engine emits typed events (entries, exits, risk pauses); each sender
// renders them with its own markup.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event classifies a notification. The configured allowlist filters on it.
type Event string

const (
	// EventTradeExecuted fires when a buy fills and a position opens.
	EventTradeExecuted Event = "trade_executed"
	// EventExitPlaced fires when an exit order reaches the book.
	EventExitPlaced Event = "exit_placed"
	// EventPositionClosed fires when a position leaves the open book.
	EventPositionClosed Event = "position_closed"
	// EventDrawdownPause fires when the governor halts new entries.
	EventDrawdownPause Event = "drawdown_pause"
)

// Field is one labelled detail of a notification, rendered as a line on
// text channels and as an embed field on Discord.
type Field struct {
	Label string
	Value string
}

// Message is a channel-agnostic notification.
type Message struct {
	Event  Event
	Title  string
	Body   string
	Fields []Field
}

// TradeExecuted describes a filled entry.
func TradeExecuted(question string, shares, fill, cost, target float64) Message {
	return Message{
		Event: EventTradeExecuted,
		Title: "Trade executed",
		Body:  question,
		Fields: []Field{
			{Label: "Shares", Value: fmt.Sprintf("%.2f", shares)},
			{Label: "Fill", Value: fmt.Sprintf("%.3f", fill)},
			{Label: "Cost", Value: fmt.Sprintf("$%.2f", cost)},
			{Label: "Target", Value: fmt.Sprintf("%.3f", target)},
		},
	}
}

// ExitPlaced describes an exit order resting on the book.
func ExitPlaced(tokenID, kind string, price float64) Message {
	return Message{
		Event: EventExitPlaced,
		Title: "Exit order placed",
		Body:  tokenID,
		Fields: []Field{
			{Label: "Kind", Value: kind},
			{Label: "Price", Value: fmt.Sprintf("%.3f", price)},
		},
	}
}

// PositionClosed describes a position leaving the open book.
func PositionClosed(tokenID, status, note string) Message {
	return Message{
		Event: EventPositionClosed,
		Title: "Position closed",
		Body:  tokenID,
		Fields: []Field{
			{Label: "Status", Value: status},
			{Label: "Note", Value: note},
		},
	}
}

// DrawdownPause describes the governor halting new entries.
func DrawdownPause(drawdownPct, balance float64) Message {
	return Message{
		Event: EventDrawdownPause,
		Title: "Drawdown pause",
		Body:  "New entries paused until the balance recovers.",
		Fields: []Field{
			{Label: "Drawdown", Value: fmt.Sprintf("%.1f%%", drawdownPct)},
			{Label: "Balance", Value: fmt.Sprintf("$%.2f", balance)},
		},
	}
}

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans messages out to every configured sender, filtered by the
// allowed event set. An empty set allows everything.
type Notifier struct {
	senders []Sender
	allowed map[Event]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. events is
// the configured allowlist of event names; empty means no filtering.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		allowed[Event(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the message if its event is in the allowed set.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if len(n.allowed) > 0 && !n.allowed[msg.Event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", string(msg.Event)),
		)
		return nil
	}
	return n.dispatch(ctx, msg)
}

// NotifyAll delivers the message regardless of the event filter. Used for
// lifecycle alerts the operator must always see.
func (n *Notifier) NotifyAll(ctx context.Context, msg Message) error {
	return n.dispatch(ctx, msg)
}

// dispatch sends to every sender; one failing channel never blocks the
// others. The combined error carries every failure.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(msg.Event)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", string(msg.Event)),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of %d senders failed: %w",
			len(errs), len(n.senders), errors.Join(errs...))
	}
	return nil
}
