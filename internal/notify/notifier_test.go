package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name string
	got  []Message
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg Message) error {
	s.got = append(s.got, msg)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEvent(t *testing.T) {
	ctx := context.Background()
	s := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{s}, []string{"trade_executed"}, discardLogger())

	require.NoError(t, n.Notify(ctx, TradeExecuted("q", 50, 0.30, 15, 0.34)))
	require.NoError(t, n.Notify(ctx, PositionClosed("tok", "sold", "target filled")))

	require.Len(t, s.got, 1)
	assert.Equal(t, EventTradeExecuted, s.got[0].Event)
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	ctx := context.Background()
	s := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	require.NoError(t, n.Notify(ctx, DrawdownPause(12.5, 88.20)))
	assert.Len(t, s.got, 1)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	ctx := context.Background()
	s := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{s}, []string{"trade_executed"}, discardLogger())

	require.NoError(t, n.NotifyAll(ctx, PositionClosed("tok", "sold_loss", "stop-loss")))
	require.Len(t, s.got, 1)
	assert.Equal(t, EventPositionClosed, s.got[0].Event)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	ctx := context.Background()
	bad := &recordingSender{name: "telegram", err: errors.New("rate limited")}
	good := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(ctx, ExitPlaced("tok", "target", 0.34))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")

	// The healthy channel still got the message.
	assert.Len(t, good.got, 1)
}

func TestNoSendersIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	assert.NoError(t, n.Notify(context.Background(), DrawdownPause(10, 100)))
}

func TestTradeExecutedCarriesFillDetails(t *testing.T) {
	msg := TradeExecuted("Will the bill pass?", 50, 0.301, 15.05, 0.34)

	assert.Equal(t, EventTradeExecuted, msg.Event)
	assert.Equal(t, "Will the bill pass?", msg.Body)
	require.Len(t, msg.Fields, 4)
	assert.Equal(t, Field{Label: "Fill", Value: "0.301"}, msg.Fields[1])
	assert.Equal(t, Field{Label: "Cost", Value: "$15.05"}, msg.Fields[2])
}

func TestTelegramSenderRendersFieldsAsLines(t *testing.T) {
	var captured map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok123/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok123", "chat9")
	s.baseURL = srv.URL

	err := s.Send(context.Background(), ExitPlaced("tokA", "trailing", 0.312))
	require.NoError(t, err)

	assert.Equal(t, "chat9", captured["chat_id"])
	assert.Equal(t, "Markdown", captured["parse_mode"])
	assert.Equal(t, "*Exit order placed*\ntokA\nKind: trailing\nPrice: 0.312", captured["text"])
}

func TestTelegramSenderSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok123", "chat9")
	s.baseURL = srv.URL

	err := s.Send(context.Background(), DrawdownPause(15, 80))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestDiscordSenderBuildsEmbed(t *testing.T) {
	var captured struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), TradeExecuted("q", 50, 0.30, 15, 0.34))
	require.NoError(t, err)

	require.Len(t, captured.Embeds, 1)
	e := captured.Embeds[0]
	assert.Equal(t, "Trade executed", e.Title)
	assert.Equal(t, discordColors[EventTradeExecuted], e.Color)
	require.Len(t, e.Fields, 4)
	assert.Equal(t, "Shares", e.Fields[0].Name)
	assert.True(t, e.Fields[0].Inline)
}
