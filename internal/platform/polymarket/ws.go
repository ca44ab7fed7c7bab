package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantleap/polyrunner/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// PriceHandler receives the latest observed price for a token, from either
// a last-trade message or a book update's best bid.
type PriceHandler func(tokenID string, price float64, ts time.Time)

// WSClient is a WebSocket client for the CLOB market channel. It manages
// the connection lifecycle, keeps the watched-token subscription alive
// across reconnects, and dispatches price updates to registered handlers.
type WSClient struct {
	wsURL          string
	pingInterval   time.Duration
	reconnectDelay time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	assets map[string]struct{} // tokens to (re)subscribe on connect
	closed bool

	handlerMu     sync.RWMutex
	priceHandlers []PriceHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a market-channel client for the given endpoint,
// e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string, pingInterval, reconnectDelay time.Duration) *WSClient {
	return &WSClient{
		wsURL:          wsURL,
		pingInterval:   pingInterval,
		reconnectDelay: reconnectDelay,
		assets:         make(map[string]struct{}),
		done:           make(chan struct{}),
	}
}

// OnPrice registers a handler called for every price observation.
func (w *WSClient) OnPrice(h PriceHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.priceHandlers = append(w.priceHandlers, h)
}

// Connect establishes the WebSocket connection, subscribes to every
// currently-watched token, and starts the read and ping loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	w.conn = conn

	// Full resubscribe: any watchlist changes made while disconnected are
	// picked up here.
	if len(w.assets) > 0 {
		if err := w.sendCommand(w.subscribeCommand("subscribe", w.assetList())); err != nil {
			conn.Close()
			w.conn = nil
			return fmt.Errorf("polymarket/ws: restore subscriptions: %w", err)
		}
	}

	go w.readLoop(conn)
	go w.pingLoop(conn)

	return nil
}

// Watch adds tokens to the subscription set and, if connected, sends an
// incremental subscribe. When disconnected the tokens are picked up by the
// next reconnect's full resubscribe.
func (w *WSClient) Watch(tokenIDs ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	fresh := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if _, ok := w.assets[id]; !ok {
			w.assets[id] = struct{}{}
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 || w.conn == nil {
		return nil
	}
	return w.sendCommand(w.subscribeCommand("subscribe", fresh))
}

// Unwatch removes tokens from the subscription set and, if connected,
// sends an incremental unsubscribe.
func (w *WSClient) Unwatch(tokenIDs ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if _, ok := w.assets[id]; ok {
			delete(w.assets, id)
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 || w.conn == nil {
		return nil
	}
	return w.sendCommand(w.subscribeCommand("unsubscribe", removed))
}

// Close shuts down the connection and stops the background loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (w *WSClient) subscribeCommand(op string, assets []string) WSCommand {
	return WSCommand{AssetIDs: assets, Type: "market", Operation: op}
}

func (w *WSClient) assetList() []string {
	out := make([]string, 0, len(w.assets))
	for id := range w.assets {
		out = append(out, id)
	}
	return out
}

// sendCommand sends a JSON command. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages until the connection drops, then hands off to
// reconnect. It runs in its own goroutine, one per connection.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			conn.Close()
			w.reconnect()
			return // a new readLoop starts from the reconnect's Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop keeps the connection alive. The server drops subscribers that
// go quiet, so the interval is well under the server's idle timeout.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw market-channel message and routes it by event
// type. Unparseable messages are silently dropped; the feed is lossy by
// design and the next update supersedes anything missed.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	now := time.Now().UTC()

	switch envelope.EventType {
	case "last_trade_price":
		var msg WSLastTradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil || price <= 0 {
			return
		}
		w.handlerMu.RLock()
		handlers := w.priceHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(msg.AssetID, price, now)
		}

	case "book":
		var msg WSBookMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		book := (&APIBook{Bids: msg.Bids, Asks: msg.Asks}).ToDomainBook()

		// The best bid is the exit-relevant price for watched positions.
		if book.BestBid > 0 {
			w.handlerMu.RLock()
			handlers := w.priceHandlers
			w.handlerMu.RUnlock()
			for _, h := range handlers {
				h(msg.AssetID, book.BestBid, now)
			}
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed; the exit path depends
// on this feed, so retry is unbounded.
func (w *WSClient) reconnect() {
	delay := w.reconnectDelay

	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
