package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// inboundEnvelope is a tolerant superset of every inbound frame shape; only
// the fields relevant to the detected event are populated by the sender,
// the rest are left nil and ignored.
type inboundEnvelope struct {
	ContractID *int64   `json:"contractId"`
	Symbol     *string  `json:"symbol"`
	Bid        *float64 `json:"bid"`
	Offer      *float64 `json:"offer"`
	Ask        *float64 `json:"ask"`
	Last       *float64 `json:"last"`
	BidSize    *float64 `json:"bidSize"`
	OfferSize  *float64 `json:"offerSize"`
	AskSize    *float64 `json:"askSize"`
	TotalVolume *float64 `json:"totalVolume"`

	Timestamp *time.Time `json:"timestamp"`
	Open      *float64   `json:"open"`
	High      *float64   `json:"high"`
	Low       *float64   `json:"low"`
	Close     *float64   `json:"close"`
	Volume    *float64   `json:"volume"`
	Complete  *bool      `json:"complete"`

	Bars []struct {
		Timestamp  time.Time `json:"timestamp"`
		Open       float64   `json:"open"`
		High       float64   `json:"high"`
		Low        float64   `json:"low"`
		Close      float64   `json:"close"`
		UpVolume   float64   `json:"upVolume"`
		DownVolume float64   `json:"downVolume"`
	} `json:"bars"`

	OrderID *int64   `json:"orderId"`
	Price   *float64 `json:"price"`
	Qty     *int     `json:"qty"`
	NetPos  *int     `json:"netPos"`
	NetPrice *float64 `json:"netPrice"`
	Status  *string  `json:"status"`
}

// Connect authenticates, dials both streams, and launches the heartbeat
// and read-dispatch tasks.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.session.authenticate(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.closing = false
	c.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelRead = cancel
	c.mu.Unlock()

	if err := c.dialStreams(ctx); err != nil {
		cancel()
		return err
	}

	go c.heartbeatLoop(readCtx)
	go c.readLoop(readCtx, c.marketConn, c.dispatchMarketFrame)
	go c.readLoop(readCtx, c.userConn, c.dispatchUserFrame)
	return nil
}

func (c *Client) dialStreams(ctx context.Context) error {
	marketConn, _, err := c.dialer.DialContext(ctx, c.cfg.MarketWSURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial market stream: %v", ErrTransport, err)
	}
	userConn, _, err := c.dialer.DialContext(ctx, c.cfg.UserWSURL, nil)
	if err != nil {
		_ = marketConn.Close()
		return fmt.Errorf("%w: dial user stream: %v", ErrTransport, err)
	}

	c.mu.Lock()
	c.marketConn = marketConn
	c.userConn = userConn
	c.mu.Unlock()

	for _, sub := range c.subscribed {
		if err := c.resend(sub); err != nil {
			log.Printf("broker: resubscribe %+v failed: %v", sub, err)
		}
	}
	if err := c.writeFrame(c.userConn, "user/syncrequest", c.allocID(), nil); err != nil {
		log.Printf("broker: user/syncrequest failed: %v", err)
	}
	return nil
}

// Disconnect closes both streams and stops all background tasks.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closing = true
	cancel := c.cancelRead
	marketConn, userConn := c.marketConn, c.userConn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if marketConn != nil {
		_ = marketConn.Close()
	}
	if userConn != nil {
		_ = userConn.Close()
	}
	return nil
}

func (c *Client) allocID() int64 {
	return atomic.AddInt64(&c.nextID, 1)
}

// writeFrame encodes endpoint\nid\n\njsonBody and sends it as a text frame.
func (c *Client) writeFrame(conn *websocket.Conn, endpoint string, id int64, body any) error {
	var jsonBody string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: marshal frame: %v", ErrTransport, err)
		}
		jsonBody = string(raw)
	}
	frame := fmt.Sprintf("%s\n%d\n\n%s", endpoint, id, jsonBody)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		return fmt.Errorf("%w: write frame: %v", ErrTransport, err)
	}
	return nil
}

// requestTimeout bounds how long a stream request/response correlation
// waits before the pending id is evicted.
const requestTimeout = 10 * time.Second

// sendAwait writes a request frame and blocks for its correlated response,
// evicting the pending id on timeout.
func (c *Client) sendAwait(conn *websocket.Conn, endpoint string, body any) ([]byte, error) {
	id := c.allocID()
	pending := &pendingRequest{done: make(chan []byte, 1)}

	c.mu.Lock()
	c.pending[id] = pending
	c.mu.Unlock()

	if err := c.writeFrame(conn, endpoint, id, body); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-pending.done:
		return resp, nil
	case <-time.After(requestTimeout):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ErrTimeout
	}
}

// SubscribeQuote requests live quote updates for symbol on the market stream.
func (c *Client) SubscribeQuote(symbol string) error {
	sub := subscription{kind: "quote", symbol: symbol}
	c.mu.Lock()
	c.subscribed = append(c.subscribed, sub)
	conn := c.marketConn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_, err := c.sendAwait(conn, "md/subscribeQuote", map[string]string{"symbol": symbol})
	return err
}

// SubscribeChart requests bar updates for symbol/interval on the market stream.
func (c *Client) SubscribeChart(symbol, interval string) error {
	sub := subscription{kind: "chart", symbol: symbol, interval: interval}
	c.mu.Lock()
	c.subscribed = append(c.subscribed, sub)
	conn := c.marketConn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_, err := c.sendAwait(conn, "md/getChart", map[string]string{"symbol": symbol, "chartDescription": interval})
	return err
}

// resend re-issues an already-tracked subscription after reconnect without
// appending a duplicate entry to c.subscribed.
func (c *Client) resend(sub subscription) error {
	c.mu.Lock()
	conn := c.marketConn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	switch sub.kind {
	case "quote":
		_, err := c.sendAwait(conn, "md/subscribeQuote", map[string]string{"symbol": sub.symbol})
		return err
	case "chart":
		_, err := c.sendAwait(conn, "md/getChart", map[string]string{"symbol": sub.symbol, "chartDescription": sub.interval})
		return err
	}
	return nil
}

// heartbeatLoop sends an empty frame on both streams every H seconds.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			marketConn, userConn := c.marketConn, c.userConn
			c.mu.Unlock()
			if marketConn != nil {
				_ = marketConn.WriteMessage(websocket.TextMessage, []byte{})
			}
			if userConn != nil {
				_ = userConn.WriteMessage(websocket.TextMessage, []byte{})
			}
		}
	}
}

// readLoop reads frames from conn until it errors or ctx is cancelled, then
// triggers reconnect unless the client is shutting down.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, dispatch func([]byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if closing {
				return
			}
			log.Printf("broker: stream read error: %v", err)
			c.reconnect(ctx)
			return
		}
		if isHeartbeatFrame(msg) {
			continue
		}
		dispatch(msg)
	}
}

func isHeartbeatFrame(msg []byte) bool {
	trimmed := strings.TrimSpace(string(msg))
	return trimmed == "" || trimmed == "h"
}

// reconnect retries Connect with exponential backoff (1s, 2s, 4s, ... cap
// 60s) until it succeeds or the context is cancelled.
func (c *Client) reconnect(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff.delay(attempt)):
		}

		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return
		}

		if err := c.Connect(ctx); err != nil {
			log.Printf("broker: reconnect attempt %d failed: %v", attempt+1, err)
			continue
		}
		return
	}
}

// splitFrame parses endpoint\nid\n\njsonBody.
func splitFrame(msg []byte) (endpoint string, id int64, body []byte, ok bool) {
	parts := strings.SplitN(string(msg), "\n\n", 2)
	if len(parts) != 2 {
		return "", 0, nil, false
	}
	head := strings.SplitN(parts[0], "\n", 2)
	if len(head) == 0 {
		return "", 0, nil, false
	}
	endpoint = head[0]
	if len(head) > 1 {
		id, _ = strconv.ParseInt(head[1], 10, 64)
	}
	return endpoint, id, []byte(parts[1]), true
}

func (c *Client) dispatchMarketFrame(msg []byte) {
	endpoint, id, body, ok := splitFrame(msg)
	if !ok {
		return
	}
	if c.completePending(id, body) {
		return
	}

	var env inboundEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Printf("broker: malformed market frame on %s: %v", endpoint, err)
		return
	}

	if len(env.Bars) > 0 {
		for _, b := range env.Bars {
			c.emitMarket(MarketEvent{Bar: &Bar{
				Timestamp: b.Timestamp,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.UpVolume + b.DownVolume,
				Complete:  true,
			}})
		}
		return
	}

	if env.Open != nil && env.Close != nil {
		bar := &Bar{Open: *env.Open, Close: *env.Close}
		if env.High != nil {
			bar.High = *env.High
		}
		if env.Low != nil {
			bar.Low = *env.Low
		}
		if env.Volume != nil {
			bar.Volume = *env.Volume
		}
		if env.Complete != nil {
			bar.Complete = *env.Complete
		}
		if env.Timestamp != nil {
			bar.Timestamp = *env.Timestamp
		}
		if env.Symbol != nil {
			bar.Symbol = *env.Symbol
		}
		c.emitMarket(MarketEvent{Bar: bar})
		return
	}

	if env.Bid != nil || env.Last != nil {
		q := &Quote{}
		if env.ContractID != nil {
			q.ContractID = *env.ContractID
		}
		if env.Symbol != nil {
			q.Symbol = *env.Symbol
		}
		if env.Bid != nil {
			q.Bid = *env.Bid
		}
		if env.Offer != nil {
			q.Ask = *env.Offer
		} else if env.Ask != nil {
			q.Ask = *env.Ask
		}
		if env.Last != nil {
			q.Last = *env.Last
		}
		if env.BidSize != nil {
			q.BidSize = *env.BidSize
		}
		if env.OfferSize != nil {
			q.AskSize = *env.OfferSize
		} else if env.AskSize != nil {
			q.AskSize = *env.AskSize
		}
		if env.TotalVolume != nil {
			q.Volume = *env.TotalVolume
		}
		c.emitMarket(MarketEvent{Quote: q})
	}
}

func (c *Client) dispatchUserFrame(msg []byte) {
	endpoint, id, body, ok := splitFrame(msg)
	if !ok {
		return
	}
	if c.completePending(id, body) {
		return
	}

	var env inboundEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Printf("broker: malformed user frame on %s: %v", endpoint, err)
		return
	}

	switch {
	case env.OrderID != nil && env.Price != nil && env.Qty != nil:
		c.emitUser(UserEvent{Fill: &FillEvent{OrderID: *env.OrderID, Price: *env.Price, Qty: *env.Qty}})
	case env.ContractID != nil && env.NetPos != nil:
		pu := &PositionUpdate{ContractID: *env.ContractID}
		pu.NetPos = *env.NetPos
		if env.NetPrice != nil {
			pu.NetPrice = *env.NetPrice
		}
		c.emitUser(UserEvent{Position: pu})
	case env.OrderID != nil && env.Status != nil:
		c.emitUser(UserEvent{Order: &OrderUpdate{OrderID: *env.OrderID, Status: *env.Status}})
	}
}

func (c *Client) emitMarket(ev MarketEvent) {
	select {
	case c.marketEvents <- ev:
	default:
		log.Printf("broker: market event channel full, dropping event")
	}
}

func (c *Client) emitUser(ev UserEvent) {
	select {
	case c.userEvents <- ev:
	default:
		log.Printf("broker: user event channel full, dropping event")
	}
}

// completePending delivers a raw response body to a waiting request/response
// correlation, evicting it from the pending table. Returns false if id does
// not correspond to a pending request (i.e. it is an unsolicited event).
func (c *Client) completePending(id int64, body []byte) bool {
	if id == 0 {
		return false
	}
	c.mu.Lock()
	pending, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	pending.done <- body
	return true
}
