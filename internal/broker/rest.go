package broker

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// PlaceOrder submits a single-leg order and returns its broker-assigned id.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	body := map[string]any{
		"symbol":    req.Symbol,
		"action":    req.Side,
		"orderQty":  req.Qty,
		"orderType": req.Type,
	}
	if req.Price != 0 {
		body["price"] = req.Price
	}
	if req.StopPrice != 0 {
		body["stopPrice"] = req.StopPrice
	}

	var resp struct {
		OrderID int64 `json:"orderId"`
	}
	if err := c.session.authedDo(ctx, "POST", "order/placeorder", body, &resp); err != nil {
		return OrderAck{}, err
	}
	return OrderAck{OrderID: resp.OrderID}, nil
}

// PlaceBracket submits an entry order with stop-loss and take-profit
// children in a single OSO (order-sends-order) request.
func (c *Client) PlaceBracket(ctx context.Context, req BracketRequest) (OrderAck, error) {
	body := map[string]any{
		"symbol":    req.Symbol,
		"action":    req.Side,
		"orderQty":  req.Qty,
		"orderType": req.EntryType,
		"bracket1": map[string]any{
			"orderType": Stop,
			"stopPrice": req.StopPrice,
		},
		"bracket2": map[string]any{
			"orderType": Limit,
			"price":     req.TargetPrice,
		},
	}
	if req.EntryPrice != 0 {
		body["price"] = req.EntryPrice
	}

	var resp struct {
		OrderID    int64   `json:"orderId"`
		BracketIDs []int64 `json:"bracketOrderIds"`
	}
	if err := c.session.authedDo(ctx, "POST", "order/placeoso", body, &resp); err != nil {
		return OrderAck{}, err
	}
	return OrderAck{OrderID: resp.OrderID, BracketIDs: resp.BracketIDs}, nil
}

// CancelOrder cancels a working order by id.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	return c.session.authedDo(ctx, "POST", "order/cancelorder", map[string]any{"orderId": orderID}, nil)
}

// ModifyOrder changes price/qty on a working order.
func (c *Client) ModifyOrder(ctx context.Context, orderID int64, price float64, qty int) error {
	body := map[string]any{"orderId": orderID}
	if price != 0 {
		body["price"] = price
	}
	if qty != 0 {
		body["orderQty"] = qty
	}
	return c.session.authedDo(ctx, "POST", "order/modifyorder", body, nil)
}

// Liquidate flattens the open position for a symbol at market.
func (c *Client) Liquidate(ctx context.Context, symbol string) error {
	return c.session.authedDo(ctx, "POST", "order/liquidateposition", map[string]any{"symbol": symbol}, nil)
}

// GetPositions returns all open positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	if err := c.session.authedDo(ctx, "GET", "position/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrders returns the working order list.
func (c *Client) GetOrders(ctx context.Context) ([]OrderUpdate, error) {
	var out []OrderUpdate
	if err := c.session.authedDo(ctx, "GET", "order/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBalance returns the account cash balance snapshot.
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	var out Balance
	if err := c.session.authedDo(ctx, "GET", "cashBalance/getCashBalanceSnapshot", nil, &out); err != nil {
		return Balance{}, err
	}
	return out, nil
}

// GetHistoricalBars fetches completed bars for symbol/interval within
// [from, to], oldest-first, via the chart REST endpoint.
func (c *Client) GetHistoricalBars(ctx context.Context, symbol, interval string, from, to time.Time) ([]HistoricalBar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("from", strconv.FormatInt(from.Unix(), 10))
	q.Set("to", strconv.FormatInt(to.Unix(), 10))

	var resp struct {
		Bars []HistoricalBar `json:"bars"`
	}
	path := fmt.Sprintf("md/getChart?%s", q.Encode())
	if err := c.session.authedDo(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Bars, nil
}
