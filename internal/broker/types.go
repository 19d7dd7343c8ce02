// Package broker implements the BrokerPort: a session-managed, reconnecting
// bidirectional stream plus a signed REST client against the brokerage API.
package broker

import (
	"errors"
	"time"
)

// Errors returned by REST calls, matching the port's declared failure modes.
var (
	ErrNotAuthenticated = errors.New("broker: not authenticated")
	ErrRejected         = errors.New("broker: request rejected")
	ErrTimeout          = errors.New("broker: request timed out")
	ErrTransport        = errors.New("broker: transport error")
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// OrderType mirrors the brokerage's order type vocabulary.
type OrderType string

const (
	Market OrderType = "Market"
	Limit  OrderType = "Limit"
	Stop   OrderType = "Stop"
)

// OrderRequest is a single-leg order placement request.
type OrderRequest struct {
	Symbol    string
	Side      Side
	Qty       int
	Type      OrderType
	Price     float64
	StopPrice float64
}

// BracketRequest places an entry with a stop-loss and take-profit child
// (an OSO: "order sends order") in one call.
type BracketRequest struct {
	Symbol     string
	Side       Side
	Qty        int
	EntryType  OrderType
	EntryPrice float64
	StopPrice  float64
	TargetPrice float64
}

// OrderAck is the broker's immediate response to a placement request.
type OrderAck struct {
	OrderID     int64
	BracketIDs  []int64
}

// Position is a net position snapshot.
type Position struct {
	ContractID int64
	Symbol     string
	NetQty     int
	NetPrice   float64
}

// Balance is an account cash snapshot.
type Balance struct {
	AccountID int64
	Cash      float64
	Currency  string
}

// Quote is a top-of-book event from the market stream.
type Quote struct {
	ContractID int64
	Symbol     string
	Bid        float64
	Ask        float64
	Last       float64
	BidSize    float64
	AskSize    float64
	Volume     float64
}

// Bar is an OHLCV bar event from the market stream.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Complete  bool
}

// HistoricalBar is one bar returned from a getHistoricalBars REST call.
type HistoricalBar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	UpVolume  float64
	DownVolume float64
}

// FillEvent is a user-stream fill notification.
type FillEvent struct {
	OrderID int64
	Price   float64
	Qty     int
}

// PositionUpdate is a user-stream position change notification.
type PositionUpdate struct {
	ContractID int64
	NetPos     int
	NetPrice   float64
}

// OrderUpdate is a user-stream order status change notification.
type OrderUpdate struct {
	OrderID int64
	Status  string
}

// MarketEvent wraps the one of {Quote, Bar} fired by the market stream.
type MarketEvent struct {
	Quote *Quote
	Bar   *Bar
}

// UserEvent wraps one of {OrderUpdate, PositionUpdate, FillEvent} fired by
// the user stream.
type UserEvent struct {
	Order    *OrderUpdate
	Position *PositionUpdate
	Fill     *FillEvent
}
