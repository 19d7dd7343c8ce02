// Package market holds the in-memory per-symbol market state: the latest
// quote, a bounded tick ring, a bounded completed-bar ring, and at most one
// forming bar. It is written exclusively by the broker stream-handling path
// (see internal/broker) and read by the indicator/decision path.
package market

import "time"

// Quote is the latest top-of-book snapshot for a symbol.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	BidSize   float64
	AskSize   float64
	Volume    float64
	Timestamp time.Time
}

// Mid returns (bid+ask)/2 when both sides are present, else Last.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Spread returns ask-bid, never negative.
func (q Quote) Spread() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	s := q.Ask - q.Bid
	if s < 0 {
		return 0
	}
	return s
}

// Bar is an OHLCV candle.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Complete  bool
}

// Tick is a single trade print with the prevailing book snapshot.
type Tick struct {
	Timestamp time.Time
	Price     float64
	Size      float64
	BidSnap   float64
	AskSnap   float64
}
