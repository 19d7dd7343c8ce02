// Package indicators maintains incremental per-symbol technical state:
// fast/slow EMA crossover, ATR, and RSI. Consumers seed from history once
// at startup, then feed it one bar at a time as bars complete.
package indicators

import "sync"

const (
	DefaultFastPeriod = 9
	DefaultSlowPeriod = 21
	DefaultATRPeriod  = 14
	DefaultRSIPeriod  = 14
)

// State is a snapshot of one symbol's indicator values.
type State struct {
	Symbol       string
	EMAFast      float64
	EMASlow      float64
	PrevEMAFast  float64
	PrevEMASlow  float64
	ATR          float64
	RSI          float64
	CrossUp      bool
	CrossDown    bool
	Signal       int
	Ready        bool
}

type symbolSeries struct {
	emaFast *EMA
	emaSlow *EMA
	atr     *ATR
	rsi     *RSI

	prevEmaFast float64
	prevEmaSlow float64
}

// Engine computes indicators for a set of symbols. It is written by the
// bar-complete handler only (single-writer, matching internal/market).
type Engine struct {
	mu         sync.RWMutex
	fastPeriod int
	slowPeriod int
	atrPeriod  int
	rsiPeriod  int
	series     map[string]*symbolSeries
}

// NewEngine builds an Engine with the given periods. Zero values fall
// back to the package defaults (9/21/14/14).
func NewEngine(fastPeriod, slowPeriod, atrPeriod, rsiPeriod int) *Engine {
	if fastPeriod <= 0 {
		fastPeriod = DefaultFastPeriod
	}
	if slowPeriod <= 0 {
		slowPeriod = DefaultSlowPeriod
	}
	if atrPeriod <= 0 {
		atrPeriod = DefaultATRPeriod
	}
	if rsiPeriod <= 0 {
		rsiPeriod = DefaultRSIPeriod
	}
	return &Engine{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		atrPeriod:  atrPeriod,
		rsiPeriod:  rsiPeriod,
		series:     make(map[string]*symbolSeries),
	}
}

func (e *Engine) seriesFor(symbol string) *symbolSeries {
	s, ok := e.series[symbol]
	if !ok {
		s = &symbolSeries{
			emaFast: NewEMA(e.fastPeriod),
			emaSlow: NewEMA(e.slowPeriod),
			atr:     NewATR(e.atrPeriod),
			rsi:     NewRSI(e.rsiPeriod),
		}
		e.series[symbol] = s
	}
	return s
}

// Update folds a completed bar's OHLC into the indicator state for symbol
// and returns the resulting snapshot, including crossover detection
// against the pre-update EMA values.
func (e *Engine) Update(symbol string, high, low, close float64) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.seriesFor(symbol)
	s.prevEmaFast = s.emaFast.Value()
	s.prevEmaSlow = s.emaSlow.Value()

	fast := s.emaFast.Update(close)
	slow := s.emaSlow.Update(close)
	atrVal := s.atr.Update(high, low, close)
	rsiVal := s.rsi.Update(close)

	ready := s.emaFast.Ready() && s.emaSlow.Ready()

	crossUp := ready && s.prevEmaFast <= s.prevEmaSlow && fast > slow
	crossDown := ready && s.prevEmaFast >= s.prevEmaSlow && fast < slow
	signal := 0
	switch {
	case crossUp:
		signal = 1
	case crossDown:
		signal = -1
	}

	return State{
		Symbol:      symbol,
		EMAFast:     fast,
		EMASlow:     slow,
		PrevEMAFast: s.prevEmaFast,
		PrevEMASlow: s.prevEmaSlow,
		ATR:         atrVal,
		RSI:         rsiVal,
		CrossUp:     crossUp,
		CrossDown:   crossDown,
		Signal:      signal,
		Ready:       ready,
	}
}

// Snapshot returns the last computed state for symbol without updating it.
func (e *Engine) Snapshot(symbol string) (State, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.series[symbol]
	if !ok {
		return State{}, false
	}
	fast, slow := s.emaFast.Value(), s.emaSlow.Value()
	ready := s.emaFast.Ready() && s.emaSlow.Ready()
	crossUp := ready && s.prevEmaFast <= s.prevEmaSlow && fast > slow
	crossDown := ready && s.prevEmaFast >= s.prevEmaSlow && fast < slow
	signal := 0
	switch {
	case crossUp:
		signal = 1
	case crossDown:
		signal = -1
	}
	return State{
		Symbol:      symbol,
		EMAFast:     fast,
		EMASlow:     slow,
		PrevEMAFast: s.prevEmaFast,
		PrevEMASlow: s.prevEmaSlow,
		ATR:         s.atr.Value(),
		RSI:         s.rsi.Value(),
		CrossUp:     crossUp,
		CrossDown:   crossDown,
		Signal:      signal,
		Ready:       ready,
	}, true
}

// StopTarget derives a stop and target price from an entry price, side,
// and ATR multipliers. ok is false if ATR is not yet available.
func (e *Engine) StopTarget(symbol string, entry float64, long bool, stopMult, targetMult float64) (stop, target float64, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, found := e.series[symbol]
	if !found || !s.atr.Ready() {
		return 0, 0, false
	}
	atrVal := s.atr.Value()
	if long {
		return entry - stopMult*atrVal, entry + targetMult*atrVal, true
	}
	return entry + stopMult*atrVal, entry - targetMult*atrVal, true
}
