// Package risk implements the process-wide RiskGate: a daily P&L and
// trade-count kill switch plus per-trade position sizing, serialized so
// recordTrade and canTrade never interleave.
package risk

import (
	"math"
	"sync"
	"time"

	"futures-agent/pkg/clock"
)

// Gate is the process-wide risk budget. All methods acquire the same
// mutex; recordTrade is mutually exclusive with canTrade per the
// concurrency model's RiskGate requirement.
type Gate struct {
	mu    sync.Mutex
	cfg   Config
	clock clock.Clock

	currentDate time.Time
	dailyPnL    float64
	dailyTrades int
	killed      bool
	killReason  string
}

// NewGate builds a Gate pinned to the clock's current UTC date.
func NewGate(cfg Config, clk clock.Clock) *Gate {
	return &Gate{
		cfg:         cfg,
		clock:       clk,
		currentDate: dateOnly(clk.Now()),
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// rolloverLocked resets daily counters and un-kills if the clock's date has
// advanced past currentDate. Caller must hold mu.
func (g *Gate) rolloverLocked() {
	today := dateOnly(g.clock.Now())
	if today.After(g.currentDate) {
		g.currentDate = today
		g.dailyPnL = 0
		g.dailyTrades = 0
		g.killed = false
	}
}

// usageRatioLocked returns the greater of loss-usage and trade-count-usage,
// used to derive the advisory LimitLevel. Caller must hold mu.
func (g *Gate) usageRatioLocked() float64 {
	lossRatio := 0.0
	if g.cfg.MaxDailyLoss > 0 {
		lossRatio = -g.dailyPnL / g.cfg.MaxDailyLoss
	}
	tradeRatio := 0.0
	if g.cfg.MaxTradesPerDay > 0 {
		tradeRatio = float64(g.dailyTrades) / float64(g.cfg.MaxTradesPerDay)
	}
	if lossRatio > tradeRatio {
		return lossRatio
	}
	return tradeRatio
}

func (g *Gate) limitLevelLocked() LimitLevel {
	ratio := g.usageRatioLocked()
	switch {
	case ratio >= 1.0:
		return LevelLimit
	case ratio >= g.cfg.CautionThreshold:
		return LevelCaution
	case ratio >= g.cfg.WarningThreshold:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// CanTrade reports whether a new trade may be placed, and why not.
func (g *Gate) CanTrade() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	if g.killed {
		return false, "kill switch"
	}
	if g.dailyPnL <= -g.cfg.MaxDailyLoss {
		return false, "daily loss limit"
	}
	if g.dailyTrades >= g.cfg.MaxTradesPerDay {
		return false, "daily trade count"
	}
	return true, ""
}

// Calculate derives position sizing and stop/target distances from a
// confidence score and optional volatility/price context.
func (g *Gate) Calculate(confidence float64, volatility, price float64) Parameters {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	allowed, reason := g.canTradeLocked()
	level := g.limitLevelLocked()

	maxLossPerTrade := g.cfg.AccountSize * (g.cfg.RiskPct / 100) * confidence

	baseSize := baseSizeForConfidence(confidence, g.cfg.MaxPositionSize)

	if volatility > 0 && price > 0 {
		ratio := volatility / price
		switch {
		case ratio > 0.02:
			baseSize = halveFloorOne(baseSize)
		case ratio > 0.01:
			baseSize = scaleFloorOne(baseSize, 0.75)
		}
	}

	var stopDistance, targetDistance float64
	if volatility > 0 {
		stopDistance = volatility * 1.5
		targetDistance = volatility * 2.0
	} else if price > 0 {
		stopDistance = price * 0.005
		targetDistance = price * 0.01
	}

	rr := 0.0
	if stopDistance > 0 {
		rr = targetDistance / stopDistance
	}

	return Parameters{
		PositionSize:    baseSize,
		MaxLossPerTrade: maxLossPerTrade,
		StopDistance:    stopDistance,
		TargetDistance:  targetDistance,
		RiskRewardRatio: rr,
		Allowed:         allowed,
		Reason:          reason,
		LimitLevel:      level,
	}
}

func (g *Gate) canTradeLocked() (bool, string) {
	if g.killed {
		return false, "kill switch"
	}
	if g.dailyPnL <= -g.cfg.MaxDailyLoss {
		return false, "daily loss limit"
	}
	if g.dailyTrades >= g.cfg.MaxTradesPerDay {
		return false, "daily trade count"
	}
	return true, ""
}

func baseSizeForConfidence(confidence float64, maxPositionSize int) int {
	var size int
	switch {
	case confidence < 0.55:
		size = 0
	case confidence < 0.65:
		size = 1
	case confidence < 0.75:
		size = 2
	case confidence < 0.85:
		size = 3
	case confidence < 0.95:
		size = 4
	default:
		size = 5
	}
	if size > maxPositionSize {
		size = maxPositionSize
	}
	return size
}

func halveFloorOne(size int) int {
	if size <= 0 {
		return 0
	}
	half := int(math.Floor(float64(size) / 2))
	if half < 1 {
		return 1
	}
	return half
}

func scaleFloorOne(size int, factor float64) int {
	if size <= 0 {
		return 0
	}
	scaled := int(math.Floor(float64(size) * factor))
	if scaled < 1 {
		return 1
	}
	return scaled
}

// RecordTrade folds a realized pnl into the daily total and latches the
// kill switch if the daily loss limit is breached.
func (g *Gate) RecordTrade(pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	g.dailyPnL += pnl
	g.dailyTrades++
	if g.dailyPnL <= -g.cfg.MaxDailyLoss {
		g.killed = true
		g.killReason = "daily loss limit"
	}
}

// Kill manually latches the kill switch.
func (g *Gate) Kill(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killed = true
	g.killReason = reason
}

// Resume manually clears the kill switch without resetting counters.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killed = false
	g.killReason = ""
}

// Snapshot returns the gate's current daily state.
func (g *Gate) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return Stats{
		DailyPnL:    g.dailyPnL,
		DailyTrades: g.dailyTrades,
		Killed:      g.killed,
		LimitLevel:  g.limitLevelLocked(),
		UsageRatio:  g.usageRatioLocked(),
	}
}
