// Package order implements the OrderManager: translates trade intents into
// broker orders, tracks local order and position state, and enforces the
// per-symbol cooldown and reversal-then-reenter rule.
package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"futures-agent/internal/broker"
	"futures-agent/internal/risk"
	"futures-agent/pkg/clock"
)

const defaultCooldownSeconds = 30

// Manager owns the order and position books for every tracked symbol.
// All state is guarded by one mutex: placement and fill/position handling
// are serialized per spec's OrderManager concurrency requirement.
type Manager struct {
	mu sync.Mutex

	broker          broker.Port
	risk            *risk.Gate
	clock           clock.Clock
	cooldownSeconds int
	maxPositionSize int

	orders         map[int64]*Order
	positions      map[string]*Position
	contractSymbol map[int64]string
	lastPlacement  map[string]time.Time
}

// NewManager builds a Manager. cooldownSeconds <= 0 uses the spec default of 30.
func NewManager(port broker.Port, gate *risk.Gate, clk clock.Clock, cooldownSeconds, maxPositionSize int) *Manager {
	if cooldownSeconds <= 0 {
		cooldownSeconds = defaultCooldownSeconds
	}
	return &Manager{
		broker:          port,
		risk:            gate,
		clock:           clk,
		cooldownSeconds: cooldownSeconds,
		maxPositionSize: maxPositionSize,
		orders:          make(map[int64]*Order),
		positions:       make(map[string]*Position),
		contractSymbol:  make(map[int64]string),
		lastPlacement:   make(map[string]time.Time),
	}
}

func (m *Manager) capQty(qty int) int {
	if m.maxPositionSize > 0 && qty > m.maxPositionSize {
		return m.maxPositionSize
	}
	return qty
}

// cooldownActiveLocked reports whether symbol is still muted from its last
// placement. Caller must hold mu.
func (m *Manager) cooldownActiveLocked(symbol string) bool {
	last, ok := m.lastPlacement[symbol]
	if !ok {
		return false
	}
	return m.clock.Now().Sub(last) < time.Duration(m.cooldownSeconds)*time.Second
}

func (m *Manager) markPlacedLocked(symbol string) {
	m.lastPlacement[symbol] = m.clock.Now()
}

// PlaceMarket places a single-leg market order.
func (m *Manager) PlaceMarket(ctx context.Context, symbol string, action Action, qty int) (*Order, error) {
	return m.placeSingle(ctx, symbol, action, qty, TypeMarket, 0, 0)
}

// PlaceLimit places a single-leg limit order.
func (m *Manager) PlaceLimit(ctx context.Context, symbol string, action Action, qty int, price float64) (*Order, error) {
	return m.placeSingle(ctx, symbol, action, qty, TypeLimit, price, 0)
}

// PlaceStop places a single-leg stop order.
func (m *Manager) PlaceStop(ctx context.Context, symbol string, action Action, qty int, stopPrice float64) (*Order, error) {
	return m.placeSingle(ctx, symbol, action, qty, TypeStop, 0, stopPrice)
}

func (m *Manager) placeSingle(ctx context.Context, symbol string, action Action, qty int, typ Type, price, stopPrice float64) (*Order, error) {
	m.mu.Lock()
	allowed, _ := m.risk.CanTrade()
	if !allowed {
		m.mu.Unlock()
		return nil, nil
	}
	if m.cooldownActiveLocked(symbol) {
		m.mu.Unlock()
		return nil, nil
	}
	qty = m.capQty(qty)
	m.mu.Unlock()

	req := broker.OrderRequest{
		Symbol: symbol,
		Side:   sideForAction(action),
		Qty:    qty,
		Type:   brokerType(typ),
		Price:  price,
	}
	if typ == TypeStop {
		req.StopPrice = stopPrice
	}

	ack, err := m.broker.PlaceOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("order: place %s %s: %w", action, symbol, err)
	}

	now := m.clock.Now()
	ord := &Order{
		OrderID:   ack.OrderID,
		Symbol:    symbol,
		Action:    action,
		Qty:       qty,
		Type:      typ,
		Status:    StatusWorking,
		Price:     price,
		StopPrice: stopPrice,
		Timestamp: now,
	}

	m.mu.Lock()
	m.orders[ord.OrderID] = ord
	m.markPlacedLocked(symbol)
	m.mu.Unlock()

	return ord, nil
}

// PlaceBracket places an entry order with an attached stop-loss and
// take-profit leg. If an existing non-flat position on symbol opposes
// action, the position is flattened first and no new entry is placed this
// call — per spec, the cooldown started by flattening still applies, so the
// fresh entry waits for a later cycle.
func (m *Manager) PlaceBracket(ctx context.Context, symbol string, action Action, qty int, stopLoss, takeProfit float64) (*Order, error) {
	m.mu.Lock()
	allowed, _ := m.risk.CanTrade()
	if !allowed {
		m.mu.Unlock()
		return nil, nil
	}
	if m.cooldownActiveLocked(symbol) {
		m.mu.Unlock()
		return nil, nil
	}

	pos, hasPos := m.positions[symbol]
	reversing := hasPos && pos.Side != Flat && opposesAction(pos.Side, action)
	m.mu.Unlock()

	if reversing {
		if err := m.Flatten(ctx, symbol); err != nil {
			return nil, err
		}
		return nil, nil
	}

	m.mu.Lock()
	qty = m.capQty(qty)
	m.mu.Unlock()

	req := broker.BracketRequest{
		Symbol:      symbol,
		Side:        sideForAction(action),
		Qty:         qty,
		EntryType:   broker.Market,
		StopPrice:   stopLoss,
		TargetPrice: takeProfit,
	}

	ack, err := m.broker.PlaceBracket(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("order: place bracket %s %s: %w", action, symbol, err)
	}

	now := m.clock.Now()
	ord := &Order{
		OrderID:    ack.OrderID,
		Symbol:     symbol,
		Action:     action,
		Qty:        qty,
		Type:       TypeMarket,
		Status:     StatusWorking,
		StopPrice:  stopLoss,
		BracketIDs: ack.BracketIDs,
		Timestamp:  now,
	}

	m.mu.Lock()
	m.orders[ord.OrderID] = ord
	m.markPlacedLocked(symbol)
	m.mu.Unlock()

	return ord, nil
}

// CancelOrder cancels one working order.
func (m *Manager) CancelOrder(ctx context.Context, orderID int64) error {
	if err := m.broker.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("order: cancel %d: %w", orderID, err)
	}
	m.mu.Lock()
	if ord, ok := m.orders[orderID]; ok {
		ord.Status = StatusCancelled
	}
	m.mu.Unlock()
	return nil
}

// CancelAll cancels every working order, optionally restricted to one symbol.
func (m *Manager) CancelAll(ctx context.Context, symbol string) error {
	m.mu.Lock()
	var ids []int64
	for id, ord := range m.orders {
		if ord.Status != StatusWorking {
			continue
		}
		if symbol != "" && ord.Symbol != symbol {
			continue
		}
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.CancelOrder(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Flatten closes symbol's entire position via the broker's liquidate call.
func (m *Manager) Flatten(ctx context.Context, symbol string) error {
	if err := m.broker.Liquidate(ctx, symbol); err != nil {
		return fmt.Errorf("order: flatten %s: %w", symbol, err)
	}
	m.mu.Lock()
	if pos, ok := m.positions[symbol]; ok {
		pos.Side = Flat
		pos.Qty = 0
	}
	m.markPlacedLocked(symbol)
	m.mu.Unlock()
	return nil
}

// FlattenAll closes every tracked position.
func (m *Manager) FlattenAll(ctx context.Context) error {
	m.mu.Lock()
	symbols := make([]string, 0, len(m.positions))
	for sym, pos := range m.positions {
		if pos.Side != Flat {
			symbols = append(symbols, sym)
		}
	}
	m.mu.Unlock()

	for _, sym := range symbols {
		if err := m.Flatten(ctx, sym); err != nil {
			return err
		}
	}
	return nil
}

// SyncPositions refreshes the local position book from the broker's
// authoritative snapshot, also learning the contractID<->symbol mapping.
func (m *Manager) SyncPositions(ctx context.Context) error {
	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("order: sync positions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		m.contractSymbol[p.ContractID] = p.Symbol
		m.positions[p.Symbol] = &Position{
			Symbol:     p.Symbol,
			ContractID: p.ContractID,
			Side:       sideFromNet(p.NetQty),
			Qty:        abs(p.NetQty),
			AvgPrice:   p.NetPrice,
		}
	}
	return nil
}

// HandleFill folds a FillEvent into the matching order's fill state.
func (m *Manager) HandleFill(fill broker.FillEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[fill.OrderID]
	if !ok {
		return
	}
	ord.FilledQty += fill.Qty
	ord.FillPrice = fill.Price
	if ord.FilledQty >= ord.Qty {
		ord.Status = StatusFilled
	}
}

// HandlePosition applies a broker PositionUpdate's netPos -> (side,qty)
// mapping and records the average price.
func (m *Manager) HandlePosition(upd broker.PositionUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol, ok := m.contractSymbol[upd.ContractID]
	if !ok {
		return
	}
	m.positions[symbol] = &Position{
		Symbol:     symbol,
		ContractID: upd.ContractID,
		Side:       sideFromNet(upd.NetPos),
		Qty:        abs(upd.NetPos),
		AvgPrice:   upd.NetPrice,
	}
}

// HandleOrderUpdate applies a broker-reported status transition.
func (m *Manager) HandleOrderUpdate(upd broker.OrderUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[upd.OrderID]
	if !ok {
		return
	}
	switch upd.Status {
	case "Filled":
		ord.Status = StatusFilled
	case "Cancelled", "Canceled":
		ord.Status = StatusCancelled
	case "Rejected":
		ord.Status = StatusRejected
	case "Working":
		ord.Status = StatusWorking
	}
}

// Position returns the manager's current view of symbol's net exposure.
func (m *Manager) Position(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Order returns the manager's local record for orderID.
func (m *Manager) Order(orderID int64) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *ord, true
}

func sideForAction(a Action) broker.Side {
	if a == Sell {
		return broker.Sell
	}
	return broker.Buy
}

func brokerType(t Type) broker.OrderType {
	switch t {
	case TypeLimit:
		return broker.Limit
	case TypeStop:
		return broker.Stop
	default:
		return broker.Market
	}
}

func opposesAction(side PositionSide, action Action) bool {
	if side == Long && action == Sell {
		return true
	}
	if side == Short && action == Buy {
		return true
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
