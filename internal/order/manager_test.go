package order

import (
	"context"
	"testing"
	"time"

	"futures-agent/internal/broker"
	"futures-agent/internal/risk"
	"futures-agent/pkg/clock"
)

// fakeBroker is a minimal broker.Port stub recording placement calls.
type fakeBroker struct {
	nextID      int64
	placed      []broker.OrderRequest
	bracketsOut []broker.BracketRequest
	liquidated  []string
	positions   []broker.Position
	placeErr    error
}

func (f *fakeBroker) Connect(ctx context.Context) error { return nil }
func (f *fakeBroker) Disconnect() error                 { return nil }

func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	if f.placeErr != nil {
		return broker.OrderAck{}, f.placeErr
	}
	f.nextID++
	f.placed = append(f.placed, req)
	return broker.OrderAck{OrderID: f.nextID}, nil
}

func (f *fakeBroker) PlaceBracket(ctx context.Context, req broker.BracketRequest) (broker.OrderAck, error) {
	if f.placeErr != nil {
		return broker.OrderAck{}, f.placeErr
	}
	f.nextID++
	f.bracketsOut = append(f.bracketsOut, req)
	return broker.OrderAck{OrderID: f.nextID, BracketIDs: []int64{f.nextID + 100, f.nextID + 200}}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, orderID int64) error { return nil }
func (f *fakeBroker) ModifyOrder(ctx context.Context, orderID int64, price float64, qty int) error {
	return nil
}

func (f *fakeBroker) Liquidate(ctx context.Context, symbol string) error {
	f.liquidated = append(f.liquidated, symbol)
	return nil
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	return f.positions, nil
}
func (f *fakeBroker) GetOrders(ctx context.Context) ([]broker.OrderUpdate, error) { return nil, nil }
func (f *fakeBroker) GetBalance(ctx context.Context) (broker.Balance, error)      { return broker.Balance{}, nil }
func (f *fakeBroker) GetHistoricalBars(ctx context.Context, symbol, interval string, from, to time.Time) ([]broker.HistoricalBar, error) {
	return nil, nil
}

func (f *fakeBroker) SubscribeQuote(symbol string) error           { return nil }
func (f *fakeBroker) SubscribeChart(symbol, interval string) error { return nil }
func (f *fakeBroker) MarketEvents() <-chan broker.MarketEvent      { return nil }
func (f *fakeBroker) UserEvents() <-chan broker.UserEvent          { return nil }

func newTestManager(t *testing.T, fb *fakeBroker, clk *clock.Fake) *Manager {
	gate := risk.NewGate(risk.DefaultConfig(), clk)
	return NewManager(fb, gate, clk, 30, 5)
}

func TestPlaceBracketIssuesOppositeSidedLegs(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	fb := &fakeBroker{}
	m := newTestManager(t, fb, clk)

	ord, err := m.PlaceBracket(context.Background(), "MNQ", Buy, 1, 13.5, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ord == nil {
		t.Fatalf("expected a placed order")
	}
	if len(fb.bracketsOut) != 1 {
		t.Fatalf("expected exactly one bracket request, got %d", len(fb.bracketsOut))
	}
	req := fb.bracketsOut[0]
	if req.Side != broker.Buy || req.StopPrice != 13.5 || req.TargetPrice != 18 {
		t.Fatalf("unexpected bracket request: %+v", req)
	}
}

func TestCooldownBlocksImmediateRePlacement(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	fb := &fakeBroker{}
	m := newTestManager(t, fb, clk)

	if _, err := m.PlaceBracket(context.Background(), "MNQ", Buy, 1, 13.5, 18); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.PlaceBracket(context.Background(), "MNQ", Buy, 1, 13.5, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != nil {
		t.Fatalf("expected nil during cooldown, got %+v", second)
	}
	if len(fb.bracketsOut) != 1 {
		t.Fatalf("expected no second broker call during cooldown, got %d", len(fb.bracketsOut))
	}

	clk.Advance(31 * time.Second)
	third, err := m.PlaceBracket(context.Background(), "MNQ", Buy, 1, 13.5, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third == nil {
		t.Fatalf("expected placement to succeed after cooldown elapses")
	}
}

// TestReversalFlattensBeforeReentry matches scenario S5: an existing LONG
// position receiving an opposite (SELL) signal is flattened, and no new
// entry is placed in the same call.
func TestReversalFlattensBeforeReentry(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	fb := &fakeBroker{positions: []broker.Position{{ContractID: 1, Symbol: "MNQ", NetQty: 1, NetPrice: 15}}}
	m := newTestManager(t, fb, clk)

	if err := m.SyncPositions(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	pos, ok := m.Position("MNQ")
	if !ok || pos.Side != Long {
		t.Fatalf("expected LONG position after sync, got %+v ok=%v", pos, ok)
	}

	ord, err := m.PlaceBracket(context.Background(), "MNQ", Sell, 1, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ord != nil {
		t.Fatalf("reversal should not place a fresh entry in the same cycle, got %+v", ord)
	}
	if len(fb.liquidated) != 1 || fb.liquidated[0] != "MNQ" {
		t.Fatalf("expected a liquidate call for MNQ, got %+v", fb.liquidated)
	}
	pos, _ = m.Position("MNQ")
	if pos.Side != Flat {
		t.Fatalf("expected FLAT after reversal flatten, got %v", pos.Side)
	}

	clk.Advance(31 * time.Second)
	reentry, err := m.PlaceBracket(context.Background(), "MNQ", Sell, 1, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reentry == nil {
		t.Fatalf("expected the subsequent cycle to open a fresh SHORT")
	}
}

// TestFillAccountingMatchesSignedSum matches property 7: after placement and
// fill events, filled quantity and status track the signed sum of fills.
func TestFillAccountingMatchesSignedSum(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	fb := &fakeBroker{}
	m := newTestManager(t, fb, clk)

	ord, err := m.PlaceMarket(context.Background(), "MNQ", Buy, 3)
	if err != nil || ord == nil {
		t.Fatalf("place failed: %v, %+v", err, ord)
	}

	m.HandleFill(broker.FillEvent{OrderID: ord.OrderID, Price: 15.0, Qty: 2})
	got, _ := m.Order(ord.OrderID)
	if got.FilledQty != 2 || got.Status != StatusWorking {
		t.Fatalf("expected partial fill state, got %+v", got)
	}

	m.HandleFill(broker.FillEvent{OrderID: ord.OrderID, Price: 15.1, Qty: 1})
	got, _ = m.Order(ord.OrderID)
	if got.FilledQty != 3 || got.Status != StatusFilled {
		t.Fatalf("expected fully filled state, got %+v", got)
	}
}

func TestPositionUpdateMapsNetQtyToSide(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	fb := &fakeBroker{positions: []broker.Position{{ContractID: 7, Symbol: "ES", NetQty: 0, NetPrice: 0}}}
	m := newTestManager(t, fb, clk)
	if err := m.SyncPositions(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	m.HandlePosition(broker.PositionUpdate{ContractID: 7, NetPos: -2, NetPrice: 4500})
	pos, ok := m.Position("ES")
	if !ok || pos.Side != Short || pos.Qty != 2 {
		t.Fatalf("expected SHORT qty=2, got %+v ok=%v", pos, ok)
	}

	m.HandlePosition(broker.PositionUpdate{ContractID: 7, NetPos: 0, NetPrice: 0})
	pos, _ = m.Position("ES")
	if pos.Side != Flat {
		t.Fatalf("expected FLAT on zero net position, got %v", pos.Side)
	}
}

func TestCanTradeRefusalReturnsNilNonFatal(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	fb := &fakeBroker{}
	gate := risk.NewGate(risk.DefaultConfig(), clk)
	gate.Kill("operator halt")
	m := NewManager(fb, gate, clk, 30, 5)

	ord, err := m.PlaceBracket(context.Background(), "MNQ", Buy, 1, 13.5, 18)
	if err != nil {
		t.Fatalf("refusal must be non-fatal, got error: %v", err)
	}
	if ord != nil {
		t.Fatalf("expected nil order when risk gate refuses, got %+v", ord)
	}
	if len(fb.bracketsOut) != 0 {
		t.Fatalf("broker should never be called when risk gate refuses")
	}
}

func TestQtyCappedAtMaxPositionSize(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	fb := &fakeBroker{}
	m := newTestManager(t, fb, clk) // maxPositionSize = 5

	ord, err := m.PlaceMarket(context.Background(), "MNQ", Buy, 50)
	if err != nil || ord == nil {
		t.Fatalf("place failed: %v, %+v", err, ord)
	}
	if ord.Qty != 5 {
		t.Fatalf("expected qty capped to 5, got %d", ord.Qty)
	}
}
