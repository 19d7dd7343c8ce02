package supervisor

import (
	"context"
	"testing"
	"time"

	"futures-agent/internal/broker"
	"futures-agent/internal/decider"
	"futures-agent/internal/indicators"
	"futures-agent/internal/market"
	"futures-agent/internal/order"
	"futures-agent/internal/risk"
	"futures-agent/internal/sentiment"
	"futures-agent/internal/sentiment/aggregator"
	"futures-agent/pkg/clock"
)

type fakeBroker struct {
	historical   []broker.HistoricalBar
	subscribed   []string
	liquidated   []string
	marketEvents chan broker.MarketEvent
	userEvents   chan broker.UserEvent
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		marketEvents: make(chan broker.MarketEvent, 16),
		userEvents:   make(chan broker.UserEvent, 16),
	}
}

func (f *fakeBroker) Connect(ctx context.Context) error { return nil }
func (f *fakeBroker) Disconnect() error                 { return nil }

func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	return broker.OrderAck{OrderID: 1}, nil
}
func (f *fakeBroker) PlaceBracket(ctx context.Context, req broker.BracketRequest) (broker.OrderAck, error) {
	return broker.OrderAck{OrderID: 1, BracketIDs: []int64{2, 3}}, nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, orderID int64) error { return nil }
func (f *fakeBroker) ModifyOrder(ctx context.Context, orderID int64, price float64, qty int) error {
	return nil
}
func (f *fakeBroker) Liquidate(ctx context.Context, symbol string) error {
	f.liquidated = append(f.liquidated, symbol)
	return nil
}
func (f *fakeBroker) GetPositions(ctx context.Context) ([]broker.Position, error) { return nil, nil }
func (f *fakeBroker) GetOrders(ctx context.Context) ([]broker.OrderUpdate, error) { return nil, nil }
func (f *fakeBroker) GetBalance(ctx context.Context) (broker.Balance, error)      { return broker.Balance{}, nil }
func (f *fakeBroker) GetHistoricalBars(ctx context.Context, symbol, interval string, from, to time.Time) ([]broker.HistoricalBar, error) {
	return f.historical, nil
}
func (f *fakeBroker) SubscribeQuote(symbol string) error {
	f.subscribed = append(f.subscribed, "quote:"+symbol)
	return nil
}
func (f *fakeBroker) SubscribeChart(symbol, interval string) error {
	f.subscribed = append(f.subscribed, "chart:"+symbol+":"+interval)
	return nil
}
func (f *fakeBroker) MarketEvents() <-chan broker.MarketEvent { return f.marketEvents }
func (f *fakeBroker) UserEvents() <-chan broker.UserEvent     { return f.userEvents }

type fakeCollector struct {
	available    bool
	observations []sentiment.Observation
}

func (f *fakeCollector) Initialize() bool { return f.available }
func (f *fakeCollector) Collect(ctx context.Context, symbol string, limit int) []sentiment.Observation {
	return f.observations
}

func newTestSupervisor(t *testing.T, fb *fakeBroker, clk clock.Clock) *Supervisor {
	t.Helper()
	gate := risk.NewGate(risk.DefaultConfig(), clk)
	orders := order.NewManager(fb, gate, clk, 30, 5)
	store := market.NewStore(nil, 0, 0)
	engine := indicators.NewEngine(0, 0, 0, 0)
	dec := decider.New(decider.DefaultConfig(), gate, nil)
	agg := aggregator.New(aggregator.DefaultConfig(), clk)

	cfg := DefaultConfig([]string{"MNQ"})
	cfg.DecisionInterval = time.Millisecond
	cfg.SentimentRefreshInterval = time.Millisecond

	deps := Deps{
		Broker:     fb,
		Store:      store,
		Indicators: engine,
		Decider:    dec,
		Orders:     orders,
		RiskGate:   gate,
		Aggregate:  agg,
		MicroBlog:  &fakeCollector{},
		Forum:      &fakeCollector{},
		News:       &fakeCollector{},
	}
	return New(cfg, deps, clk)
}

func TestStartSubscribesEachSymbolAndSeedsHistory(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	fb := newFakeBroker()
	fb.historical = []broker.HistoricalBar{
		{Timestamp: clk.Now().Add(-time.Hour), Open: 10, High: 11, Low: 9, Close: 10.5, UpVolume: 100},
		{Timestamp: clk.Now().Add(-time.Minute), Open: 10.5, High: 12, Low: 10, Close: 11.5, UpVolume: 80},
	}
	sup := newTestSupervisor(t, fb, clk)

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sup.Shutdown(context.Background(), time.Second)

	if len(fb.subscribed) != 2 {
		t.Fatalf("expected quote+chart subscriptions, got %v", fb.subscribed)
	}
	bars := sup.store.Bars("MNQ")
	if len(bars) != 2 {
		t.Fatalf("expected seeded history to populate the store, got %d bars", len(bars))
	}
}

func TestHandleMarketEventUpdatesStoreAndIndicators(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	fb := newFakeBroker()
	sup := newTestSupervisor(t, fb, clk)

	sup.handleMarketEvent(broker.MarketEvent{Quote: &broker.Quote{Symbol: "MNQ", Bid: 10, Ask: 10.5, Last: 10.2}})
	q := sup.store.Quote("MNQ")
	if q.Bid != 10 || q.Ask != 10.5 {
		t.Fatalf("expected quote to be recorded, got %+v", q)
	}

	sup.handleMarketEvent(broker.MarketEvent{Bar: &broker.Bar{Symbol: "MNQ", Open: 10, High: 11, Low: 9, Close: 10.5, Complete: true}})
	bars := sup.store.Bars("MNQ")
	if len(bars) != 1 {
		t.Fatalf("expected one completed bar, got %d", len(bars))
	}
}

func TestHandleUserEventDispatchesToOrderManager(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	fb := newFakeBroker()
	sup := newTestSupervisor(t, fb, clk)

	sup.handleUserEvent(broker.UserEvent{Position: &broker.PositionUpdate{ContractID: 1, NetPos: 3, NetPrice: 15}})
	pos, ok := sup.orders.Position("MNQ")
	_ = pos
	_ = ok // contract-to-symbol mapping is unknown until SyncPositions learns it; no panic is the assertion here
}

func TestDecideOnceSkipsWhenIndicatorsNotReady(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	fb := newFakeBroker()
	sup := newTestSupervisor(t, fb, clk)

	sup.decideOnce(context.Background(), "MNQ")

	action, qty, confidence := sup.Signal(context.Background(), "MNQ")
	if action != "HOLD" || qty != 0 || confidence != 0 {
		t.Fatalf("expected no cached signal before indicators are ready, got %s/%d/%v", action, qty, confidence)
	}
}

func TestSignalDegradesToHoldForUnknownSymbol(t *testing.T) {
	clk := clock.NewFake(time.Now())
	fb := newFakeBroker()
	sup := newTestSupervisor(t, fb, clk)

	action, qty, confidence := sup.Signal(context.Background(), "ES")
	if action != "HOLD" || qty != 0 || confidence != 0 {
		t.Fatalf("expected HOLD/0/0 for unknown symbol, got %s/%d/%v", action, qty, confidence)
	}
}

func TestComponentHealthReflectsCollectorCredentials(t *testing.T) {
	clk := clock.NewFake(time.Now())
	fb := newFakeBroker()
	sup := newTestSupervisor(t, fb, clk)
	sup.microBlog = &fakeCollector{available: true}
	sup.forum = &fakeCollector{available: false}

	health := sup.ComponentHealth()
	if !health["microBlog"] || health["forum"] {
		t.Fatalf("expected health to reflect each collector's Initialize() result, got %+v", health)
	}
}
