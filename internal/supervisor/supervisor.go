// Package supervisor wires the broker stream, market store, indicators,
// sentiment pipeline, decider, and order manager into the long-running
// concurrent pipeline described by the core: one market-event task, one
// user-event task, a 1Hz decision task per symbol, a 60s sentiment-refresh
// task per symbol, and the broker's own heartbeat task.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"futures-agent/internal/broker"
	"futures-agent/internal/decider"
	"futures-agent/internal/indicators"
	"futures-agent/internal/market"
	"futures-agent/internal/order"
	"futures-agent/internal/risk"
	"futures-agent/internal/sentiment"
	"futures-agent/internal/sentiment/aggregator"
	"futures-agent/internal/sentiment/collectors"
	"futures-agent/internal/sentiment/scorer"
	"futures-agent/pkg/clock"
	"futures-agent/pkg/journal"
)

// Supervisor owns the pipeline's lifecycle. It satisfies both
// facade.SignalProvider and facade.HealthProvider.
type Supervisor struct {
	cfg   Config
	clock clock.Clock

	broker     broker.Port
	store      *market.Store
	indicators *indicators.Engine
	decide     *decider.Decider
	orders     *order.Manager
	riskGate   *risk.Gate
	aggregate  *aggregator.Aggregator
	journal    journal.Journal
	scorer     *scorer.Scorer

	microBlog collectors.Collector
	forum     collectors.Collector
	news      collectors.Collector

	mu           sync.RWMutex
	signals      map[string]signalCache
	sentimentMap map[string]*sentiment.AggregatedSentiment

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Deps bundles the Supervisor's component wiring. All fields are required
// except Journal (defaults to journal.NoOp) and Scorer (nil disables LLM
// adjudication).
type Deps struct {
	Broker     broker.Port
	Store      *market.Store
	Indicators *indicators.Engine
	Decider    *decider.Decider
	Orders     *order.Manager
	RiskGate   *risk.Gate
	Aggregate  *aggregator.Aggregator
	Journal    journal.Journal
	Scorer     *scorer.Scorer
	MicroBlog  collectors.Collector
	Forum      collectors.Collector
	News       collectors.Collector
}

// New builds a Supervisor ready to Start.
func New(cfg Config, deps Deps, clk clock.Clock) *Supervisor {
	j := deps.Journal
	if j == nil {
		j = journal.NoOp{}
	}
	return &Supervisor{
		cfg:          cfg,
		clock:        clk,
		broker:       deps.Broker,
		store:        deps.Store,
		indicators:   deps.Indicators,
		decide:       deps.Decider,
		orders:       deps.Orders,
		riskGate:     deps.RiskGate,
		aggregate:    deps.Aggregate,
		journal:      j,
		scorer:       deps.Scorer,
		microBlog:    deps.MicroBlog,
		forum:        deps.Forum,
		news:         deps.News,
		signals:      make(map[string]signalCache),
		sentimentMap: make(map[string]*sentiment.AggregatedSentiment),
	}
}

func chartInterval(d time.Duration) string {
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

// Start connects the broker, subscribes every configured symbol, seeds
// 24h of history into the store and indicators, and launches the
// cooperating background loops.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.broker.Connect(ctx); err != nil {
		return fmt.Errorf("supervisor: connect broker: %w", err)
	}

	interval := chartInterval(s.cfg.BarInterval)
	now := s.clock.Now()
	for _, symbol := range s.cfg.Symbols {
		if err := s.broker.SubscribeQuote(symbol); err != nil {
			return fmt.Errorf("supervisor: subscribe quote %s: %w", symbol, err)
		}
		if err := s.broker.SubscribeChart(symbol, interval); err != nil {
			return fmt.Errorf("supervisor: subscribe chart %s: %w", symbol, err)
		}
		s.seedHistory(ctx, symbol, interval, now)
	}

	if err := s.orders.SyncPositions(ctx); err != nil {
		log.Printf("supervisor: initial position sync: %v", err)
	}

	s.microBlog.Initialize()
	s.forum.Initialize()
	s.news.Initialize()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(runCtx, "market-events", s.marketEventLoop)
	s.wg.Add(1)
	go s.runLoop(runCtx, "user-events", s.userEventLoop)

	for _, symbol := range s.cfg.Symbols {
		symbol := symbol
		s.wg.Add(1)
		go s.runLoop(runCtx, "decision:"+symbol, func(ctx context.Context) { s.decisionLoop(ctx, symbol) })
		s.wg.Add(1)
		go s.runLoop(runCtx, "sentiment:"+symbol, func(ctx context.Context) { s.sentimentLoop(ctx, symbol) })
	}

	return nil
}

func (s *Supervisor) seedHistory(ctx context.Context, symbol, interval string, now time.Time) {
	bars, err := s.broker.GetHistoricalBars(ctx, symbol, interval, now.Add(-s.cfg.HistoryLookback), now)
	if err != nil {
		log.Printf("supervisor: seed history %s: %v", symbol, err)
		return
	}
	converted := make([]market.Bar, 0, len(bars))
	for _, b := range bars {
		converted = append(converted, market.Bar{
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.UpVolume + b.DownVolume,
			Complete:  true,
		})
	}
	s.store.SeedHistory(symbol, converted)
	for _, b := range converted {
		s.indicators.Update(symbol, b.High, b.Low, b.Close)
	}
}

// Shutdown cancels all working orders and closes the broker port, waiting
// up to drain for the background loops to terminate.
func (s *Supervisor) Shutdown(ctx context.Context, drain time.Duration) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drain):
		log.Printf("supervisor: shutdown drain window exceeded")
	}

	for _, symbol := range s.cfg.Symbols {
		if err := s.orders.CancelAll(ctx, symbol); err != nil {
			log.Printf("supervisor: cancel working orders for %s: %v", symbol, err)
		}
	}

	return s.broker.Disconnect()
}

// runLoop wraps fn with the "catch at the loop boundary, sleep 5-30s,
// resume" policy for unhandled panics and returns from fn.
func (s *Supervisor) runLoop(ctx context.Context, name string, fn func(ctx context.Context)) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("supervisor: loop %s panicked: %v", name, r)
				}
			}()
			fn(ctx)
		}()

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.recoverSleep()):
		}
	}
}

func (s *Supervisor) recoverSleep() time.Duration {
	lo, hi := s.cfg.LoopRecoverSleepMin, s.cfg.LoopRecoverSleepMax
	if lo <= 0 {
		lo = 5 * time.Second
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

// marketEventLoop drains the broker's market stream into the store and
// indicator engine. Runs until ctx is cancelled or the channel closes.
func (s *Supervisor) marketEventLoop(ctx context.Context) {
	events := s.broker.MarketEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleMarketEvent(ev)
		}
	}
}

func (s *Supervisor) handleMarketEvent(ev broker.MarketEvent) {
	if ev.Quote != nil {
		s.store.UpdateQuote(market.Quote{
			Symbol:    ev.Quote.Symbol,
			Bid:       ev.Quote.Bid,
			Ask:       ev.Quote.Ask,
			Last:      ev.Quote.Last,
			BidSize:   ev.Quote.BidSize,
			AskSize:   ev.Quote.AskSize,
			Volume:    ev.Quote.Volume,
			Timestamp: s.clock.Now(),
		})
	}
	if ev.Bar != nil {
		b := market.Bar{
			Timestamp: ev.Bar.Timestamp,
			Open:      ev.Bar.Open,
			High:      ev.Bar.High,
			Low:       ev.Bar.Low,
			Close:     ev.Bar.Close,
			Volume:    ev.Bar.Volume,
			Complete:  ev.Bar.Complete,
		}
		s.store.UpsertBar(ev.Bar.Symbol, b)
		if b.Complete {
			s.indicators.Update(ev.Bar.Symbol, b.High, b.Low, b.Close)
		}
	}
}

// userEventLoop drains the broker's user stream into the order manager.
func (s *Supervisor) userEventLoop(ctx context.Context) {
	events := s.broker.UserEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleUserEvent(ev)
		}
	}
}

func (s *Supervisor) handleUserEvent(ev broker.UserEvent) {
	if ev.Fill != nil {
		s.orders.HandleFill(*ev.Fill)
	}
	if ev.Position != nil {
		s.orders.HandlePosition(*ev.Position)
	}
	if ev.Order != nil {
		s.orders.HandleOrderUpdate(*ev.Order)
	}
}

// decisionLoop ticks at DecisionInterval, fuses the latest indicator and
// sentiment state into a TradeIntent, and places a bracket on a non-HOLD
// decision.
func (s *Supervisor) decisionLoop(ctx context.Context, symbol string) {
	ticker := time.NewTicker(s.cfg.DecisionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.decideOnce(ctx, symbol)
		}
	}
}

func (s *Supervisor) decideOnce(ctx context.Context, symbol string) {
	tech, found := s.indicators.Snapshot(symbol)
	if !found || !tech.Ready {
		return
	}

	agg := s.latestSentiment(symbol)
	quote := s.store.Quote(symbol)
	volatility := tech.ATR
	price := quote.Mid()

	intent := s.decide.Decide(ctx, symbol, tech, agg, volatility, price, "")
	s.cacheSignal(symbol, string(intent.Action), intent.Qty, intent.Confidence)

	if intent.Action == sentiment.ActionHold || intent.Qty <= 0 {
		return
	}

	long := intent.Action == sentiment.ActionBuy
	stop, target, ok := s.indicators.StopTarget(symbol, price, long, s.cfg.StopATRMultiplier, s.cfg.TargetATRMultiplier)
	if !ok {
		return
	}

	placed, err := s.orders.PlaceBracket(ctx, symbol, actionFromIntent(intent.Action), intent.Qty, stop, target)
	if err != nil {
		log.Printf("supervisor: place bracket %s: %v", symbol, err)
		return
	}
	if placed == nil {
		return // refused by risk gate, cooldown, or consumed by a reversal flatten
	}

	if _, err := s.journal.RecordTrade(symbol, string(intent.Action), intent.Qty, price, intent.Confidence, intent.Reasoning, s.clock.Now()); err != nil {
		log.Printf("supervisor: journal record trade %s: %v", symbol, err)
	}
}

func actionFromIntent(a sentiment.Action) order.Action {
	if a == sentiment.ActionSell {
		return order.Sell
	}
	return order.Buy
}

// sentimentLoop ticks at SentimentRefreshInterval, gathering fresh
// observations from every enabled collector, scoring them, and caching the
// aggregated result for the decision loop and the journal.
func (s *Supervisor) sentimentLoop(ctx context.Context, symbol string) {
	ticker := time.NewTicker(s.cfg.SentimentRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshSentiment(ctx, symbol)
		}
	}
}

const collectorBatchLimit = 50

func (s *Supervisor) refreshSentiment(ctx context.Context, symbol string) {
	var observations []sentiment.Observation
	observations = append(observations, s.microBlog.Collect(ctx, symbol, collectorBatchLimit)...)
	observations = append(observations, s.forum.Collect(ctx, symbol, collectorBatchLimit)...)
	observations = append(observations, s.news.Collect(ctx, symbol, collectorBatchLimit)...)

	results := make(map[string]sentiment.SentimentResult, len(observations))
	if s.scorer != nil {
		texts := make([]string, 0, len(observations))
		seen := make(map[string]bool)
		for _, obs := range observations {
			key := obs.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			texts = append(texts, obs.Text)
		}
		sources := []string{"micro-blog", "forum", "news"}
		const scorerBatchLimit = 15
		for i := 0; i < len(texts); i += scorerBatchLimit {
			end := i + scorerBatchLimit
			if end > len(texts) {
				end = len(texts)
			}
			result := s.scorer.Analyze(ctx, texts[i:end], symbol, sources)
			for _, obs := range observations {
				if _, exists := results[obs.Key()]; !exists {
					results[obs.Key()] = result
				}
			}
		}
	}

	agg := s.aggregate.Aggregate(symbol, observations, results)

	s.mu.Lock()
	s.sentimentMap[symbol] = &agg
	s.mu.Unlock()

	if err := s.journal.RecordSentiment(&agg, s.clock.Now()); err != nil {
		log.Printf("supervisor: journal record sentiment %s: %v", symbol, err)
	}
}

func (s *Supervisor) latestSentiment(symbol string) *sentiment.AggregatedSentiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sentimentMap[symbol]
}

func (s *Supervisor) cacheSignal(symbol, action string, qty int, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[symbol] = signalCache{action: action, qty: qty, confidence: confidence}
}

// Signal implements facade.SignalProvider: it answers from the decision
// loop's most recent cached result, degrading to HOLD/0/0.0 when nothing
// has been computed yet for symbol.
func (s *Supervisor) Signal(ctx context.Context, symbol string) (string, int, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached, ok := s.signals[symbol]
	if !ok {
		return "HOLD", 0, 0
	}
	return cached.action, cached.qty, cached.confidence
}

// ComponentHealth implements facade.HealthProvider.
func (s *Supervisor) ComponentHealth() map[string]bool {
	return map[string]bool{
		"microBlog":           s.microBlog.Initialize(),
		"forum":               s.forum.Initialize(),
		"news":                s.news.Initialize(),
		"scorer":              s.scorer != nil,
		"backgroundCollector": true,
	}
}
