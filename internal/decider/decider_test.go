package decider

import (
	"context"
	"testing"
	"time"

	"futures-agent/internal/indicators"
	"futures-agent/internal/risk"
	"futures-agent/internal/sentiment"
	"futures-agent/pkg/clock"
)

func newGate() *risk.Gate {
	return risk.NewGate(risk.DefaultConfig(), clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)))
}

// TestGoldenCrossTechnicalOnlyBuy matches scenario S1: crossUp true, signal
// +1, sentiment disabled, expect BUY at confidence 0.55.
func TestGoldenCrossTechnicalOnlyBuy(t *testing.T) {
	cfg := Config{UseTechnicals: true, UseSentiment: false, ConfidenceThreshold: 0.55, MaxPositionSize: 5}
	dec := New(cfg, newGate(), nil)

	tech := indicators.State{Symbol: "MNQ", Signal: 1, CrossUp: true, Ready: true, ATR: 1.0}
	intent := dec.Decide(context.Background(), "MNQ", tech, nil, 1.0, 15.0, "")

	if intent.Action != sentiment.ActionBuy {
		t.Fatalf("expected BUY, got %v", intent.Action)
	}
	if intent.Confidence != technicalOnlyConfidence {
		t.Fatalf("expected confidence %v, got %v", technicalOnlyConfidence, intent.Confidence)
	}
	if intent.Qty < 1 {
		t.Fatalf("expected a positive sized quantity, got %d", intent.Qty)
	}
}

func TestTechnicalOnlyNeutralHolds(t *testing.T) {
	cfg := Config{UseTechnicals: true, UseSentiment: false}
	dec := New(cfg, newGate(), nil)

	intent := dec.Decide(context.Background(), "MNQ", indicators.State{Signal: 0}, nil, 0, 0, "")
	if intent.Action != sentiment.ActionHold || intent.Qty != 0 {
		t.Fatalf("expected HOLD/0, got %+v", intent)
	}
}

func TestSentimentOnlyBelowThresholdHolds(t *testing.T) {
	cfg := Config{UseTechnicals: false, UseSentiment: true, ConfidenceThreshold: 0.6}
	dec := New(cfg, newGate(), nil)

	agg := &sentiment.AggregatedSentiment{Action: sentiment.ActionBuy, Confidence: 0.3, CompositeScore: 0.5}
	intent := dec.Decide(context.Background(), "MNQ", indicators.State{}, agg, 0, 0, "")
	if intent.Action != sentiment.ActionHold {
		t.Fatalf("expected HOLD below confidence threshold, got %+v", intent)
	}
}

func TestSentimentOnlyAboveThresholdFollowsSentiment(t *testing.T) {
	cfg := Config{UseTechnicals: false, UseSentiment: true, ConfidenceThreshold: 0.6, MaxPositionSize: 5}
	dec := New(cfg, newGate(), nil)

	agg := &sentiment.AggregatedSentiment{Action: sentiment.ActionSell, Confidence: 0.8, CompositeScore: -0.7}
	intent := dec.Decide(context.Background(), "MNQ", indicators.State{}, agg, 0, 100, "")
	if intent.Action != sentiment.ActionSell {
		t.Fatalf("expected SELL, got %+v", intent)
	}
}

func TestCombineAgreeingSignalsBoostConfidence(t *testing.T) {
	cfg := Config{UseTechnicals: true, UseSentiment: true, MaxPositionSize: 5}
	dec := New(cfg, newGate(), nil)

	tech := indicators.State{Signal: 1}
	agg := &sentiment.AggregatedSentiment{Action: sentiment.ActionBuy, Confidence: 0.7, CompositeScore: 0.5}
	intent := dec.Decide(context.Background(), "MNQ", tech, agg, 0, 100, "")

	want := 0.7 * 1.2
	if intent.Action != sentiment.ActionBuy {
		t.Fatalf("expected BUY, got %v", intent.Action)
	}
	if diff := intent.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected boosted confidence %v, got %v", want, intent.Confidence)
	}
}

func TestCombineOppositeSignalsHoldsWithoutStrongSentiment(t *testing.T) {
	cfg := Config{UseTechnicals: true, UseSentiment: true}
	dec := New(cfg, newGate(), nil)

	tech := indicators.State{Signal: 1}
	agg := &sentiment.AggregatedSentiment{Action: sentiment.ActionSell, Confidence: 0.5, CompositeScore: -0.4}
	intent := dec.Decide(context.Background(), "MNQ", tech, agg, 0, 0, "")

	if intent.Action != sentiment.ActionHold || intent.Confidence != oppositeHoldConfidence {
		t.Fatalf("expected HOLD at %v confidence, got %+v", oppositeHoldConfidence, intent)
	}
}

func TestCombineStrongOpposingSentimentOverridesTechnicals(t *testing.T) {
	cfg := Config{UseTechnicals: true, UseSentiment: true, MaxPositionSize: 5}
	dec := New(cfg, newGate(), nil)

	tech := indicators.State{Signal: 1}
	agg := &sentiment.AggregatedSentiment{Action: sentiment.ActionSell, Confidence: 0.9, CompositeScore: -0.8}
	intent := dec.Decide(context.Background(), "MNQ", tech, agg, 0, 100, "")

	if intent.Action != sentiment.ActionSell {
		t.Fatalf("expected strong sentiment to override, got %+v", intent)
	}
	want := 0.9 * 0.6
	if diff := intent.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected confidence %v, got %v", want, intent.Confidence)
	}
}

func TestCombineNeutralSentimentFollowsTechnicalsAtReducedConfidence(t *testing.T) {
	cfg := Config{UseTechnicals: true, UseSentiment: true, MaxPositionSize: 5}
	dec := New(cfg, newGate(), nil)

	tech := indicators.State{Signal: -1}
	agg := &sentiment.AggregatedSentiment{Action: sentiment.ActionHold, Confidence: 0.2}
	intent := dec.Decide(context.Background(), "MNQ", tech, agg, 0, 100, "")

	if intent.Action != sentiment.ActionSell || intent.Confidence != technicalReducedConfidence {
		t.Fatalf("expected SELL at reduced confidence %v, got %+v", technicalReducedConfidence, intent)
	}
}

func TestCombineNeutralTechnicalsFollowsSentimentAt90Percent(t *testing.T) {
	cfg := Config{UseTechnicals: true, UseSentiment: true, MaxPositionSize: 5}
	dec := New(cfg, newGate(), nil)

	tech := indicators.State{Signal: 0}
	agg := &sentiment.AggregatedSentiment{Action: sentiment.ActionBuy, Confidence: 0.5, CompositeScore: 0.4}
	intent := dec.Decide(context.Background(), "MNQ", tech, agg, 0, 100, "")

	want := 0.5 * 0.9
	if intent.Action != sentiment.ActionBuy {
		t.Fatalf("expected BUY, got %+v", intent)
	}
	if diff := intent.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected confidence %v, got %v", want, intent.Confidence)
	}
}

// TestKilledRiskGateStillSizesIntent documents that Decider only sizes the
// intent from confidence; the kill switch is enforced downstream by
// OrderManager's canTrade() check before placement, not here.
func TestKilledRiskGateStillSizesIntent(t *testing.T) {
	gate := newGate()
	gate.Kill("halt")
	cfg := Config{UseTechnicals: true, UseSentiment: false, MaxPositionSize: 5}
	dec := New(cfg, gate, nil)

	tech := indicators.State{Signal: 1}
	intent := dec.Decide(context.Background(), "MNQ", tech, nil, 1.0, 15.0, "")
	if intent.Qty < 1 {
		t.Fatalf("expected confidence-based sizing regardless of kill switch, got qty=%d", intent.Qty)
	}
}
