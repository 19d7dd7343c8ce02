package aggregator

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"futures-agent/internal/sentiment"
	"futures-agent/pkg/clock"
)

func newFixedClock(t time.Time) *clock.Fake { return clock.NewFake(t) }

func TestTimeWeightMonotone(t *testing.T) {
	const halfLife = 30.0
	ages := []float64{0, 10, 30, 60, 120}
	prev := math.Inf(1)
	for _, age := range ages {
		w := timeWeight(age, halfLife)
		if w > prev {
			t.Fatalf("timeWeight should weakly decrease with age: age=%v weight=%v prev=%v", age, w, prev)
		}
		prev = w
	}
}

func TestTimeWeightRatioMatchesHalfLife(t *testing.T) {
	const halfLife = 30.0
	fresh := timeWeight(0, halfLife)
	oneHalfLife := timeWeight(halfLife, halfLife)
	if math.Abs(fresh/oneHalfLife-2.0) > 1e-9 {
		t.Fatalf("one half-life should halve the weight, got ratio %v", fresh/oneHalfLife)
	}
}

func TestHoldBelowConfidenceThreshold(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clk := newFixedClock(now)
	cfg := DefaultConfig()
	agg := New(cfg, clk)

	obs := sentiment.Observation{Source: sentiment.SourceNews, Symbol: "MNQ", Text: "single weak signal", Timestamp: now, EngagementScore: 0.1}
	results := map[string]sentiment.SentimentResult{
		obs.Key(): {Score: 0.9, Confidence: 0.05},
	}

	got := agg.Aggregate("MNQ", []sentiment.Observation{obs}, results)
	if got.Confidence >= cfg.ConfidenceThreshold {
		t.Fatalf("test fixture should produce low confidence, got %v", got.Confidence)
	}
	if got.Action != sentiment.ActionHold {
		t.Fatalf("action should be HOLD when confidence < threshold, got %v", got.Action)
	}
}

func TestCrossSourceDisagreementHoldsWithLowConfidence(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clk := newFixedClock(now)
	agg := New(DefaultConfig(), clk)

	var obs []sentiment.Observation
	results := map[string]sentiment.SentimentResult{}
	for i := 0; i < 10; i++ {
		o := sentiment.Observation{Source: sentiment.SourceMicroBlog, Symbol: "MNQ", Text: padText("bull", i), Timestamp: now, EngagementScore: 0.8}
		obs = append(obs, o)
		results[o.Key()] = sentiment.SentimentResult{Score: 0.8, Confidence: 0.9}
	}
	for i := 0; i < 10; i++ {
		o := sentiment.Observation{Source: sentiment.SourceNews, Symbol: "MNQ", Text: padText("bear", i), Timestamp: now, EngagementScore: 0.8}
		obs = append(obs, o)
		results[o.Key()] = sentiment.SentimentResult{Score: -0.8, Confidence: 0.9}
	}

	got := agg.Aggregate("MNQ", obs, results)
	if math.Abs(got.CompositeScore) > 0.15 {
		t.Fatalf("composite should be ~0 under disagreement, got %v", got.CompositeScore)
	}
	if got.Action != sentiment.ActionHold {
		t.Fatalf("disagreement should HOLD, got %v (confidence=%v)", got.Action, got.Confidence)
	}
}

func padText(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}

// TestTimeDecayRatioFourToOne matches scenario S4: two observations with
// identical engagement and score, ages 0 and 60 minutes, half-life 30 —
// their raw w = timeWeight*engagement*confidence must be in 4:1 ratio.
func TestTimeDecayRatioFourToOne(t *testing.T) {
	const halfLife = 30.0
	freshW := timeWeight(0, halfLife) * 1.0 * 1.0
	staleW := timeWeight(60, halfLife) * 1.0 * 1.0

	ratio := freshW / staleW
	if math.Abs(ratio-4.0) > 1e-9 {
		t.Fatalf("expected 4:1 weight ratio at 60min/30min half-life, got %v", ratio)
	}
}

func TestEmptyInputIsNeutral(t *testing.T) {
	agg := New(DefaultConfig(), clock.Real{})
	got := agg.Aggregate("MNQ", nil, nil)
	if got.Action != sentiment.ActionHold || got.CompositeScore != 0 || got.Confidence != 0 {
		t.Fatalf("expected neutral result for empty input, got %+v", got)
	}
}

func TestZeroWeightsYieldZeroComposite(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clk := newFixedClock(now)
	cfg := DefaultConfig()
	cfg.Weights = Weights{}
	agg := New(cfg, clk)

	obs := sentiment.Observation{Source: sentiment.SourceNews, Symbol: "MNQ", Text: "x", Timestamp: now, EngagementScore: 1}
	results := map[string]sentiment.SentimentResult{obs.Key(): {Score: 1, Confidence: 1}}

	got := agg.Aggregate("MNQ", []sentiment.Observation{obs}, results)
	if got.CompositeScore != 0 {
		t.Fatalf("zero weights should yield zero composite, got %v", got.CompositeScore)
	}
}

func TestAggregatedSentimentJSONRoundTrip(t *testing.T) {
	original := sentiment.AggregatedSentiment{
		Symbol:             "MNQ",
		CompositeScore:     0.42,
		Confidence:         0.77,
		Action:             sentiment.ActionBuy,
		PerSourceBreakdown: map[string]float64{"news": 0.5, "forum": 0.1},
		DataPoints:         12,
		WindowMinutes:      60,
		Themes:             []string{"rates", "earnings"},
		Timestamp:          time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var round sentiment.AggregatedSentiment
	if err := json.Unmarshal(raw, &round); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if round.Symbol != original.Symbol || round.CompositeScore != original.CompositeScore ||
		round.Confidence != original.Confidence || round.Action != original.Action ||
		round.DataPoints != original.DataPoints || round.WindowMinutes != original.WindowMinutes ||
		!original.Timestamp.Equal(round.Timestamp) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", round, original)
	}
	if len(round.Themes) != len(original.Themes) || len(round.PerSourceBreakdown) != len(original.PerSourceBreakdown) {
		t.Fatalf("round trip slice/map mismatch: got %+v", round)
	}
}
