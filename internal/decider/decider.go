// Package decider fuses technical indicator state with aggregated sentiment
// into a single risk-sized TradeIntent, with an optional LLM adjudication
// step layered on top of the rule-based fusion.
package decider

import (
	"context"
	"math"
	"time"

	"futures-agent/internal/indicators"
	"futures-agent/internal/risk"
	"futures-agent/internal/sentiment"
	"futures-agent/internal/sentiment/scorer"
)

const (
	technicalOnlyConfidence    = 0.55 // baseline confidence when only the technical signal is trusted
	technicalReducedConfidence = 0.5  // flat confidence when technicals fill in for a neutral sentiment read
	oppositeHoldConfidence     = 0.3
	strongSentimentScore       = 0.6
	strongSentimentConfidence  = 0.7
)

// Decider combines IndicatorState, AggregatedSentiment, and risk sizing into
// a TradeIntent. Its Config toggles which signal sources are consulted.
type Decider struct {
	cfg    Config
	gate   *risk.Gate
	scorer *scorer.Scorer
}

// New builds a Decider. scorer may be nil; Config.UseLLMAdjudication is
// ignored (treated as disabled) when it is.
func New(cfg Config, gate *risk.Gate, sc *scorer.Scorer) *Decider {
	return &Decider{cfg: cfg, gate: gate, scorer: sc}
}

// Decide fuses tech and agg (agg may be nil when no sentiment data exists
// yet) into a sized TradeIntent for symbol.
func (d *Decider) Decide(ctx context.Context, symbol string, tech indicators.State, agg *sentiment.AggregatedSentiment, volatility, price float64, regime string) TradeIntent {
	action, confidence, reasoning := d.fuse(tech, agg)

	if d.cfg.UseLLMAdjudication && d.scorer != nil {
		sentResult := sentResultFromAgg(agg)
		decision := d.scorer.Decide(ctx, sentResult, tech.Signal, regime)
		// scorer.Decide degrades to a bare HOLD with no reasoning whenever the
		// API key is absent or the call/parse failed; treat that silently
		// as the "on any error" fallback clause and keep the rule-based result.
		if decision.Reasoning != "" {
			action = decision.Action
			confidence = decision.Confidence
			reasoning = decision.Reasoning
		}
	}

	if action == sentiment.ActionHold {
		return TradeIntent{Symbol: symbol, Action: sentiment.ActionHold, Qty: 0, Confidence: confidence, Reasoning: reasoning}
	}

	params := d.gate.Calculate(confidence, volatility, price)
	qty := params.PositionSize
	if d.cfg.MaxPositionSize > 0 && qty > d.cfg.MaxPositionSize {
		qty = d.cfg.MaxPositionSize
	}
	if qty <= 0 {
		return TradeIntent{Symbol: symbol, Action: action, Qty: 0, Confidence: confidence, Reasoning: reasoning}
	}

	return TradeIntent{Symbol: symbol, Action: action, Qty: qty, Confidence: confidence, Reasoning: reasoning}
}

// fuse implements the rule-based combine table: technical-only, sentiment-
// only, or both per spec's equal/opposite/one-neutral cases.
func (d *Decider) fuse(tech indicators.State, agg *sentiment.AggregatedSentiment) (sentiment.Action, float64, string) {
	techAction := actionFromSignal(tech.Signal)

	switch {
	case d.cfg.UseTechnicals && !d.cfg.UseSentiment:
		if techAction == sentiment.ActionHold {
			return sentiment.ActionHold, 0, "technicals neutral"
		}
		return techAction, technicalOnlyConfidence, "technical crossover"

	case d.cfg.UseSentiment && !d.cfg.UseTechnicals:
		if agg == nil || agg.Confidence < d.cfg.ConfidenceThreshold {
			return sentiment.ActionHold, 0, "sentiment below confidence threshold"
		}
		return agg.Action, agg.Confidence, "sentiment signal"

	case d.cfg.UseTechnicals && d.cfg.UseSentiment:
		return d.combine(techAction, agg)

	default:
		return sentiment.ActionHold, 0, "no signal sources enabled"
	}
}

func (d *Decider) combine(techAction sentiment.Action, agg *sentiment.AggregatedSentiment) (sentiment.Action, float64, string) {
	if agg == nil {
		if techAction == sentiment.ActionHold {
			return sentiment.ActionHold, 0, "no signal"
		}
		return techAction, technicalReducedConfidence, "technical only, no sentiment data"
	}

	sentAction := agg.Action
	techNeutral := techAction == sentiment.ActionHold
	sentNeutral := sentAction == sentiment.ActionHold

	switch {
	case techNeutral && sentNeutral:
		return sentiment.ActionHold, 0, "both signals neutral"

	case !techNeutral && sentNeutral:
		return techAction, technicalReducedConfidence, "sentiment neutral, following technicals"

	case techNeutral && !sentNeutral:
		return sentAction, math.Min(1, agg.Confidence*0.9), "technicals neutral, following sentiment"

	case techAction == sentAction:
		boosted := math.Min(1, agg.Confidence*1.2)
		return techAction, boosted, "technicals and sentiment agree"

	default: // exactly opposite
		if math.Abs(agg.CompositeScore) > strongSentimentScore && agg.Confidence > strongSentimentConfidence {
			return sentAction, agg.Confidence * 0.6, "strong sentiment overrides opposing technicals"
		}
		return sentiment.ActionHold, oppositeHoldConfidence, "technicals and sentiment disagree"
	}
}

func actionFromSignal(signal int) sentiment.Action {
	switch {
	case signal > 0:
		return sentiment.ActionBuy
	case signal < 0:
		return sentiment.ActionSell
	default:
		return sentiment.ActionHold
	}
}

func sentResultFromAgg(agg *sentiment.AggregatedSentiment) sentiment.SentimentResult {
	if agg == nil {
		return sentiment.NeutralResult(time.Time{})
	}
	return sentiment.SentimentResult{
		Score:      agg.CompositeScore,
		Confidence: agg.Confidence,
		Action:     agg.Action,
		Themes:     agg.Themes,
		Timestamp:  agg.Timestamp,
	}
}
