// Package aggregator fuses collector Observations and their scored
// SentimentResults into one time-decayed, engagement-weighted,
// cross-source view per symbol.
package aggregator

import (
	"math"
	"sort"
	"strings"
	"time"

	"futures-agent/internal/sentiment"
	"futures-agent/pkg/clock"
)

// Weights configures the per-source contribution to the composite score.
// Values are normalized to sum to 1 each time Aggregate runs.
type Weights struct {
	MicroBlog float64
	Forum     float64
	News      float64
}

func (w Weights) normalized() map[sentiment.Source]float64 {
	total := w.MicroBlog + w.Forum + w.News
	if total == 0 {
		return map[sentiment.Source]float64{
			sentiment.SourceMicroBlog: 0,
			sentiment.SourceForum:     0,
			sentiment.SourceNews:      0,
		}
	}
	return map[sentiment.Source]float64{
		sentiment.SourceMicroBlog: w.MicroBlog / total,
		sentiment.SourceForum:     w.Forum / total,
		sentiment.SourceNews:      w.News / total,
	}
}

// Config parameterizes the Aggregator.
type Config struct {
	Weights           Weights
	HalfLifeMinutes   float64 // τ, default 30
	WindowMinutes     int     // default 60
	ConfidenceThreshold float64 // default 0.55
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Weights:             Weights{MicroBlog: 1, Forum: 1, News: 1},
		HalfLifeMinutes:     30,
		WindowMinutes:       60,
		ConfidenceThreshold: 0.55,
	}
}

// Aggregator computes AggregatedSentiment from raw observations and their
// scored results. It holds no mutable state itself; callers own the cache.
type Aggregator struct {
	cfg   Config
	clock clock.Clock
}

// New builds an Aggregator.
func New(cfg Config, clk clock.Clock) *Aggregator {
	return &Aggregator{cfg: cfg, clock: clk}
}

type bucket struct {
	weightedScoreSum float64
	weightSum        float64
	count            int
	scores           []float64
	weights          []float64
}

// Aggregate fuses observations with their keyed SentimentResults (keyed by
// Observation.Key()) into one AggregatedSentiment for symbol.
func (a *Aggregator) Aggregate(symbol string, observations []sentiment.Observation, results map[string]sentiment.SentimentResult) sentiment.AggregatedSentiment {
	now := a.clock.Now()
	if len(observations) == 0 {
		return sentiment.Neutral(symbol, a.cfg.WindowMinutes, now)
	}

	windowCutoff := now.Add(-time.Duration(a.cfg.WindowMinutes) * time.Minute)
	buckets := map[sentiment.Source]*bucket{}
	themeCounts := map[string]int{}
	dataPoints := 0

	for _, obs := range observations {
		if obs.Timestamp.Before(windowCutoff) {
			continue
		}
		dataPoints++

		score, confidence := 0.0, 0.3
		if res, ok := results[obs.Key()]; ok {
			score = res.Score
			confidence = res.Confidence
			for _, theme := range res.Themes {
				themeCounts[strings.ToLower(theme)]++
			}
		}

		ageMinutes := now.Sub(obs.Timestamp).Minutes()
		tw := timeWeight(ageMinutes, a.cfg.HalfLifeMinutes)
		w := tw * obs.EngagementScore * confidence

		b, ok := buckets[obs.Source]
		if !ok {
			b = &bucket{}
			buckets[obs.Source] = b
		}
		b.weightedScoreSum += score * w
		b.weightSum += w
		b.count++
		b.scores = append(b.scores, score)
		b.weights = append(b.weights, w)
	}

	if dataPoints == 0 {
		return sentiment.Neutral(symbol, a.cfg.WindowMinutes, now)
	}

	sourceAvg := map[sentiment.Source]float64{}
	sourceConfidence := map[sentiment.Source]float64{}
	for src, b := range buckets {
		if b.weightSum == 0 {
			sourceAvg[src] = 0
			sourceConfidence[src] = 0
			continue
		}
		avg := b.weightedScoreSum / b.weightSum
		variance := 0.0
		for i, s := range b.scores {
			d := s - avg
			variance += d * d * b.weights[i]
		}
		variance /= b.weightSum
		sourceAvg[src] = avg
		sourceConfidence[src] = (1 / (1 + variance)) * math.Min(1, float64(b.count)/10)
	}

	weights := a.cfg.Weights.normalized()
	var numerator, denominator float64
	breakdown := make(map[string]float64, len(sourceAvg))
	for src, avg := range sourceAvg {
		sw := weights[src] * sourceConfidence[src]
		numerator += avg * sw
		denominator += sw
		breakdown[string(src)] = avg
	}

	composite := 0.0
	if denominator != 0 {
		composite = numerator / denominator
	}

	agreement := 0.7
	if len(sourceAvg) > 1 {
		avgs := make([]float64, 0, len(sourceAvg))
		for _, v := range sourceAvg {
			avgs = append(avgs, v)
		}
		agreement = 1 / (1 + 4*variance(avgs))
	}

	volume := math.Min(1, float64(dataPoints)/20)

	avgSrcConf := 0.0
	if len(sourceConfidence) > 0 {
		sum := 0.0
		for _, c := range sourceConfidence {
			sum += c
		}
		avgSrcConf = sum / float64(len(sourceConfidence))
	}

	confidence := agreement * volume * avgSrcConf

	action := sentiment.ActionHold
	if confidence >= a.cfg.ConfidenceThreshold {
		switch {
		case composite > 0.3:
			action = sentiment.ActionBuy
		case composite < -0.3:
			action = sentiment.ActionSell
		}
	}

	return sentiment.AggregatedSentiment{
		Symbol:             symbol,
		CompositeScore:     composite,
		Confidence:         confidence,
		Action:             action,
		PerSourceBreakdown: breakdown,
		DataPoints:         dataPoints,
		WindowMinutes:      a.cfg.WindowMinutes,
		Themes:             topThemes(themeCounts, 5),
		Timestamp:          now,
	}
}

// timeWeight is the exponential time-decay factor exp(-ln2 * age/halfLife).
func timeWeight(ageMinutes, halfLifeMinutes float64) float64 {
	return math.Exp(-math.Ln2 * ageMinutes / halfLifeMinutes)
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	v := 0.0
	for _, x := range values {
		d := x - mean
		v += d * d
	}
	return v / float64(len(values))
}

func topThemes(counts map[string]int, n int) []string {
	type kv struct {
		theme string
		count int
	}
	kvs := make([]kv, 0, len(counts))
	for k, v := range counts {
		kvs = append(kvs, kv{k, v})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].theme < kvs[j].theme
	})
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	out := make([]string, len(kvs))
	for i, e := range kvs {
		out[i] = e.theme
	}
	return out
}
