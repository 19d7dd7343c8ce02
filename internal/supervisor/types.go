package supervisor

import "time"

// Config parameterizes the Supervisor's lifecycle and loop cadences.
type Config struct {
	Symbols []string

	BarInterval              time.Duration // broker chart subscription interval
	DecisionInterval         time.Duration // default 1s
	SentimentRefreshInterval time.Duration // default 60s
	HistoryLookback          time.Duration // default 24h

	StopATRMultiplier   float64 // default 1.5
	TargetATRMultiplier float64 // default 3.0

	SearchTerms map[string][]string

	// LoopRecoverSleepMin/Max bound the "crashed loop" backoff per spec's
	// error-handling design (5-30s).
	LoopRecoverSleepMin time.Duration
	LoopRecoverSleepMax time.Duration
}

// DefaultConfig returns the spec's documented cadences.
func DefaultConfig(symbols []string) Config {
	return Config{
		Symbols:                  symbols,
		BarInterval:              5 * time.Minute,
		DecisionInterval:         1 * time.Second,
		SentimentRefreshInterval: 60 * time.Second,
		HistoryLookback:          24 * time.Hour,
		StopATRMultiplier:        1.5,
		TargetATRMultiplier:      3.0,
		LoopRecoverSleepMin:      5 * time.Second,
		LoopRecoverSleepMax:      30 * time.Second,
	}
}

// signalCache is the latest decision made for a symbol, read by the HTTP
// facade's SignalProvider.
type signalCache struct {
	action     string
	qty        int
	confidence float64
}
