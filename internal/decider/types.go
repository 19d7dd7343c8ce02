package decider

import "futures-agent/internal/sentiment"

// Config toggles which signal sources feed the fusion and whether the
// optional LLM adjudication step is consulted.
type Config struct {
	UseTechnicals       bool
	UseSentiment        bool
	UseLLMAdjudication  bool
	ConfidenceThreshold float64 // minimum aggregated sentiment confidence to act on it alone
	MaxPositionSize     int
}

// DefaultConfig enables both signal sources with a neutral threshold and no
// LLM adjudication.
func DefaultConfig() Config {
	return Config{
		UseTechnicals:       true,
		UseSentiment:        true,
		UseLLMAdjudication:  false,
		ConfidenceThreshold: 0.55,
		MaxPositionSize:     5,
	}
}

// TradeIntent is the Decider's fused output: either a sized trade or HOLD.
// Action reuses the sentiment package's BUY/SELL/HOLD vocabulary since the
// same three-way outcome applies here.
type TradeIntent struct {
	Symbol     string
	Action     sentiment.Action
	Qty        int
	Confidence float64
	Reasoning  string
}

func hold(symbol string) TradeIntent {
	return TradeIntent{Symbol: symbol, Action: sentiment.ActionHold, Qty: 0}
}
