package risk

// LimitLevel is an advisory soft-tier classification layered on top of the
// binary canTrade() kill switch, based on how close daily usage is to its
// hard limits.
type LimitLevel string

const (
	LevelNormal  LimitLevel = "NORMAL"
	LevelWarning LimitLevel = "WARNING"
	LevelCaution LimitLevel = "CAUTION"
	LevelLimit   LimitLevel = "LIMIT"
)

// Config parameterizes the RiskGate.
type Config struct {
	AccountSize     float64
	RiskPct         float64 // per-trade risk as a percent of AccountSize
	MaxPositionSize int
	MaxDailyLoss    float64
	MaxTradesPerDay int

	// Soft-limit thresholds, expressed as a fraction of MaxDailyLoss /
	// MaxTradesPerDay usage before advisory levels kick in.
	WarningThreshold float64
	CautionThreshold float64
}

// DefaultConfig returns the spec's documented defaults plus the teacher's
// soft-tier thresholds, carried forward as advisory information only.
func DefaultConfig() Config {
	return Config{
		AccountSize:      50000,
		RiskPct:          1.0,
		MaxPositionSize:  5,
		MaxDailyLoss:     500,
		MaxTradesPerDay:  20,
		WarningThreshold: 0.8,
		CautionThreshold: 0.9,
	}
}

// Parameters is the sizing/stop/target output of calculate().
type Parameters struct {
	PositionSize    int
	MaxLossPerTrade float64
	StopDistance    float64
	TargetDistance  float64
	RiskRewardRatio float64
	Allowed         bool
	Reason          string
	LimitLevel      LimitLevel
}

// Stats is a read-only snapshot of the gate's current daily state, exposed
// for the HTTP facade's /metrics endpoint.
type Stats struct {
	DailyPnL    float64
	DailyTrades int
	Killed      bool
	LimitLevel  LimitLevel
	UsageRatio  float64
}
