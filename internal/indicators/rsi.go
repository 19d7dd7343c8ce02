package indicators

// RSI is an EMA-smoothed relative strength index over Period closes.
type RSI struct {
	Period     int
	avgGain    *EMA
	avgLoss    *EMA
	prevClose  float64
	hasClose   bool
	value      float64
}

// NewRSI builds an RSI for the given period. Gains and losses are each
// smoothed with the same seed-then-recurrence EMA used for price
// (alpha = 2/(Period+1)), not Wilder's 1/Period smoothing.
func NewRSI(period int) *RSI {
	return &RSI{
		Period:  period,
		avgGain: NewEMA(period),
		avgLoss: NewEMA(period),
		value:   50,
	}
}

// Update folds a new close into the RSI and returns the new value in [0,100].
func (r *RSI) Update(close float64) float64 {
	if !r.hasClose {
		r.prevClose = close
		r.hasClose = true
		return r.value
	}
	delta := close - r.prevClose
	r.prevClose = close

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	avgGain := r.avgGain.Update(gain)
	avgLoss := r.avgLoss.Update(loss)

	if avgLoss == 0 {
		if avgGain == 0 {
			r.value = 50
		} else {
			r.value = 100
		}
		return r.value
	}
	rs := avgGain / avgLoss
	r.value = 100 - 100/(1+rs)
	return r.value
}

// Value returns the current RSI value.
func (r *RSI) Value() float64 { return r.value }

// Ready reports whether Period samples have been observed.
func (r *RSI) Ready() bool { return r.avgGain.Ready() }
