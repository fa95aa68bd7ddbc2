package indicator

import "alertstream/internal/model"

// macdPair computes MACD (fast EMA − slow EMA), its signal line and the
// histogram, and returns the last two bars' values. Series names:
// "value" (MACD line), "signal", "histogram".
func macdPair(bars []model.Bar, fast, slow, signal int) (Computed, bool) {
	if fast >= slow {
		return Computed{}, false
	}
	cls := closes(bars)
	fastEMA := emaSeries(cls, fast)
	slowEMA := emaSeries(cls, slow)
	if slowEMA == nil {
		return Computed{}, false
	}

	// Align: slowEMA starts later, trim fastEMA's head to match.
	skip := len(fastEMA) - len(slowEMA)
	macd := make([]float64, len(slowEMA))
	for i := range slowEMA {
		macd[i] = fastEMA[skip+i] - slowEMA[i]
	}

	sig := emaSeries(macd, signal)
	if len(sig) < 2 {
		return Computed{}, false
	}
	macdTail := macd[len(macd)-len(sig):]

	n := len(sig)
	cur := Values{
		"value":     macdTail[n-1],
		"signal":    sig[n-1],
		"histogram": macdTail[n-1] - sig[n-1],
	}
	prev := Values{
		"value":     macdTail[n-2],
		"signal":    sig[n-2],
		"histogram": macdTail[n-2] - sig[n-2],
	}
	return Computed{Current: cur, Previous: prev}, true
}
