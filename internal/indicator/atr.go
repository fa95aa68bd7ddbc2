package indicator

import "alertstream/internal/model"

// trueRanges computes the true range for bars[1:]. tr[i] belongs to
// bars[i+1].
func trueRanges(bars []model.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := abs(bars[i].High - bars[i-1].Close)
		lc := abs(bars[i].Low - bars[i-1].Close)
		tr := hl
		if hc > tr {
			tr = hc
		}
		if lc > tr {
			tr = lc
		}
		out[i-1] = tr
	}
	return out
}

// atrSeries computes the Average True Range with Wilder's smoothing,
// seeded with the SMA of the first period true ranges. series[0]
// corresponds to bars[period].
func atrSeries(bars []model.Bar, period int) []float64 {
	tr := trueRanges(bars)
	if period < 1 || len(tr) < period {
		return nil
	}

	seed := 0.0
	for _, v := range tr[:period] {
		seed += v
	}
	seed /= float64(period)

	out := make([]float64, 0, len(tr)-period+1)
	out = append(out, seed)
	cur := seed
	p := float64(period)
	for _, v := range tr[period:] {
		cur = (cur*(p-1) + v) / p
		out = append(out, cur)
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
