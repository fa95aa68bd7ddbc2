package indicator

// emaSeries computes an exponential moving average over vals, seeded with
// the SMA of the first period values. series[0] corresponds to
// vals[period-1]. Returns nil when vals is shorter than period.
func emaSeries(vals []float64, period int) []float64 {
	if period < 1 || len(vals) < period {
		return nil
	}
	mult := 2.0 / float64(period+1)

	seed := 0.0
	for _, v := range vals[:period] {
		seed += v
	}
	seed /= float64(period)

	out := make([]float64, 0, len(vals)-period+1)
	out = append(out, seed)
	cur := seed
	for _, v := range vals[period:] {
		cur = v*mult + cur*(1-mult)
		out = append(out, cur)
	}
	return out
}
