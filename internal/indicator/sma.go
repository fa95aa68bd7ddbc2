package indicator

// smaSeries computes a simple moving average over vals. The returned series
// holds one value per fully-formed window: series[i] averages
// vals[i : i+period]. Returns nil when vals is shorter than period.
func smaSeries(vals []float64, period int) []float64 {
	if period < 1 || len(vals) < period {
		return nil
	}
	out := make([]float64, 0, len(vals)-period+1)
	sum := 0.0
	for i, v := range vals {
		sum += v
		if i >= period {
			sum -= vals[i-period]
		}
		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}
	return out
}
