// Package condition decides whether an alert's condition is satisfied given
// the current and previous indicator snapshots.
//
// Every comparator that needs previous data returns false — never an
// error — when either side of the comparison is missing: the first bar
// after enabling an alert has no previous value and must simply not be
// triggerable yet.
package condition

import (
	"alertstream/internal/indicator"
	"alertstream/internal/model"
)

// PriceContext carries the live price pair for conditions whose threshold
// is the price itself (RequiresPrice).
type PriceContext struct {
	Current  float64
	Previous float64
	HasPrev  bool
}

// Evaluate dispatches on the alert's condition tag. cur and prev are the
// indicator value snapshots for this bar and the previous evaluation.
func Evaluate(a model.Alert, cur, prev indicator.Values, px PriceContext) bool {
	switch a.Condition {
	case model.CondCrossesAbove:
		return crosses(a, cur, prev, px, true)
	case model.CondCrossesBelow:
		return crosses(a, cur, prev, px, false)

	case model.CondGreaterThan:
		v, ok := cur.Get(a.Series)
		return ok && v > a.Value
	case model.CondLessThan:
		v, ok := cur.Get(a.Series)
		return ok && v < a.Value

	case model.CondEquals:
		// Fires only on the tick where the value transitions into
		// equality, not while continuously equal.
		v, ok := cur.Get(a.Series)
		pv, pok := prev.Get(a.Series)
		return ok && pok && pv != a.Value && v == a.Value

	case model.CondLineCrossesAbove:
		return lineCrosses(a, cur, prev, true)
	case model.CondLineCrossesBelow:
		return lineCrosses(a, cur, prev, false)

	case model.CondEntersZone:
		v, ok := cur.Get(a.Series)
		pv, pok := prev.Get(a.Series)
		return ok && pok && !inZone(pv, a) && inZone(v, a)
	case model.CondExitsZone:
		v, ok := cur.Get(a.Series)
		pv, pok := prev.Get(a.Series)
		return ok && pok && inZone(pv, a) && !inZone(v, a)

	case model.CondWithinZone:
		v, ok := cur.Get(a.Series)
		return ok && inZone(v, a)
	case model.CondOutsideZone:
		v, ok := cur.Get(a.Series)
		return ok && !inZone(v, a)

	case model.CondIncreasesBy:
		v, pv, ok := pair(a, cur, prev)
		return ok && v-pv >= a.Value
	case model.CondDecreasesBy:
		v, pv, ok := pair(a, cur, prev)
		return ok && pv-v >= a.Value
	case model.CondChangesBy:
		v, pv, ok := pair(a, cur, prev)
		if !ok {
			return false
		}
		d := v - pv
		if d < 0 {
			d = -d
		}
		return d >= a.Value

	default:
		return false
	}
}

// crosses checks the alert's series moving across its threshold. The
// threshold is, in order of precedence: the live price (RequiresPrice),
// another series of the same indicator (TargetSeries), or the fixed Value.
func crosses(a model.Alert, cur, prev indicator.Values, px PriceContext, up bool) bool {
	v, ok := cur.Get(a.Series)
	pv, pok := prev.Get(a.Series)
	if !ok || !pok {
		return false
	}

	var thr, prevThr float64
	switch {
	case a.RequiresPrice:
		if !px.HasPrev {
			return false
		}
		thr, prevThr = px.Current, px.Previous
	case a.TargetSeries != "":
		t, tok := cur.Get(a.TargetSeries)
		pt, ptok := prev.Get(a.TargetSeries)
		if !tok || !ptok {
			return false
		}
		thr, prevThr = t, pt
	default:
		thr, prevThr = a.Value, a.Value
	}

	if up {
		return pv <= prevThr && v > thr
	}
	return pv >= prevThr && v < thr
}

// lineCrosses checks two named series of one indicator crossing each other,
// e.g. MACD vs its signal line.
func lineCrosses(a model.Alert, cur, prev indicator.Values, up bool) bool {
	v, ok := cur.Get(a.Series)
	pv, pok := prev.Get(a.Series)
	t, tok := cur.Get(a.TargetSeries)
	pt, ptok := prev.Get(a.TargetSeries)
	if !ok || !pok || !tok || !ptok {
		return false
	}
	if up {
		return pv <= pt && v > t
	}
	return pv >= pt && v < t
}

// inZone reports containment in the closed interval [ZoneLow, ZoneHigh].
func inZone(v float64, a model.Alert) bool {
	return v >= a.ZoneLow && v <= a.ZoneHigh
}

// pair fetches the series from both snapshots for delta conditions.
func pair(a model.Alert, cur, prev indicator.Values) (v, pv float64, ok bool) {
	v, cok := cur.Get(a.Series)
	pv, pok := prev.Get(a.Series)
	return v, pv, cok && pok
}
