package condition

import (
	"testing"

	"alertstream/internal/indicator"
	"alertstream/internal/model"
)

func vals(v float64) indicator.Values {
	return indicator.Values{"value": v}
}

func TestEvaluate_CrossesFixedThreshold(t *testing.T) {
	a := model.Alert{Condition: model.CondCrossesAbove, Value: 70}

	cases := []struct {
		name string
		cur  float64
		prev float64
		want bool
	}{
		{"crosses up", 71, 69, true},
		{"from exactly at threshold", 71, 70, true},
		{"already above", 75, 72, false},
		{"still below", 69, 65, false},
		{"lands exactly on threshold", 70, 69, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(a, vals(tc.cur), vals(tc.prev), PriceContext{}); got != tc.want {
				t.Errorf("cur=%v prev=%v: got %v, want %v", tc.cur, tc.prev, got, tc.want)
			}
		})
	}

	down := model.Alert{Condition: model.CondCrossesBelow, Value: 30}
	if !Evaluate(down, vals(29), vals(31), PriceContext{}) {
		t.Error("crosses_below 31→29 through 30 should fire")
	}
	if Evaluate(down, vals(28), vals(29), PriceContext{}) {
		t.Error("crosses_below already below should not fire")
	}
}

func TestEvaluate_CrossesLivePrice(t *testing.T) {
	a := model.Alert{Condition: model.CondCrossesAbove, RequiresPrice: true}

	// VWAP-style: indicator value crossing above the live price.
	px := PriceContext{Current: 100, Previous: 100, HasPrev: true}
	if !Evaluate(a, vals(101), vals(99), px) {
		t.Error("value crossing above price should fire")
	}
	if Evaluate(a, vals(101), vals(99), PriceContext{Current: 100}) {
		t.Error("no previous price: must not fire")
	}
}

func TestEvaluate_MissingDataNeverFires(t *testing.T) {
	conds := []model.Condition{
		model.CondCrossesAbove, model.CondCrossesBelow, model.CondEquals,
		model.CondLineCrossesAbove, model.CondEntersZone, model.CondExitsZone,
		model.CondIncreasesBy, model.CondDecreasesBy, model.CondChangesBy,
	}
	for _, c := range conds {
		a := model.Alert{Condition: c, Value: 1, TargetSeries: "signal", ZoneLow: 0, ZoneHigh: 10}
		if Evaluate(a, vals(5), nil, PriceContext{}) {
			t.Errorf("%s with nil previous snapshot fired", c)
		}
		if Evaluate(a, nil, vals(5), PriceContext{}) {
			t.Errorf("%s with nil current snapshot fired", c)
		}
	}
}

func TestEvaluate_Thresholds(t *testing.T) {
	gt := model.Alert{Condition: model.CondGreaterThan, Value: 50}
	if !Evaluate(gt, vals(51), nil, PriceContext{}) {
		t.Error("greater_than is stateless and needs no previous snapshot")
	}
	if Evaluate(gt, vals(50), nil, PriceContext{}) {
		t.Error("greater_than at exactly the value should not fire")
	}

	lt := model.Alert{Condition: model.CondLessThan, Value: 50}
	if !Evaluate(lt, vals(49), nil, PriceContext{}) {
		t.Error("less_than below the value should fire")
	}
}

func TestEvaluate_EqualsOnlyOnTransition(t *testing.T) {
	a := model.Alert{Condition: model.CondEquals, Value: 100}

	if !Evaluate(a, vals(100), vals(99), PriceContext{}) {
		t.Error("transition into equality should fire")
	}
	if Evaluate(a, vals(100), vals(100), PriceContext{}) {
		t.Error("continuously equal should not fire")
	}
	if Evaluate(a, vals(100), nil, PriceContext{}) {
		t.Error("no previous value should not fire")
	}
}

func TestEvaluate_LineCross(t *testing.T) {
	a := model.Alert{
		Condition:    model.CondLineCrossesAbove,
		Series:       "value",
		TargetSeries: "signal",
	}

	cur := indicator.Values{"value": 1.2, "signal": 1.0}
	prev := indicator.Values{"value": 0.9, "signal": 1.0}
	if !Evaluate(a, cur, prev, PriceContext{}) {
		t.Error("MACD crossing above signal should fire")
	}

	// Both moved but no cross.
	cur = indicator.Values{"value": 1.4, "signal": 1.0}
	prev = indicator.Values{"value": 1.2, "signal": 0.9}
	if Evaluate(a, cur, prev, PriceContext{}) {
		t.Error("already above, no cross, should not fire")
	}
}

func TestEvaluate_Zones(t *testing.T) {
	a := model.Alert{ZoneLow: 30, ZoneHigh: 70}

	a.Condition = model.CondEntersZone
	if !Evaluate(a, vals(50), vals(75), PriceContext{}) {
		t.Error("outside→inside should fire enters_zone")
	}
	if Evaluate(a, vals(50), vals(60), PriceContext{}) {
		t.Error("inside→inside must not fire enters_zone")
	}
	// Starting inside the zone never fires on the first evaluation.
	if Evaluate(a, vals(50), nil, PriceContext{}) {
		t.Error("first observation inside zone must not fire enters_zone")
	}

	a.Condition = model.CondExitsZone
	if !Evaluate(a, vals(75), vals(50), PriceContext{}) {
		t.Error("inside→outside should fire exits_zone")
	}

	a.Condition = model.CondWithinZone
	if !Evaluate(a, vals(30), nil, PriceContext{}) {
		t.Error("zone bounds are closed: 30 is inside [30,70]")
	}
	a.Condition = model.CondOutsideZone
	if !Evaluate(a, vals(29.9), nil, PriceContext{}) {
		t.Error("29.9 is outside [30,70]")
	}
}

func TestEvaluate_Deltas(t *testing.T) {
	a := model.Alert{Value: 5}

	a.Condition = model.CondIncreasesBy
	if !Evaluate(a, vals(105), vals(100), PriceContext{}) {
		t.Error("delta of exactly the magnitude should fire")
	}
	if Evaluate(a, vals(104), vals(100), PriceContext{}) {
		t.Error("delta below magnitude must not fire")
	}
	if Evaluate(a, vals(95), vals(100), PriceContext{}) {
		t.Error("decrease must not fire increases_by")
	}

	a.Condition = model.CondDecreasesBy
	if !Evaluate(a, vals(94), vals(100), PriceContext{}) {
		t.Error("decrease past magnitude should fire")
	}

	a.Condition = model.CondChangesBy
	if !Evaluate(a, vals(94), vals(100), PriceContext{}) || !Evaluate(a, vals(106), vals(100), PriceContext{}) {
		t.Error("changes_by fires on either direction")
	}
}
