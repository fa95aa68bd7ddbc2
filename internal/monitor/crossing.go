package monitor

import "alertstream/internal/model"

// position is which side of its threshold an alert last saw the price on.
type position string

const (
	posAbove   position = "above"
	posBelow   position = "below"
	posUnknown position = "unknown"
)

// crossingResult reports one crossing-check outcome.
type crossingResult struct {
	fired     bool
	direction string // "up" | "down" when fired
	pos       position
	seeded    bool // this observation only seeded the position
}

// checkCrossing runs the price-alert state machine for one tick.
//
// The seeding observation never fires: the first time an alert sees a
// price, its position is derived from the previous price and the check
// returns no-fire. Only a later observation that changes side of the
// threshold triggers. This prevents a false crossing event purely from
// initializing state — an alert created after the price already moved past
// its threshold fires on the next reversal, not retroactively.
func checkCrossing(cond model.Condition, threshold float64, pos position, hasPos bool, prev, cur float64) crossingResult {
	if !hasPos {
		switch {
		case prev < threshold:
			pos = posBelow
		case prev > threshold:
			pos = posAbove
		default:
			pos = posUnknown
		}
		return crossingResult{pos: reposition(pos, cur, threshold), seeded: true}
	}

	crossedUp := pos == posBelow && cur >= threshold
	crossedDown := pos == posAbove && cur <= threshold

	res := crossingResult{pos: reposition(pos, cur, threshold)}
	switch cond {
	case model.CondCrossing:
		res.fired = crossedUp || crossedDown
	case model.CondCrossingUp:
		res.fired = crossedUp
	case model.CondCrossingDown:
		res.fired = crossedDown
	}
	if crossedUp {
		res.direction = "up"
	} else if crossedDown {
		res.direction = "down"
	}
	return res
}

// reposition updates the stored side from where the current price now sits.
// A price exactly at the threshold leaves the position unchanged, so the
// next tick still compares from the old side.
func reposition(pos position, cur, threshold float64) position {
	switch {
	case cur > threshold:
		return posAbove
	case cur < threshold:
		return posBelow
	default:
		return pos
	}
}
