package model

import "time"

// AlertType distinguishes the two alert families. An alert is either a
// price-crossing alert or a condition over computed indicator values,
// never both.
type AlertType string

const (
	AlertPrice     AlertType = "price"
	AlertIndicator AlertType = "indicator"
)

// AlertStatus is the lifecycle state of a stored alert.
type AlertStatus string

const (
	StatusActive    AlertStatus = "Active"
	StatusTriggered AlertStatus = "Triggered"
)

// Condition is the tag the evaluator dispatches on.
type Condition string

const (
	// Price alert conditions.
	CondCrossing     Condition = "crossing"
	CondCrossingUp   Condition = "crossing_up"
	CondCrossingDown Condition = "crossing_down"

	// Indicator alert conditions.
	CondCrossesAbove     Condition = "crosses_above"
	CondCrossesBelow     Condition = "crosses_below"
	CondGreaterThan      Condition = "greater_than"
	CondLessThan         Condition = "less_than"
	CondEquals           Condition = "equals"
	CondLineCrossesAbove Condition = "line_crosses_above"
	CondLineCrossesBelow Condition = "line_crosses_below"
	CondEntersZone       Condition = "enters_zone"
	CondExitsZone        Condition = "exits_zone"
	CondWithinZone       Condition = "within_zone"
	CondOutsideZone      Condition = "outside_zone"
	CondIncreasesBy      Condition = "increases_by"
	CondDecreasesBy      Condition = "decreases_by"
	CondChangesBy        Condition = "changes_by"
)

// Alert is the normalized in-memory shape of a stored alert. Both storage
// namespaces (legacy price alerts and indicator alerts) load into this.
type Alert struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Exchange  string      `json:"exchange"`
	Type      AlertType   `json:"type"`
	Condition Condition   `json:"condition"`
	CreatedAt time.Time   `json:"createdAt"`
	Status    AlertStatus `json:"status"`

	// Price alerts: the threshold.
	Price float64 `json:"price,omitempty"`

	// Indicator alerts.
	Indicator string             `json:"indicator,omitempty"` // e.g. "rsi", "macd"
	Interval  string             `json:"interval,omitempty"`  // e.g. "5m"
	Series    string             `json:"series,omitempty"`    // series within the indicator, default "value"
	Params    map[string]float64 `json:"params,omitempty"`    // indicator parameters, e.g. {"period": 14}

	// Condition parameters. Which ones apply depends on Condition.
	Value         float64 `json:"value,omitempty"`         // fixed threshold / delta magnitude
	TargetSeries  string  `json:"targetSeries,omitempty"`  // line-cross partner or crossing target series
	RequiresPrice bool    `json:"requiresPrice,omitempty"` // threshold is the live price
	ZoneLow       float64 `json:"zoneLow,omitempty"`
	ZoneHigh      float64 `json:"zoneHigh,omitempty"`
}

// Key returns the alert's subscription key.
func (a *Alert) Key() string {
	return SubKey(a.Symbol, a.Exchange)
}

// TriggerEvent is emitted to the monitor's onTrigger callback when an alert
// fires. Price and indicator fires carry different subsets of detail.
type TriggerEvent struct {
	AlertID   string    `json:"alertId"`
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	AlertType AlertType `json:"alertType"`
	Condition Condition `json:"condition"`
	Timestamp time.Time `json:"timestamp"`

	// Price alert fires.
	AlertPrice   float64 `json:"alertPrice,omitempty"`
	CurrentPrice float64 `json:"currentPrice,omitempty"`
	Direction    string  `json:"direction,omitempty"` // "up" | "down"

	// Indicator alert fires.
	Indicator string `json:"indicator,omitempty"`
	Message   string `json:"message,omitempty"`
}
