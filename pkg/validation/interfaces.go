package validation

import (
	"time"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
)

// Package validation slices the best candidate's results into forward windows
// and stress scenarios, and measures how forward returns degrade.

// WindowKind distinguishes trailing windows from calendar months
type WindowKind string

const (
	WindowRolling  WindowKind = "rolling"
	WindowCalendar WindowKind = "calendar"
)

// Window is a half-open time interval [From, To)
type Window struct {
	Label string     `json:"label"`
	Kind  WindowKind `json:"kind"`
	From  time.Time  `json:"from"`
	To    time.Time  `json:"to"`
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// WindowResult holds the metrics of the trades closed inside a window.
// Partial is set when the window starts before the forward date.
type WindowResult struct {
	Window
	Metrics backtest.Metrics `json:"metrics"`
	Partial bool             `json:"partial"`
}

// ScenarioKind is the family a stress scenario belongs to
type ScenarioKind string

const (
	ScenarioRolling  ScenarioKind = "rolling"
	ScenarioSpread   ScenarioKind = "spread"
	ScenarioSlippage ScenarioKind = "slippage"
)

// Scenario is one stress backtest request against the best candidate
type Scenario struct {
	Name         string       `json:"name"`
	Kind         ScenarioKind `json:"kind"`
	Days         int          `json:"days,omitempty"`
	SpreadPips   float64      `json:"spread_pips,omitempty"`
	SlippagePips float64      `json:"slippage_pips,omitempty"`
}

// ScenarioResult is a scenario's outcome; Metrics is nil when the run failed
type ScenarioResult struct {
	Scenario
	Metrics *backtest.Metrics `json:"metrics,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Overfitting risk labels
const (
	RiskLow      = "LOW"
	RiskModerate = "MODERATE"
	RiskHigh     = "HIGH"
)

// Degradation compares annualised back and forward profit
type Degradation struct {
	BackAnnualProfit    float64 `json:"back_annual_profit"`
	ForwardAnnualProfit float64 `json:"forward_annual_profit"`
	ReturnDegradation   float64 `json:"return_degradation_pct"`
	IsRobust            bool    `json:"is_robust"`
	OverfittingRisk     string  `json:"overfitting_risk"`
}
