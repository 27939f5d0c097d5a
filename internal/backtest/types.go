package backtest

import (
	"strconv"
	"strings"
	"time"
)

// Direction is the side of a closed trade
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Trade is one closed position as reported by the tester
type Trade struct {
	Ticket    int64     `json:"ticket,omitempty"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Direction Direction `json:"direction"`
	Profit    float64   `json:"profit"`
}

// HoldingMinutes returns how long the position was open
func (t Trade) HoldingMinutes() float64 {
	d := t.CloseTime.Sub(t.OpenTime)
	if d < 0 {
		return 0
	}
	return d.Minutes()
}

// Metrics are the documented figures read from a backtest or optimization pass
type Metrics struct {
	Profit         float64 `json:"profit"`
	ProfitFactor   float64 `json:"profit_factor"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	TotalTrades    int     `json:"total_trades"`
	WinRate        float64 `json:"win_rate"`
	ExpectedPayoff float64 `json:"expected_payoff,omitempty"`
}

// Result is a single backtest run with its back/forward split and trade list
type Result struct {
	Metrics
	Back        *Metrics   `json:"back,omitempty"`
	Forward     *Metrics   `json:"forward,omitempty"`
	ForwardDate *time.Time `json:"forward_date,omitempty"`
	Trades      []Trade    `json:"trades,omitempty"`
	ReportPath  string     `json:"report_path,omitempty"`
}

// HasForwardSplit reports whether both halves of the split are present
func (r *Result) HasForwardSplit() bool {
	return r != nil && r.Back != nil && r.Forward != nil
}

// ForwardTrades returns the trades closed on or after the forward date
func (r *Result) ForwardTrades() []Trade {
	if r == nil || r.ForwardDate == nil {
		return nil
	}
	_, fwd := SplitTrades(r.Trades, *r.ForwardDate)
	return fwd
}

// PassSource tags which optimization pass produced a result
type PassSource string

const (
	SourcePass1 PassSource = "pass1"
	SourcePass2 PassSource = "pass2"
)

// Pass is one parameter combination's optimization result. Passes are never
// mutated after parsing; filters return new slices.
type Pass struct {
	Index  int        `json:"index"`
	Source PassSource `json:"source"`
	Result float64    `json:"result"`
	Metrics
	Back    *Metrics          `json:"back,omitempty"`
	Forward *Metrics          `json:"forward,omitempty"`
	Params  map[string]string `json:"params"`
}

// HasForwardSplit reports whether both halves of the split are present
func (p Pass) HasForwardSplit() bool {
	return p.Back != nil && p.Forward != nil
}

// Float returns a parameter as a number. Booleans map to 0 and 1.
func (p Pass) Float(name string) (float64, bool) {
	raw, ok := p.Params[name]
	if !ok {
		return 0, false
	}
	return ParseParamValue(raw)
}

// ParseParamValue converts a raw tester parameter value to a number
func ParseParamValue(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "true":
		return 1, true
	case "false":
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
