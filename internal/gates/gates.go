package gates

import (
	"fmt"
	"math"
)

// Operator compares an observed value against a threshold
type Operator string

const (
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpEQ  Operator = "=="
)

// equalityTolerance absorbs float noise for ==; gates compare counts and flags
const equalityTolerance = 1e-9

// Gate names used by the workflow
const (
	GateCompiled         = "compiled"
	GateParamsFound      = "params_found"
	GateMinTrades        = "min_trades"
	GateForwardSplit     = "forward_split"
	GatePassesFound      = "passes_found"
	GateProfitFactor     = "profit_factor"
	GateMaxDrawdown      = "max_drawdown"
	GateMCConfidence     = "mc_confidence"
	GateMCRuin           = "mc_ruin"
	GateRegressionProfit = "regression_profit"
	GateRegressionPF     = "regression_profit_factor"
	GateRegressionTrades = "regression_trades"
)

// Check is one gate to evaluate. A NaN value means the metric is missing.
type Check struct {
	Name      string
	Value     float64
	Threshold float64
	Operator  Operator
}

// GateResult is the outcome of a single check
type GateResult struct {
	Name      string   `json:"name"`
	Passed    bool     `json:"passed"`
	Value     *float64 `json:"value"`
	Threshold float64  `json:"threshold"`
	Operator  Operator `json:"operator"`
	Message   string   `json:"message"`
}

// Summary is the outcome of a list of checks
type Summary struct {
	Results   []GateResult `json:"results"`
	AllPassed bool         `json:"all_passed"`
}

// Failed returns the failing results in order
func (s Summary) Failed() []GateResult {
	var out []GateResult
	for _, r := range s.Results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Missing is the value to use for a metric the upstream artifact did not carry
func Missing() float64 { return math.NaN() }

// Evaluate checks value against threshold. NaN or infinite values fail with a
// distinct message instead of comparing.
func Evaluate(name string, value, threshold float64, op Operator) GateResult {
	res := GateResult{
		Name:      name,
		Threshold: threshold,
		Operator:  op,
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		res.Message = fmt.Sprintf("%s: value missing or not a number (required %s %g)", name, op, threshold)
		return res
	}
	v := value
	res.Value = &v

	switch op {
	case OpGTE:
		res.Passed = value >= threshold
	case OpLTE:
		res.Passed = value <= threshold
	case OpEQ:
		res.Passed = math.Abs(value-threshold) <= equalityTolerance
	default:
		res.Message = fmt.Sprintf("%s: unknown operator %q", name, op)
		return res
	}

	verdict := "FAIL"
	if res.Passed {
		verdict = "PASS"
	}
	res.Message = fmt.Sprintf("%s: %g %s %g -> %s", name, value, op, threshold, verdict)
	return res
}

// EvaluateAll evaluates every check; an empty list passes vacuously
func EvaluateAll(checks []Check) Summary {
	s := Summary{
		Results:   make([]GateResult, 0, len(checks)),
		AllPassed: true,
	}
	for _, c := range checks {
		r := Evaluate(c.Name, c.Value, c.Threshold, c.Operator)
		s.Results = append(s.Results, r)
		s.AllPassed = s.AllPassed && r.Passed
	}
	return s
}

// RegressionThreshold is the lowest acceptable candidate value for a baseline
// metric allowed to drop by at most maxDropPct percent.
func RegressionThreshold(baseline, maxDropPct float64) float64 {
	return baseline - math.Abs(baseline)*maxDropPct/100
}

// RegressionCheck builds a >= gate against a baseline. The threshold is
// derived here, at evaluation time, from the current limit.
func RegressionCheck(name string, candidate, baseline, maxDropPct float64) Check {
	return Check{
		Name:      name,
		Value:     candidate,
		Threshold: RegressionThreshold(baseline, maxDropPct),
		Operator:  OpGTE,
	}
}
