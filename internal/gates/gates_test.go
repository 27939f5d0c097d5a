package gates

import (
	"math"
	"testing"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	"github.com/ducminhle1904/ea-stress/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEvaluate_BoundaryGTE tests that >= passes at the threshold and fails one unit below
func TestEvaluate_BoundaryGTE(t *testing.T) {
	for _, threshold := range []float64{0, 1, 50, 1.5, -20, 1e6} {
		assert.True(t, Evaluate("g", threshold, threshold, OpGTE).Passed, "threshold %g", threshold)
		assert.False(t, Evaluate("g", threshold-1, threshold, OpGTE).Passed, "threshold %g", threshold)
	}
}

// TestEvaluate_LTE tests the <= operator
func TestEvaluate_LTE(t *testing.T) {
	assert.True(t, Evaluate("dd", 30, 30, OpLTE).Passed)
	assert.True(t, Evaluate("dd", 12.5, 30, OpLTE).Passed)
	assert.False(t, Evaluate("dd", 31, 30, OpLTE).Passed)
}

// TestEvaluate_EQ tests the == operator
func TestEvaluate_EQ(t *testing.T) {
	assert.True(t, Evaluate("compiled", 1, 1, OpEQ).Passed)
	assert.False(t, Evaluate("compiled", 0, 1, OpEQ).Passed)
	assert.True(t, Evaluate("x", 0.1+0.2, 0.3, OpEQ).Passed)
}

// TestEvaluate_MissingValue tests that NaN is a hard fail with its own message
func TestEvaluate_MissingValue(t *testing.T) {
	res := Evaluate("min_trades", Missing(), 50, OpGTE)
	assert.False(t, res.Passed)
	assert.Nil(t, res.Value)
	assert.Contains(t, res.Message, "missing")

	res = Evaluate("min_trades", math.Inf(1), 50, OpGTE)
	assert.False(t, res.Passed)
}

// TestEvaluate_UnknownOperator tests that an unknown operator never passes
func TestEvaluate_UnknownOperator(t *testing.T) {
	res := Evaluate("x", 5, 1, Operator(">"))
	assert.False(t, res.Passed)
	assert.Contains(t, res.Message, "unknown operator")
}

// TestEvaluateAll_Empty tests that an empty list passes vacuously
func TestEvaluateAll_Empty(t *testing.T) {
	s := EvaluateAll(nil)
	assert.True(t, s.AllPassed)
	assert.Empty(t, s.Results)
}

// TestEvaluateAll_AND tests that one failure fails the summary
func TestEvaluateAll_AND(t *testing.T) {
	s := EvaluateAll([]Check{
		{Name: "a", Value: 2, Threshold: 1, Operator: OpGTE},
		{Name: "b", Value: 0, Threshold: 1, Operator: OpGTE},
	})
	assert.False(t, s.AllPassed)
	require.Len(t, s.Failed(), 1)
	assert.Equal(t, "b", s.Failed()[0].Name)
}

// TestRegressionCheck_ProfitDrop tests the 20% profit-drop boundary
func TestRegressionCheck_ProfitDrop(t *testing.T) {
	fail := RegressionCheck(GateRegressionProfit, 799, 1000, 20)
	pass := RegressionCheck(GateRegressionProfit, 800, 1000, 20)

	assert.Equal(t, 800.0, fail.Threshold)
	assert.False(t, EvaluateAll([]Check{fail}).AllPassed)
	assert.True(t, EvaluateAll([]Check{pass}).AllPassed)
}

// TestRegressionThreshold_NegativeBaseline tests that a losing baseline still allows only a bounded drop
func TestRegressionThreshold_NegativeBaseline(t *testing.T) {
	assert.Equal(t, -120.0, RegressionThreshold(-100, 20))
}

// TestRegressionChecks_UseCurrentLimits tests that thresholds follow the limits passed in
func TestRegressionChecks_UseCurrentLimits(t *testing.T) {
	baseline := backtest.Metrics{Profit: 1000, ProfitFactor: 2.0, TotalTrades: 100}
	candidate := backtest.Metrics{Profit: 850, ProfitFactor: 1.85, TotalTrades: 85}

	strict := config.PatchSettings{MaxProfitDropPct: 10, MaxPFDropPct: 10, MaxTradesDropPct: 10}
	loose := config.PatchSettings{MaxProfitDropPct: 20, MaxPFDropPct: 10, MaxTradesDropPct: 20}

	assert.False(t, EvaluateAll(RegressionChecks(candidate, baseline, strict)).AllPassed)
	assert.True(t, EvaluateAll(RegressionChecks(candidate, baseline, loose)).AllPassed)
}

// TestFinalChecks tests the go-live thresholds
func TestFinalChecks(t *testing.T) {
	g := config.Default().Gates
	good := backtest.Metrics{ProfitFactor: 1.8, MaxDrawdownPct: 12, TotalTrades: 120}
	bad := backtest.Metrics{ProfitFactor: 1.2, MaxDrawdownPct: 45, TotalTrades: 20}

	assert.True(t, EvaluateAll(FinalChecks(good, g)).AllPassed)

	s := EvaluateAll(FinalChecks(bad, g))
	assert.False(t, s.AllPassed)
	assert.Len(t, s.Failed(), 3)
}

// TestValidationChecks_NilResult tests that a missing result is a hard fail
func TestValidationChecks_NilResult(t *testing.T) {
	s := EvaluateAll(ValidationChecks(nil, config.Default().Gates))
	assert.False(t, s.AllPassed)
	assert.Nil(t, s.Results[0].Value)
}

// TestDiagnoseAll tests the gate to cause mapping
func TestDiagnoseAll(t *testing.T) {
	s := EvaluateAll(append(CompileChecks(true), PassesChecks(0)...))
	d := DiagnoseAll(s)
	require.Len(t, d, 1)
	assert.Equal(t, GatePassesFound, d[0].Gate)
	assert.NotEmpty(t, d[0].Cause)

	unknown := Diagnose("custom_gate")
	assert.Equal(t, "custom_gate", unknown.Gate)
}
