package gates

import (
	"github.com/ducminhle1904/ea-stress/internal/backtest"
	"github.com/ducminhle1904/ea-stress/pkg/config"
)

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// CompileChecks gates a compiler run
func CompileChecks(compiled bool) []Check {
	return []Check{{Name: GateCompiled, Value: boolValue(compiled), Threshold: 1, Operator: OpEQ}}
}

// ExtractChecks gates parameter extraction
func ExtractChecks(paramsFound int) []Check {
	return []Check{{Name: GateParamsFound, Value: float64(paramsFound), Threshold: 1, Operator: OpGTE}}
}

// ValidationChecks gates the wide-parameter validation backtest
func ValidationChecks(r *backtest.Result, g config.GateSettings) []Check {
	trades := Missing()
	if r != nil {
		trades = float64(r.TotalTrades)
	}
	return []Check{{Name: GateMinTrades, Value: trades, Threshold: float64(g.MinTrades), Operator: OpGTE}}
}

// ForwardSplitChecks gates whether a tester run reported a forward period
func ForwardSplitChecks(present bool) []Check {
	return []Check{{Name: GateForwardSplit, Value: boolValue(present), Threshold: 1, Operator: OpEQ}}
}

// PassesChecks gates a parsed optimization pass list
func PassesChecks(count int) []Check {
	return []Check{{Name: GatePassesFound, Value: float64(count), Threshold: 1, Operator: OpGTE}}
}

// FinalChecks are the go-live thresholds applied to the best candidate
func FinalChecks(m backtest.Metrics, g config.GateSettings) []Check {
	return []Check{
		{Name: GateProfitFactor, Value: m.ProfitFactor, Threshold: g.MinProfitFactor, Operator: OpGTE},
		{Name: GateMaxDrawdown, Value: m.MaxDrawdownPct, Threshold: g.MaxDrawdownPct, Operator: OpLTE},
		{Name: GateMinTrades, Value: float64(m.TotalTrades), Threshold: float64(g.MinTrades), Operator: OpGTE},
	}
}

// MonteCarloChecks gates the resampling robustness figures
func MonteCarloChecks(confidence, ruinProbability float64, g config.GateSettings) []Check {
	return []Check{
		{Name: GateMCConfidence, Value: confidence, Threshold: g.MCConfidenceMin, Operator: OpGTE},
		{Name: GateMCRuin, Value: ruinProbability, Threshold: g.MCRuinMax, Operator: OpLTE},
	}
}

// RegressionChecks compares a patched version against the baseline using the
// current patch limits.
func RegressionChecks(candidate, baseline backtest.Metrics, p config.PatchSettings) []Check {
	return []Check{
		RegressionCheck(GateRegressionProfit, candidate.Profit, baseline.Profit, p.MaxProfitDropPct),
		RegressionCheck(GateRegressionPF, candidate.ProfitFactor, baseline.ProfitFactor, p.MaxPFDropPct),
		RegressionCheck(GateRegressionTrades, float64(candidate.TotalTrades), float64(baseline.TotalTrades), p.MaxTradesDropPct),
	}
}
