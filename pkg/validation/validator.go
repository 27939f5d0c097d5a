package validation

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	"github.com/ducminhle1904/ea-stress/pkg/config"
)

// Degradation thresholds in percent
const (
	robustDegradationPct   = 30
	moderateDegradationPct = 15
)

// Scenarios expands the stress settings into backtest requests: trailing
// windows first, then spread overlays, then slippage overlays
func Scenarios(cfg config.StressSettings) []Scenario {
	var out []Scenario
	for _, d := range cfg.RollingDays {
		if d <= 0 {
			continue
		}
		out = append(out, Scenario{Name: fmt.Sprintf("rolling_%dd", d), Kind: ScenarioRolling, Days: d})
	}
	for _, sp := range cfg.SpreadPips {
		out = append(out, Scenario{Name: fmt.Sprintf("spread_%gpips", sp), Kind: ScenarioSpread, SpreadPips: sp})
	}
	for _, sl := range cfg.SlippagePips {
		out = append(out, Scenario{Name: fmt.Sprintf("slippage_%gpips", sl), Kind: ScenarioSlippage, SlippagePips: sl})
	}
	return out
}

// CalculateDegradation compares profit per year in the back and forward
// periods. A forward period that earns less than 70% of the back rate is not
// robust.
func CalculateDegradation(back, forward backtest.Metrics, backYears, forwardYears int) Degradation {
	if backYears <= 0 {
		backYears = 1
	}
	if forwardYears <= 0 {
		forwardYears = 1
	}
	backAnnual := back.Profit / float64(backYears)
	forwardAnnual := forward.Profit / float64(forwardYears)

	degradation := ((backAnnual - forwardAnnual) / math.Max(0.01, math.Abs(backAnnual))) * 100

	risk := RiskLow
	if degradation > robustDegradationPct {
		risk = RiskHigh
	} else if degradation > moderateDegradationPct {
		risk = RiskModerate
	}

	return Degradation{
		BackAnnualProfit:    backAnnual,
		ForwardAnnualProfit: forwardAnnual,
		ReturnDegradation:   degradation,
		IsRobust:            degradation <= robustDegradationPct,
		OverfittingRisk:     risk,
	}
}

// DegradationOf reads the split from a backtest result
func DegradationOf(r *backtest.Result, b config.BacktestSettings) (Degradation, bool) {
	if !r.HasForwardSplit() {
		return Degradation{}, false
	}
	return CalculateDegradation(*r.Back, *r.Forward, b.InSampleYears, b.ForwardYears), true
}
