package config

import (
	"fmt"
	"math"
	"time"
)

// SettingsValidator implements Validator for Settings
type SettingsValidator struct{}

// NewSettingsValidator creates a new settings validator
func NewSettingsValidator() *SettingsValidator {
	return &SettingsValidator{}
}

// Validate performs validation on every settings group
func (v *SettingsValidator) Validate(s Settings) error {
	if s.Backtest.Deposit <= 0 {
		return fmt.Errorf("deposit must be positive, got: %.2f", s.Backtest.Deposit)
	}
	if s.Backtest.ForwardYears <= 0 || s.Backtest.ForwardYears >= s.Backtest.Years {
		return fmt.Errorf("forward years must be between 1 and %d, got: %d", s.Backtest.Years-1, s.Backtest.ForwardYears)
	}

	if err := v.validateGates(s.Gates); err != nil {
		return err
	}
	if err := v.validateScoring(s.Scoring); err != nil {
		return err
	}
	if err := v.validateStats(s.Stats); err != nil {
		return err
	}

	if s.MonteCarlo.Iterations < 1 {
		return fmt.Errorf("monte carlo iterations must be positive, got: %d", s.MonteCarlo.Iterations)
	}
	if s.MonteCarlo.RuinDrawdownPct <= 0 || s.MonteCarlo.RuinDrawdownPct > 100 {
		return fmt.Errorf("ruin drawdown must be between 0 and 100%%, got: %.2f", s.MonteCarlo.RuinDrawdownPct)
	}

	for name, pct := range map[string]float64{
		"profit":        s.Patch.MaxProfitDropPct,
		"profit factor": s.Patch.MaxPFDropPct,
		"trades":        s.Patch.MaxTradesDropPct,
	} {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("max %s drop must be between 0 and 100%%, got: %.2f", name, pct)
		}
	}

	if s.Workflow.MaxFixAttempts < 1 {
		return fmt.Errorf("max fix attempts must be positive, got: %d", s.Workflow.MaxFixAttempts)
	}
	if s.Advisor.MaxRefinementCycles < 0 {
		return fmt.Errorf("max refinement cycles cannot be negative, got: %d", s.Advisor.MaxRefinementCycles)
	}

	a := s.Automation
	if a.AutoStatsTopN < 1 || a.TopPassesBacktest < 1 || a.MaxOptimizationPasses < 1 {
		return fmt.Errorf("pass limits must be positive, got: top_n=%d backtest=%d max=%d",
			a.AutoStatsTopN, a.TopPassesBacktest, a.MaxOptimizationPasses)
	}
	if a.MultiPairMode != MultiPairModeExternal && a.MultiPairMode != MultiPairModeInternal {
		return fmt.Errorf("multi pair mode must be %q or %q, got: %q", MultiPairModeExternal, MultiPairModeInternal, a.MultiPairMode)
	}

	if s.Paths.RunsDir == "" {
		return fmt.Errorf("runs directory cannot be empty")
	}
	return nil
}

func (v *SettingsValidator) validateGates(g GateSettings) error {
	if g.MinProfitFactor <= 0 {
		return fmt.Errorf("min profit factor must be positive, got: %.2f", g.MinProfitFactor)
	}
	if g.MaxDrawdownPct <= 0 || g.MaxDrawdownPct > 100 {
		return fmt.Errorf("max drawdown must be between 0 and 100%%, got: %.2f", g.MaxDrawdownPct)
	}
	if g.MinTrades < 1 {
		return fmt.Errorf("min trades must be positive, got: %d", g.MinTrades)
	}
	if g.OnTesterMinTrades < 0 {
		return fmt.Errorf("ontester min trades cannot be negative, got: %d", g.OnTesterMinTrades)
	}
	if g.MCConfidenceMin < 0 || g.MCConfidenceMin > 100 {
		return fmt.Errorf("monte carlo confidence must be between 0 and 100, got: %.2f", g.MCConfidenceMin)
	}
	if g.MCRuinMax < 0 || g.MCRuinMax > 100 {
		return fmt.Errorf("monte carlo ruin must be between 0 and 100, got: %.2f", g.MCRuinMax)
	}
	return nil
}

func (v *SettingsValidator) validateScoring(sc ScoringSettings) error {
	w := sc.Weights
	for name, weight := range map[string]float64{
		"consistency":   w.Consistency,
		"total_profit":  w.TotalProfit,
		"trade_count":   w.TradeCount,
		"profit_factor": w.ProfitFactor,
		"max_drawdown":  w.MaxDrawdown,
	} {
		if weight < 0 {
			return fmt.Errorf("score weight %s cannot be negative, got: %.2f", name, weight)
		}
	}
	if math.Abs(w.Sum()-1.0) > 1e-6 {
		return fmt.Errorf("score weights must sum to 1.0, got: %.4f", w.Sum())
	}

	r := sc.Ranges
	for name, rg := range map[string]Range{
		"total_profit":    r.TotalProfit,
		"trade_count":     r.TradeCount,
		"profit_factor":   r.ProfitFactor,
		"max_drawdown":    r.MaxDrawdown,
		"consistency_min": r.ConsistencyMin,
	} {
		if rg.Max <= rg.Min {
			return fmt.Errorf("score range %s must have max > min, got: (%.2f, %.2f)", name, rg.Min, rg.Max)
		}
	}

	if sc.SelectionMode != SelectionModeScore && sc.SelectionMode != SelectionModeProfit {
		return fmt.Errorf("selection mode must be %q or %q, got: %q", SelectionModeScore, SelectionModeProfit, sc.SelectionMode)
	}
	return nil
}

func (v *SettingsValidator) validateStats(st StatsSettings) error {
	if _, err := time.LoadLocation(st.Timezone); err != nil {
		return fmt.Errorf("invalid stats timezone %q: %w", st.Timezone, err)
	}
	if st.MinTradesPerBucket < 1 {
		return fmt.Errorf("min trades per bucket must be positive, got: %d", st.MinTradesPerBucket)
	}
	if st.ConcentrationTopPct <= 0 || st.ConcentrationTopPct > 100 {
		return fmt.Errorf("concentration top pct must be between 0 and 100, got: %.2f", st.ConcentrationTopPct)
	}
	for _, w := range st.Sessions {
		if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 24 {
			return fmt.Errorf("session %s hours must be within 0-24, got: %d-%d", w.Name, w.StartHour, w.EndHour)
		}
	}
	for _, b := range st.DurationBands {
		if b.MaxMinutes > 0 && b.MaxMinutes <= b.MinMinutes {
			return fmt.Errorf("duration band %s must have max > min, got: %.0f-%.0f", b.Label, b.MinMinutes, b.MaxMinutes)
		}
	}
	return nil
}
