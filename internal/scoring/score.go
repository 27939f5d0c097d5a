package scoring

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/pkg/config"
)

// MaxScore is the top of the go-live scale
const MaxScore = 10.0

// partialConsistencyCredit scales consistency when only one period made money
const partialConsistencyCredit = 0.25

// Input is what the go-live score is computed from
type Input struct {
	Metrics backtest.Metrics
	Back    *backtest.Metrics
	Forward *backtest.Metrics
}

// FromPass builds a scoring input from an optimization pass
func FromPass(p backtest.Pass) Input {
	return Input{Metrics: p.Metrics, Back: p.Back, Forward: p.Forward}
}

// FromResult builds a scoring input from a backtest result
func FromResult(r *backtest.Result) Input {
	if r == nil {
		return Input{Metrics: backtest.Metrics{ProfitFactor: math.NaN()}}
	}
	return Input{Metrics: r.Metrics, Back: r.Back, Forward: r.Forward}
}

// Breakdown is a go-live score with its normalised sub-scores (each 0-1)
type Breakdown struct {
	Total        float64 `json:"total"`
	Consistency  float64 `json:"consistency"`
	TotalProfit  float64 `json:"total_profit"`
	TradeCount   float64 `json:"trade_count"`
	ProfitFactor float64 `json:"profit_factor"`
	MaxDrawdown  float64 `json:"max_drawdown"`
}

// Score reduces metrics to a 0-10 go-live score. Inputs without a back and
// forward split, or with non-finite figures, are rejected as a contract error.
func Score(in Input, w config.ScoreWeights, r config.ScoreRanges) (Breakdown, error) {
	if err := validateInput(in); err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{
		Consistency:  consistency(in.Back.Profit, in.Forward.Profit, r.ConsistencyMin),
		TotalProfit:  Normalize(in.Metrics.Profit, r.TotalProfit),
		TradeCount:   Normalize(float64(in.Metrics.TotalTrades), r.TradeCount),
		ProfitFactor: Normalize(in.Metrics.ProfitFactor, r.ProfitFactor),
		MaxDrawdown:  1 - Normalize(in.Metrics.MaxDrawdownPct, r.MaxDrawdown),
	}

	total := w.Consistency*b.Consistency +
		w.TotalProfit*b.TotalProfit +
		w.TradeCount*b.TradeCount +
		w.ProfitFactor*b.ProfitFactor +
		w.MaxDrawdown*b.MaxDrawdown
	b.Total = clamp(total*MaxScore, 0, MaxScore)
	return b, nil
}

// Normalize maps v linearly onto [0,1] over the range, clamping outside it.
// A degenerate range acts as a step at Max.
func Normalize(v float64, rg config.Range) float64 {
	if rg.Max <= rg.Min {
		if v >= rg.Max {
			return 1
		}
		return 0
	}
	return clamp((v-rg.Min)/(rg.Max-rg.Min), 0, 1)
}

func consistency(back, forward float64, rg config.Range) float64 {
	switch {
	case back > 0 && forward > 0:
		return Normalize(math.Min(back, forward), rg)
	case back > 0:
		return Normalize(back, rg) * partialConsistencyCredit
	case forward > 0:
		return Normalize(forward, rg) * partialConsistencyCredit
	default:
		return 0
	}
}

func validateInput(in Input) error {
	if in.Back == nil || in.Forward == nil {
		return wferrors.NewContractViolation("scoring", "score", "metrics have no back/forward split")
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"profit", in.Metrics.Profit},
		{"profit_factor", in.Metrics.ProfitFactor},
		{"max_drawdown_pct", in.Metrics.MaxDrawdownPct},
		{"back.profit", in.Back.Profit},
		{"forward.profit", in.Forward.Profit},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return wferrors.NewContractViolation("scoring", "score", fmt.Sprintf("%s is not a finite number", f.name))
		}
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
