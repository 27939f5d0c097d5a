package backtest

import (
	"math"
	"sort"
	"time"
)

// ProfitFactorCap stands in for an infinite profit factor in summary metrics,
// which must stay JSON encodable.
const ProfitFactorCap = 999.0

// GrossProfitLoss returns the sum of winning trades and the absolute sum of losing trades
func GrossProfitLoss(trades []Trade) (grossProfit, grossLoss float64) {
	for _, t := range trades {
		if t.Profit > 0 {
			grossProfit += t.Profit
		} else if t.Profit < 0 {
			grossLoss += math.Abs(t.Profit)
		}
	}
	return grossProfit, grossLoss
}

// CalculateProfitFactor returns gross profit / gross loss. The second value is
// false when there are no losing trades and the ratio is undefined.
func CalculateProfitFactor(trades []Trade) (float64, bool) {
	grossProfit, grossLoss := GrossProfitLoss(trades)
	if grossLoss == 0 {
		return 0, false
	}
	return grossProfit / grossLoss, true
}

// CalculateWinRate returns the share of profitable trades in percent
func CalculateWinRate(trades []Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.Profit > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades)) * 100
}

// CalculateMaxDrawdownPct walks the balance in close-time order and returns the
// largest peak-to-trough fall as a percentage of the peak.
func CalculateMaxDrawdownPct(trades []Trade, initialBalance float64) float64 {
	balance := initialBalance
	peak := initialBalance
	maxDD := 0.0
	for _, t := range trades {
		balance += t.Profit
		if balance > peak {
			peak = balance
		}
		if peak > 0 {
			if dd := (peak - balance) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD * 100
}

// ComputeMetrics derives summary metrics from a trade list
func ComputeMetrics(trades []Trade, initialBalance float64) Metrics {
	ordered := sortedByClose(trades)

	m := Metrics{
		TotalTrades:    len(ordered),
		WinRate:        CalculateWinRate(ordered),
		MaxDrawdownPct: CalculateMaxDrawdownPct(ordered, initialBalance),
	}
	for _, t := range ordered {
		m.Profit += t.Profit
	}
	if len(ordered) > 0 {
		m.ExpectedPayoff = m.Profit / float64(len(ordered))
	}

	if pf, ok := CalculateProfitFactor(ordered); ok {
		m.ProfitFactor = pf
	} else if m.Profit > 0 {
		m.ProfitFactor = ProfitFactorCap
	}
	return m
}

// SplitTrades partitions trades at the forward date by close time
func SplitTrades(trades []Trade, forwardDate time.Time) (back, forward []Trade) {
	for _, t := range trades {
		if t.CloseTime.Before(forwardDate) {
			back = append(back, t)
		} else {
			forward = append(forward, t)
		}
	}
	return back, forward
}

// BuildResult computes overall, back and forward metrics from a trade list.
// The forward half starts from the balance the back half finished on.
func BuildResult(trades []Trade, forwardDate time.Time, initialBalance float64) *Result {
	back, forward := SplitTrades(trades, forwardDate)
	backMetrics := ComputeMetrics(back, initialBalance)
	forwardMetrics := ComputeMetrics(forward, initialBalance+backMetrics.Profit)

	fd := forwardDate
	return &Result{
		Metrics:     ComputeMetrics(trades, initialBalance),
		Back:        &backMetrics,
		Forward:     &forwardMetrics,
		ForwardDate: &fd,
		Trades:      append([]Trade(nil), trades...),
	}
}

// CombineMetrics merges back and forward figures into overall metrics. Profit
// factor and win rate are trade-weighted, drawdown is the worse of the two.
func CombineMetrics(back, forward Metrics) Metrics {
	total := back.TotalTrades + forward.TotalTrades
	out := Metrics{
		Profit:         back.Profit + forward.Profit,
		TotalTrades:    total,
		MaxDrawdownPct: math.Max(back.MaxDrawdownPct, forward.MaxDrawdownPct),
	}
	if total > 0 {
		bw := float64(back.TotalTrades) / float64(total)
		fw := float64(forward.TotalTrades) / float64(total)
		out.ProfitFactor = back.ProfitFactor*bw + forward.ProfitFactor*fw
		out.WinRate = back.WinRate*bw + forward.WinRate*fw
		out.ExpectedPayoff = out.Profit / float64(total)
	}
	return out
}

func sortedByClose(trades []Trade) []Trade {
	out := append([]Trade(nil), trades...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CloseTime.Before(out[j].CloseTime)
	})
	return out
}
