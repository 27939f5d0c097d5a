package validation

import (
	"fmt"
	"time"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
)

// RollingWindows returns trailing windows of the given lengths ending at end
func RollingWindows(end time.Time, days []int) []Window {
	var out []Window
	for _, d := range days {
		if d <= 0 {
			continue
		}
		out = append(out, Window{
			Label: fmt.Sprintf("last_%dd", d),
			Kind:  WindowRolling,
			From:  end.AddDate(0, 0, -d),
			To:    end,
		})
	}
	return out
}

// CalendarWindows returns whole calendar months counted back from the month
// containing end; 1 is the previous month
func CalendarWindows(end time.Time, monthsAgo []int) []Window {
	first := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, end.Location())
	var out []Window
	for _, k := range monthsAgo {
		if k <= 0 {
			continue
		}
		from := first.AddDate(0, -k, 0)
		out = append(out, Window{
			Label: fmt.Sprintf("month_-%d_%s", k, from.Format("2006-01")),
			Kind:  WindowCalendar,
			From:  from,
			To:    from.AddDate(0, 1, 0),
		})
	}
	return out
}

// ForwardWindows slices the trades closed on or after forwardDate into the
// rolling and calendar windows ending at end. Windows are returned rolling
// first, each group in the order requested.
func ForwardWindows(trades []backtest.Trade, forwardDate, end time.Time, rollingDays, monthsAgo []int, initialBalance float64) []WindowResult {
	_, forward := backtest.SplitTrades(trades, forwardDate)

	windows := append(RollingWindows(end, rollingDays), CalendarWindows(end, monthsAgo)...)
	out := make([]WindowResult, 0, len(windows))
	for _, w := range windows {
		var in []backtest.Trade
		for _, t := range forward {
			if w.Contains(t.CloseTime) {
				in = append(in, t)
			}
		}
		out = append(out, WindowResult{
			Window:  w,
			Metrics: backtest.ComputeMetrics(in, initialBalance),
			Partial: w.From.Before(forwardDate),
		})
	}
	return out
}

// LastTradeTime returns the latest close time, or the zero time with no trades
func LastTradeTime(trades []backtest.Trade) time.Time {
	var last time.Time
	for _, t := range trades {
		if t.CloseTime.After(last) {
			last = t.CloseTime
		}
	}
	return last
}
