package stats

import (
	"fmt"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
)

var weekdayKeys = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

type accumulator struct {
	key         string
	trades      int
	profit      float64
	grossProfit float64
	grossLoss   float64
	wins        int
}

func (a *accumulator) add(t backtest.Trade) {
	a.trades++
	a.profit += t.Profit
	if t.Profit > 0 {
		a.grossProfit += t.Profit
		a.wins++
	} else if t.Profit < 0 {
		a.grossLoss -= t.Profit
	}
}

func (a *accumulator) bucket() Bucket {
	b := Bucket{Key: a.key, Trades: a.trades, Profit: a.profit}
	if a.trades > 0 {
		b.WinRate = float64(a.wins) / float64(a.trades) * 100
	}
	if a.grossLoss > 0 {
		pf := a.grossProfit / a.grossLoss
		b.ProfitFactor = &pf
	} else {
		b.PFUndefined = true
	}
	return b
}

func newAccumulators(keys []string) []*accumulator {
	out := make([]*accumulator, len(keys))
	for i, k := range keys {
		out[i] = &accumulator{key: k}
	}
	return out
}

func collect(accs []*accumulator) []Bucket {
	out := make([]Bucket, 0, len(accs))
	for _, a := range accs {
		if a.trades > 0 {
			out = append(out, a.bucket())
		}
	}
	return out
}

// bySession counts a trade in the first configured session whose window
// holds its open hour, so an overlap hour belongs to the earlier session
func (e *Explorer) bySession(trades []backtest.Trade) []Bucket {
	keys := make([]string, len(e.cfg.Sessions))
	for i, s := range e.cfg.Sessions {
		keys[i] = s.Name
	}
	accs := newAccumulators(keys)
	for _, t := range trades {
		hour := t.OpenTime.In(e.loc).Hour()
		for i, s := range e.cfg.Sessions {
			if s.Contains(hour) {
				accs[i].add(t)
				break
			}
		}
	}
	return collect(accs)
}

func (e *Explorer) byHour(trades []backtest.Trade) []Bucket {
	keys := make([]string, 24)
	for h := range keys {
		keys[h] = fmt.Sprintf("%02d", h)
	}
	accs := newAccumulators(keys)
	for _, t := range trades {
		accs[t.OpenTime.In(e.loc).Hour()].add(t)
	}
	return collect(accs)
}

func (e *Explorer) byWeekday(trades []backtest.Trade) []Bucket {
	accs := newAccumulators(weekdayKeys)
	for _, t := range trades {
		// time.Weekday starts on Sunday
		idx := (int(t.OpenTime.In(e.loc).Weekday()) + 6) % 7
		accs[idx].add(t)
	}
	return collect(accs)
}

func (e *Explorer) byDuration(trades []backtest.Trade) []Bucket {
	keys := make([]string, len(e.cfg.DurationBands))
	for i, b := range e.cfg.DurationBands {
		keys[i] = b.Label
	}
	accs := newAccumulators(keys)
	for _, t := range trades {
		minutes := t.HoldingMinutes()
		for i, b := range e.cfg.DurationBands {
			if b.Contains(minutes) {
				accs[i].add(t)
				break
			}
		}
	}
	return collect(accs)
}

func (e *Explorer) byDirection(trades []backtest.Trade) []Bucket {
	accs := newAccumulators([]string{string(backtest.DirectionLong), string(backtest.DirectionShort)})
	for _, t := range trades {
		switch t.Direction {
		case backtest.DirectionLong:
			accs[0].add(t)
		case backtest.DirectionShort:
			accs[1].add(t)
		}
	}
	return collect(accs)
}
