package data

import (
	"fmt"
	"sort"
	"time"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
)

// DefaultTradeFilter implements TradeFilter for tester trade lists
type DefaultTradeFilter struct{}

// NewDefaultTradeFilter creates a new default trade filter
func NewDefaultTradeFilter() *DefaultTradeFilter {
	return &DefaultTradeFilter{}
}

// ValidateTimeSequence ensures trades are ordered by close time and that no
// trade closes before it opens
func (f *DefaultTradeFilter) ValidateTimeSequence(trades []backtest.Trade) error {
	for i, t := range trades {
		if t.CloseTime.Before(t.OpenTime) {
			return fmt.Errorf("trade %d closes before it opens: %s < %s",
				i, t.CloseTime.Format(time.RFC3339), t.OpenTime.Format(time.RFC3339))
		}
		if i > 0 && t.CloseTime.Before(trades[i-1].CloseTime) {
			return fmt.Errorf("trades not in chronological order at index %d: %s comes after %s",
				i, t.CloseTime.Format(time.RFC3339), trades[i-1].CloseTime.Format(time.RFC3339))
		}
	}
	return nil
}

// SortByCloseTime returns a copy of trades ordered by close time
func (f *DefaultTradeFilter) SortByCloseTime(trades []backtest.Trade) []backtest.Trade {
	sorted := make([]backtest.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CloseTime.Before(sorted[j].CloseTime)
	})
	return sorted
}

// RemoveDuplicates drops repeated tickets, keeping the first occurrence.
// Trades without a ticket are always kept.
func (f *DefaultTradeFilter) RemoveDuplicates(trades []backtest.Trade) []backtest.Trade {
	if len(trades) <= 1 {
		return trades
	}

	filtered := make([]backtest.Trade, 0, len(trades))
	seen := make(map[int64]bool)
	for _, t := range trades {
		if t.Ticket != 0 {
			if seen[t.Ticket] {
				continue
			}
			seen[t.Ticket] = true
		}
		filtered = append(filtered, t)
	}
	return filtered
}
