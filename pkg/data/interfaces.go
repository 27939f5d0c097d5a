package data

import (
	"time"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
)

// ResultCache holds parsed result documents keyed by file path
type ResultCache interface {
	// Get returns a cached result if the file has not changed since it was stored
	Get(path string, modTime time.Time) (*backtest.Result, bool)

	// Set stores a parsed result with the file's modification time
	Set(path string, modTime time.Time, result *backtest.Result)
}

// TradeFilter checks and normalizes trade lists read from the tester
type TradeFilter interface {
	// ValidateTimeSequence ensures trades are ordered by close time
	ValidateTimeSequence(trades []backtest.Trade) error

	// SortByCloseTime returns a copy ordered by close time
	SortByCloseTime(trades []backtest.Trade) []backtest.Trade

	// RemoveDuplicates drops repeated tickets
	RemoveDuplicates(trades []backtest.Trade) []backtest.Trade
}

// TradeCSVColumns defines the column positions of a tester deal export
type TradeCSVColumns struct {
	TicketCol    int
	OpenTimeCol  int
	CloseTimeCol int
	TypeCol      int
	ProfitCol    int
	MinColumns   int
	DateFormat   string
}

// DefaultTradeCSVFormat is the deal export written by the OnTester hook
var DefaultTradeCSVFormat = TradeCSVColumns{
	TicketCol:    0,
	OpenTimeCol:  1,
	CloseTimeCol: 2,
	TypeCol:      3,
	ProfitCol:    4,
	MinColumns:   5,
	DateFormat:   "2006.01.02 15:04:05",
}
