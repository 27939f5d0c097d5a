package reporting

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
	"github.com/ducminhle1904/ea-stress/pkg/data"
)

// DefaultCSVReporter writes the best candidate's deals in the tester export
// layout, so the file can be read back with data.TradeCSVReader
type DefaultCSVReporter struct {
	format data.TradeCSVColumns
}

// NewDefaultCSVReporter creates a new CSV reporter
func NewDefaultCSVReporter() *DefaultCSVReporter {
	return &DefaultCSVReporter{format: data.DefaultTradeCSVFormat}
}

// WriteTradesCSV writes the trades of the best candidate to path. A run
// without a best candidate yields a header-only file.
func (r *DefaultCSVReporter) WriteTradesCSV(st workflow.State, path string) error {
	if err := NewDefaultPathManager().EnsureDirectoryExists(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := make([]string, r.format.MinColumns)
	header[r.format.TicketCol] = "Ticket"
	header[r.format.OpenTimeCol] = "Open Time"
	header[r.format.CloseTimeCol] = "Close Time"
	header[r.format.TypeCol] = "Type"
	header[r.format.ProfitCol] = "Profit"
	if err := w.Write(header); err != nil {
		return err
	}

	for i, t := range bestTrades(st) {
		ticket := t.Ticket
		if ticket == 0 {
			ticket = int64(i + 1)
		}
		row := make([]string, r.format.MinColumns)
		row[r.format.TicketCol] = strconv.FormatInt(ticket, 10)
		row[r.format.OpenTimeCol] = t.OpenTime.UTC().Format(r.format.DateFormat)
		row[r.format.CloseTimeCol] = t.CloseTime.UTC().Format(r.format.DateFormat)
		row[r.format.TypeCol] = dealType(t.Direction)
		row[r.format.ProfitCol] = strconv.FormatFloat(t.Profit, 'f', 2, 64)
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func bestTrades(st workflow.State) []backtest.Trade {
	if st.Best == nil || st.Best.Result == nil {
		return nil
	}
	return st.Best.Result.Trades
}

func dealType(d backtest.Direction) string {
	if d == backtest.DirectionShort {
		return "sell"
	}
	return "buy"
}
