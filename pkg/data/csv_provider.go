package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
)

// TradeCSVReader reads the deal list the tester exports next to a report
type TradeCSVReader struct {
	format TradeCSVColumns
	filter TradeFilter
	logger zerolog.Logger
}

// NewTradeCSVReader creates a reader for the default tester export format
func NewTradeCSVReader(logger zerolog.Logger) *TradeCSVReader {
	return NewTradeCSVReaderWithFormat(DefaultTradeCSVFormat, logger)
}

// NewTradeCSVReaderWithFormat creates a reader for a custom column layout
func NewTradeCSVReaderWithFormat(format TradeCSVColumns, logger zerolog.Logger) *TradeCSVReader {
	return &TradeCSVReader{
		format: format,
		filter: NewDefaultTradeFilter(),
		logger: logger.With().Str("component", "trade_csv").Logger(),
	}
}

// LoadFile reads a trade CSV from disk
func (r *TradeCSVReader) LoadFile(path string) ([]backtest.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trade file %s: %w", path, err)
	}
	defer f.Close()

	trades, err := r.Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read trade file %s: %w", path, err)
	}
	return trades, nil
}

// Read parses trades from CSV. The first row is a header. Malformed rows are
// skipped with a warning; the result is ordered by close time.
func (r *TradeCSVReader) Read(in io.Reader) ([]backtest.Trade, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	format := r.format
	trades := make([]backtest.Trade, 0, len(records)-1)
	for i, record := range records[1:] {
		line := i + 2
		if len(record) < format.MinColumns {
			r.logger.Warn().Int("line", line).Int("columns", len(record)).Msg("Insufficient columns, skipping")
			continue
		}

		ticket, err := strconv.ParseInt(strings.TrimSpace(record[format.TicketCol]), 10, 64)
		if err != nil {
			r.logger.Warn().Int("line", line).Str("value", record[format.TicketCol]).Msg("Invalid ticket, skipping")
			continue
		}
		open, err := time.Parse(format.DateFormat, strings.TrimSpace(record[format.OpenTimeCol]))
		if err != nil {
			r.logger.Warn().Int("line", line).Err(err).Msg("Invalid open time, skipping")
			continue
		}
		closed, err := time.Parse(format.DateFormat, strings.TrimSpace(record[format.CloseTimeCol]))
		if err != nil {
			r.logger.Warn().Int("line", line).Err(err).Msg("Invalid close time, skipping")
			continue
		}
		dir, ok := parseDirection(record[format.TypeCol])
		if !ok {
			r.logger.Warn().Int("line", line).Str("value", record[format.TypeCol]).Msg("Unknown deal type, skipping")
			continue
		}
		profit, err := strconv.ParseFloat(strings.TrimSpace(record[format.ProfitCol]), 64)
		if err != nil {
			r.logger.Warn().Int("line", line).Str("value", record[format.ProfitCol]).Msg("Invalid profit, skipping")
			continue
		}
		if closed.Before(open) {
			r.logger.Warn().Int("line", line).Msg("Trade closes before it opens, skipping")
			continue
		}

		trades = append(trades, backtest.Trade{
			Ticket:    ticket,
			OpenTime:  open.UTC(),
			CloseTime: closed.UTC(),
			Direction: dir,
			Profit:    profit,
		})
	}

	trades = r.filter.RemoveDuplicates(r.filter.SortByCloseTime(trades))
	return trades, nil
}

func parseDirection(raw string) (backtest.Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return backtest.DirectionLong, true
	case "sell", "short":
		return backtest.DirectionShort, true
	}
	return "", false
}
