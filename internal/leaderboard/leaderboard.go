package leaderboard

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS leaderboard (
	workflow_id    TEXT PRIMARY KEY,
	ea_name        TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	timeframe      TEXT NOT NULL,
	go_live_score  REAL NOT NULL,
	go_live        INTEGER NOT NULL,
	profit         REAL NOT NULL,
	profit_factor  REAL NOT NULL,
	max_drawdown   REAL NOT NULL,
	trades         INTEGER NOT NULL,
	mc_confidence  REAL NOT NULL,
	completed_at   TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_leaderboard_score ON leaderboard (go_live_score DESC)`,
}

const upsert = `
INSERT INTO leaderboard (
	workflow_id, ea_name, symbol, timeframe, go_live_score, go_live,
	profit, profit_factor, max_drawdown, trades, mc_confidence, completed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(workflow_id) DO UPDATE SET
	ea_name = excluded.ea_name,
	symbol = excluded.symbol,
	timeframe = excluded.timeframe,
	go_live_score = excluded.go_live_score,
	go_live = excluded.go_live,
	profit = excluded.profit,
	profit_factor = excluded.profit_factor,
	max_drawdown = excluded.max_drawdown,
	trades = excluded.trades,
	mc_confidence = excluded.mc_confidence,
	completed_at = excluded.completed_at
`

// completed_at is stored fixed width so it sorts as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one leaderboard row
type Entry struct {
	WorkflowID   string    `json:"workflow_id"`
	EAName       string    `json:"ea_name"`
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	GoLiveScore  float64   `json:"go_live_score"`
	GoLive       bool      `json:"go_live"`
	Profit       float64   `json:"profit"`
	ProfitFactor float64   `json:"profit_factor"`
	MaxDrawdown  float64   `json:"max_drawdown_pct"`
	Trades       int       `json:"trades"`
	MCConfidence float64   `json:"mc_confidence"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Store keeps the best run of every workflow in a SQLite file
type Store struct {
	conn   *sql.DB
	path   string
	logger zerolog.Logger
}

// Open creates the database file and its schema if needed
func Open(ctx context.Context, dbPath string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create leaderboard directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open leaderboard: %w", err)
	}
	// Single writer
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping leaderboard: %w", err)
	}
	for _, stmt := range schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create leaderboard schema: %w", err)
		}
	}

	return &Store{
		conn:   conn,
		path:   dbPath,
		logger: logger.With().Str("component", "leaderboard").Logger(),
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// Path returns the database file
func (s *Store) Path() string {
	return s.path
}

// EntryFromState builds the row of a workflow. Metrics come from the best
// candidate's full backtest; a run without one scores zero.
func EntryFromState(st workflow.State) Entry {
	e := Entry{
		WorkflowID:  st.ID,
		EAName:      st.EAName,
		Symbol:      st.Symbol,
		Timeframe:   st.Timeframe,
		GoLiveScore: st.GoLiveScore,
		GoLive:      st.FinalGates != nil && st.FinalGates.AllPassed,
		CompletedAt: st.UpdatedAt.UTC(),
	}
	if st.Best != nil && st.Best.Result != nil {
		m := st.Best.Result.Metrics
		e.Profit = m.Profit
		e.ProfitFactor = m.ProfitFactor
		e.MaxDrawdown = m.MaxDrawdownPct
		e.Trades = m.TotalTrades
	}
	if st.MonteCarlo != nil {
		e.MCConfidence = st.MonteCarlo.Confidence
	}
	return e
}

// Record upserts the row of a completed workflow
func (s *Store) Record(ctx context.Context, st workflow.State) error {
	if st.Status != workflow.StatusCompleted {
		return fmt.Errorf("workflow %s is %s, only completed runs are ranked", st.ID, st.Status)
	}
	e := EntryFromState(st)
	_, err := s.conn.ExecContext(ctx, upsert,
		e.WorkflowID, e.EAName, e.Symbol, e.Timeframe, e.GoLiveScore, e.GoLive,
		e.Profit, e.ProfitFactor, e.MaxDrawdown, e.Trades, e.MCConfidence,
		e.CompletedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record workflow %s: %w", st.ID, err)
	}
	s.logger.Debug().
		Str("workflow_id", e.WorkflowID).
		Float64("go_live_score", e.GoLiveScore).
		Msg("Leaderboard updated")
	return nil
}

// Top returns the n best rows by go-live score. Ties go to the most recent
// run. n <= 0 returns every row.
func (s *Store) Top(ctx context.Context, n int) ([]Entry, error) {
	query := `SELECT workflow_id, ea_name, symbol, timeframe, go_live_score, go_live,
		profit, profit_factor, max_drawdown, trades, mc_confidence, completed_at
		FROM leaderboard ORDER BY go_live_score DESC, completed_at DESC`
	args := []interface{}{}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var completed string
		if err := rows.Scan(&e.WorkflowID, &e.EAName, &e.Symbol, &e.Timeframe, &e.GoLiveScore, &e.GoLive,
			&e.Profit, &e.ProfitFactor, &e.MaxDrawdown, &e.Trades, &e.MCConfidence, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		if e.CompletedAt, err = time.Parse(timeLayout, completed); err != nil {
			return nil, fmt.Errorf("invalid completed_at %q: %w", completed, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
