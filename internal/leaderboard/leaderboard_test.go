package leaderboard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	"github.com/ducminhle1904/ea-stress/internal/gates"
	"github.com/ducminhle1904/ea-stress/internal/montecarlo"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "board", "leaderboard.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func completed(symbol string, score float64, at time.Time) workflow.State {
	st := workflow.New("TrendEA", "/ea/TrendEA.mq5", symbol, "H1", at)
	st.Status = workflow.StatusCompleted
	st.GoLiveScore = score
	st.Best = &workflow.Candidate{
		Pass:   backtest.Pass{Index: 3},
		Result: &backtest.Result{Metrics: backtest.Metrics{Profit: 1200, ProfitFactor: 1.9, MaxDrawdownPct: 8.5, TotalTrades: 140}},
	}
	st.MonteCarlo = &montecarlo.Result{Confidence: 82}
	st.FinalGates = &gates.Summary{AllPassed: true}
	return st
}

// TestStore_RecordAndTop tests ranking by score with a limit
func TestStore_RecordAndTop(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, completed("EURUSD", 6.5, base)))
	require.NoError(t, s.Record(ctx, completed("GBPUSD", 8.1, base.Add(time.Hour))))
	require.NoError(t, s.Record(ctx, completed("USDJPY", 4.0, base.Add(2*time.Hour))))

	top, err := s.Top(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "GBPUSD", top[0].Symbol)
	assert.Equal(t, "EURUSD", top[1].Symbol)
	assert.True(t, top[0].GoLive)
	assert.Equal(t, 140, top[0].Trades)
	assert.InDelta(t, 82, top[0].MCConfidence, 1e-9)
	assert.True(t, top[0].CompletedAt.Equal(base.Add(time.Hour)))

	all, err := s.Top(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// TestStore_RecordUpserts tests that recording the same workflow twice keeps one row
func TestStore_RecordUpserts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	st := completed("EURUSD", 5, time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.Record(ctx, st))
	st.GoLiveScore = 9
	st.FinalGates.AllPassed = false
	require.NoError(t, s.Record(ctx, st))

	all, err := s.Top(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.InDelta(t, 9, all[0].GoLiveScore, 1e-9)
	assert.False(t, all[0].GoLive)
}

// TestStore_RejectsIncomplete tests that only completed workflows are ranked
func TestStore_RejectsIncomplete(t *testing.T) {
	s := openStore(t)
	st := completed("EURUSD", 5, time.Now())
	st.Status = workflow.StatusFailed

	require.Error(t, s.Record(context.Background(), st))
	all, err := s.Top(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// TestEntryFromState_NoBest tests that a run without a best candidate scores zero metrics
func TestEntryFromState_NoBest(t *testing.T) {
	st := workflow.New("TrendEA", "/ea/TrendEA.mq5", "EURUSD", "H1", time.Now())
	e := EntryFromState(st)
	assert.Equal(t, st.ID, e.WorkflowID)
	assert.Zero(t, e.Trades)
	assert.False(t, e.GoLive)
}

// TestStore_ReopenKeepsRows tests persistence across connections
func TestStore_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaderboard.db")
	ctx := context.Background()

	s, err := Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, completed("EURUSD", 5, time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	all, err := s.Top(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, path, s.Path())
}
