package montecarlo

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
)

func tradesWithProfits(profits ...float64) []backtest.Trade {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]backtest.Trade, len(profits))
	for i, p := range profits {
		open := start.Add(time.Duration(i) * time.Hour)
		out[i] = backtest.Trade{Ticket: int64(i + 1), OpenTime: open, CloseTime: open.Add(30 * time.Minute), Direction: backtest.DirectionLong, Profit: p}
	}
	return out
}

func mixedTrades() []backtest.Trade {
	profits := make([]float64, 0, 60)
	for i := 0; i < 60; i++ {
		if i%3 == 0 {
			profits = append(profits, -90-float64(i))
		} else {
			profits = append(profits, 55+float64(i%7))
		}
	}
	return tradesWithProfits(profits...)
}

// TestSimulate_AllProfitable tests that a lossless sequence is fully confident and never ruined
func TestSimulate_AllProfitable(t *testing.T) {
	sim := NewSimulator(4, zerolog.Nop())
	res, err := sim.Simulate(context.Background(), tradesWithProfits(10, 20, 30, 40), 500, 1000, 0.5, rand.NewPCG(1, 2))
	require.NoError(t, err)

	assert.False(t, res.Insufficient)
	assert.Equal(t, 100.0, res.Confidence)
	assert.Equal(t, 0.0, res.RuinProbability)
	assert.InDelta(t, 100.0, res.MeanProfit, 1e-9)
	assert.Equal(t, 0.0, res.DrawdownP95)
}

// TestSimulate_Insufficient tests that fewer than two trades is flagged, not an error
func TestSimulate_Insufficient(t *testing.T) {
	sim := NewSimulator(2, zerolog.Nop())
	for _, trades := range [][]backtest.Trade{nil, tradesWithProfits(50)} {
		res, err := sim.Simulate(context.Background(), trades, 100, 1000, 0.5, rand.NewPCG(1, 2))
		require.NoError(t, err)
		assert.True(t, res.Insufficient)
		assert.Equal(t, 0.0, res.Confidence)
		assert.Equal(t, 0.0, res.RuinProbability)
	}
}

// TestSimulate_WorkerCountIndependent tests that results depend only on the seed
func TestSimulate_WorkerCountIndependent(t *testing.T) {
	trades := mixedTrades()

	one, err := NewSimulator(1, zerolog.Nop()).Simulate(context.Background(), trades, 2000, 3000, 0.5, rand.NewPCG(42, 7))
	require.NoError(t, err)
	many, err := NewSimulator(8, zerolog.Nop()).Simulate(context.Background(), trades, 2000, 3000, 0.5, rand.NewPCG(42, 7))
	require.NoError(t, err)

	assert.Equal(t, one, many)
}

// TestSimulate_Ruin tests that sequences with deep losses count as ruined
func TestSimulate_Ruin(t *testing.T) {
	res, err := Simulate(context.Background(), tradesWithProfits(-2000, -2000, 100), 200, 3000, 0.5, 9)
	require.NoError(t, err)

	assert.Equal(t, 100.0, res.RuinProbability)
	assert.Equal(t, 0.0, res.Confidence)
	assert.InDelta(t, -3900.0, res.ProfitP50, 1e-9)
}

// TestSimulate_PercentilesOrdered tests percentile monotonicity
func TestSimulate_PercentilesOrdered(t *testing.T) {
	res, err := Simulate(context.Background(), mixedTrades(), 1000, 3000, 0.5, 3)
	require.NoError(t, err)

	assert.LessOrEqual(t, res.ProfitP5, res.ProfitP50)
	assert.LessOrEqual(t, res.ProfitP50, res.ProfitP95)
	assert.LessOrEqual(t, res.DrawdownP50, res.DrawdownP95)
	assert.GreaterOrEqual(t, res.Confidence, 0.0)
	assert.LessOrEqual(t, res.Confidence, 100.0)
}

// TestSimulate_InvalidInputs tests argument validation
func TestSimulate_InvalidInputs(t *testing.T) {
	sim := NewSimulator(1, zerolog.Nop())
	trades := mixedTrades()

	_, err := sim.Simulate(context.Background(), trades, 0, 1000, 0.5, rand.NewPCG(1, 1))
	assert.Error(t, err)
	_, err = sim.Simulate(context.Background(), trades, 10, 0, 0.5, rand.NewPCG(1, 1))
	assert.Error(t, err)
	_, err = sim.Simulate(context.Background(), trades, 10, 1000, 1.5, rand.NewPCG(1, 1))
	assert.Error(t, err)
}

// TestSimulate_Cancelled tests that a cancelled context aborts the run
func TestSimulate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimulator(2, zerolog.Nop()).Simulate(ctx, mixedTrades(), 100000, 3000, 0.5, rand.NewPCG(1, 1))
	assert.ErrorIs(t, err, context.Canceled)
}
