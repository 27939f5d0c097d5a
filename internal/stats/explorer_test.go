package stats

import (
	"fmt"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	"github.com/ducminhle1904/ea-stress/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday
var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func tradesAt(n, hour int, profit float64, dir backtest.Direction, hold time.Duration) []backtest.Trade {
	out := make([]backtest.Trade, n)
	for i := range out {
		open := day0.AddDate(0, 0, i*7).Add(time.Duration(hour) * time.Hour)
		out[i] = backtest.Trade{OpenTime: open, CloseTime: open.Add(hold), Direction: dir, Profit: profit}
	}
	return out
}

func statsConfig() config.StatsSettings {
	return config.Default().Stats
}

func allBuckets(p StatPack) []Bucket {
	var out []Bucket
	for _, group := range [][]Bucket{p.Sessions, p.Hours, p.DaysOfWeek, p.Durations, p.Directions} {
		out = append(out, group...)
	}
	return out
}

// TestBuild_EmptyTrades tests that no trades yields an explicitly empty pack
func TestBuild_EmptyTrades(t *testing.T) {
	pack, err := Build(nil, nil, nil, statsConfig())
	require.NoError(t, err)

	assert.True(t, pack.Empty)
	assert.Nil(t, pack.Concentration)
	assert.Nil(t, pack.Sensitivity)
	assert.Empty(t, allBuckets(pack))
}

// TestBuild_SuppressesSmallBuckets tests that no bucket below the minimum is emitted
func TestBuild_SuppressesSmallBuckets(t *testing.T) {
	trades := append(
		tradesAt(40, 8, 5, backtest.DirectionLong, 20*time.Minute),
		tradesAt(10, 20, -3, backtest.DirectionShort, 400*time.Minute)...,
	)

	pack, err := Build(trades, nil, nil, statsConfig())
	require.NoError(t, err)

	for _, b := range allBuckets(pack) {
		assert.GreaterOrEqual(t, b.Trades, 30, "bucket %s", b.Key)
	}

	require.Len(t, pack.Hours, 1)
	assert.Equal(t, "08", pack.Hours[0].Key)
	require.Len(t, pack.Directions, 1)
	assert.Equal(t, "long", pack.Directions[0].Key)
	require.Len(t, pack.Durations, 1)
	assert.Equal(t, "0-30m", pack.Durations[0].Key)
	assert.Equal(t, 50, pack.TotalTrades)
}

// TestBuild_UndefinedProfitFactor tests that a lossless bucket flags its profit factor
func TestBuild_UndefinedProfitFactor(t *testing.T) {
	pack, err := Build(tradesAt(30, 10, 2, backtest.DirectionLong, time.Hour), nil, nil, statsConfig())
	require.NoError(t, err)

	require.NotEmpty(t, pack.Hours)
	assert.Nil(t, pack.Hours[0].ProfitFactor)
	assert.True(t, pack.Hours[0].PFUndefined)
	assert.Equal(t, 100.0, pack.Hours[0].WinRate)
}

// TestBuild_ProfitFactorAndWinRate tests bucket statistics
func TestBuild_ProfitFactorAndWinRate(t *testing.T) {
	trades := append(
		tradesAt(20, 9, 30, backtest.DirectionLong, time.Hour),
		tradesAt(20, 9, -10, backtest.DirectionLong, time.Hour)...,
	)
	pack, err := Build(trades, nil, nil, statsConfig())
	require.NoError(t, err)

	require.Len(t, pack.Directions, 1)
	b := pack.Directions[0]
	require.NotNil(t, b.ProfitFactor)
	assert.InDelta(t, 3.0, *b.ProfitFactor, 1e-9)
	assert.InDelta(t, 50.0, b.WinRate, 1e-9)
	assert.InDelta(t, 400.0, b.Profit, 1e-9)
}

// TestBuild_ConcentrationAllProfitInTopFifth tests concentration when the top 20% earn everything
func TestBuild_ConcentrationAllProfitInTopFifth(t *testing.T) {
	trades := append(
		tradesAt(2, 9, 50, backtest.DirectionLong, time.Hour),
		tradesAt(8, 9, 0, backtest.DirectionLong, time.Hour)...,
	)
	pack, err := Build(trades, nil, nil, statsConfig())
	require.NoError(t, err)

	require.NotNil(t, pack.Concentration)
	assert.Equal(t, 2, pack.Concentration.TopTrades)
	assert.InDelta(t, 1.0, pack.Concentration.Share, 1e-9)
}

// TestBuild_ConcentrationNonPositiveTotal tests that a losing run reports zero share
func TestBuild_ConcentrationNonPositiveTotal(t *testing.T) {
	pack, err := Build(tradesAt(5, 9, -1, backtest.DirectionLong, time.Hour), nil, nil, statsConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, pack.Concentration.TopTrades)
	assert.Equal(t, 0.0, pack.Concentration.Share)
}

// TestBuild_SessionBiasNeedsShareAndSample tests both conditions of the session bias flag
func TestBuild_SessionBiasNeedsShareAndSample(t *testing.T) {
	trades := append(
		tradesAt(40, 3, 10, backtest.DirectionLong, time.Hour),
		tradesAt(40, 18, 1, backtest.DirectionLong, time.Hour)...,
	)

	pack, err := Build(trades, nil, nil, statsConfig())
	require.NoError(t, err)
	require.Len(t, pack.SessionBias, 1)
	assert.Equal(t, "asia", pack.SessionBias[0].Session)
	assert.InDelta(t, 400.0/440.0*100, pack.SessionBias[0].ProfitShare, 1e-9)

	cfg := statsConfig()
	cfg.MinTradesPerBucket = 50
	pack, err = Build(trades, nil, nil, cfg)
	require.NoError(t, err)
	assert.Empty(t, pack.SessionBias)
}

// TestBuild_SessionsOverlap tests that an overlap hour counts only in the first matching session
func TestBuild_SessionsOverlap(t *testing.T) {
	cfg := statsConfig()
	cfg.MinTradesPerBucket = 1
	trades := append(tradesAt(3, 14, 1, backtest.DirectionLong, time.Hour),
		tradesAt(2, 20, 1, backtest.DirectionLong, time.Hour)...)
	pack, err := Build(trades, nil, nil, cfg)
	require.NoError(t, err)

	counts := map[string]int{}
	total := 0
	for _, s := range pack.Sessions {
		counts[s.Key] = s.Trades
		total += s.Trades
	}
	assert.Equal(t, map[string]int{"london": 3, "newyork": 2}, counts)
	assert.Equal(t, len(trades), total)
}

// TestBuild_Timezone tests that hour and weekday use the configured zone
func TestBuild_Timezone(t *testing.T) {
	cfg := statsConfig()
	cfg.Timezone = "Asia/Tokyo"
	cfg.MinTradesPerBucket = 1

	// Sunday 23:00 UTC is Monday 08:00 in Tokyo
	open := time.Date(2024, 1, 7, 23, 0, 0, 0, time.UTC)
	trades := []backtest.Trade{{OpenTime: open, CloseTime: open.Add(time.Hour), Direction: backtest.DirectionShort, Profit: 1}}

	pack, err := Build(trades, nil, nil, cfg)
	require.NoError(t, err)
	require.Len(t, pack.Hours, 1)
	assert.Equal(t, "08", pack.Hours[0].Key)
	require.Len(t, pack.DaysOfWeek, 1)
	assert.Equal(t, "Mon", pack.DaysOfWeek[0].Key)
}

// TestBuild_BadTimezone tests that an unknown zone is reported
func TestBuild_BadTimezone(t *testing.T) {
	cfg := statsConfig()
	cfg.Timezone = "Nowhere/Nothing"
	_, err := Build(nil, nil, nil, cfg)
	assert.Error(t, err)
}

func sensitivityPasses(n int) []backtest.Pass {
	passes := make([]backtest.Pass, n)
	for i := range passes {
		passes[i] = backtest.Pass{
			Index:  i,
			Result: float64(i * 2),
			Params: map[string]string{
				"period":  fmt.Sprintf("%d", i),
				"inverse": fmt.Sprintf("%d", 1000-i),
				"fixed":   "5",
			},
		}
	}
	return passes
}

// TestBuild_Sensitivity tests correlation and top-decile medians
func TestBuild_Sensitivity(t *testing.T) {
	trades := tradesAt(5, 9, 1, backtest.DirectionLong, time.Hour)

	pack, err := Build(trades, sensitivityPasses(100), nil, statsConfig())
	require.NoError(t, err)

	require.Len(t, pack.Sensitivity, 2)
	byName := map[string]Sensitivity{}
	for _, s := range pack.Sensitivity {
		byName[s.Name] = s
	}
	assert.InDelta(t, -1.0, byName["inverse"].Correlation, 1e-9)
	assert.InDelta(t, 1.0, byName["period"].Correlation, 1e-9)
	// ten values 90..99: the upper middle one
	assert.Equal(t, 95.0, byName["period"].TopMedian)
	assert.Equal(t, 10, byName["period"].Samples)
	assert.NotContains(t, byName, "fixed")
}

// TestBuild_SensitivityUsesUsageMap tests that the usage map restricts parameters
func TestBuild_SensitivityUsesUsageMap(t *testing.T) {
	trades := tradesAt(5, 9, 1, backtest.DirectionLong, time.Hour)
	usage := map[string][]string{"period": {"OnTick:42", "OnTick:57"}}

	pack, err := Build(trades, sensitivityPasses(100), usage, statsConfig())
	require.NoError(t, err)

	require.Len(t, pack.Sensitivity, 1)
	assert.Equal(t, "period", pack.Sensitivity[0].Name)
	assert.Equal(t, 2, pack.Sensitivity[0].UsedIn)
}

// TestBuild_SensitivityTooFewPasses tests the minimum pass count
func TestBuild_SensitivityTooFewPasses(t *testing.T) {
	trades := tradesAt(5, 9, 1, backtest.DirectionLong, time.Hour)
	pack, err := Build(trades, sensitivityPasses(9), nil, statsConfig())
	require.NoError(t, err)
	assert.NotNil(t, pack.Sensitivity)
	assert.Empty(t, pack.Sensitivity)
}

// TestBuild_Deterministic tests that identical inputs give identical packs
func TestBuild_Deterministic(t *testing.T) {
	trades := append(
		tradesAt(40, 3, 10, backtest.DirectionLong, time.Hour),
		tradesAt(40, 18, -4, backtest.DirectionShort, 3*time.Hour)...,
	)
	a, err := Build(trades, sensitivityPasses(60), nil, statsConfig())
	require.NoError(t, err)
	b, err := Build(trades, sensitivityPasses(60), nil, statsConfig())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// TestBuild_EffectFlags tests win-rate effect flags
func TestBuild_EffectFlags(t *testing.T) {
	trades := append(
		tradesAt(40, 3, 10, backtest.DirectionLong, time.Hour),
		tradesAt(40, 18, -4, backtest.DirectionShort, time.Hour)...,
	)
	pack, err := Build(trades, nil, nil, statsConfig())
	require.NoError(t, err)

	found := false
	for _, e := range pack.Effects {
		if e.Dimension == "direction" && e.Key == "long" {
			found = true
			assert.InDelta(t, 50.0, e.Delta, 1e-9)
		}
	}
	assert.True(t, found)
}
