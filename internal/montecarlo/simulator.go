package montecarlo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
)

// minTrades is the smallest sequence worth shuffling
const minTrades = 2

// Result summarises a Monte Carlo run. Percentages are 0-100.
type Result struct {
	Iterations      int     `json:"iterations"`
	Trades          int     `json:"trades"`
	Insufficient    bool    `json:"insufficient,omitempty"`
	Confidence      float64 `json:"confidence"`
	RuinProbability float64 `json:"ruin_probability"`
	MeanProfit      float64 `json:"mean_profit"`
	ProfitP5        float64 `json:"profit_p5"`
	ProfitP50       float64 `json:"profit_p50"`
	ProfitP95       float64 `json:"profit_p95"`
	DrawdownP50     float64 `json:"max_drawdown_p50"`
	DrawdownP95     float64 `json:"max_drawdown_p95"`
}

// Simulator reshuffles trade sequences in parallel
type Simulator struct {
	workers int
	logger  zerolog.Logger
}

// NewSimulator creates a simulator. workers <= 0 means one per CPU.
func NewSimulator(workers int, logger zerolog.Logger) *Simulator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Simulator{
		workers: workers,
		logger:  logger.With().Str("component", "montecarlo").Logger(),
	}
}

// Simulate runs iterations shuffled trials of the trade P&L. Each trial gets
// its own generator seeded from src before any trial starts, so the result
// depends only on src and never on the worker count.
func (s *Simulator) Simulate(ctx context.Context, trades []backtest.Trade, iterations int, initialBalance, ruinFraction float64, src rand.Source) (Result, error) {
	if iterations <= 0 {
		return Result{}, fmt.Errorf("iterations must be positive, got: %d", iterations)
	}
	if initialBalance <= 0 {
		return Result{}, fmt.Errorf("initial balance must be positive, got: %.2f", initialBalance)
	}
	if ruinFraction <= 0 || ruinFraction > 1 {
		return Result{}, fmt.Errorf("ruin fraction must be in (0, 1], got: %.2f", ruinFraction)
	}

	res := Result{Iterations: iterations, Trades: len(trades)}
	if len(trades) < minTrades {
		res.Insufficient = true
		return res, nil
	}

	profits := make([]float64, len(trades))
	for i, t := range trades {
		profits[i] = t.Profit
	}

	master := rand.New(src)
	seeds := make([][2]uint64, iterations)
	for i := range seeds {
		seeds[i] = [2]uint64{master.Uint64(), master.Uint64()}
	}

	start := time.Now()
	outcomes, err := s.run(ctx, profits, seeds, initialBalance)
	if err != nil {
		return Result{}, err
	}

	res = summarise(res, outcomes, ruinFraction)
	s.logger.Debug().
		Int("iterations", iterations).
		Int("trades", len(trades)).
		Int("workers", s.workers).
		Dur("elapsed", time.Since(start)).
		Float64("confidence", res.Confidence).
		Float64("ruin", res.RuinProbability).
		Msg("Monte Carlo finished")
	return res, nil
}

// Simulate is a convenience wrapper using one worker per CPU and a seeded PCG
func Simulate(ctx context.Context, trades []backtest.Trade, iterations int, initialBalance, ruinFraction float64, seed uint64) (Result, error) {
	return NewSimulator(0, zerolog.Nop()).Simulate(ctx, trades, iterations, initialBalance, ruinFraction, rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// trialOutcome is the walk of one shuffled sequence
type trialOutcome struct {
	profit      float64
	maxDrawdown float64 // fraction of peak
}

// runTrial shuffles a private copy of profits and walks the balance
func runTrial(profits []float64, seed [2]uint64, initialBalance float64) trialOutcome {
	seq := append([]float64(nil), profits...)
	rng := rand.New(rand.NewPCG(seed[0], seed[1]))
	rng.Shuffle(len(seq), func(i, j int) { seq[i], seq[j] = seq[j], seq[i] })

	balance := initialBalance
	peak := initialBalance
	maxDD := 0.0
	for _, p := range seq {
		balance += p
		if balance > peak {
			peak = balance
		}
		if dd := (peak - balance) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return trialOutcome{profit: balance - initialBalance, maxDrawdown: maxDD}
}

func summarise(res Result, outcomes []trialOutcome, ruinFraction float64) Result {
	n := float64(len(outcomes))
	profits := make([]float64, len(outcomes))
	drawdowns := make([]float64, len(outcomes))

	positive, ruined := 0, 0
	for i, o := range outcomes {
		profits[i] = o.profit
		drawdowns[i] = o.maxDrawdown * 100
		if o.profit > 0 {
			positive++
		}
		if o.maxDrawdown >= ruinFraction {
			ruined++
		}
	}

	sort.Float64s(profits)
	sort.Float64s(drawdowns)

	res.Confidence = float64(positive) / n * 100
	res.RuinProbability = float64(ruined) / n * 100
	res.MeanProfit = stat.Mean(profits, nil)
	res.ProfitP5 = stat.Quantile(0.05, stat.Empirical, profits, nil)
	res.ProfitP50 = stat.Quantile(0.50, stat.Empirical, profits, nil)
	res.ProfitP95 = stat.Quantile(0.95, stat.Empirical, profits, nil)
	res.DrawdownP50 = stat.Quantile(0.50, stat.Empirical, drawdowns, nil)
	res.DrawdownP95 = stat.Quantile(0.95, stat.Empirical, drawdowns, nil)
	return res
}
