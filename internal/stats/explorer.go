package stats

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	"github.com/ducminhle1904/ea-stress/pkg/config"
)

// minSensitivityPasses is the smallest pass set worth correlating
const minSensitivityPasses = 10

// minSensitivitySamples is the smallest top-decile sample per parameter
const minSensitivitySamples = 3

// Bucket aggregates the trades that fall into one slice of the evidence
type Bucket struct {
	Key          string   `json:"key"`
	Trades       int      `json:"trades"`
	Profit       float64  `json:"profit"`
	ProfitFactor *float64 `json:"profit_factor"`
	PFUndefined  bool     `json:"profit_factor_undefined,omitempty"`
	WinRate      float64  `json:"win_rate"`
}

// Concentration is the share of net profit earned by the best trades
type Concentration struct {
	TopPct    float64 `json:"top_pct"`
	TopTrades int     `json:"top_trades"`
	Share     float64 `json:"share"`
}

// Sensitivity relates one parameter to the pass result among the best passes
type Sensitivity struct {
	Name        string  `json:"name"`
	Correlation float64 `json:"correlation"`
	TopMedian   float64 `json:"top_decile_median"`
	Samples     int     `json:"samples"`
	UsedIn      int     `json:"used_in,omitempty"`
}

// SessionBias flags a session that carries most of the profit
type SessionBias struct {
	Session     string  `json:"session"`
	ProfitShare float64 `json:"profit_share"`
	Trades      int     `json:"trades"`
}

// EffectFlag marks a bucket whose win rate departs from the overall rate
type EffectFlag struct {
	Dimension string  `json:"dimension"`
	Key       string  `json:"key"`
	WinRate   float64 `json:"win_rate"`
	Baseline  float64 `json:"baseline"`
	Delta     float64 `json:"delta"`
}

// StatPack is the evidence snapshot handed to the advisor and the reports.
// Buckets under the minimum sample size are absent, not zero.
type StatPack struct {
	Empty              bool           `json:"empty"`
	Timezone           string         `json:"timezone"`
	MinTradesPerBucket int            `json:"min_trades_per_bucket"`
	TotalTrades        int            `json:"total_trades"`
	TotalProfit        float64        `json:"total_profit"`
	WinRate            float64        `json:"win_rate"`
	Sessions           []Bucket       `json:"sessions,omitempty"`
	Hours              []Bucket       `json:"hours,omitempty"`
	DaysOfWeek         []Bucket       `json:"days_of_week,omitempty"`
	Durations          []Bucket       `json:"durations,omitempty"`
	Directions         []Bucket       `json:"directions,omitempty"`
	Concentration      *Concentration `json:"concentration"`
	Sensitivity        []Sensitivity  `json:"sensitivity"`
	SessionBias        []SessionBias  `json:"session_bias,omitempty"`
	Effects            []EffectFlag   `json:"effects,omitempty"`
}

// Explorer builds StatPacks with a fixed configuration
type Explorer struct {
	cfg config.StatsSettings
	loc *time.Location
}

// NewExplorer creates an explorer, resolving the configured timezone
func NewExplorer(cfg config.StatsSettings) (*Explorer, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Timezone, err)
	}
	return &Explorer{cfg: cfg, loc: loc}, nil
}

// Build is a convenience wrapper creating an explorer for a single pack
func Build(trades []backtest.Trade, passes []backtest.Pass, usage map[string][]string, cfg config.StatsSettings) (StatPack, error) {
	e, err := NewExplorer(cfg)
	if err != nil {
		return StatPack{}, err
	}
	return e.Build(trades, passes, usage), nil
}

// Build turns trades and optimization passes into an evidence pack. The usage
// map (parameter name to the places it is referenced) selects which parameters
// get a sensitivity row; when empty, every parameter seen in the passes does.
func (e *Explorer) Build(trades []backtest.Trade, passes []backtest.Pass, usage map[string][]string) StatPack {
	pack := StatPack{
		Timezone:           e.loc.String(),
		MinTradesPerBucket: e.cfg.MinTradesPerBucket,
	}
	if len(trades) == 0 {
		pack.Empty = true
		return pack
	}

	pack.TotalTrades = len(trades)
	pack.WinRate = backtest.CalculateWinRate(trades)
	for _, t := range trades {
		pack.TotalProfit += t.Profit
	}

	pack.Sessions = e.keep(e.bySession(trades))
	pack.Hours = e.keep(e.byHour(trades))
	pack.DaysOfWeek = e.keep(e.byWeekday(trades))
	pack.Durations = e.keep(e.byDuration(trades))
	pack.Directions = e.keep(e.byDirection(trades))

	pack.Concentration = profitConcentration(trades, e.cfg.ConcentrationTopPct)
	pack.Sensitivity = parameterSensitivity(passes, usage)
	pack.SessionBias = e.sessionBias(pack.Sessions, pack.TotalProfit)
	pack.Effects = e.effects(pack)

	return pack
}

// keep drops buckets below the minimum sample size
func (e *Explorer) keep(buckets []Bucket) []Bucket {
	var out []Bucket
	for _, b := range buckets {
		if b.Trades >= e.cfg.MinTradesPerBucket {
			out = append(out, b)
		}
	}
	return out
}

func (e *Explorer) sessionBias(sessions []Bucket, totalProfit float64) []SessionBias {
	if totalProfit <= 0 {
		return nil
	}
	var out []SessionBias
	for _, s := range sessions {
		share := s.Profit / totalProfit * 100
		if share >= e.cfg.MinSessionProfitShare && s.Trades >= e.cfg.MinTradesPerBucket {
			out = append(out, SessionBias{Session: s.Key, ProfitShare: share, Trades: s.Trades})
		}
	}
	return out
}

func (e *Explorer) effects(pack StatPack) []EffectFlag {
	var out []EffectFlag
	dims := []struct {
		name    string
		buckets []Bucket
	}{
		{"session", pack.Sessions},
		{"hour", pack.Hours},
		{"day_of_week", pack.DaysOfWeek},
		{"duration", pack.Durations},
		{"direction", pack.Directions},
	}
	for _, d := range dims {
		for _, b := range d.buckets {
			delta := b.WinRate - pack.WinRate
			if math.Abs(delta) >= e.cfg.MinEffectPct {
				out = append(out, EffectFlag{
					Dimension: d.name,
					Key:       b.Key,
					WinRate:   b.WinRate,
					Baseline:  pack.WinRate,
					Delta:     delta,
				})
			}
		}
	}
	return out
}

func profitConcentration(trades []backtest.Trade, topPct float64) *Concentration {
	profits := make([]float64, len(trades))
	total := 0.0
	for i, t := range trades {
		profits[i] = t.Profit
		total += t.Profit
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(profits)))

	k := int(float64(len(profits)) * topPct / 100)
	if k < 1 {
		k = 1
	}
	top := 0.0
	for _, p := range profits[:k] {
		top += p
	}

	c := &Concentration{TopPct: topPct, TopTrades: k}
	if total > 0 {
		c.Share = top / total
	}
	return c
}

func parameterSensitivity(passes []backtest.Pass, usage map[string][]string) []Sensitivity {
	out := []Sensitivity{}
	if len(passes) < minSensitivityPasses {
		return out
	}

	ranked := backtest.SortByResult(passes)
	n := len(ranked) / 10
	if n < 1 {
		n = 1
	}
	top := ranked[:n]

	for _, name := range sensitivityParams(passes, usage) {
		var values, results []float64
		for _, p := range top {
			v, ok := p.Float(name)
			if !ok {
				continue
			}
			values = append(values, v)
			results = append(results, p.Result)
		}
		if len(values) < minSensitivitySamples {
			continue
		}
		if stat.Variance(values, nil) == 0 || stat.Variance(results, nil) == 0 {
			continue
		}

		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)

		out = append(out, Sensitivity{
			Name:        name,
			Correlation: stat.Correlation(values, results, nil),
			TopMedian:   sorted[len(sorted)/2],
			Samples:     len(values),
			UsedIn:      len(usage[name]),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Correlation), math.Abs(out[j].Correlation)
		if ai != aj {
			return ai > aj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func sensitivityParams(passes []backtest.Pass, usage map[string][]string) []string {
	seen := make(map[string]bool)
	if len(usage) > 0 {
		for name := range usage {
			seen[name] = true
		}
	} else {
		for _, p := range passes {
			for name := range p.Params {
				seen[name] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
