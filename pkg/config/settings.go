package config

import "path/filepath"

// Settings holds every threshold, weight and switch used by a validation run.
// It is passed by value; components must treat nested slices as read-only.
type Settings struct {
	Backtest   BacktestSettings   `json:"backtest" yaml:"backtest"`
	Gates      GateSettings       `json:"gates" yaml:"gates"`
	MonteCarlo MonteCarloSettings `json:"monte_carlo" yaml:"monte_carlo"`
	Scoring    ScoringSettings    `json:"scoring" yaml:"scoring"`
	Automation AutomationSettings `json:"automation" yaml:"automation"`
	Advisor    AdvisorSettings    `json:"advisor" yaml:"advisor"`
	Stats      StatsSettings      `json:"stats" yaml:"stats"`
	Patch      PatchSettings      `json:"patch" yaml:"patch"`
	Stress     StressSettings     `json:"stress" yaml:"stress"`
	Workflow   WorkflowSettings   `json:"workflow" yaml:"workflow"`
	Paths      PathSettings       `json:"paths" yaml:"paths"`
	Log        LogSettings        `json:"log" yaml:"log"`
}

// BacktestSettings describes the test window and account
type BacktestSettings struct {
	Years         int     `json:"years" yaml:"years"`
	InSampleYears int     `json:"in_sample_years" yaml:"in_sample_years"`
	ForwardYears  int     `json:"forward_years" yaml:"forward_years"`
	Deposit       float64 `json:"deposit" yaml:"deposit"`
	Currency      string  `json:"currency" yaml:"currency"`
	Leverage      int     `json:"leverage" yaml:"leverage"`
}

// GateSettings are the hard pass/fail thresholds
type GateSettings struct {
	MinProfitFactor   float64 `json:"min_profit_factor" yaml:"min_profit_factor"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MinTrades         int     `json:"min_trades" yaml:"min_trades"`
	OnTesterMinTrades int     `json:"ontester_min_trades" yaml:"ontester_min_trades"`
	MCConfidenceMin   float64 `json:"mc_confidence_min" yaml:"mc_confidence_min"`
	MCRuinMax         float64 `json:"mc_ruin_max" yaml:"mc_ruin_max"`
}

// MonteCarloSettings configures the trade-sequence resampler
type MonteCarloSettings struct {
	Iterations      int     `json:"iterations" yaml:"iterations"`
	RuinDrawdownPct float64 `json:"ruin_drawdown_pct" yaml:"ruin_drawdown_pct"`
	// Workers <= 0 means one worker per CPU
	Workers int `json:"workers" yaml:"workers"`
}

// RuinFraction returns the ruin drawdown as a fraction of peak balance
func (m MonteCarloSettings) RuinFraction() float64 {
	return m.RuinDrawdownPct / 100
}

// Range is an inclusive normalisation interval
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// ScoreWeights are the go-live sub-score weights
type ScoreWeights struct {
	Consistency  float64 `json:"consistency" yaml:"consistency"`
	TotalProfit  float64 `json:"total_profit" yaml:"total_profit"`
	TradeCount   float64 `json:"trade_count" yaml:"trade_count"`
	ProfitFactor float64 `json:"profit_factor" yaml:"profit_factor"`
	MaxDrawdown  float64 `json:"max_drawdown" yaml:"max_drawdown"`
}

// Sum returns the total of all weights
func (w ScoreWeights) Sum() float64 {
	return w.Consistency + w.TotalProfit + w.TradeCount + w.ProfitFactor + w.MaxDrawdown
}

// ScoreRanges are the normalisation ranges for each sub-score
type ScoreRanges struct {
	TotalProfit    Range `json:"total_profit" yaml:"total_profit"`
	TradeCount     Range `json:"trade_count" yaml:"trade_count"`
	ProfitFactor   Range `json:"profit_factor" yaml:"profit_factor"`
	MaxDrawdown    Range `json:"max_drawdown" yaml:"max_drawdown"`
	ConsistencyMin Range `json:"consistency_min" yaml:"consistency_min"`
}

// ScoringSettings configures the go-live score and final selection
type ScoringSettings struct {
	Weights       ScoreWeights `json:"weights" yaml:"weights"`
	Ranges        ScoreRanges  `json:"ranges" yaml:"ranges"`
	SelectionMode string       `json:"selection_mode" yaml:"selection_mode"`
}

// AutomationSettings toggles optional steps and candidate pool sizes
type AutomationSettings struct {
	AutoStatsAnalysis      bool     `json:"auto_stats_analysis" yaml:"auto_stats_analysis"`
	AutoStatsTopN          int      `json:"auto_stats_top_n" yaml:"auto_stats_top_n"`
	Pass1CompareEnabled    bool     `json:"pass1_compare_enabled" yaml:"pass1_compare_enabled"`
	Pass1CompareTopN       int      `json:"pass1_compare_top_n" yaml:"pass1_compare_top_n"`
	TopPassesBacktest      int      `json:"top_passes_backtest" yaml:"top_passes_backtest"`
	MaxOptimizationPasses  int      `json:"max_optimization_passes" yaml:"max_optimization_passes"`
	AutoRunStressScenarios bool     `json:"auto_run_stress_scenarios" yaml:"auto_run_stress_scenarios"`
	AutoRunForwardWindows  bool     `json:"auto_run_forward_windows" yaml:"auto_run_forward_windows"`
	AutoRunMultiPair       bool     `json:"auto_run_multi_pair" yaml:"auto_run_multi_pair"`
	MultiPairSymbols       []string `json:"multi_pair_symbols" yaml:"multi_pair_symbols"`
	MultiPairMode          string   `json:"multi_pair_mode" yaml:"multi_pair_mode"`
}

// AdvisorSettings controls the advisory proposal loop
type AdvisorSettings struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	ReviewRequired      bool `json:"review_required" yaml:"review_required"`
	AllowNewLogic       bool `json:"allow_new_logic" yaml:"allow_new_logic"`
	MaxRefinementCycles int  `json:"max_refinement_cycles" yaml:"max_refinement_cycles"`
}

// SessionWindow is a trading session in whole hours, end exclusive
type SessionWindow struct {
	Name      string `json:"name" yaml:"name"`
	StartHour int    `json:"start_hour" yaml:"start_hour"`
	EndHour   int    `json:"end_hour" yaml:"end_hour"`
}

// Contains reports whether the hour falls inside the window
func (w SessionWindow) Contains(hour int) bool {
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	// wraps midnight
	return hour >= w.StartHour || hour < w.EndHour
}

// DurationBand is a holding-time bucket in minutes; MaxMinutes 0 means open ended
type DurationBand struct {
	Label      string  `json:"label" yaml:"label"`
	MinMinutes float64 `json:"min_minutes" yaml:"min_minutes"`
	MaxMinutes float64 `json:"max_minutes" yaml:"max_minutes"`
}

// Contains reports whether a holding time in minutes falls inside the band
func (b DurationBand) Contains(minutes float64) bool {
	if minutes < b.MinMinutes {
		return false
	}
	return b.MaxMinutes <= 0 || minutes < b.MaxMinutes
}

// StatsSettings configures the evidence pack builder
type StatsSettings struct {
	Timezone              string          `json:"timezone" yaml:"timezone"`
	MinTradesPerBucket    int             `json:"min_trades_per_bucket" yaml:"min_trades_per_bucket"`
	MinEffectPct          float64         `json:"min_effect_pct" yaml:"min_effect_pct"`
	MinSessionProfitShare float64         `json:"min_session_profit_share" yaml:"min_session_profit_share"`
	ConcentrationTopPct   float64         `json:"concentration_top_pct" yaml:"concentration_top_pct"`
	Sessions              []SessionWindow `json:"sessions" yaml:"sessions"`
	DurationBands         []DurationBand  `json:"duration_bands" yaml:"duration_bands"`
}

// PatchSettings are the regression limits for a patched EA version
type PatchSettings struct {
	MaxProfitDropPct float64 `json:"max_profit_drop_pct" yaml:"max_profit_drop_pct"`
	MaxPFDropPct     float64 `json:"max_pf_drop_pct" yaml:"max_pf_drop_pct"`
	MaxTradesDropPct float64 `json:"max_trades_drop_pct" yaml:"max_trades_drop_pct"`
}

// StressSettings lists the stress scenarios run against the best candidate
type StressSettings struct {
	RollingDays       []int     `json:"rolling_days" yaml:"rolling_days"`
	CalendarMonthsAgo []int     `json:"calendar_months_ago" yaml:"calendar_months_ago"`
	SpreadPips        []float64 `json:"spread_pips" yaml:"spread_pips"`
	SlippagePips      []float64 `json:"slippage_pips" yaml:"slippage_pips"`
}

// WorkflowSettings bounds retries
type WorkflowSettings struct {
	MaxFixAttempts int `json:"max_fix_attempts" yaml:"max_fix_attempts"`
}

// PathSettings locates the run artifacts
type PathSettings struct {
	RunsDir string `json:"runs_dir" yaml:"runs_dir"`
}

// WorkflowsDir holds one state document per workflow
func (p PathSettings) WorkflowsDir() string { return filepath.Join(p.RunsDir, "workflows") }

// AnalysisDir holds advisor request and review packages
func (p PathSettings) AnalysisDir() string { return filepath.Join(p.RunsDir, "analysis") }

// ReportsDir holds final reports
func (p PathSettings) ReportsDir() string { return filepath.Join(p.RunsDir, "reports") }

// LogsDir holds per-workflow log files
func (p PathSettings) LogsDir() string { return filepath.Join(p.RunsDir, "logs") }

// LeaderboardDB is the SQLite leaderboard file
func (p PathSettings) LeaderboardDB() string {
	return filepath.Join(p.RunsDir, "leaderboard", "leaderboard.db")
}

// LogSettings configures the structured logger
type LogSettings struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
	ToFile bool   `json:"to_file" yaml:"to_file"`
}

// Default returns the built-in settings
func Default() Settings {
	return Settings{
		Backtest: BacktestSettings{
			Years:         4,
			InSampleYears: 3,
			ForwardYears:  1,
			Deposit:       DefaultDeposit,
			Currency:      "GBP",
			Leverage:      100,
		},
		Gates: GateSettings{
			MinProfitFactor:   DefaultMinProfitFactor,
			MaxDrawdownPct:    DefaultMaxDrawdownPct,
			MinTrades:         DefaultMinTrades,
			OnTesterMinTrades: DefaultOnTesterMinTrades,
			MCConfidenceMin:   DefaultMCConfidenceMin,
			MCRuinMax:         DefaultMCRuinMax,
		},
		MonteCarlo: MonteCarloSettings{
			Iterations:      DefaultMCIterations,
			RuinDrawdownPct: DefaultMCRuinDrawdownPct,
		},
		Scoring: ScoringSettings{
			Weights: ScoreWeights{
				Consistency:  0.25,
				TotalProfit:  0.25,
				TradeCount:   0.20,
				ProfitFactor: 0.15,
				MaxDrawdown:  0.15,
			},
			Ranges: ScoreRanges{
				TotalProfit:    Range{Min: 0, Max: 5000},
				TradeCount:     Range{Min: 50, Max: 200},
				ProfitFactor:   Range{Min: 1.0, Max: 3.0},
				MaxDrawdown:    Range{Min: 0, Max: 30},
				ConsistencyMin: Range{Min: 0, Max: 2000},
			},
			SelectionMode: SelectionModeScore,
		},
		Automation: AutomationSettings{
			AutoStatsAnalysis:      true,
			AutoStatsTopN:          DefaultAutoStatsTopN,
			Pass1CompareEnabled:    true,
			Pass1CompareTopN:       DefaultPass1CompareTopN,
			TopPassesBacktest:      DefaultTopPassesBacktest,
			MaxOptimizationPasses:  DefaultMaxOptimizationPasses,
			AutoRunStressScenarios: true,
			AutoRunForwardWindows:  true,
			AutoRunMultiPair:       false,
			MultiPairSymbols:       []string{"EURUSD", "USDJPY"},
			MultiPairMode:          MultiPairModeExternal,
		},
		Advisor: AdvisorSettings{
			Enabled:             true,
			ReviewRequired:      true,
			AllowNewLogic:       true,
			MaxRefinementCycles: DefaultMaxRefinementCycles,
		},
		Stats: StatsSettings{
			Timezone:              "UTC",
			MinTradesPerBucket:    DefaultMinTradesPerBucket,
			MinEffectPct:          DefaultMinEffectPct,
			MinSessionProfitShare: DefaultMinSessionProfitShare,
			ConcentrationTopPct:   DefaultConcentrationTopPct,
			Sessions: []SessionWindow{
				{Name: "asia", StartHour: 0, EndHour: 7},
				{Name: "london", StartHour: 7, EndHour: 16},
				{Name: "newyork", StartHour: 13, EndHour: 22},
			},
			DurationBands: []DurationBand{
				{Label: "0-30m", MinMinutes: 0, MaxMinutes: 30},
				{Label: "30-120m", MinMinutes: 30, MaxMinutes: 120},
				{Label: "120-360m", MinMinutes: 120, MaxMinutes: 360},
				{Label: "360m+", MinMinutes: 360},
			},
		},
		Patch: PatchSettings{
			MaxProfitDropPct: DefaultPatchMaxProfitDropPct,
			MaxPFDropPct:     DefaultPatchMaxPFDropPct,
			MaxTradesDropPct: DefaultPatchMaxTradesDropPct,
		},
		Stress: StressSettings{
			RollingDays:       []int{7, 14, 30, 60, 90},
			CalendarMonthsAgo: []int{1, 2, 3},
			SpreadPips:        []float64{0, 1, 2, 3, 5},
			SlippagePips:      []float64{0, 1, 3},
		},
		Workflow: WorkflowSettings{MaxFixAttempts: DefaultMaxFixAttempts},
		Paths:    PathSettings{RunsDir: "runs"},
		Log:      LogSettings{Level: "info", Pretty: true},
	}
}
