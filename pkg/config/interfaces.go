package config

// Package config provides the immutable settings object shared by every
// component of a validation run.

// Selection modes for the final pass pick
const (
	SelectionModeScore  = "score"
	SelectionModeProfit = "profit"
)

// Multi-pair fan-out modes
const (
	MultiPairModeExternal = "external"
	MultiPairModeInternal = "internal"
)

// Default thresholds carried over from the stress tester this engine replaces
const (
	DefaultDeposit               = 3000.0
	DefaultMinProfitFactor       = 1.5
	DefaultMaxDrawdownPct        = 30.0
	DefaultMinTrades             = 50
	DefaultOnTesterMinTrades     = 10
	DefaultMCIterations          = 10000
	DefaultMCConfidenceMin       = 70.0
	DefaultMCRuinMax             = 5.0
	DefaultMCRuinDrawdownPct     = 50.0
	DefaultMaxFixAttempts        = 3
	DefaultMinTradesPerBucket    = 30
	DefaultMinEffectPct          = 10.0
	DefaultMinSessionProfitShare = 60.0
	DefaultConcentrationTopPct   = 20.0
	DefaultPatchMaxProfitDropPct = 20.0
	DefaultPatchMaxPFDropPct     = 10.0
	DefaultPatchMaxTradesDropPct = 20.0
	DefaultMaxOptimizationPasses = 1000
	DefaultTopPassesBacktest     = 30
	DefaultAutoStatsTopN         = 20
	DefaultPass1CompareTopN      = 10
	DefaultMaxRefinementCycles   = 1
)

// Loader loads settings from a file and the environment
type Loader interface {
	Load(path string) (Settings, error)
}

// Validator checks a settings value for internal consistency
type Validator interface {
	Validate(s Settings) error
}
