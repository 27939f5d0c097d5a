package optimization

// Package optimization builds the tester optimization plans for both passes

// Pass numbers an optimization run
type Pass int

const (
	Pass1 Pass = 1
	Pass2 Pass = 2
)

// Tester settings shared by every plan
const (
	ForwardModeByDate      = 2
	OptimizationGenetic    = 2
	CriterionCustomOnTest  = 6
	ModelOHLC              = 1
	DefaultExecutionMillis = 10
	DefaultTimeframeMinute = 60
	daysPerYear            = 365
)

// OptimizationConfig holds the tester knobs that are not per-parameter
type OptimizationConfig struct {
	Model           int `json:"model"`
	ExecutionMillis int `json:"execution_latency_ms"`
	Optimization    int `json:"optimization"`
	Criterion       int `json:"criterion"`
}

// GetDefaultOptimizationConfig returns the default tester configuration
func GetDefaultOptimizationConfig() OptimizationConfig {
	return OptimizationConfig{
		Model:           ModelOHLC,
		ExecutionMillis: DefaultExecutionMillis,
		Optimization:    OptimizationGenetic,
		Criterion:       CriterionCustomOnTest,
	}
}
