package workflow

import (
	"encoding/json"
	"time"

	"github.com/ducminhle1904/ea-stress/internal/gates"
)

// Step names in execution order
const (
	StepLoad           = "01_load"
	StepCompile        = "02_compile"
	StepExtract        = "03_extract"
	StepAnalyze        = "04_analyze"
	StepValidate       = "05_validate"
	StepPlan           = "06_plan"
	StepOptimize       = "07_optimize"
	StepParse          = "08_parse"
	StepStats          = "08b_stats"
	StepProposal       = "08c_proposal"
	StepReview         = "08d_review"
	StepRevalidate     = "08e_revalidate"
	StepOptimizePass2  = "08f_optimize_pass2"
	StepParsePass2     = "08g_parse_pass2"
	StepSelect         = "09_select"
	StepBacktest       = "10_backtest"
	StepMonteCarlo     = "11_monte_carlo"
	StepStress         = "12_stress"
	StepForwardWindows = "13_forward_windows"
	StepMultiPair      = "13b_multi_pair"
	StepReport         = "14_report"
)

// StepOrder is the fixed execution order
var StepOrder = []string{
	StepLoad,
	StepCompile,
	StepExtract,
	StepAnalyze,
	StepValidate,
	StepPlan,
	StepOptimize,
	StepParse,
	StepStats,
	StepProposal,
	StepReview,
	StepRevalidate,
	StepOptimizePass2,
	StepParsePass2,
	StepSelect,
	StepBacktest,
	StepMonteCarlo,
	StepStress,
	StepForwardWindows,
	StepMultiPair,
	StepReport,
}

// Policy says what a resumed run does with a step that already passed
type Policy string

const (
	// PolicyShortCircuit reuses the recorded result; used where a step calls
	// an external tool
	PolicyShortCircuit Policy = "short-circuit"
	// PolicyRecompute runs the step again from state
	PolicyRecompute Policy = "recompute"
)

var policies = map[string]Policy{
	StepLoad:           PolicyShortCircuit,
	StepCompile:        PolicyShortCircuit,
	StepExtract:        PolicyShortCircuit,
	StepAnalyze:        PolicyShortCircuit,
	StepValidate:       PolicyShortCircuit,
	StepPlan:           PolicyRecompute,
	StepOptimize:       PolicyShortCircuit,
	StepParse:          PolicyRecompute,
	StepStats:          PolicyRecompute,
	StepProposal:       PolicyShortCircuit,
	StepReview:         PolicyRecompute,
	StepRevalidate:     PolicyShortCircuit,
	StepOptimizePass2:  PolicyShortCircuit,
	StepParsePass2:     PolicyRecompute,
	StepSelect:         PolicyRecompute,
	StepBacktest:       PolicyShortCircuit,
	StepMonteCarlo:     PolicyShortCircuit,
	StepStress:         PolicyShortCircuit,
	StepForwardWindows: PolicyRecompute,
	StepMultiPair:      PolicyShortCircuit,
	StepReport:         PolicyRecompute,
}

// PolicyFor returns the resume policy of a step; unknown steps recompute
func PolicyFor(step string) Policy {
	if p, ok := policies[step]; ok {
		return p
	}
	return PolicyRecompute
}

// fixSteps share the FixAttempts budget
var fixSteps = map[string]bool{
	StepCompile:  true,
	StepExtract:  true,
	StepValidate: true,
}

// IsFixStep reports whether a failure of step counts against FixAttempts
func IsFixStep(step string) bool {
	return fixSteps[step]
}

// StepRecord is the persisted outcome of one step
type StepRecord struct {
	Name       string          `json:"name"`
	Passed     bool            `json:"passed"`
	Skipped    bool            `json:"skipped,omitempty"`
	Attempt    int             `json:"attempt"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Gates      *gates.Summary  `json:"gates,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Note       string          `json:"note,omitempty"`
}

// Done reports whether the step finished and need not run again under the
// short-circuit policy
func (r StepRecord) Done() bool {
	return r.Passed || r.Skipped
}

// Step returns the record for name
func (s *State) Step(name string) (StepRecord, bool) {
	for _, r := range s.Steps {
		if r.Name == name {
			return r, true
		}
	}
	return StepRecord{}, false
}

// RecordStep stores a step outcome. A retried step overwrites its earlier
// record in place so the execution order is kept.
func (s *State) RecordStep(rec StepRecord) {
	for i, r := range s.Steps {
		if r.Name == rec.Name {
			rec.Attempt = r.Attempt + 1
			s.Steps[i] = rec
			return
		}
	}
	rec.Attempt = 1
	s.Steps = append(s.Steps, rec)
}

// ClearSteps removes the records of the named steps
func (s *State) ClearSteps(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := s.Steps[:0]
	for _, r := range s.Steps {
		if !drop[r.Name] {
			kept = append(kept, r)
		}
	}
	s.Steps = kept
}

// Skip records a step as skipped
func (s *State) Skip(name, reason string, now time.Time) {
	s.RecordStep(StepRecord{
		Name:       name,
		Skipped:    true,
		StartedAt:  now,
		FinishedAt: now,
		Note:       reason,
	})
}
