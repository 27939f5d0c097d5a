package optimization

import (
	"fmt"
	"math"
	"strconv"
)

// ParameterRange is one EA input in an optimization plan. Optimized inputs
// sweep start..stop by step; fixed inputs hold Default.
type ParameterRange struct {
	Name      string   `json:"name"`
	Optimize  bool     `json:"optimize"`
	Start     float64  `json:"start,omitempty"`
	Step      float64  `json:"step,omitempty"`
	Stop      float64  `json:"stop,omitempty"`
	Default   *float64 `json:"default,omitempty"`
	Category  string   `json:"category,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}

// Refinement narrows an input's sweep for the second pass
type Refinement struct {
	Name   string  `json:"name"`
	Start  float64 `json:"start"`
	Step   float64 `json:"step"`
	Stop   float64 `json:"stop"`
	Reason string  `json:"reason,omitempty"`
}

// Validate checks the range is usable by the tester
func (r ParameterRange) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("parameter name is required")
	}
	if !r.Optimize {
		if r.Default == nil {
			return fmt.Errorf("%s: fixed parameter needs a default", r.Name)
		}
		return nil
	}
	if r.Step <= 0 {
		return fmt.Errorf("%s: step must be positive, got: %g", r.Name, r.Step)
	}
	if r.Start > r.Stop {
		return fmt.Errorf("%s: start %g is above stop %g", r.Name, r.Start, r.Stop)
	}
	return nil
}

// DefaultValue is the value used outside the sweep
func (r ParameterRange) DefaultValue() float64 {
	if r.Default != nil {
		return *r.Default
	}
	return r.Start
}

// Steps returns how many values the sweep visits; fixed inputs count as one
func (r ParameterRange) Steps() int {
	if !r.Optimize || r.Step <= 0 {
		return 1
	}
	return int(math.Floor((r.Stop-r.Start)/r.Step+1e-9)) + 1
}

// TesterInput renders the range as a tester input line
func (r ParameterRange) TesterInput() string {
	if !r.Optimize {
		return fmt.Sprintf("%s=%s||0||0||0||N", r.Name, formatNumber(r.DefaultValue()))
	}
	return fmt.Sprintf("%s=%s||%s||%s||%s||Y", r.Name,
		formatNumber(r.DefaultValue()), formatNumber(r.Start), formatNumber(r.Step), formatNumber(r.Stop))
}

// ApplyRefinements returns a copy of ranges with refinements applied. A
// refined input becomes optimized over the new sweep; its default is kept
// when it still falls inside. Refinements for unknown inputs are returned
// as ignored.
func ApplyRefinements(ranges []ParameterRange, refs []Refinement) (out []ParameterRange, ignored []string) {
	out = make([]ParameterRange, len(ranges))
	copy(out, ranges)

	index := make(map[string]int, len(out))
	for i, r := range out {
		index[r.Name] = i
	}

	for _, ref := range refs {
		i, ok := index[ref.Name]
		if !ok {
			ignored = append(ignored, ref.Name)
			continue
		}
		r := out[i]
		r.Optimize = true
		r.Start, r.Step, r.Stop = ref.Start, ref.Step, ref.Stop
		if r.Default != nil && (*r.Default < ref.Start || *r.Default > ref.Stop) {
			r.Default = nil
		}
		if ref.Reason != "" {
			r.Rationale = ref.Reason
		}
		out[i] = r
	}
	return out, ignored
}

// Combinations is the size of the full grid over all optimized inputs
func Combinations(ranges []ParameterRange) float64 {
	total := 1.0
	for _, r := range ranges {
		total *= float64(r.Steps())
	}
	return total
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
