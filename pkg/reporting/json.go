package reporting

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	"github.com/ducminhle1904/ea-stress/internal/gates"
	"github.com/ducminhle1904/ea-stress/internal/montecarlo"
	"github.com/ducminhle1904/ea-stress/internal/stats"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
	"github.com/ducminhle1904/ea-stress/pkg/validation"
)

// ReportDocument is the JSON artifact of a finished run
type ReportDocument struct {
	WorkflowID    string                      `json:"workflow_id"`
	EAName        string                      `json:"ea_name"`
	Symbol        string                      `json:"symbol"`
	Timeframe     string                      `json:"timeframe"`
	Status        workflow.Status             `json:"status"`
	GeneratedAt   time.Time                   `json:"generated_at"`
	ActiveVersion *workflow.EAVersion         `json:"active_version,omitempty"`
	Patch         workflow.PatchState         `json:"patch"`
	GoLiveScore   float64                     `json:"go_live_score"`
	GoLive        bool                        `json:"go_live"`
	FinalGates    *gates.Summary              `json:"final_gates,omitempty"`
	Best          *workflow.Candidate         `json:"best,omitempty"`
	Candidates    []workflow.Candidate        `json:"candidates,omitempty"`
	Passes        []backtest.Pass             `json:"passes,omitempty"`
	MonteCarlo    *montecarlo.Result          `json:"monte_carlo,omitempty"`
	StatPack      *stats.StatPack             `json:"stat_pack,omitempty"`
	Stress        []validation.ScenarioResult `json:"stress,omitempty"`
	Forward       []validation.WindowResult   `json:"forward_windows,omitempty"`
	Degradation   *validation.Degradation     `json:"degradation,omitempty"`
	Children      []workflow.Child            `json:"children,omitempty"`
	Warnings      []string                    `json:"warnings,omitempty"`
}

// DefaultJSONFormatter implements JSON output functionality
type DefaultJSONFormatter struct {
	now func() time.Time
}

// NewDefaultJSONFormatter creates a new JSON formatter
func NewDefaultJSONFormatter() *DefaultJSONFormatter {
	return &DefaultJSONFormatter{now: time.Now}
}

// BuildDocument collects the reported fields of a run. Candidates keep
// their metrics but drop the trade lists.
func (f *DefaultJSONFormatter) BuildDocument(st workflow.State) ReportDocument {
	doc := ReportDocument{
		WorkflowID:  st.ID,
		EAName:      st.EAName,
		Symbol:      st.Symbol,
		Timeframe:   st.Timeframe,
		Status:      st.Status,
		GeneratedAt: f.now().UTC(),
		Patch:       st.Patch,
		GoLiveScore: st.GoLiveScore,
		GoLive:      st.FinalGates != nil && st.FinalGates.AllPassed,
		FinalGates:  st.FinalGates,
		Passes:      st.Pool,
		MonteCarlo:  st.MonteCarlo,
		StatPack:    st.StatPack,
		Stress:      st.Stress,
		Forward:     st.ForwardWindows,
		Degradation: st.Degradation,
		Children:    st.Children,
		Warnings:    st.Warnings,
	}
	if v, ok := st.ActiveVersion(); ok {
		doc.ActiveVersion = &v
	}
	if st.Best != nil {
		best := withoutTrades(*st.Best)
		doc.Best = &best
	}
	for _, c := range st.Candidates {
		doc.Candidates = append(doc.Candidates, withoutTrades(c))
	}
	return doc
}

// FormatReport formats the report document as indented JSON
func (f *DefaultJSONFormatter) FormatReport(st workflow.State) ([]byte, error) {
	return json.MarshalIndent(f.BuildDocument(st), "", "  ")
}

// WriteJSONReport writes the report document to path
func (f *DefaultJSONFormatter) WriteJSONReport(st workflow.State, path string) error {
	data, err := f.FormatReport(st)
	if err != nil {
		return err
	}
	if err := NewDefaultPathManager().EnsureDirectoryExists(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func withoutTrades(c workflow.Candidate) workflow.Candidate {
	if c.Result != nil {
		r := *c.Result
		r.Trades = nil
		c.Result = &r
	}
	return c
}
