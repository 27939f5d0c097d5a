package reporting

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/ea-stress/internal/leaderboard"
	"github.com/ducminhle1904/ea-stress/internal/state"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
	"github.com/ducminhle1904/ea-stress/pkg/validation"
)

// DefaultConsoleReporter implements console output functionality
type DefaultConsoleReporter struct{}

// NewDefaultConsoleReporter creates a new console reporter
func NewDefaultConsoleReporter() *DefaultConsoleReporter {
	return &DefaultConsoleReporter{}
}

// RenderSummary prints the overview, gates, candidates and robustness tables
func (r *DefaultConsoleReporter) RenderSummary(w io.Writer, st workflow.State) {
	r.renderOverview(w, st)
	r.renderGates(w, st)
	r.renderCandidates(w, st)
	r.renderRobustness(w, st)
}

func (r *DefaultConsoleReporter) renderOverview(w io.Writer, st workflow.State) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("EA STRESS REPORT")
	t.SetStyle(table.StyleRounded)

	verdict := "❌ NO-GO"
	if st.FinalGates != nil && st.FinalGates.AllPassed {
		verdict = "✅ GO"
	}
	t.AppendRows([]table.Row{
		{"📊 Symbol", fmt.Sprintf("%s %s", st.Symbol, st.Timeframe)},
		{"🧩 EA", st.EAName},
		{"🔖 Workflow", st.ID},
		{"📌 Status", st.Status},
		{"🩹 Patch", st.Patch.Phase},
		{"🎯 Go-Live Score", fmt.Sprintf("%.2f", st.GoLiveScore)},
		{"🚦 Verdict", verdict},
	})
	if mc := st.MonteCarlo; mc != nil && !mc.Insufficient {
		t.AppendRows([]table.Row{
			{"🎲 MC Confidence", fmt.Sprintf("%.1f%%", mc.Confidence)},
			{"💀 MC Ruin", fmt.Sprintf("%.1f%%", mc.RuinProbability)},
		})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Fprintln(w)
}

func (r *DefaultConsoleReporter) renderGates(w io.Writer, st workflow.State) {
	if st.FinalGates == nil || len(st.FinalGates.Results) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("FINAL GATES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Gate", "Value", "Rule", "Result"})
	for _, g := range st.FinalGates.Results {
		value := "n/a"
		if g.Value != nil {
			value = fmt.Sprintf("%.2f", *g.Value)
		}
		result := "✅ PASS"
		if !g.Passed {
			result = "❌ FAIL"
		}
		t.AppendRow(table.Row{g.Name, value, fmt.Sprintf("%s %.2f", g.Operator, g.Threshold), result})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	t.Render()
	fmt.Fprintln(w)
}

func (r *DefaultConsoleReporter) renderCandidates(w io.Writer, st workflow.State) {
	if len(st.Candidates) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("CANDIDATES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Pass", "Score", "Profit", "PF", "DD %", "Trades", "Note"})
	for _, c := range st.Candidates {
		mark := ""
		if st.Best != nil && st.Best.Pass.Index == c.Pass.Index && st.Best.Pass.Source == c.Pass.Source {
			mark = "⭐ best"
		}
		if c.Error != "" {
			t.AppendRow(table.Row{c.Pass.Index, "-", "-", "-", "-", "-", c.Error})
			continue
		}
		score := 0.0
		if c.Score != nil {
			score = c.Score.Total
		}
		if c.Result == nil {
			t.AppendRow(table.Row{c.Pass.Index, fmt.Sprintf("%.2f", score), "-", "-", "-", "-", mark})
			continue
		}
		m := c.Result.Metrics
		t.AppendRow(table.Row{
			c.Pass.Index,
			fmt.Sprintf("%.2f", score),
			fmt.Sprintf("%.2f", m.Profit),
			fmt.Sprintf("%.2f", m.ProfitFactor),
			fmt.Sprintf("%.2f", m.MaxDrawdownPct),
			m.TotalTrades,
			mark,
		})
	}
	t.Render()
	fmt.Fprintln(w)
}

func (r *DefaultConsoleReporter) renderRobustness(w io.Writer, st workflow.State) {
	if len(st.ForwardWindows) == 0 && st.Degradation == nil {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("FORWARD CONSISTENCY")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Window", "Profit", "PF", "Trades"})
	for _, fw := range st.ForwardWindows {
		label := fw.Label
		if fw.Partial {
			label += " *"
		}
		t.AppendRow(table.Row{label, fmt.Sprintf("%.2f", fw.Metrics.Profit), fmt.Sprintf("%.2f", fw.Metrics.ProfitFactor), fw.Metrics.TotalTrades})
	}
	if d := st.Degradation; d != nil {
		t.AppendFooter(table.Row{"Degradation", fmt.Sprintf("%.1f%%", d.ReturnDegradation), "", riskLabel(d.OverfittingRisk)})
	}
	t.Render()
	fmt.Fprintln(w)
}

func riskLabel(risk string) string {
	switch risk {
	case validation.RiskHigh:
		return "⚠️  HIGH RISK"
	case validation.RiskModerate:
		return "⚠️  MODERATE"
	default:
		return "✅ ROBUST"
	}
}

// RenderWorkflowList prints one row per stored workflow
func (r *DefaultConsoleReporter) RenderWorkflowList(w io.Writer, states []state.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "EA", "Symbol", "Status", "Score", "Updated"})
	for _, st := range states {
		t.AppendRow(table.Row{
			st.ID, st.EAName, fmt.Sprintf("%s %s", st.Symbol, st.Timeframe),
			st.Status, fmt.Sprintf("%.2f", st.GoLiveScore),
			st.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	t.Render()
}

// RenderLeaderboard prints the ranked runs
func (r *DefaultConsoleReporter) RenderLeaderboard(w io.Writer, entries []leaderboard.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("LEADERBOARD")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Symbol", "EA", "Score", "Go", "Profit", "PF", "DD %", "Trades", "MC %"})
	for i, e := range entries {
		goLive := "❌"
		if e.GoLive {
			goLive = "✅"
		}
		t.AppendRow(table.Row{
			i + 1, fmt.Sprintf("%s %s", e.Symbol, e.Timeframe), e.EAName,
			fmt.Sprintf("%.2f", e.GoLiveScore), goLive,
			fmt.Sprintf("%.2f", e.Profit), fmt.Sprintf("%.2f", e.ProfitFactor),
			fmt.Sprintf("%.2f", e.MaxDrawdown), e.Trades, fmt.Sprintf("%.1f", e.MCConfidence),
		})
	}
	t.Render()
}
