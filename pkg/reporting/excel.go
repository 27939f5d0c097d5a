package reporting

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	"github.com/ducminhle1904/ea-stress/internal/stats"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

// Workbook sheet names
const (
	SummarySheet     = "Summary"
	PassesSheet      = "Passes"
	GatesSheet       = "Gates"
	BucketsSheet     = "Buckets"
	SensitivitySheet = "Sensitivity"
	MonteCarloSheet  = "MonteCarlo"
	StressSheet      = "Stress"
)

// DefaultExcelReporter implements Excel output functionality
type DefaultExcelReporter struct{}

// NewDefaultExcelReporter creates a new Excel reporter
func NewDefaultExcelReporter() *DefaultExcelReporter {
	return &DefaultExcelReporter{}
}

// WriteWorkbook writes the run workbook to path
func (r *DefaultExcelReporter) WriteWorkbook(st workflow.State, path string) error {
	if err := NewDefaultPathManager().EnsureDirectoryExists(path); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	// Replace default sheet and create additional sheets
	fx.SetSheetName(fx.GetSheetName(0), SummarySheet)
	for _, name := range []string{PassesSheet, GatesSheet, BucketsSheet, SensitivitySheet, MonteCarloSheet, StressSheet} {
		if _, err := fx.NewSheet(name); err != nil {
			return err
		}
	}

	styles, err := r.createExcelStyles(fx)
	if err != nil {
		return err
	}

	writers := []struct {
		sheet string
		write func(*excelize.File, string, workflow.State, ExcelStyles) error
	}{
		{SummarySheet, r.WriteSummarySheet},
		{PassesSheet, r.WritePassesSheet},
		{GatesSheet, r.WriteGatesSheet},
		{BucketsSheet, r.WriteBucketsSheet},
		{SensitivitySheet, r.WriteSensitivitySheet},
		{MonteCarloSheet, r.WriteMonteCarloSheet},
		{StressSheet, r.WriteStressSheet},
	}
	for _, w := range writers {
		if err := w.write(fx, w.sheet, st, styles); err != nil {
			return fmt.Errorf("failed to write sheet %s: %w", w.sheet, err)
		}
	}

	return fx.SaveAs(path)
}

// createExcelStyles creates all Excel styles
func (r *DefaultExcelReporter) createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	thinBorder := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	// Header style - Dark blue background with white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"}, // Dark slate gray
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	// Two decimals, right aligned
	styles.NumberStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    4,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    thinBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "left"},
		Border:    thinBorder,
	})
	if err != nil {
		return styles, err
	}

	// Passed gate - green text on light green
	styles.PassStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "006100"},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"C6EFCE"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    thinBorder,
	})
	if err != nil {
		return styles, err
	}

	// Failed gate - red text on light red
	styles.FailStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "9C0006"},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"FFC7CE"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    thinBorder,
	})
	if err != nil {
		return styles, err
	}

	// Summary style (blue band)
	styles.SummaryStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"4472C4"}, // Blue
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "left",
			Vertical:   "center",
		},
	})
	if err != nil {
		return styles, err
	}

	return styles, nil
}

// WriteSummarySheet writes the run overview as label/value rows
func (r *DefaultExcelReporter) WriteSummarySheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error {
	fx.SetColWidth(sheet, "A", "A", 24)
	fx.SetColWidth(sheet, "B", "B", 48)

	verdict := "NO-GO"
	if st.FinalGates != nil && st.FinalGates.AllPassed {
		verdict = "GO"
	}
	version := ""
	if v, ok := st.ActiveVersion(); ok {
		version = fmt.Sprintf("v%d (%s)", v.Number, v.Source)
	}

	rows := [][]interface{}{
		{"Workflow", st.ID},
		{"EA", st.EAName},
		{"Symbol", st.Symbol},
		{"Timeframe", st.Timeframe},
		{"Status", string(st.Status)},
		{"Active Version", version},
		{"Patch", string(st.Patch.Phase)},
		{"Go-Live Score", st.GoLiveScore},
		{"Verdict", verdict},
	}
	if st.Best != nil {
		rows = append(rows, []interface{}{"Best Pass", st.Best.Pass.Index})
		if st.Best.Result != nil {
			m := st.Best.Result.Metrics
			rows = append(rows,
				[]interface{}{"Profit", m.Profit},
				[]interface{}{"Profit Factor", m.ProfitFactor},
				[]interface{}{"Max Drawdown %", m.MaxDrawdownPct},
				[]interface{}{"Trades", m.TotalTrades},
			)
		}
	}
	if d := st.Degradation; d != nil {
		rows = append(rows,
			[]interface{}{"Return Degradation %", d.ReturnDegradation},
			[]interface{}{"Overfitting Risk", d.OverfittingRisk},
		)
	}

	fx.SetCellValue(sheet, "A1", "EA Stress Report")
	fx.MergeCell(sheet, "A1", "B1")
	fx.SetCellStyle(sheet, "A1", "B1", styles.SummaryStyle)

	for i, row := range rows {
		label, _ := excelize.CoordinatesToCellName(1, i+2)
		value, _ := excelize.CoordinatesToCellName(2, i+2)
		fx.SetCellValue(sheet, label, row[0])
		fx.SetCellStyle(sheet, label, label, styles.BaseStyle)
		fx.SetCellValue(sheet, value, row[1])
		switch row[1].(type) {
		case float64:
			fx.SetCellStyle(sheet, value, value, styles.NumberStyle)
		default:
			fx.SetCellStyle(sheet, value, value, styles.BaseStyle)
		}
		if row[0] == "Verdict" {
			fx.SetCellStyle(sheet, value, value, passFailStyle(verdict == "GO", styles))
		}
	}

	start := len(rows) + 3
	for i, w := range st.Warnings {
		cell, _ := excelize.CoordinatesToCellName(1, start+i)
		fx.SetCellValue(sheet, cell, "Warning")
		next, _ := excelize.CoordinatesToCellName(2, start+i)
		fx.SetCellValue(sheet, next, w)
	}
	return nil
}

// WritePassesSheet writes the pass pool with one column per parameter
func (r *DefaultExcelReporter) WritePassesSheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error {
	selected := make(map[int]bool, len(st.Selected))
	for _, idx := range st.Selected {
		selected[idx] = true
	}
	params := paramNames(st.Pool)

	headers := []string{"Index", "Source", "Result", "Profit", "PF", "DD %", "Trades", "Fwd Profit", "Selected"}
	headers = append(headers, params...)
	r.writeHeaders(fx, sheet, headers, styles)

	for i, p := range st.Pool {
		row := i + 2
		m := passMetrics(p)
		values := []interface{}{
			p.Index, string(p.Source), p.Result,
			m.Profit, m.ProfitFactor, m.MaxDrawdownPct, m.TotalTrades,
			forwardProfit(p), yesNo(selected[i]),
		}
		for _, name := range params {
			values = append(values, p.Params[name])
		}
		r.writeRow(fx, sheet, row, values, styles)
	}
	return nil
}

// WriteGatesSheet writes every final gate with its value and verdict
func (r *DefaultExcelReporter) WriteGatesSheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error {
	r.writeHeaders(fx, sheet, []string{"Gate", "Value", "Operator", "Threshold", "Result", "Message"}, styles)
	if st.FinalGates == nil {
		return nil
	}
	for i, g := range st.FinalGates.Results {
		row := i + 2
		var value interface{} = "n/a"
		if g.Value != nil {
			value = *g.Value
		}
		r.writeRow(fx, sheet, row, []interface{}{
			g.Name, value, string(g.Operator), g.Threshold, passFail(g.Passed), g.Message,
		}, styles)
		cell, _ := excelize.CoordinatesToCellName(5, row)
		fx.SetCellStyle(sheet, cell, cell, passFailStyle(g.Passed, styles))
	}
	return nil
}

// WriteBucketsSheet writes the StatPack buckets grouped by dimension
func (r *DefaultExcelReporter) WriteBucketsSheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error {
	r.writeHeaders(fx, sheet, []string{"Dimension", "Bucket", "Trades", "Profit", "PF", "Win Rate"}, styles)
	if st.StatPack == nil {
		return nil
	}
	sp := st.StatPack
	groups := []struct {
		name    string
		buckets []stats.Bucket
	}{
		{"session", sp.Sessions},
		{"hour", sp.Hours},
		{"day_of_week", sp.DaysOfWeek},
		{"duration", sp.Durations},
		{"direction", sp.Directions},
	}
	row := 2
	for _, g := range groups {
		for _, b := range g.buckets {
			var pf interface{} = "undefined"
			if b.ProfitFactor != nil {
				pf = *b.ProfitFactor
			}
			r.writeRow(fx, sheet, row, []interface{}{g.name, b.Key, b.Trades, b.Profit, pf, b.WinRate}, styles)
			row++
		}
	}
	return nil
}

// WriteSensitivitySheet writes the parameter correlations, strongest first
func (r *DefaultExcelReporter) WriteSensitivitySheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error {
	r.writeHeaders(fx, sheet, []string{"Parameter", "Correlation", "Top Decile Median", "Samples", "Used In"}, styles)
	if st.StatPack == nil {
		return nil
	}
	rows := append([]stats.Sensitivity(nil), st.StatPack.Sensitivity...)
	sort.SliceStable(rows, func(i, j int) bool {
		return abs(rows[i].Correlation) > abs(rows[j].Correlation)
	})
	for i, s := range rows {
		r.writeRow(fx, sheet, i+2, []interface{}{s.Name, s.Correlation, s.TopMedian, s.Samples, s.UsedIn}, styles)
	}
	return nil
}

// WriteMonteCarloSheet writes the simulation summary as label/value rows
func (r *DefaultExcelReporter) WriteMonteCarloSheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error {
	r.writeHeaders(fx, sheet, []string{"Metric", "Value"}, styles)
	mc := st.MonteCarlo
	if mc == nil {
		return nil
	}
	rows := [][]interface{}{
		{"Iterations", mc.Iterations},
		{"Trades", mc.Trades},
		{"Insufficient", yesNo(mc.Insufficient)},
		{"Confidence %", mc.Confidence},
		{"Ruin Probability %", mc.RuinProbability},
		{"Mean Profit", mc.MeanProfit},
		{"Profit P5", mc.ProfitP5},
		{"Profit P50", mc.ProfitP50},
		{"Profit P95", mc.ProfitP95},
		{"Max Drawdown P50", mc.DrawdownP50},
		{"Max Drawdown P95", mc.DrawdownP95},
	}
	for i, row := range rows {
		r.writeRow(fx, sheet, i+2, row, styles)
	}
	return nil
}

// WriteStressSheet writes the stress scenarios followed by the forward windows
func (r *DefaultExcelReporter) WriteStressSheet(fx *excelize.File, sheet string, st workflow.State, styles ExcelStyles) error {
	r.writeHeaders(fx, sheet, []string{"Name", "Kind", "Profit", "PF", "DD %", "Trades", "Note"}, styles)
	row := 2
	for _, s := range st.Stress {
		if s.Metrics == nil {
			r.writeRow(fx, sheet, row, []interface{}{s.Name, string(s.Kind), "", "", "", "", s.Error}, styles)
		} else {
			m := s.Metrics
			r.writeRow(fx, sheet, row, []interface{}{s.Name, string(s.Kind), m.Profit, m.ProfitFactor, m.MaxDrawdownPct, m.TotalTrades, ""}, styles)
		}
		row++
	}
	for _, w := range st.ForwardWindows {
		note := fmt.Sprintf("%s to %s", w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))
		if w.Partial {
			note += " (partial)"
		}
		m := w.Metrics
		r.writeRow(fx, sheet, row, []interface{}{w.Label, string(w.Kind), m.Profit, m.ProfitFactor, m.MaxDrawdownPct, m.TotalTrades, note}, styles)
		row++
	}
	return nil
}

func (r *DefaultExcelReporter) writeHeaders(fx *excelize.File, sheet string, headers []string, styles ExcelStyles) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle)
		col, _ := excelize.ColumnNumberToName(i + 1)
		fx.SetColWidth(sheet, col, col, float64(max(12, len(h)+4)))
	}
}

func (r *DefaultExcelReporter) writeRow(fx *excelize.File, sheet string, row int, values []interface{}, styles ExcelStyles) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		fx.SetCellValue(sheet, cell, v)
		if _, ok := v.(float64); ok {
			fx.SetCellStyle(sheet, cell, cell, styles.NumberStyle)
		} else {
			fx.SetCellStyle(sheet, cell, cell, styles.BaseStyle)
		}
	}
}

// paramNames returns the sorted union of parameter names across passes
func paramNames(passes []backtest.Pass) []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range passes {
		for name := range p.Params {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func passMetrics(p backtest.Pass) backtest.Metrics {
	if p.Back != nil {
		return *p.Back
	}
	return backtest.Metrics{}
}

func forwardProfit(p backtest.Pass) interface{} {
	if p.Forward == nil {
		return ""
	}
	return p.Forward.Profit
}

func passFailStyle(passed bool, styles ExcelStyles) int {
	if passed {
		return styles.PassStyle
	}
	return styles.FailStyle
}

func passFail(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
