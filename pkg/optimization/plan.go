package optimization

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/ea-stress/pkg/config"
)

// testerDateLayout is the date format the tester expects
const testerDateLayout = "2006.01.02"

// PlanRequest is everything needed to build an optimization plan
type PlanRequest struct {
	EAName     string
	Symbol     string
	Timeframe  string
	WorkflowID string
	Pass       Pass
	Ranges     []ParameterRange
	Backtest   config.BacktestSettings
	Now        time.Time
}

// Plan is a fully resolved optimization run for the tester
type Plan struct {
	Pass          Pass               `json:"pass"`
	ReportName    string             `json:"report_name"`
	Symbol        string             `json:"symbol"`
	Timeframe     string             `json:"timeframe"`
	PeriodMinutes int                `json:"period_minutes"`
	FromDate      time.Time          `json:"from_date"`
	ToDate        time.Time          `json:"to_date"`
	ForwardDate   time.Time          `json:"forward_date"`
	Deposit       float64            `json:"deposit"`
	Currency      string             `json:"currency"`
	Leverage      int                `json:"leverage"`
	Tester        OptimizationConfig `json:"tester"`
	Ranges        []ParameterRange   `json:"ranges"`
	OptimizeCount int                `json:"optimize_count"`
	FixedCount    int                `json:"fixed_count"`
	Combinations  float64            `json:"combinations"`
}

// BuildPlan validates the ranges and resolves dates and the report name.
// The window ends on the request day; the forward split sits
// Years-InSampleYears years before the end.
func BuildPlan(req PlanRequest) (Plan, error) {
	if len(req.Ranges) == 0 {
		return Plan{}, fmt.Errorf("no optimization ranges provided")
	}
	var problems []string
	optimized := 0
	for _, r := range req.Ranges {
		if err := r.Validate(); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if r.Optimize {
			optimized++
		}
	}
	if len(problems) > 0 {
		return Plan{}, fmt.Errorf("invalid optimization ranges: %s", strings.Join(problems, "; "))
	}
	if req.Backtest.Years <= req.Backtest.InSampleYears {
		return Plan{}, fmt.Errorf("backtest years (%d) must exceed in-sample years (%d)", req.Backtest.Years, req.Backtest.InSampleYears)
	}

	start, end, forward := TestWindow(req.Now, req.Backtest)

	ranges := make([]ParameterRange, len(req.Ranges))
	copy(ranges, req.Ranges)

	return Plan{
		Pass:          req.Pass,
		ReportName:    ReportName(req.EAName, req.Symbol, req.Timeframe, req.WorkflowID, req.Pass),
		Symbol:        req.Symbol,
		Timeframe:     req.Timeframe,
		PeriodMinutes: TimeframeMinutes(req.Timeframe),
		FromDate:      start,
		ToDate:        end,
		ForwardDate:   forward,
		Deposit:       req.Backtest.Deposit,
		Currency:      req.Backtest.Currency,
		Leverage:      req.Backtest.Leverage,
		Tester:        GetDefaultOptimizationConfig(),
		Ranges:        ranges,
		OptimizeCount: optimized,
		FixedCount:    len(ranges) - optimized,
		Combinations:  Combinations(ranges),
	}, nil
}

// TestWindow returns the full test window and its forward split. The window
// ends at midnight UTC of now; a zero now means today.
func TestWindow(now time.Time, b config.BacktestSettings) (from, to, forward time.Time) {
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	to = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from = to.AddDate(0, 0, -b.Years*daysPerYear)
	forward = to.AddDate(0, 0, -(b.Years-b.InSampleYears)*daysPerYear)
	return from, to, forward
}

// ReportName is deterministic so a resumed run finds the same report
func ReportName(eaName, symbol, timeframe, workflowID string, pass Pass) string {
	short := workflowID
	if len(short) > 8 {
		short = short[:8]
	}
	tag := "S6_opt1"
	if pass == Pass2 {
		tag = "S8F_opt2"
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s", eaName, tag, symbol, timeframe, short)
}

// TesterInputs renders every range as a tester input line
func (p Plan) TesterInputs() []string {
	lines := make([]string, len(p.Ranges))
	for i, r := range p.Ranges {
		lines[i] = r.TesterInput()
	}
	return lines
}

// INI renders the plan as a tester configuration document
func (p Plan) INI(expert string) string {
	var b strings.Builder
	b.WriteString("[Tester]\n")
	fmt.Fprintf(&b, "Expert=%s\n", expert)
	fmt.Fprintf(&b, "Symbol=%s\n", p.Symbol)
	fmt.Fprintf(&b, "Period=%d\n", p.PeriodMinutes)
	fmt.Fprintf(&b, "FromDate=%s\n", p.FromDate.Format(testerDateLayout))
	fmt.Fprintf(&b, "ToDate=%s\n", p.ToDate.Format(testerDateLayout))
	fmt.Fprintf(&b, "ForwardMode=%d\n", ForwardModeByDate)
	fmt.Fprintf(&b, "ForwardDate=%s\n", p.ForwardDate.Format(testerDateLayout))
	fmt.Fprintf(&b, "Model=%d\n", p.Tester.Model)
	fmt.Fprintf(&b, "ExecutionMode=%d\n", p.Tester.ExecutionMillis)
	fmt.Fprintf(&b, "Optimization=%d\n", p.Tester.Optimization)
	fmt.Fprintf(&b, "OptimizationCriterion=%d\n", p.Tester.Criterion)
	fmt.Fprintf(&b, "Report=%s\n", p.ReportName)
	b.WriteString("ReplaceReport=1\nUseLocal=1\nVisual=0\nShutdownTerminal=1\n")
	fmt.Fprintf(&b, "Deposit=%s\n", strconv.FormatFloat(p.Deposit, 'f', -1, 64))
	fmt.Fprintf(&b, "Currency=%s\n", p.Currency)
	fmt.Fprintf(&b, "Leverage=%d\n", p.Leverage)
	b.WriteString("\n[TesterInputs]\n")
	for _, line := range p.TesterInputs() {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// TimeframeMinutes converts M15/H1/D1 style timeframes to minutes. Unknown
// timeframes fall back to one hour.
func TimeframeMinutes(tf string) int {
	tf = strings.ToUpper(strings.TrimSpace(tf))
	switch tf {
	case "MN1":
		return 43200
	case "W1":
		return 10080
	case "D1":
		return 1440
	}
	if len(tf) < 2 {
		return DefaultTimeframeMinute
	}
	n, err := strconv.Atoi(tf[1:])
	if err != nil || n <= 0 {
		return DefaultTimeframeMinute
	}
	switch tf[0] {
	case 'H':
		return n * 60
	case 'M':
		return n
	}
	return DefaultTimeframeMinute
}
