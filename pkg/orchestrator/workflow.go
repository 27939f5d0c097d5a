package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/gates"
	"github.com/ducminhle1904/ea-stress/internal/monitoring"
	"github.com/ducminhle1904/ea-stress/internal/proposal"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
	"github.com/ducminhle1904/ea-stress/pkg/optimization"
	"github.com/ducminhle1904/ea-stress/pkg/validation"
)

// maxReportedCompileErrors caps compiler messages copied into the step error
const maxReportedCompileErrors = 3

// stepTable binds every step name to its implementation, in execution order
func (o *WorkflowOrchestrator) stepTable() []step {
	impl := map[string]func(context.Context, *workflow.State) (stepOutcome, error){
		workflow.StepLoad:           o.loadStep,
		workflow.StepCompile:        o.compileStep,
		workflow.StepExtract:        o.extractStep,
		workflow.StepAnalyze:        o.analyzeStep,
		workflow.StepValidate:       o.validateStep,
		workflow.StepPlan:           o.planStep,
		workflow.StepOptimize:       o.optimizePass1Step,
		workflow.StepParse:          o.parsePass1Step,
		workflow.StepStats:          o.statsStep,
		workflow.StepProposal:       o.proposalStep,
		workflow.StepReview:         o.reviewStep,
		workflow.StepRevalidate:     o.revalidateStep,
		workflow.StepOptimizePass2:  o.optimizePass2Step,
		workflow.StepParsePass2:     o.parsePass2Step,
		workflow.StepSelect:         o.selectStep,
		workflow.StepBacktest:       o.backtestStep,
		workflow.StepMonteCarlo:     o.monteCarloStep,
		workflow.StepStress:         o.stressStep,
		workflow.StepForwardWindows: o.forwardWindowsStep,
		workflow.StepMultiPair:      o.multiPairStep,
		workflow.StepReport:         o.reportStep,
	}

	steps := make([]step, 0, len(workflow.StepOrder))
	for _, name := range workflow.StepOrder {
		steps = append(steps, step{name: name, run: impl[name]})
	}
	return steps
}

func (o *WorkflowOrchestrator) loadStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	res, err := o.deps.Resolver.Resolve(ctx, st.Config)
	if err != nil {
		if _, ok := wferrors.CategoryOf(err); !ok {
			err = wferrors.WrapError(err, wferrors.ErrorCategoryConfiguration, "orchestrator", workflow.StepLoad)
		}
		return stepOutcome{}, err
	}
	if strings.TrimSpace(res.TerminalPath) == "" {
		return stepOutcome{}, wferrors.NewConfigurationError("orchestrator", workflow.StepLoad, "no terminal installation found")
	}
	st.Config = &res
	return stepOutcome{output: res, note: res.TerminalPath}, nil
}

func (o *WorkflowOrchestrator) compileStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	v, err := activeVersion(st)
	if err != nil {
		return stepOutcome{}, err
	}
	cr, err := o.compile(ctx, v.SourcePath)
	if err != nil {
		return stepOutcome{}, err
	}

	summary := gates.EvaluateAll(gates.CompileChecks(cr.Success))
	out := stepOutcome{gates: &summary, output: cr}
	if !summary.AllPassed {
		msg := fmt.Sprintf("version %d failed to compile", v.Number)
		if len(cr.Errors) > 0 {
			shown := cr.Errors
			if len(shown) > maxReportedCompileErrors {
				shown = shown[:maxReportedCompileErrors]
			}
			msg += ": " + strings.Join(shown, "; ")
		}
		return out, wferrors.NewValidationFailure("orchestrator", workflow.StepCompile, msg)
	}

	st.SetCompiledPath(v.ID, cr.CompiledPath)
	out.note = fmt.Sprintf("version %d compiled with %d warnings", v.Number, len(cr.Warnings))
	return out, nil
}

func (o *WorkflowOrchestrator) compile(ctx context.Context, sourcePath string) (CompileResult, error) {
	var cr CompileResult
	err := o.call(ctx, "compile", func(ctx context.Context) error {
		r, err := o.deps.Toolchain.Compile(ctx, sourcePath)
		if err != nil {
			return err
		}
		cr = r
		return nil
	})
	return cr, err
}

func (o *WorkflowOrchestrator) extractStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	v, err := activeVersion(st)
	if err != nil {
		return stepOutcome{}, err
	}

	var res ExtractResult
	err = o.call(ctx, "extract_parameters", func(ctx context.Context) error {
		r, err := o.deps.Toolchain.ExtractParameters(ctx, v.SourcePath)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return stepOutcome{}, err
	}

	summary := gates.EvaluateAll(gates.ExtractChecks(len(res.Parameters)))
	if !summary.AllPassed {
		return stepOutcome{gates: &summary}, wferrors.NewValidationFailure("orchestrator", workflow.StepExtract,
			fmt.Sprintf("no input parameters found in version %d", v.Number))
	}

	st.Parameters = res.Parameters
	st.UsageMap = res.UsageMap
	optimizable := 0
	for _, p := range res.Parameters {
		if p.Optimizable {
			optimizable++
		}
	}
	return stepOutcome{
		gates: &summary,
		note:  fmt.Sprintf("%d parameters, %d optimizable", len(res.Parameters), optimizable),
	}, nil
}

func (o *WorkflowOrchestrator) analyzeStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	if st.Analysis != nil {
		return stepOutcome{note: "analysis already supplied"}, nil
	}
	v, err := activeVersion(st)
	if err != nil {
		return stepOutcome{}, err
	}

	req := AnalysisRequest{
		WorkflowID: st.ID,
		EAName:     st.EAName,
		Symbol:     st.Symbol,
		Timeframe:  st.Timeframe,
		SourcePath: v.SourcePath,
		Parameters: st.Parameters,
		UsageMap:   st.UsageMap,
	}
	var resp AdvisorResponse
	err = o.recovery.ExecuteWithRecovery(ctx, "advisor", "param_analysis", func(ctx context.Context) error {
		r, err := o.deps.Advisor.RequestParameterAnalysis(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return stepOutcome{}, err
	}
	st.Advisor.AnalysisRequestPath = resp.RequestPath

	if len(resp.Document) == 0 {
		return pause(workflow.StatusAwaitingParamAnalysis, "awaiting parameter analysis", resp), nil
	}
	analysis, err := proposal.ParseParamAnalysis(resp.Document)
	if err != nil {
		st.Warn("advisor parameter analysis rejected: %v", err)
		return pause(workflow.StatusAwaitingParamAnalysis, "parameter analysis failed validation", resp), nil
	}
	st.Analysis = &analysis
	st.Pass1Ranges = analysis.OptimizationRanges
	return stepOutcome{
		output: json.RawMessage(resp.Document),
		note:   fmt.Sprintf("%d ranges, %d optimized", len(analysis.OptimizationRanges), len(analysis.OptimizedNames())),
	}, nil
}

func (o *WorkflowOrchestrator) validateStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	if st.Analysis == nil {
		return stepOutcome{}, wferrors.NewContractViolation("orchestrator", workflow.StepValidate, "no parameter analysis to validate with")
	}
	v, err := compiledVersion(st)
	if err != nil {
		return stepOutcome{}, err
	}

	result, err := o.backtest(ctx, o.backtestRequest(st, "validation", v.CompiledPath, st.Analysis.WideParams()))
	if err != nil {
		return stepOutcome{}, err
	}

	split := gates.EvaluateAll(gates.ForwardSplitChecks(result.HasForwardSplit()))
	if !split.AllPassed {
		return stepOutcome{gates: &split}, wferrors.NewDataIntegrityError("orchestrator", workflow.StepValidate,
			"validation backtest reported no forward period")
	}

	summary := gates.EvaluateAll(append(gates.ForwardSplitChecks(true), gates.ValidationChecks(result, o.settings.Gates)...))
	st.Validation = result
	out := stepOutcome{
		gates:  &summary,
		output: result.Metrics,
		note:   fmt.Sprintf("%d trades, profit %.2f", result.TotalTrades, result.Profit),
	}
	if !summary.AllPassed {
		return out, wferrors.NewValidationFailure("orchestrator", workflow.StepValidate,
			fmt.Sprintf("validation backtest made %d trades, need at least %d", result.TotalTrades, o.settings.Gates.MinTrades))
	}
	return out, nil
}

func (o *WorkflowOrchestrator) planStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	plan, err := o.plan(st, optimization.Pass1, st.Pass1Ranges)
	if err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{
		output: plan,
		note:   fmt.Sprintf("%d optimized, %d fixed, %.0f combinations", plan.OptimizeCount, plan.FixedCount, plan.Combinations),
	}, nil
}

func (o *WorkflowOrchestrator) plan(st *workflow.State, pass optimization.Pass, ranges []optimization.ParameterRange) (optimization.Plan, error) {
	plan, err := optimization.BuildPlan(optimization.PlanRequest{
		EAName:     st.EAName,
		Symbol:     st.Symbol,
		Timeframe:  st.Timeframe,
		WorkflowID: st.ID,
		Pass:       pass,
		Ranges:     ranges,
		Backtest:   o.settings.Backtest,
		Now:        st.CreatedAt,
	})
	if err != nil {
		return optimization.Plan{}, wferrors.WrapError(err, wferrors.ErrorCategoryDataIntegrity, "orchestrator", "plan")
	}
	return plan, nil
}

func (o *WorkflowOrchestrator) reportStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	if st.Best == nil || st.Best.Result == nil {
		return stepOutcome{}, wferrors.NewDataIntegrityError("orchestrator", workflow.StepReport, "no best candidate to report")
	}

	final := gates.EvaluateAll(gates.FinalChecks(st.Best.Result.Metrics, o.settings.Gates))
	st.FinalGates = &final
	if st.Best.Score != nil {
		st.GoLiveScore = st.Best.Score.Total
	}
	if d, ok := validation.DegradationOf(st.Best.Result, o.settings.Backtest); ok {
		st.Degradation = &d
	}

	paths, err := o.deps.Reporter.Report(ctx, *st)
	if err != nil {
		return stepOutcome{gates: &final}, fmt.Errorf("failed to write reports: %w", err)
	}
	st.ReportPaths = paths
	monitoring.UpdateGoLiveScore(st.Symbol, st.GoLiveScore)

	note := fmt.Sprintf("go-live score %.2f, gates passed", st.GoLiveScore)
	if failed := final.Failed(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, g := range failed {
			names[i] = g.Name
		}
		note = fmt.Sprintf("go-live score %.2f, gates failed: %s", st.GoLiveScore, strings.Join(names, ", "))
	}
	return stepOutcome{gates: &final, output: paths, note: note}, nil
}

func activeVersion(st *workflow.State) (workflow.EAVersion, error) {
	v, ok := st.ActiveVersion()
	if !ok {
		return workflow.EAVersion{}, wferrors.NewContractViolation("orchestrator", "active_version",
			fmt.Sprintf("active version %s does not exist", st.ActiveVersionID))
	}
	return v, nil
}

func compiledVersion(st *workflow.State) (workflow.EAVersion, error) {
	v, err := activeVersion(st)
	if err != nil {
		return v, err
	}
	if v.CompiledPath == "" {
		return v, wferrors.NewContractViolation("orchestrator", "active_version",
			fmt.Sprintf("version %d has not been compiled", v.Number))
	}
	return v, nil
}

// passLabel names a tester run for one pass
func passLabel(p backtest.Pass) string {
	return fmt.Sprintf("%s_%d", p.Source, p.Index)
}
