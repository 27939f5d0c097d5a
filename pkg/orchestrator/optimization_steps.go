package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/gates"
	"github.com/ducminhle1904/ea-stress/internal/scoring"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
	"github.com/ducminhle1904/ea-stress/pkg/optimization"
)

func (o *WorkflowOrchestrator) optimizePass1Step(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	plan, err := o.plan(st, optimization.Pass1, st.Pass1Ranges)
	if err != nil {
		return stepOutcome{}, err
	}
	return o.runOptimization(ctx, st, plan)
}

func (o *WorkflowOrchestrator) optimizePass2Step(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	ranges, ignored := optimization.ApplyRefinements(st.Pass1Ranges, st.Advisor.Refinements)
	for _, name := range ignored {
		st.Warn("range refinement for unknown parameter %s ignored", name)
	}
	st.Pass2Ranges = ranges

	plan, err := o.plan(st, optimization.Pass2, ranges)
	if err != nil {
		return stepOutcome{}, err
	}
	return o.runOptimization(ctx, st, plan)
}

// runOptimization sends a plan to the tester against the active version.
// The raw pass lists become the step output so the parse step can be
// recomputed without calling the tester again.
func (o *WorkflowOrchestrator) runOptimization(ctx context.Context, st *workflow.State, plan optimization.Plan) (stepOutcome, error) {
	v, err := compiledVersion(st)
	if err != nil {
		return stepOutcome{}, err
	}

	req := OptimizeRequest{WorkflowID: st.ID, ExpertPath: v.CompiledPath, Plan: plan}
	var res OptimizeResult
	err = o.call(ctx, "optimize", func(ctx context.Context) error {
		r, err := o.deps.Toolchain.Optimize(ctx, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return stepOutcome{}, err
	}

	return stepOutcome{
		output: res,
		note: fmt.Sprintf("pass %d on version %d: %d back, %d forward passes",
			plan.Pass, v.Number, len(res.Back), len(res.Forward)),
	}, nil
}

func (o *WorkflowOrchestrator) parsePass1Step(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	passes, summary, err := o.parsePasses(st, workflow.StepOptimize, backtest.SourcePass1)
	if err != nil {
		return stepOutcome{gates: summary}, err
	}
	st.Pass1 = passes
	return stepOutcome{gates: summary, note: passNote(passes)}, nil
}

func (o *WorkflowOrchestrator) parsePass2Step(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	passes, summary, err := o.parsePasses(st, workflow.StepOptimizePass2, backtest.SourcePass2)
	if err != nil {
		return stepOutcome{gates: summary}, err
	}
	st.Pass2 = passes
	return stepOutcome{gates: summary, note: passNote(passes)}, nil
}

// parsePasses merges, filters and ranks the passes recorded by an optimize step
func (o *WorkflowOrchestrator) parsePasses(st *workflow.State, from string, source backtest.PassSource) ([]backtest.Pass, *gates.Summary, error) {
	rec, ok := st.Step(from)
	if !ok || !rec.Passed || len(rec.Output) == 0 {
		return nil, nil, wferrors.NewDataIntegrityError("orchestrator", "parse",
			fmt.Sprintf("no %s output to parse", from))
	}
	var res OptimizeResult
	if err := json.Unmarshal(rec.Output, &res); err != nil {
		return nil, nil, wferrors.WrapError(err, wferrors.ErrorCategoryDataIntegrity, "orchestrator", "parse")
	}

	merged := backtest.MergeForward(
		backtest.WithSource(res.Back, source),
		backtest.WithSource(res.Forward, source),
	)
	passes := backtest.FilterPasses(merged, o.settings.Gates.OnTesterMinTrades, o.settings.Automation.MaxOptimizationPasses)

	summary := gates.EvaluateAll(gates.PassesChecks(len(passes)))
	if !summary.AllPassed {
		return nil, &summary, wferrors.NewDataIntegrityError("orchestrator", "parse",
			fmt.Sprintf("%s produced no passes with at least %d trades", from, o.settings.Gates.OnTesterMinTrades))
	}
	return passes, &summary, nil
}

func passNote(passes []backtest.Pass) string {
	split := 0
	for _, p := range passes {
		if p.HasForwardSplit() {
			split++
		}
	}
	return fmt.Sprintf("%d passes, %d with forward split", len(passes), split)
}

// statsOutput caches the top pass trades so a recomputed stats step does not
// call the tester again
type statsOutput struct {
	ParamKey string           `json:"param_key,omitempty"`
	Trades   []backtest.Trade `json:"trades,omitempty"`
}

func (o *WorkflowOrchestrator) statsStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	var cached statsOutput
	var trades []backtest.Trade

	if len(st.Pass1) > 0 {
		top := st.Pass1[0]
		key := backtest.ParamKey(top.Params)
		if rec, ok := st.Step(workflow.StepStats); ok && len(rec.Output) > 0 {
			if err := json.Unmarshal(rec.Output, &cached); err != nil {
				cached = statsOutput{}
			}
		}

		if cached.ParamKey == key {
			trades = cached.Trades
		} else {
			cached = statsOutput{}
			v, err := compiledVersion(st)
			if err != nil {
				return stepOutcome{}, err
			}
			result, err := o.backtest(ctx, o.backtestRequest(st, "stats_"+passLabel(top), v.CompiledPath, top.Params))
			switch {
			case err != nil && ctx.Err() != nil:
				return stepOutcome{}, ctx.Err()
			case err != nil:
				st.Warn("stat pack built without trades: %v", err)
			default:
				trades = result.Trades
				cached = statsOutput{ParamKey: key, Trades: trades}
			}
		}
	}

	pack := o.explorer.Build(trades, st.Pass1, st.UsageMap)
	st.StatPack = &pack
	return stepOutcome{
		output: cached,
		note:   fmt.Sprintf("%d trades, %d effects flagged", len(trades), len(pack.Effects)),
	}, nil
}

func (o *WorkflowOrchestrator) selectStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	pool := append([]backtest.Pass(nil), st.Pass2...)
	if o.settings.Automation.Pass1CompareEnabled {
		pool = append(pool, backtest.TopN(st.Pass1, o.settings.Automation.Pass1CompareTopN)...)
	}
	st.Pool = pool

	if !o.settings.Automation.AutoStatsAnalysis {
		if validSelection(st.Selected, len(pool)) {
			return stepOutcome{note: fmt.Sprintf("manual selection of %d from %d passes", len(st.Selected), len(pool))}, nil
		}
		st.Selected = nil
		return pause(workflow.StatusAwaitingStatsAnalysis, "awaiting pass selection", nil), nil
	}

	top := scoring.SelectTop(pool, o.settings.Automation.AutoStatsTopN, o.settings.Scoring)
	selected := make([]int, 0, len(top))
	for _, c := range top {
		if i := poolPosition(pool, c.Pass); i >= 0 {
			selected = append(selected, i)
		}
	}
	if len(selected) == 0 {
		return stepOutcome{}, wferrors.NewDataIntegrityError("orchestrator", workflow.StepSelect,
			fmt.Sprintf("none of %d pooled passes has a forward split to score", len(pool)))
	}
	st.Selected = selected
	return stepOutcome{note: fmt.Sprintf("%d of %d passes selected by %s", len(selected), len(pool), o.settings.Scoring.SelectionMode)}, nil
}

func poolPosition(pool []backtest.Pass, p backtest.Pass) int {
	for i, q := range pool {
		if q.Source == p.Source && q.Index == p.Index {
			return i
		}
	}
	return -1
}

func validSelection(selected []int, poolSize int) bool {
	if len(selected) == 0 {
		return false
	}
	for _, i := range selected {
		if i < 0 || i >= poolSize {
			return false
		}
	}
	return true
}
