package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/gates"
	"github.com/ducminhle1904/ea-stress/internal/monitoring"
	"github.com/ducminhle1904/ea-stress/internal/scoring"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
	"github.com/ducminhle1904/ea-stress/pkg/optimization"
	"github.com/ducminhle1904/ea-stress/pkg/validation"
)

// backtestRequest builds a tester run over the workflow's full window. The
// window is anchored on the creation time so every run of a workflow tests
// the same dates.
func (o *WorkflowOrchestrator) backtestRequest(st *workflow.State, label, expert string, params map[string]string) BacktestRequest {
	from, to, forward := optimization.TestWindow(st.CreatedAt, o.settings.Backtest)
	return BacktestRequest{
		WorkflowID:  st.ID,
		Label:       label,
		ExpertPath:  expert,
		Symbol:      st.Symbol,
		Timeframe:   st.Timeframe,
		Params:      params,
		FromDate:    from,
		ToDate:      to,
		ForwardDate: forward,
		Deposit:     o.settings.Backtest.Deposit,
		Currency:    o.settings.Backtest.Currency,
		Leverage:    o.settings.Backtest.Leverage,
	}
}

// backtest runs one tester request under the retry policy
func (o *WorkflowOrchestrator) backtest(ctx context.Context, req BacktestRequest) (*backtest.Result, error) {
	var result *backtest.Result
	err := o.call(ctx, "backtest", func(ctx context.Context) error {
		r, err := o.deps.Toolchain.Backtest(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, wferrors.NewDataIntegrityError("orchestrator", "backtest",
			fmt.Sprintf("backtest %s returned no result", req.Label))
	}
	return result, nil
}

// backtestStep runs a full backtest for each selected pass, scores it and
// picks the best candidate
func (o *WorkflowOrchestrator) backtestStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	if len(st.Selected) == 0 {
		return stepOutcome{}, wferrors.NewDataIntegrityError("orchestrator", workflow.StepBacktest, "no passes selected")
	}
	v, err := compiledVersion(st)
	if err != nil {
		return stepOutcome{}, err
	}

	selected := st.Selected
	if limit := o.settings.Automation.TopPassesBacktest; limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}

	candidates := make([]workflow.Candidate, 0, len(selected))
	var ranked []scoring.Candidate
	for _, pos := range selected {
		if pos < 0 || pos >= len(st.Pool) {
			return stepOutcome{}, wferrors.NewContractViolation("orchestrator", workflow.StepBacktest,
				fmt.Sprintf("selected position %d is outside a pool of %d", pos, len(st.Pool)))
		}
		p := st.Pool[pos]
		cand := workflow.Candidate{Pass: p}

		result, err := o.backtest(ctx, o.backtestRequest(st, "candidate_"+passLabel(p), v.CompiledPath, p.Params))
		if err != nil {
			if ctx.Err() != nil {
				return stepOutcome{}, ctx.Err()
			}
			o.logger.Warn().Err(err).Str("workflow_id", st.ID).Str("pass", passLabel(p)).Msg("Candidate backtest failed")
			cand.Error = err.Error()
			candidates = append(candidates, cand)
			continue
		}
		if !result.HasForwardSplit() {
			split := gates.EvaluateAll(gates.ForwardSplitChecks(false))
			return stepOutcome{gates: &split}, wferrors.NewDataIntegrityError("orchestrator", workflow.StepBacktest,
				fmt.Sprintf("candidate %s backtest reported no forward period", passLabel(p)))
		}
		cand.Result = result

		score, err := scoring.Score(scoring.FromResult(result), o.settings.Scoring.Weights, o.settings.Scoring.Ranges)
		if err != nil {
			cand.Error = err.Error()
		} else {
			cand.Score = &score
			ranked = append(ranked, scoring.Candidate{Pass: resultPass(p, result), Score: score})
		}
		candidates = append(candidates, cand)
	}

	if len(ranked) == 0 {
		return stepOutcome{}, wferrors.NewDataIntegrityError("orchestrator", workflow.StepBacktest,
			fmt.Sprintf("none of %d candidate backtests could be scored", len(candidates)))
	}
	top := scoring.Rank(ranked, o.settings.Scoring.SelectionMode)[0]

	// only the best candidate keeps its trade list
	for i := range candidates {
		c := &candidates[i]
		if c.Pass.Source == top.Pass.Source && c.Pass.Index == top.Pass.Index && c.Result != nil {
			best := *c
			st.Best = &best
			continue
		}
		if c.Result != nil {
			trimmed := *c.Result
			trimmed.Trades = nil
			c.Result = &trimmed
		}
	}
	st.Candidates = candidates

	split := gates.EvaluateAll(gates.ForwardSplitChecks(true))
	return stepOutcome{
		gates: &split,
		note: fmt.Sprintf("%d candidates, best %s scored %.2f",
			len(candidates), passLabel(st.Best.Pass), st.Best.Score.Total),
	}, nil
}

// resultPass carries a candidate's backtest figures into its pass for ranking
func resultPass(p backtest.Pass, r *backtest.Result) backtest.Pass {
	p.Metrics = r.Metrics
	p.Back = r.Back
	p.Forward = r.Forward
	return p
}

func (o *WorkflowOrchestrator) monteCarloStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	if st.Best == nil || st.Best.Result == nil {
		return stepOutcome{}, wferrors.NewDataIntegrityError("orchestrator", workflow.StepMonteCarlo, "no best candidate")
	}
	mc := o.settings.MonteCarlo
	res, err := o.simulator.Simulate(ctx, st.Best.Result.Trades, mc.Iterations, o.settings.Backtest.Deposit, mc.RuinFraction(), randomSource(st.ID))
	if err != nil {
		return stepOutcome{}, fmt.Errorf("failed to run Monte Carlo simulation: %w", err)
	}
	st.MonteCarlo = &res
	monitoring.UpdateMonteCarloConfidence(st.Symbol, res.Confidence)

	summary := gates.EvaluateAll(gates.MonteCarloChecks(res.Confidence, res.RuinProbability, o.settings.Gates))
	note := fmt.Sprintf("confidence %.1f%%, ruin %.1f%% over %d trials", res.Confidence, res.RuinProbability, res.Iterations)
	if res.Insufficient {
		note = fmt.Sprintf("insufficient trades (%d) to resample", res.Trades)
	}
	return stepOutcome{gates: &summary, note: note}, nil
}

// stressStep reruns the best parameters under each stress scenario. A
// scenario that fails is recorded and the others still run.
func (o *WorkflowOrchestrator) stressStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	if !o.settings.Automation.AutoRunStressScenarios {
		return skip("stress scenarios disabled"), nil
	}
	if st.Best == nil {
		return stepOutcome{}, wferrors.NewDataIntegrityError("orchestrator", workflow.StepStress, "no best candidate")
	}
	v, err := compiledVersion(st)
	if err != nil {
		return stepOutcome{}, err
	}

	scenarios := validation.Scenarios(o.settings.Stress)
	results := make([]validation.ScenarioResult, 0, len(scenarios))
	failed := 0
	for _, sc := range scenarios {
		req := o.backtestRequest(st, "stress_"+sc.Name, v.CompiledPath, st.Best.Pass.Params)
		switch sc.Kind {
		case validation.ScenarioRolling:
			req.FromDate = req.ToDate.AddDate(0, 0, -sc.Days)
			req.ForwardDate = time.Time{}
		case validation.ScenarioSpread:
			req.SpreadPips = sc.SpreadPips
		case validation.ScenarioSlippage:
			req.SlippagePips = sc.SlippagePips
		}

		r := validation.ScenarioResult{Scenario: sc}
		result, err := o.backtest(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return stepOutcome{}, ctx.Err()
			}
			failed++
			r.Error = err.Error()
		} else {
			m := result.Metrics
			r.Metrics = &m
		}
		results = append(results, r)
	}
	st.Stress = results
	return stepOutcome{note: fmt.Sprintf("%d scenarios, %d failed", len(results), failed)}, nil
}

func (o *WorkflowOrchestrator) forwardWindowsStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	if !o.settings.Automation.AutoRunForwardWindows {
		return skip("forward windows disabled"), nil
	}
	if st.Best == nil || st.Best.Result == nil {
		return stepOutcome{}, wferrors.NewDataIntegrityError("orchestrator", workflow.StepForwardWindows, "no best candidate")
	}

	_, end, forward := optimization.TestWindow(st.CreatedAt, o.settings.Backtest)
	if st.Best.Result.ForwardDate != nil {
		forward = *st.Best.Result.ForwardDate
	}
	windows := validation.ForwardWindows(st.Best.Result.Trades, forward, end,
		o.settings.Stress.RollingDays, o.settings.Stress.CalendarMonthsAgo, o.settings.Backtest.Deposit)
	st.ForwardWindows = windows

	losing := 0
	for _, w := range windows {
		if w.Metrics.Profit < 0 {
			losing++
		}
	}
	return stepOutcome{note: fmt.Sprintf("%d windows, %d losing", len(windows), losing)}, nil
}
