package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ducminhle1904/ea-stress/internal/workflow"
	"github.com/ducminhle1904/ea-stress/pkg/config"
)

// maxParallelSymbols bounds concurrent child workflows or symbol backtests
const maxParallelSymbols = 4

// LocalLauncher runs child workflows in this process through the same
// orchestrator. A child inherits the parent's terminal configuration and
// parameter analysis, so it starts without pausing for them.
type LocalLauncher struct {
	orchestrator *WorkflowOrchestrator
}

// NewLocalLauncher creates a launcher bound to an orchestrator
func NewLocalLauncher(o *WorkflowOrchestrator) *LocalLauncher {
	return &LocalLauncher{orchestrator: o}
}

// Launch creates, persists and runs the child workflow for symbol
func (l *LocalLauncher) Launch(ctx context.Context, parent workflow.State, symbol string) (workflow.Child, error) {
	o := l.orchestrator
	active, err := activeVersion(&parent)
	if err != nil {
		return workflow.Child{Symbol: symbol}, err
	}

	child, err := o.create(StartRequest{
		EAName:     parent.EAName,
		SourcePath: active.SourcePath,
		Symbol:     symbol,
		Timeframe:  parent.Timeframe,
		ParentID:   parent.ID,
	})
	if err != nil {
		return workflow.Child{Symbol: symbol}, err
	}
	inherit(&child, parent)

	if err := o.deps.Store.Save(child); err != nil {
		return workflow.Child{Symbol: symbol, WorkflowID: child.ID}, fmt.Errorf("failed to persist child workflow: %w", err)
	}
	o.logger.Info().
		Str("workflow_id", child.ID).
		Str("parent_id", parent.ID).
		Str("symbol", symbol).
		Msg("Child workflow started")

	final, runErr := o.Run(ctx, child.ID)
	out := workflow.Child{Symbol: symbol, WorkflowID: child.ID, Status: final.Status}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	return out, nil
}

func inherit(child *workflow.State, parent workflow.State) {
	if parent.Config != nil {
		cfg := *parent.Config
		child.Config = &cfg
	}
	if parent.Analysis == nil {
		return
	}
	analysis := *parent.Analysis
	child.Analysis = &analysis
	child.Pass1Ranges = append(child.Pass1Ranges[:0], parent.Pass1Ranges...)
	child.RecordStep(workflow.StepRecord{
		Name:       workflow.StepAnalyze,
		Passed:     true,
		StartedAt:  child.CreatedAt,
		FinishedAt: child.CreatedAt,
		Note:       "inherited from " + parent.ID,
	})
}

// multiPairStep fans the best parameters out to other symbols. External mode
// starts one independent workflow per symbol; internal mode runs a single
// backtest of the best parameters per symbol. One symbol's failure never
// stops the others.
func (o *WorkflowOrchestrator) multiPairStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	if st.ParentID != "" {
		return skip("child workflow"), nil
	}
	if !o.settings.Automation.AutoRunMultiPair {
		return skip("multi-pair disabled"), nil
	}
	symbols := otherSymbols(st.Symbol, o.settings.Automation.MultiPairSymbols)
	if len(symbols) == 0 {
		return skip("no other symbols configured"), nil
	}

	parent, err := st.Clone()
	if err != nil {
		return stepOutcome{}, err
	}

	children := make([]workflow.Child, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSymbols)
	mode := o.settings.Automation.MultiPairMode
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			var child workflow.Child
			if mode == config.MultiPairModeInternal {
				child = o.backtestSymbol(gctx, &parent, symbol)
			} else {
				c, err := o.deps.Children.Launch(gctx, parent, symbol)
				if err != nil {
					c.Symbol = symbol
					c.Error = err.Error()
				}
				child = c
			}
			children[i] = child
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return stepOutcome{}, err
	}
	st.Children = children

	failed := 0
	for _, c := range children {
		if c.Error != "" || c.Status == workflow.StatusFailed {
			failed++
		}
	}
	return stepOutcome{
		output: children,
		note:   fmt.Sprintf("%s mode: %d symbols, %d failed", mode, len(children), failed),
	}, nil
}

// backtestSymbol runs the best parameters on another symbol over the same window
func (o *WorkflowOrchestrator) backtestSymbol(ctx context.Context, st *workflow.State, symbol string) workflow.Child {
	out := workflow.Child{Symbol: symbol}
	if st.Best == nil {
		out.Status = workflow.StatusFailed
		out.Error = "no best candidate"
		return out
	}
	v, err := compiledVersion(st)
	if err != nil {
		out.Status = workflow.StatusFailed
		out.Error = err.Error()
		return out
	}

	req := o.backtestRequest(st, "multi_pair_"+symbol, v.CompiledPath, st.Best.Pass.Params)
	req.Symbol = symbol
	result, err := o.backtest(ctx, req)
	if err != nil {
		out.Status = workflow.StatusFailed
		out.Error = err.Error()
		return out
	}
	m := result.Metrics
	out.Metrics = &m
	out.Status = workflow.StatusCompleted
	return out
}

// otherSymbols returns the configured symbols except self, deduplicated
func otherSymbols(self string, symbols []string) []string {
	seen := map[string]bool{strings.ToUpper(self): true}
	var out []string
	for _, s := range symbols {
		key := strings.ToUpper(strings.TrimSpace(s))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(s))
	}
	return out
}
