package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/gates"
	"github.com/ducminhle1904/ea-stress/internal/proposal"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

const advisorDisabled = "advisor improvement disabled"

func (o *WorkflowOrchestrator) proposalStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	if !o.settings.Advisor.Enabled {
		return skip(advisorDisabled), nil
	}
	v, err := activeVersion(st)
	if err != nil {
		return stepOutcome{}, err
	}

	req := ProposalRequest{
		WorkflowID:    st.ID,
		EAName:        st.EAName,
		SourcePath:    v.SourcePath,
		StatPack:      st.StatPack,
		TopPasses:     backtest.TopN(st.Pass1, o.settings.Automation.AutoStatsTopN),
		Ranges:        st.Pass1Ranges,
		FeedbackPaths: st.Advisor.FeedbackPaths,
		Cycle:         st.Advisor.RefinementCycles,
		AllowNewLogic: o.settings.Advisor.AllowNewLogic,
	}
	var resp AdvisorResponse
	err = o.recovery.ExecuteWithRecovery(ctx, "advisor", "proposal", func(ctx context.Context) error {
		r, err := o.deps.Advisor.RequestProposal(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return stepOutcome{}, err
	}
	st.Advisor.EvidencePath = resp.RequestPath
	st.Advisor.Decision = ""
	st.Advisor.ClearProposal()
	out := advisorOutput{RequestPath: resp.RequestPath, DocumentPath: resp.DocumentPath}

	if len(resp.Document) == 0 {
		st.Patch = workflow.PatchState{Phase: workflow.PatchNone}
		return pause(workflow.StatusAwaitingPatchReview, "awaiting proposal", out), nil
	}
	prop, err := proposal.ParseProposal(resp.Document)
	if err != nil {
		st.Warn("advisor proposal rejected: %v", err)
		st.Patch = workflow.PatchState{Phase: workflow.PatchNone}
		return pause(workflow.StatusAwaitingPatchReview, "proposal failed validation", out), nil
	}

	path := resp.DocumentPath
	if path == "" {
		if path, err = o.deps.Advisor.SaveArtifact(st.ID, proposalArtifact(st.Advisor.RefinementCycles, "advisor"), resp.Document); err != nil {
			return stepOutcome{}, fmt.Errorf("failed to store proposal: %w", err)
		}
		out.DocumentPath = path
	}
	st.Advisor.AdoptProposal(prop, path)
	if prop.HasPatch() {
		st.Patch = workflow.PatchState{Phase: workflow.PatchPendingReview}
	} else {
		st.Patch = workflow.PatchState{Phase: workflow.PatchNone}
	}
	if o.settings.Advisor.ReviewRequired || prop.ReviewRequired {
		return pause(workflow.StatusAwaitingPatchReview, "awaiting review", out), nil
	}

	approveProposal(st)
	return stepOutcome{output: out, note: string(workflow.DecisionApprove) + " (automatic)"}, nil
}

// advisorOutput is the step record of a proposal request: where the evidence
// went and where the answer was found
type advisorOutput struct {
	RequestPath  string `json:"request_path"`
	DocumentPath string `json:"document_path,omitempty"`
}

func proposalArtifact(cycle int, origin string) string {
	return fmt.Sprintf("proposal_%d_%s.json", cycle, origin)
}

func feedbackArtifact(cycle int) string {
	return fmt.Sprintf("feedback_%d.txt", cycle)
}

// approveProposal accepts the stored proposal without a reviewer
func approveProposal(st *workflow.State) {
	st.Advisor.Decision = workflow.DecisionApprove
	st.Advisor.Refinements = st.Advisor.ProposedRefinements
	if st.Advisor.HasPatch() {
		st.Patch = workflow.PatchState{Phase: workflow.PatchApprovedPendingRevalidate}
	} else {
		st.Patch = workflow.PatchState{Phase: workflow.PatchNone}
	}
}

// reviewStep applies an approved patch as a new llm_patch version. The step
// runs on a copy of the state, so a failed or cancelled apply leaves no
// version behind and a second run never appends a second one.
func (o *WorkflowOrchestrator) reviewStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	if !o.settings.Advisor.Enabled {
		return skip(advisorDisabled), nil
	}

	switch st.Patch.Phase {
	case workflow.PatchPendingReview:
		return pause(workflow.StatusAwaitingPatchReview, "awaiting review", nil), nil
	case workflow.PatchApprovedPendingRevalidate:
	default:
		return stepOutcome{note: fmt.Sprintf("decision %s, no patch to apply", decisionOf(st))}, nil
	}
	if st.Patch.VersionID != "" {
		return stepOutcome{note: "patch already applied"}, nil
	}
	if !st.Advisor.HasPatch() {
		return stepOutcome{}, wferrors.NewContractViolation("orchestrator", workflow.StepReview, "approved patch state without a patch")
	}

	active, err := activeVersion(st)
	if err != nil {
		return stepOutcome{}, err
	}
	patch := *st.Advisor.PatchProposal
	versionID := uuid.NewString()
	path, err := o.deps.Patches.Apply(ctx, active.SourcePath, patch, versionID)
	if err != nil {
		return stepOutcome{}, err
	}

	v := st.AppendVersion(workflow.EAVersion{
		ID:         versionID,
		Source:     workflow.VersionLLMPatch,
		SourcePath: path,
		ParentID:   active.ID,
		Approved:   true,
		Note:       patch.Description,
		CreatedAt:  o.now(),
	})
	st.Patch.VersionID = v.ID
	return stepOutcome{output: v, note: fmt.Sprintf("patch applied as version %d", v.Number)}, nil
}

func decisionOf(st *workflow.State) string {
	if st.Advisor.Decision == "" {
		return "none"
	}
	return string(st.Advisor.Decision)
}

// revalidateStep backtests the patched version over the validation window and
// keeps it only when it does not regress against the baseline
func (o *WorkflowOrchestrator) revalidateStep(ctx context.Context, st *workflow.State) (stepOutcome, error) {
	if !o.settings.Advisor.Enabled {
		return skip(advisorDisabled), nil
	}
	if st.Patch.Phase != workflow.PatchApprovedPendingRevalidate {
		return skip("no patch to revalidate"), nil
	}
	if st.Validation == nil || st.Analysis == nil {
		return stepOutcome{}, wferrors.NewContractViolation("orchestrator", workflow.StepRevalidate, "no baseline validation to compare against")
	}
	v, err := activeVersion(st)
	if err != nil {
		return stepOutcome{}, err
	}

	cr, err := o.compile(ctx, v.SourcePath)
	if err != nil {
		return stepOutcome{}, err
	}
	if !cr.Success {
		summary := gates.EvaluateAll(gates.CompileChecks(false))
		return o.revertPatch(st, &summary, "patched version does not compile: "+strings.Join(cr.Errors, "; ")), nil
	}
	st.SetCompiledPath(v.ID, cr.CompiledPath)

	result, err := o.backtest(ctx, o.backtestRequest(st, "revalidation", cr.CompiledPath, st.Analysis.WideParams()))
	if err != nil {
		return stepOutcome{}, err
	}

	summary := gates.EvaluateAll(gates.RegressionChecks(result.Metrics, st.Validation.Metrics, o.settings.Patch))
	if !summary.AllPassed {
		failed := summary.Failed()
		names := make([]string, len(failed))
		for i, g := range failed {
			names[i] = g.Name
		}
		return o.revertPatch(st, &summary, "regression gates failed: "+strings.Join(names, ", ")), nil
	}

	st.Patch.Phase = workflow.PatchActive
	st.Patch.Reason = ""
	return stepOutcome{
		gates:  &summary,
		output: result.Metrics,
		note:   fmt.Sprintf("version %d kept: profit %.2f vs %.2f", v.Number, result.Profit, st.Validation.Profit),
	}, nil
}

// revertPatch reactivates the baseline after a regression. This is not a
// step failure; the run continues with the baseline.
func (o *WorkflowOrchestrator) revertPatch(st *workflow.State, summary *gates.Summary, reason string) stepOutcome {
	o.recordError(wferrors.NewRegressionFailure("orchestrator", workflow.StepRevalidate, reason))

	base, _ := st.RevertToBaseline()
	st.Patch.Phase = workflow.PatchReverted
	st.Patch.Reason = reason
	st.Warn("patch reverted to baseline version %d: %s", base.Number, reason)

	o.logger.Warn().
		Str("workflow_id", st.ID).
		Str("patch_version", st.Patch.VersionID).
		Int("baseline", base.Number).
		Str("reason", reason).
		Msg("Patch reverted")
	return stepOutcome{gates: summary, note: "regression: reverted to baseline"}
}
