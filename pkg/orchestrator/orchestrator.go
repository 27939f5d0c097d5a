package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/gates"
	"github.com/ducminhle1904/ea-stress/internal/monitoring"
	"github.com/ducminhle1904/ea-stress/internal/montecarlo"
	"github.com/ducminhle1904/ea-stress/internal/proposal"
	"github.com/ducminhle1904/ea-stress/internal/recovery"
	"github.com/ducminhle1904/ea-stress/internal/stats"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
	"github.com/ducminhle1904/ea-stress/pkg/config"
)

// Dependencies are the collaborators a workflow run talks to. Children,
// Leaderboard, Health, Retry and Clock are optional.
type Dependencies struct {
	Toolchain   Toolchain
	Advisor     Advisor
	Patches     PatchApplier
	Reporter    Reporter
	Resolver    ConfigResolver
	Store       Store
	Children    ChildLauncher
	Leaderboard Leaderboard
	Health      *monitoring.HealthChecker
	Retry       *recovery.RecoveryHandler
	Clock       func() time.Time
}

// StartRequest names the EA and instrument of a new workflow
type StartRequest struct {
	EAName     string
	SourcePath string
	Symbol     string
	Timeframe  string
	ParentID   string
}

// WorkflowOrchestrator drives workflows through the step table. Every step
// runs on a copy of the state; the copy is committed and persisted only when
// the step returns, so a cancelled run leaves the stored document untouched.
type WorkflowOrchestrator struct {
	settings  config.Settings
	deps      Dependencies
	explorer  *stats.Explorer
	simulator *montecarlo.Simulator
	recovery  *recovery.RecoveryHandler
	logger    zerolog.Logger
	steps     []step
}

// NewOrchestrator creates an orchestrator. Missing required collaborators
// are reported together.
func NewOrchestrator(settings config.Settings, deps Dependencies, logger zerolog.Logger) (*WorkflowOrchestrator, error) {
	var missing []string
	if deps.Toolchain == nil {
		missing = append(missing, "toolchain")
	}
	if deps.Advisor == nil {
		missing = append(missing, "advisor")
	}
	if deps.Patches == nil {
		missing = append(missing, "patch applier")
	}
	if deps.Reporter == nil {
		missing = append(missing, "reporter")
	}
	if deps.Resolver == nil {
		missing = append(missing, "config resolver")
	}
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator is missing collaborators: %s", strings.Join(missing, ", "))
	}

	explorer, err := stats.NewExplorer(settings.Stats)
	if err != nil {
		return nil, fmt.Errorf("failed to create stat explorer: %w", err)
	}

	logger = logger.With().Str("component", "orchestrator").Logger()
	o := &WorkflowOrchestrator{
		settings:  settings,
		deps:      deps,
		explorer:  explorer,
		simulator: montecarlo.NewSimulator(settings.MonteCarlo.Workers, logger),
		recovery:  deps.Retry,
		logger:    logger,
	}
	if o.recovery == nil {
		o.recovery = recovery.NewRecoveryHandler(recovery.DefaultRetryConfig(), logger)
	}
	if o.deps.Children == nil {
		o.deps.Children = NewLocalLauncher(o)
	}
	o.steps = o.stepTable()
	return o, nil
}

// Settings returns the settings the orchestrator was built with
func (o *WorkflowOrchestrator) Settings() config.Settings {
	return o.settings
}

// Start creates and persists a new workflow, then runs it until it pauses,
// fails or completes
func (o *WorkflowOrchestrator) Start(ctx context.Context, req StartRequest) (workflow.State, error) {
	st, err := o.Create(req)
	if err != nil {
		return st, err
	}
	return o.Run(ctx, st.ID)
}

// Create validates the request and persists a PENDING workflow without
// running it
func (o *WorkflowOrchestrator) Create(req StartRequest) (workflow.State, error) {
	st, err := o.create(req)
	if err != nil {
		return workflow.State{}, err
	}
	if err := o.deps.Store.Save(st); err != nil {
		o.markStore(false)
		return st, fmt.Errorf("failed to persist new workflow: %w", err)
	}
	monitoring.RecordTransition(string(st.Status))
	o.logger.Info().
		Str("workflow_id", st.ID).
		Str("ea", st.EAName).
		Str("symbol", st.Symbol).
		Str("timeframe", st.Timeframe).
		Msg("Workflow created")
	return st, nil
}

func (o *WorkflowOrchestrator) create(req StartRequest) (workflow.State, error) {
	var missing []string
	if strings.TrimSpace(req.EAName) == "" {
		missing = append(missing, "ea name")
	}
	if strings.TrimSpace(req.SourcePath) == "" {
		missing = append(missing, "source path")
	}
	if strings.TrimSpace(req.Symbol) == "" {
		missing = append(missing, "symbol")
	}
	if strings.TrimSpace(req.Timeframe) == "" {
		missing = append(missing, "timeframe")
	}
	if len(missing) > 0 {
		return workflow.State{}, wferrors.NewContractViolation("orchestrator", "start",
			"missing "+strings.Join(missing, ", "))
	}

	st := workflow.New(req.EAName, req.SourcePath, req.Symbol, req.Timeframe, o.now())
	st.ParentID = req.ParentID
	return st, nil
}

// Run continues a stored workflow. A paused or finished workflow is returned
// as stored. The workflow is held exclusively until the run returns.
func (o *WorkflowOrchestrator) Run(ctx context.Context, id string) (workflow.State, error) {
	release, err := o.acquire(id)
	if err != nil {
		return workflow.State{}, err
	}
	defer release()

	st, err := o.deps.Store.Load(id)
	if err != nil {
		return workflow.State{}, err
	}
	switch {
	case st.Status == workflow.StatusPending:
		if err := st.SetStatus(workflow.StatusInProgress); err != nil {
			return st, err
		}
		monitoring.RecordTransition(string(st.Status))
	case st.Status != workflow.StatusInProgress:
		o.logger.Info().
			Str("workflow_id", id).
			Str("status", string(st.Status)).
			Msg("Workflow is not runnable")
		return st, nil
	}
	return o.execute(ctx, st)
}

// ApplyResume applies a resume payload to a stored workflow and persists the
// result without running any step. A rejected payload leaves the stored
// workflow unchanged.
func (o *WorkflowOrchestrator) ApplyResume(id string, p workflow.Payload) (workflow.State, error) {
	release, err := o.acquire(id)
	if err != nil {
		return workflow.State{}, err
	}
	defer release()
	return o.applyResume(id, p)
}

// Resume applies a payload and continues the run under one hold of the
// workflow
func (o *WorkflowOrchestrator) Resume(ctx context.Context, id string, p workflow.Payload) (workflow.State, error) {
	release, err := o.acquire(id)
	if err != nil {
		return workflow.State{}, err
	}
	defer release()

	st, err := o.applyResume(id, p)
	if err != nil {
		return st, err
	}
	return o.execute(ctx, st)
}

func (o *WorkflowOrchestrator) acquire(id string) (func(), error) {
	release, err := o.deps.Store.Acquire(id)
	if err != nil {
		o.logger.Warn().Err(err).Str("workflow_id", id).Msg("Workflow is held by another run")
		return nil, err
	}
	return release, nil
}

func (o *WorkflowOrchestrator) applyResume(id string, p workflow.Payload) (workflow.State, error) {
	cur, err := o.deps.Store.Load(id)
	if err != nil {
		return workflow.State{}, err
	}
	opts := workflow.ResumeOptions{
		MaxRefinementCycles: o.settings.Advisor.MaxRefinementCycles,
		Now:                 o.now(),
	}
	if review, ok := p.(workflow.Review); ok && cur.Status == review.Awaits() {
		if p, err = o.storeReviewArtifacts(cur, review); err != nil {
			o.recordError(err)
			return cur, err
		}
	}
	next, err := workflow.Resume(cur, p, opts)
	if err != nil {
		o.recordError(err)
		return cur, err
	}
	if err := o.deps.Store.Save(next); err != nil {
		o.markStore(false)
		return cur, fmt.Errorf("failed to persist resumed workflow: %w", err)
	}
	monitoring.RecordTransition(string(next.Status))
	o.logger.Info().
		Str("workflow_id", id).
		Str("payload", kindOf(p)).
		Msg("Workflow resumed")
	return next, nil
}

// storeReviewArtifacts writes a reviewer-supplied proposal and feedback next
// to the advisor documents, so the state only keeps their paths
func (o *WorkflowOrchestrator) storeReviewArtifacts(st workflow.State, r workflow.Review) (workflow.Review, error) {
	cycle := st.Advisor.RefinementCycles
	if len(r.Proposal) > 0 {
		if _, err := proposal.ParseProposal(r.Proposal); err != nil {
			return r, err
		}
		path, err := o.deps.Advisor.SaveArtifact(st.ID, proposalArtifact(cycle, "review"), r.Proposal)
		if err != nil {
			return r, fmt.Errorf("failed to store reviewed proposal: %w", err)
		}
		r.ProposalPath = path
	}
	if r.Feedback != "" && r.Decision == workflow.DecisionFollowUp {
		path, err := o.deps.Advisor.SaveArtifact(st.ID, feedbackArtifact(cycle), []byte(r.Feedback))
		if err != nil {
			return r, fmt.Errorf("failed to store review feedback: %w", err)
		}
		r.FeedbackPath = path
	}
	return r, nil
}

func kindOf(p workflow.Payload) string {
	if p == nil {
		return "nil"
	}
	return p.Kind()
}

// step is one entry of the step table
type step struct {
	name string
	run  func(ctx context.Context, st *workflow.State) (stepOutcome, error)
}

// stepOutcome is what a step hands back besides an error. A non-empty await
// pauses the workflow with the record left unpassed.
type stepOutcome struct {
	gates   *gates.Summary
	output  interface{}
	note    string
	skipped bool
	await   workflow.Status
}

func skip(reason string) stepOutcome {
	return stepOutcome{skipped: true, note: reason}
}

func pause(status workflow.Status, note string, output interface{}) stepOutcome {
	return stepOutcome{await: status, note: note, output: output}
}

// execute runs the step table from the first step that still has work
func (o *WorkflowOrchestrator) execute(ctx context.Context, st workflow.State) (workflow.State, error) {
	logger := o.logger.With().Str("workflow_id", st.ID).Str("symbol", st.Symbol).Logger()

	for _, s := range o.steps {
		if st.Status != workflow.StatusInProgress {
			break
		}
		if rec, ok := st.Step(s.name); ok && rec.Done() && workflow.PolicyFor(s.name) == workflow.PolicyShortCircuit {
			logger.Debug().Str("step", s.name).Msg("Reusing recorded step")
			continue
		}

		if st.CurrentStep != s.name {
			st.CurrentStep = s.name
			if err := o.deps.Store.Save(st); err != nil {
				o.markStore(false)
				return st, fmt.Errorf("failed to persist workflow before %s: %w", s.name, err)
			}
		}

		work, err := st.Clone()
		if err != nil {
			return st, err
		}

		started := o.now()
		logger.Info().Str("step", s.name).Msg("Step started")
		out, runErr := s.run(ctx, &work)
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Warn().Str("step", s.name).Msg("Workflow cancelled; step discarded")
			return st, ctxErr
		}
		finished := o.now()

		rec := workflow.StepRecord{
			Name:       s.name,
			StartedAt:  started,
			FinishedAt: finished,
			Gates:      out.gates,
			Note:       out.note,
			Skipped:    out.skipped,
		}
		if out.output != nil {
			raw, err := json.Marshal(out.output)
			if err != nil {
				return st, fmt.Errorf("failed to encode %s output: %w", s.name, err)
			}
			rec.Output = raw
		}

		outcome := "passed"
		var stepErr error
		switch {
		case runErr != nil:
			outcome = "failed"
			rec.Error = runErr.Error()
			work.RecordStep(rec)
			stepErr = o.handleFailure(&work, s.name, out, runErr)
		case out.await != "":
			outcome = "paused"
			work.RecordStep(rec)
			work.Status = out.await
		default:
			if out.skipped {
				outcome = "skipped"
			}
			rec.Passed = !out.skipped
			work.RecordStep(rec)
		}
		work.Touch(finished)

		if err := o.deps.Store.Save(work); err != nil {
			o.markStore(false)
			return st, fmt.Errorf("failed to persist workflow after %s: %w", s.name, err)
		}
		o.markStore(true)
		st = work

		elapsed := finished.Sub(started)
		monitoring.RecordStep(s.name, outcome, elapsed)
		if out.gates != nil {
			for _, g := range out.gates.Results {
				monitoring.RecordGate(g.Name, g.Passed)
			}
		}
		if o.deps.Health != nil {
			o.deps.Health.MarkStep(s.name)
		}

		event := logger.Info()
		if runErr != nil {
			event = logger.Warn().Err(runErr)
		}
		event.Str("step", s.name).
			Str("outcome", outcome).
			Dur("elapsed", elapsed).
			Str("status", string(st.Status)).
			Msg("Step finished")

		if st.Status != workflow.StatusInProgress {
			monitoring.RecordTransition(string(st.Status))
		}
		if stepErr != nil {
			return st, stepErr
		}
	}

	if st.Status != workflow.StatusInProgress {
		return st, nil
	}
	return o.complete(ctx, st)
}

// complete marks a workflow whose steps all finished as COMPLETED
func (o *WorkflowOrchestrator) complete(ctx context.Context, st workflow.State) (workflow.State, error) {
	done, err := st.Clone()
	if err != nil {
		return st, err
	}
	if err := done.SetStatus(workflow.StatusCompleted); err != nil {
		return st, err
	}
	done.Touch(o.now())
	if err := o.deps.Store.Save(done); err != nil {
		return st, fmt.Errorf("failed to persist completed workflow: %w", err)
	}
	monitoring.RecordTransition(string(done.Status))

	if o.deps.Leaderboard != nil {
		if err := o.deps.Leaderboard.Record(ctx, done); err != nil {
			o.logger.Warn().Err(err).Str("workflow_id", done.ID).Msg("Failed to record leaderboard entry")
		}
	}

	o.logger.Info().
		Str("workflow_id", done.ID).
		Float64("go_live_score", done.GoLiveScore).
		Strs("reports", done.ReportPaths).
		Msg("Workflow completed")
	return done, nil
}

// handleFailure maps a step error onto the workflow status. It returns the
// error only when the workflow failed; a pause keeps it in State.Error.
func (o *WorkflowOrchestrator) handleFailure(st *workflow.State, name string, out stepOutcome, err error) error {
	o.recordError(err)
	category, _ := wferrors.CategoryOf(err)

	switch {
	case category == wferrors.ErrorCategoryConfiguration:
		st.Status = workflow.StatusAwaitingConfig
		st.Error = err.Error()
		return nil

	case category == wferrors.ErrorCategoryValidation && workflow.IsFixStep(name):
		st.FixAttempts++
		if out.gates != nil {
			st.LastDiagnosis = gates.DiagnoseAll(*out.gates)
		}
		limit := o.settings.Workflow.MaxFixAttempts
		if st.FixAttempts >= limit {
			st.Fail(fmt.Errorf("fix attempts exhausted (%d of %d): %w", st.FixAttempts, limit, err))
			return err
		}
		st.Status = workflow.StatusAwaitingEAFix
		st.Error = err.Error()
		return nil

	case category == wferrors.ErrorCategorySchema && name == workflow.StepReview:
		st.Patch = workflow.PatchState{Phase: workflow.PatchPendingReview, Reason: err.Error()}
		st.Advisor.Decision = ""
		st.Status = workflow.StatusAwaitingPatchReview
		st.Error = err.Error()
		return nil
	}

	st.Fail(err)
	return err
}

func (o *WorkflowOrchestrator) recordError(err error) {
	category, ok := wferrors.CategoryOf(err)
	if !ok {
		category = "UNCATEGORIZED"
	}
	monitoring.RecordError(string(category))
	if o.deps.Health != nil {
		o.deps.Health.AddError(err.Error())
	}
}

func (o *WorkflowOrchestrator) markStore(ok bool) {
	if o.deps.Health != nil {
		o.deps.Health.SetStoreOK(ok)
	}
}

// call runs a toolchain operation under the retry policy
func (o *WorkflowOrchestrator) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return o.recovery.ExecuteWithRecovery(ctx, "toolchain", operation, fn)
}

func (o *WorkflowOrchestrator) now() time.Time {
	if o.deps.Clock != nil {
		return o.deps.Clock().UTC()
	}
	return time.Now().UTC()
}

// randomSource seeds the Monte Carlo generator from the workflow id, so a
// re-run of the same workflow draws the same trials
func randomSource(workflowID string) rand.Source {
	h := fnv.New64a()
	h.Write([]byte(workflowID))
	seed := h.Sum64()
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}
