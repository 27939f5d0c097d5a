package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/patch"
	"github.com/ducminhle1904/ea-stress/internal/proposal"
	"github.com/ducminhle1904/ea-stress/internal/recovery"
	"github.com/ducminhle1904/ea-stress/internal/state"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
	"github.com/ducminhle1904/ea-stress/pkg/config"
)

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

const analysisDoc = `{
	"wide_validation_params": {"Period": 20, "UseFilter": true},
	"optimization_ranges": [
		{"name": "Period", "optimize": true, "start": 10, "step": 10, "stop": 50},
		{"name": "UseFilter", "optimize": false, "default": 1}
	]
}`

const proposalNoPatch = `{
	"param_actions": [],
	"range_refinements": [{"name": "Period", "start": 20, "step": 10, "stop": 40, "reason": "edge near 30"}],
	"ea_patch": null,
	"expected_impact": ["fewer losing trades"],
	"risks": [],
	"review_required": false
}`

const proposalWithPatch = `{
	"param_actions": [],
	"range_refinements": [],
	"ea_patch": {"description": "skip asia session", "diff": "--- a/Trend.mq5\n+++ b/Trend.mq5\n"},
	"expected_impact": ["fewer losing trades"],
	"risks": ["less trades"],
	"review_required": false
}`

// staleSource is an EA whose OnTick no longer matches conflictDiff
const staleSource = "void OnTick() {\n  TradeV2();\n}\n"

var conflictDiff = strings.Join([]string{
	"diff --git a/Trend.mq5 b/Trend.mq5",
	"--- a/Trend.mq5",
	"+++ b/Trend.mq5",
	"@@ -1,3 +1,3 @@",
	" void OnTick() {",
	"-  Trade();",
	"+  if (Hour() >= 7) Trade();",
	" }",
	"",
}, "\n")

func proposalWithDiff(t *testing.T, diff string) string {
	t.Helper()
	doc, err := json.Marshal(map[string]interface{}{
		"param_actions":     []interface{}{},
		"range_refinements": []interface{}{},
		"ea_patch":          map[string]string{"description": "trade after 07:00", "diff": diff},
		"expected_impact":   []string{"fewer losing trades"},
		"risks":             []string{},
		"review_required":   true,
	})
	require.NoError(t, err)
	return string(doc)
}

// memStore keeps encoded documents so every Load returns a fresh copy
type memStore struct {
	mu   sync.Mutex
	docs map[string][]byte
	held map[string]bool
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte), held: make(map[string]bool)}
}

func (m *memStore) Acquire(id string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[id] {
		return nil, fmt.Errorf("%w: %s", state.ErrLocked, id)
	}
	m.held[id] = true
	return func() {
		m.mu.Lock()
		delete(m.held, id)
		m.mu.Unlock()
	}, nil
}

func (m *memStore) Save(st workflow.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[st.ID] = data
	return nil
}

func (m *memStore) Load(id string) (workflow.State, error) {
	m.mu.Lock()
	data, ok := m.docs[id]
	m.mu.Unlock()
	if !ok {
		return workflow.State{}, fmt.Errorf("workflow %s not found", id)
	}
	var st workflow.State
	err := json.Unmarshal(data, &st)
	return st, err
}

func (m *memStore) raw(id string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.docs[id]...)
}

func (m *memStore) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.docs {
		out = append(out, id)
	}
	return out
}

type fakeToolchain struct {
	mu          sync.Mutex
	compileFail bool
	backtests   []BacktestRequest
	optimizes   int
	metricsFor  func(req BacktestRequest) backtest.Metrics
	onOptimize  func(ctx context.Context) error
}

func (f *fakeToolchain) Compile(ctx context.Context, sourcePath string) (CompileResult, error) {
	if f.compileFail {
		return CompileResult{Success: false, Errors: []string{"'OnTick' - undeclared identifier"}}, nil
	}
	return CompileResult{Success: true, CompiledPath: sourcePath + ".ex5"}, nil
}

func (f *fakeToolchain) ExtractParameters(ctx context.Context, sourcePath string) (ExtractResult, error) {
	return ExtractResult{
		Parameters: []workflow.Parameter{
			{Name: "Period", Type: "int", Default: "20", Optimizable: true},
			{Name: "UseFilter", Type: "bool", Default: "true", Optimizable: true},
		},
		UsageMap: map[string][]string{"Period": {"OnTick"}},
	}, nil
}

func (f *fakeToolchain) Backtest(ctx context.Context, req BacktestRequest) (*backtest.Result, error) {
	f.mu.Lock()
	f.backtests = append(f.backtests, req)
	f.mu.Unlock()

	m := backtest.Metrics{Profit: 1400, ProfitFactor: 2.0, MaxDrawdownPct: 10, TotalTrades: 80, WinRate: 75}
	if f.metricsFor != nil {
		m = f.metricsFor(req)
	}
	r := &backtest.Result{Metrics: m, Trades: fakeTrades(req.FromDate, req.ToDate, 80)}
	if !req.ForwardDate.IsZero() {
		fwd := req.ForwardDate
		back := backtest.Metrics{Profit: m.Profit * 0.7, ProfitFactor: m.ProfitFactor, TotalTrades: m.TotalTrades * 3 / 4}
		forward := backtest.Metrics{Profit: m.Profit * 0.3, ProfitFactor: m.ProfitFactor, TotalTrades: m.TotalTrades / 4}
		r.Back, r.Forward, r.ForwardDate = &back, &forward, &fwd
	}
	return r, nil
}

func (f *fakeToolchain) Optimize(ctx context.Context, req OptimizeRequest) (OptimizeResult, error) {
	if f.onOptimize != nil {
		if err := f.onOptimize(ctx); err != nil {
			return OptimizeResult{}, err
		}
	}
	f.mu.Lock()
	f.optimizes++
	f.mu.Unlock()

	var res OptimizeResult
	for i := 1; i <= 5; i++ {
		params := map[string]string{"Period": strconv.Itoa(10 * i), "UseFilter": "1"}
		res.Back = append(res.Back, backtest.Pass{
			Index:   i,
			Result:  float64(i),
			Metrics: backtest.Metrics{Profit: 300 * float64(i), ProfitFactor: 1.5 + 0.1*float64(i), MaxDrawdownPct: 12, TotalTrades: 60},
			Params:  params,
		})
		res.Forward = append(res.Forward, backtest.Pass{
			Index:   i,
			Result:  float64(i),
			Metrics: backtest.Metrics{Profit: 100 * float64(i), ProfitFactor: 1.4 + 0.1*float64(i), MaxDrawdownPct: 8, TotalTrades: 20},
			Params:  params,
		})
	}
	return res, nil
}

func (f *fakeToolchain) labels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.backtests))
	for i, b := range f.backtests {
		out[i] = b.Label
	}
	return out
}

func fakeTrades(from, to time.Time, n int) []backtest.Trade {
	if !to.After(from) {
		return nil
	}
	step := to.Sub(from) / time.Duration(n+1)
	trades := make([]backtest.Trade, n)
	for i := range trades {
		open := from.Add(time.Duration(i+1) * step)
		profit := 30.0
		if i%4 == 3 {
			profit = -20
		}
		dir := backtest.DirectionLong
		if i%2 == 1 {
			dir = backtest.DirectionShort
		}
		trades[i] = backtest.Trade{Ticket: int64(i + 1), OpenTime: open, CloseTime: open.Add(2 * time.Hour), Direction: dir, Profit: profit}
	}
	return trades
}

type fakeAdvisor struct {
	mu           sync.Mutex
	analysis     string
	proposal     string
	proposalReqs int
	artifacts    map[string][]byte
}

func (a *fakeAdvisor) SaveArtifact(workflowID, name string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.artifacts == nil {
		a.artifacts = make(map[string][]byte)
	}
	path := "analysis/" + workflowID + "/" + name
	a.artifacts[path] = append([]byte(nil), data...)
	return path, nil
}

func (a *fakeAdvisor) RequestParameterAnalysis(ctx context.Context, req AnalysisRequest) (AdvisorResponse, error) {
	resp := AdvisorResponse{RequestPath: "analysis/" + req.WorkflowID + "/param_analysis_request.json"}
	if a.analysis != "" {
		resp.Document = json.RawMessage(a.analysis)
	}
	return resp, nil
}

func (a *fakeAdvisor) RequestProposal(ctx context.Context, req ProposalRequest) (AdvisorResponse, error) {
	a.mu.Lock()
	a.proposalReqs++
	a.mu.Unlock()
	resp := AdvisorResponse{RequestPath: "analysis/" + req.WorkflowID + "/proposal_request.json"}
	if a.proposal != "" {
		resp.Document = json.RawMessage(a.proposal)
	}
	return resp, nil
}

// fakePatches applies diffs to source when it is set
type fakePatches struct {
	mu     sync.Mutex
	calls  int
	source string
}

func (p *fakePatches) Apply(ctx context.Context, sourcePath string, ea proposal.EAPatch, versionID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.source != "" {
		if _, err := patch.ApplyDiff([]byte(p.source), ea.Diff); err != nil {
			return "", err
		}
	}
	return sourcePath + ".patched_" + versionID, nil
}

type fakeReporter struct{}

func (fakeReporter) Report(ctx context.Context, st workflow.State) ([]string, error) {
	return []string{"reports/" + st.ID + ".json"}, nil
}

type fakeResolver struct {
	missing bool
}

func (r fakeResolver) Resolve(ctx context.Context, current *workflow.ConfigResolution) (workflow.ConfigResolution, error) {
	if current != nil && current.TerminalPath != "" {
		return *current, nil
	}
	if r.missing {
		return workflow.ConfigResolution{}, wferrors.NewConfigurationError("resolver", "resolve", "no terminal installation found")
	}
	return workflow.ConfigResolution{TerminalPath: "/terminal/terminal64.exe"}, nil
}

type fakeLeaderboard struct {
	mu      sync.Mutex
	entries []string
}

func (l *fakeLeaderboard) Record(ctx context.Context, st workflow.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, st.ID)
	return nil
}

type harness struct {
	orch        *WorkflowOrchestrator
	store       *memStore
	toolchain   *fakeToolchain
	advisor     *fakeAdvisor
	patches     *fakePatches
	leaderboard *fakeLeaderboard
}

func testSettings() config.Settings {
	s := config.Default()
	s.MonteCarlo.Iterations = 200
	s.MonteCarlo.Workers = 2
	s.Automation.AutoStatsTopN = 3
	s.Automation.TopPassesBacktest = 3
	s.Advisor.ReviewRequired = false
	s.Stress = config.StressSettings{
		RollingDays:       []int{30},
		CalendarMonthsAgo: []int{1},
		SpreadPips:        []float64{2},
		SlippagePips:      []float64{1},
	}
	return s
}

func newHarness(t *testing.T, settings config.Settings, resolver ConfigResolver) *harness {
	t.Helper()
	store := newMemStore()
	h := newHarnessWithStore(t, settings, resolver, store)
	h.store = store
	return h
}

// newHarnessWithStore leaves h.store nil; callers keep their own handle
func newHarnessWithStore(t *testing.T, settings config.Settings, resolver ConfigResolver, store Store) *harness {
	t.Helper()
	h := &harness{
		toolchain:   &fakeToolchain{},
		advisor:     &fakeAdvisor{analysis: analysisDoc, proposal: proposalNoPatch},
		patches:     &fakePatches{},
		leaderboard: &fakeLeaderboard{},
	}
	if resolver == nil {
		resolver = fakeResolver{}
	}
	orch, err := NewOrchestrator(settings, Dependencies{
		Toolchain:   h.toolchain,
		Advisor:     h.advisor,
		Patches:     h.patches,
		Reporter:    fakeReporter{},
		Resolver:    resolver,
		Store:       store,
		Leaderboard: h.leaderboard,
		Retry:       recovery.NewRecoveryHandler(recovery.RetryConfig{MaxRetries: 0}, zerolog.Nop()),
		Clock:       func() time.Time { return testNow },
	}, zerolog.Nop())
	require.NoError(t, err)
	h.orch = orch
	return h
}

func startRequest() StartRequest {
	return StartRequest{EAName: "Trend", SourcePath: "/ea/Trend.mq5", Symbol: "EURUSD", Timeframe: "H1"}
}

func record(t *testing.T, st workflow.State, name string) workflow.StepRecord {
	t.Helper()
	rec, ok := st.Step(name)
	require.True(t, ok, "step %s has no record", name)
	return rec
}

// TestOrchestrator_HappyPathCompletes tests a full run with an automatically approved proposal
func TestOrchestrator_HappyPathCompletes(t *testing.T) {
	h := newHarness(t, testSettings(), nil)

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)

	for _, name := range workflow.StepOrder {
		rec := record(t, st, name)
		assert.Empty(t, rec.Error, name)
	}
	assert.True(t, record(t, st, workflow.StepRevalidate).Skipped)
	assert.True(t, record(t, st, workflow.StepMultiPair).Skipped)

	require.NotNil(t, st.Best)
	require.NotNil(t, st.Best.Score)
	assert.Greater(t, st.GoLiveScore, 0.0)
	assert.Equal(t, []string{"reports/" + st.ID + ".json"}, st.ReportPaths)
	require.NotNil(t, st.MonteCarlo)
	assert.Equal(t, 200, st.MonteCarlo.Iterations)
	assert.Len(t, st.Stress, 3)
	assert.NotEmpty(t, st.ForwardWindows)
	require.NotNil(t, st.FinalGates)
	assert.True(t, st.FinalGates.AllPassed)

	assert.Equal(t, workflow.DecisionApprove, st.Advisor.Decision)
	require.Len(t, st.Pass2Ranges, 2)
	assert.Equal(t, 20.0, st.Pass2Ranges[0].Start)
	assert.Equal(t, 2, h.toolchain.optimizes)
	assert.Len(t, st.Selected, 3)
	assert.Equal(t, []string{st.ID}, h.leaderboard.entries)

	stored, err := h.store.Load(st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, stored.Status)
}

// TestOrchestrator_RunCompletedIsNoop tests that a finished workflow is returned as stored
func TestOrchestrator_RunCompletedIsNoop(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	calls := len(h.toolchain.labels())

	again, err := h.orch.Run(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, again.Status)
	assert.Len(t, h.toolchain.labels(), calls)
}

// TestOrchestrator_ApproveAppliesPatchOnce tests that approving a patch creates exactly one version
func TestOrchestrator_ApproveAppliesPatchOnce(t *testing.T) {
	settings := testSettings()
	settings.Advisor.ReviewRequired = true
	h := newHarness(t, settings, nil)
	h.advisor.proposal = proposalWithPatch

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	require.Equal(t, workflow.StatusAwaitingPatchReview, st.Status)
	assert.Equal(t, workflow.PatchPendingReview, st.Patch.Phase)
	assert.Equal(t, workflow.StepProposal, st.CurrentStep)
	assert.Len(t, st.Versions, 1)

	st, err = h.orch.Resume(context.Background(), st.ID, workflow.Review{Decision: workflow.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)

	require.Len(t, st.Versions, 2)
	patched := st.Versions[1]
	assert.Equal(t, workflow.VersionLLMPatch, patched.Source)
	assert.Equal(t, st.Versions[0].ID, patched.ParentID)
	assert.Equal(t, patched.ID, st.ActiveVersionID)
	assert.Equal(t, workflow.PatchActive, st.Patch.Phase)
	assert.Equal(t, 1, h.patches.calls)
	assert.Equal(t, 1, h.advisor.proposalReqs)

	_, err = h.orch.Run(context.Background(), st.ID)
	require.NoError(t, err)
	stored, err := h.store.Load(st.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Versions, 2)
	assert.Equal(t, 1, h.patches.calls)
}

// TestOrchestrator_RegressionRevertsToBaseline tests that a regressing patch is rolled back
func TestOrchestrator_RegressionRevertsToBaseline(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	h.advisor.proposal = proposalWithPatch
	h.toolchain.metricsFor = func(req BacktestRequest) backtest.Metrics {
		m := backtest.Metrics{Profit: 1400, ProfitFactor: 2.0, MaxDrawdownPct: 10, TotalTrades: 80}
		if strings.Contains(req.ExpertPath, ".patched_") {
			m.Profit = 200
		}
		return m
	}

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)

	require.Len(t, st.Versions, 2)
	assert.Equal(t, st.Versions[0].ID, st.ActiveVersionID)
	assert.Equal(t, workflow.PatchReverted, st.Patch.Phase)
	assert.Contains(t, st.Patch.Reason, "regression")
	assert.NotEmpty(t, st.Warnings)
	assert.Equal(t, "regression: reverted to baseline", record(t, st, workflow.StepRevalidate).Note)

	for _, b := range h.toolchain.backtests {
		if strings.HasPrefix(b.Label, "candidate_") {
			assert.NotContains(t, b.ExpertPath, ".patched_", "candidates must run on the baseline")
		}
	}
}

// TestOrchestrator_RejectSkipsPatch tests that a rejected proposal leaves the baseline active
func TestOrchestrator_RejectSkipsPatch(t *testing.T) {
	settings := testSettings()
	settings.Advisor.ReviewRequired = true
	h := newHarness(t, settings, nil)
	h.advisor.proposal = proposalWithPatch

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	require.Equal(t, workflow.StatusAwaitingPatchReview, st.Status)

	st, err = h.orch.Resume(context.Background(), st.ID, workflow.Review{Decision: workflow.DecisionReject})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)
	assert.Len(t, st.Versions, 1)
	assert.Zero(t, h.patches.calls)
	assert.Empty(t, st.Advisor.Refinements)
}

// TestOrchestrator_FixBudgetExhausted tests that repeated compile failures end in FAILED
func TestOrchestrator_FixBudgetExhausted(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	h.toolchain.compileFail = true

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	require.Equal(t, workflow.StatusAwaitingEAFix, st.Status)
	assert.Equal(t, 1, st.FixAttempts)
	assert.NotEmpty(t, st.LastDiagnosis)
	assert.Contains(t, st.Error, "undeclared identifier")

	st, err = h.orch.Resume(context.Background(), st.ID, workflow.EAFix{SourceRef: "/ea/Trend_fix1.mq5"})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusAwaitingEAFix, st.Status)
	assert.Equal(t, 2, st.FixAttempts)

	st, err = h.orch.Resume(context.Background(), st.ID, workflow.EAFix{SourceRef: "/ea/Trend_fix2.mq5"})
	require.Error(t, err)
	assert.Equal(t, workflow.StatusFailed, st.Status)
	assert.Equal(t, 3, st.FixAttempts)
	assert.Contains(t, st.Error, "fix attempts exhausted (3 of 3)")
	assert.Len(t, st.Versions, 3)
	assert.Equal(t, workflow.StepCompile, st.CurrentStep)

	_, err = h.orch.ApplyResume(st.ID, workflow.EAFix{SourceRef: "/ea/Trend_fix3.mq5"})
	assert.ErrorIs(t, err, wferrors.ErrContract)
}

// TestOrchestrator_FixResumesFromCompile tests that a corrected source continues the run
func TestOrchestrator_FixResumesFromCompile(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	h.toolchain.compileFail = true

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	require.Equal(t, workflow.StatusAwaitingEAFix, st.Status)

	h.toolchain.compileFail = false
	st, err = h.orch.Resume(context.Background(), st.ID, workflow.EAFix{SourceRef: "/ea/Trend_fixed.mq5"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)
	active, ok := st.ActiveVersion()
	require.True(t, ok)
	assert.Equal(t, "/ea/Trend_fixed.mq5", active.SourcePath)
	assert.Equal(t, "/ea/Trend_fixed.mq5.ex5", active.CompiledPath)
}

// TestOrchestrator_CancelLeavesStateUntouched tests that a cancelled step is not persisted
func TestOrchestrator_CancelLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	var before []byte
	h.toolchain.onOptimize = func(ctx context.Context) error {
		ids := h.store.ids()
		require.Len(t, ids, 1)
		before = h.store.raw(ids[0])
		cancel()
		return ctx.Err()
	}

	st, err := h.orch.Start(ctx, startRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, workflow.StatusInProgress, st.Status)
	assert.Equal(t, before, h.store.raw(st.ID))

	stored, err := h.store.Load(st.ID)
	require.NoError(t, err)
	_, ok := stored.Step(workflow.StepOptimize)
	assert.False(t, ok)
	assert.Equal(t, workflow.StepOptimize, stored.CurrentStep)
	assert.True(t, record(t, stored, workflow.StepPlan).Passed)

	h.toolchain.onOptimize = nil
	st, err = h.orch.Run(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)
}

// TestOrchestrator_ConcurrentRunsExclusive tests that a second run of a held workflow is refused
func TestOrchestrator_ConcurrentRunsExclusive(t *testing.T) {
	dir := t.TempDir()
	store, err := state.NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	h := newHarnessWithStore(t, testSettings(), nil, store)

	st, err := h.orch.Create(startRequest())
	require.NoError(t, err)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	h.toolchain.onOptimize = func(ctx context.Context) error {
		once.Do(func() {
			close(entered)
			<-proceed
		})
		return nil
	}

	type result struct {
		st  workflow.State
		err error
	}
	first := make(chan result, 1)
	go func() {
		out, err := h.orch.Run(context.Background(), st.ID)
		first <- result{out, err}
	}()
	<-entered

	second := make(chan result, 1)
	go func() {
		out, err := h.orch.Run(context.Background(), st.ID)
		second <- result{out, err}
	}()
	got := <-second
	assert.ErrorIs(t, got.err, state.ErrLocked)

	other, err := state.NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	_, err = other.Acquire(st.ID)
	assert.ErrorIs(t, err, state.ErrLocked)

	close(proceed)
	done := <-first
	require.NoError(t, done.err)
	assert.Equal(t, workflow.StatusCompleted, done.st.Status, done.st.Error)
	assert.Equal(t, 2, h.toolchain.optimizes)

	release, err := other.Acquire(st.ID)
	require.NoError(t, err)
	release()
}

// TestOrchestrator_PatchConflictAwaitsReview tests that a diff which no longer applies returns to review
func TestOrchestrator_PatchConflictAwaitsReview(t *testing.T) {
	settings := testSettings()
	settings.Advisor.ReviewRequired = true
	h := newHarness(t, settings, nil)
	h.advisor.proposal = proposalWithDiff(t, conflictDiff)
	h.patches.source = staleSource

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	require.Equal(t, workflow.StatusAwaitingPatchReview, st.Status)

	st, err = h.orch.Resume(context.Background(), st.ID, workflow.Review{Decision: workflow.DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingPatchReview, st.Status)
	assert.Equal(t, workflow.PatchPendingReview, st.Patch.Phase)
	assert.Contains(t, st.Patch.Reason, "ea_patch.diff")
	assert.Equal(t, workflow.StepReview, st.CurrentStep)
	assert.Len(t, st.Versions, 1)
	assert.Equal(t, 1, h.patches.calls)

	stored, err := h.store.Load(st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingPatchReview, stored.Status)
	assert.Equal(t, workflow.PatchPendingReview, stored.Patch.Phase)
	assert.Len(t, stored.Versions, 1)

	st, err = h.orch.Resume(context.Background(), st.ID, workflow.Review{Decision: workflow.DecisionReject})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)
	assert.Len(t, st.Versions, 1)
	assert.Equal(t, st.Versions[0].ID, st.ActiveVersionID)
	assert.Equal(t, 1, h.patches.calls)
}

// TestOrchestrator_AdvisorBlockKeepsPaths tests that proposal and feedback text live in artifacts
func TestOrchestrator_AdvisorBlockKeepsPaths(t *testing.T) {
	settings := testSettings()
	settings.Advisor.ReviewRequired = true
	h := newHarness(t, settings, nil)
	h.advisor.proposal = proposalWithPatch

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	require.Equal(t, workflow.StatusAwaitingPatchReview, st.Status)
	assert.Equal(t, "analysis/"+st.ID+"/proposal_request.json", st.Advisor.EvidencePath)
	assert.Equal(t, "analysis/"+st.ID+"/proposal_0_advisor.json", st.Advisor.ProposalPath)
	assert.Contains(t, string(h.advisor.artifacts[st.Advisor.ProposalPath]), "skip asia session")

	st, err = h.orch.ApplyResume(st.ID, workflow.Review{
		Decision: workflow.DecisionFollowUp,
		Feedback: "keep the london open trades",
	})
	require.NoError(t, err)
	require.Len(t, st.Advisor.FeedbackPaths, 1)
	assert.Equal(t, "keep the london open trades", string(h.advisor.artifacts[st.Advisor.FeedbackPaths[0]]))

	raw := string(h.store.raw(st.ID))
	assert.NotContains(t, raw, "keep the london open trades")
	assert.NotContains(t, raw, "fewer losing trades")
	assert.NotContains(t, raw, "less trades")
	assert.Contains(t, raw, st.Advisor.FeedbackPaths[0])
}

// TestOrchestrator_ConfigPause tests the AWAITING_CONFIG round trip
func TestOrchestrator_ConfigPause(t *testing.T) {
	h := newHarness(t, testSettings(), fakeResolver{missing: true})

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	require.Equal(t, workflow.StatusAwaitingConfig, st.Status)
	assert.Equal(t, workflow.StepLoad, st.CurrentStep)
	assert.Empty(t, h.toolchain.labels())

	st, err = h.orch.Resume(context.Background(), st.ID, workflow.ConfigResolution{TerminalPath: "/custom/terminal64.exe"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)
	require.NotNil(t, st.Config)
	assert.Equal(t, "/custom/terminal64.exe", st.Config.TerminalPath)
}

// TestOrchestrator_ParamAnalysisPause tests waiting for an asynchronous analysis
func TestOrchestrator_ParamAnalysisPause(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	h.advisor.analysis = ""

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	require.Equal(t, workflow.StatusAwaitingParamAnalysis, st.Status)
	assert.Equal(t, workflow.StepAnalyze, st.CurrentStep)
	assert.NotEmpty(t, st.Advisor.AnalysisRequestPath)
	stored, err := h.store.Load(st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StepAnalyze, stored.CurrentStep)

	raw, err := workflow.DecodePayload(workflow.KindParamAnalysis, []byte(analysisDoc))
	require.NoError(t, err)
	st, err = h.orch.Resume(context.Background(), st.ID, raw)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)
	require.NotNil(t, st.Analysis)
	assert.Equal(t, []string{"Period"}, st.Analysis.OptimizedNames())
}

// TestOrchestrator_InvalidAnalysisPauses tests that a malformed synchronous analysis waits for a human
func TestOrchestrator_InvalidAnalysisPauses(t *testing.T) {
	h := newHarness(t, testSettings(), nil)
	h.advisor.analysis = `{"optimization_ranges": []}`

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingParamAnalysis, st.Status)
	require.NotEmpty(t, st.Warnings)
	assert.Contains(t, st.Warnings[0], "wide_validation_params")
}

// TestOrchestrator_ManualSelection tests the AWAITING_STATS_ANALYSIS round trip
func TestOrchestrator_ManualSelection(t *testing.T) {
	settings := testSettings()
	settings.Automation.AutoStatsAnalysis = false
	settings.Advisor.Enabled = false
	h := newHarness(t, settings, nil)

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	require.Equal(t, workflow.StatusAwaitingStatsAnalysis, st.Status)
	require.Len(t, st.Pool, 10)

	_, err = h.orch.ApplyResume(st.ID, workflow.PassSelection{PassIndexes: []int{42}})
	require.Error(t, err)
	stored, err := h.store.Load(st.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusAwaitingStatsAnalysis, stored.Status)

	st, err = h.orch.Resume(context.Background(), st.ID, workflow.PassSelection{PassIndexes: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)
	assert.Equal(t, []int{1}, st.Selected)
	require.Len(t, st.Candidates, 1)
	require.NotNil(t, st.Best)
	assert.Equal(t, st.Pool[1].Index, st.Best.Pass.Index)
	assert.Equal(t, st.Pool[1].Source, st.Best.Pass.Source)
}

// TestOrchestrator_AdvisorDisabledSkips tests that the proposal steps are skipped
func TestOrchestrator_AdvisorDisabledSkips(t *testing.T) {
	settings := testSettings()
	settings.Advisor.Enabled = false
	h := newHarness(t, settings, nil)

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)

	for _, name := range []string{workflow.StepProposal, workflow.StepReview, workflow.StepRevalidate} {
		rec := record(t, st, name)
		assert.True(t, rec.Skipped, name)
		assert.False(t, rec.Passed, name)
	}
	assert.Equal(t, st.Pass1Ranges, st.Pass2Ranges)
	assert.Zero(t, h.advisor.proposalReqs)
}

// TestOrchestrator_MultiPairInternal tests backtesting the best parameters on other symbols
func TestOrchestrator_MultiPairInternal(t *testing.T) {
	settings := testSettings()
	settings.Automation.AutoRunMultiPair = true
	settings.Automation.MultiPairMode = config.MultiPairModeInternal
	settings.Automation.MultiPairSymbols = []string{"EURUSD", "usdjpy", "GBPUSD", "USDJPY"}
	h := newHarness(t, settings, nil)

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)

	require.Len(t, st.Children, 2)
	assert.Equal(t, "usdjpy", st.Children[0].Symbol)
	assert.Equal(t, "GBPUSD", st.Children[1].Symbol)
	for _, c := range st.Children {
		assert.Equal(t, workflow.StatusCompleted, c.Status)
		require.NotNil(t, c.Metrics)
		assert.Empty(t, c.WorkflowID)
	}
	assert.Contains(t, h.toolchain.labels(), "multi_pair_GBPUSD")
	assert.Len(t, h.store.ids(), 1)
}

// TestOrchestrator_MultiPairExternal tests that child workflows run in process and inherit the analysis
func TestOrchestrator_MultiPairExternal(t *testing.T) {
	settings := testSettings()
	settings.Advisor.Enabled = false
	settings.Automation.AutoRunMultiPair = true
	settings.Automation.MultiPairMode = config.MultiPairModeExternal
	settings.Automation.MultiPairSymbols = []string{"USDJPY"}
	h := newHarness(t, settings, nil)

	st, err := h.orch.Start(context.Background(), startRequest())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, st.Status, st.Error)

	require.Len(t, st.Children, 1)
	c := st.Children[0]
	assert.Equal(t, workflow.StatusCompleted, c.Status, c.Error)
	require.NotEmpty(t, c.WorkflowID)

	child, err := h.store.Load(c.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, st.ID, child.ParentID)
	assert.Equal(t, "USDJPY", child.Symbol)
	assert.Equal(t, "inherited from "+st.ID, record(t, child, workflow.StepAnalyze).Note)
	assert.True(t, record(t, child, workflow.StepMultiPair).Skipped)
	assert.Len(t, h.leaderboard.entries, 2)
}

// TestOrchestrator_StartRejectsMissingFields tests the start contract
func TestOrchestrator_StartRejectsMissingFields(t *testing.T) {
	h := newHarness(t, testSettings(), nil)

	_, err := h.orch.Start(context.Background(), StartRequest{EAName: "Trend"})
	require.Error(t, err)
	assert.ErrorIs(t, err, wferrors.ErrContract)
	assert.Contains(t, err.Error(), "source path")
	assert.Empty(t, h.store.ids())
}

// TestNewOrchestrator_MissingCollaborators tests that every missing collaborator is named
func TestNewOrchestrator_MissingCollaborators(t *testing.T) {
	_, err := NewOrchestrator(testSettings(), Dependencies{Store: newMemStore()}, zerolog.Nop())
	require.Error(t, err)
	for _, name := range []string{"toolchain", "advisor", "patch applier", "reporter", "config resolver"} {
		assert.Contains(t, err.Error(), name)
	}
}

// TestRandomSource_Deterministic tests that the Monte Carlo seed depends only on the workflow id
func TestRandomSource_Deterministic(t *testing.T) {
	a, b := randomSource("wf-1"), randomSource("wf-1")
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Uint64(), b.Uint64())
	}
	assert.NotEqual(t, randomSource("wf-1").Uint64(), randomSource("wf-2").Uint64())
}

// TestOtherSymbols tests case-insensitive deduplication
func TestOtherSymbols(t *testing.T) {
	got := otherSymbols("eurusd", []string{"EURUSD", " usdjpy ", "USDJPY", "", "GBPUSD"})
	assert.Equal(t, []string{"usdjpy", "GBPUSD"}, got)
}
