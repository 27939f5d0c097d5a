package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/gates"
	"github.com/ducminhle1904/ea-stress/internal/montecarlo"
	"github.com/ducminhle1904/ea-stress/internal/proposal"
	"github.com/ducminhle1904/ea-stress/internal/scoring"
	"github.com/ducminhle1904/ea-stress/internal/stats"
	"github.com/ducminhle1904/ea-stress/pkg/optimization"
	"github.com/ducminhle1904/ea-stress/pkg/validation"
)

// VersionSource tells where an EA version came from
type VersionSource string

const (
	VersionBaseline VersionSource = "baseline"
	VersionLLMPatch VersionSource = "llm_patch"
)

// EAVersion is one immutable revision of the EA source
type EAVersion struct {
	ID           string        `json:"id"`
	Number       int           `json:"number"`
	Source       VersionSource `json:"source"`
	SourcePath   string        `json:"source_path"`
	CompiledPath string        `json:"compiled_path,omitempty"`
	ParentID     string        `json:"parent_id,omitempty"`
	Approved     bool          `json:"approved"`
	Note         string        `json:"note,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// PatchPhase is the patch substate
type PatchPhase string

const (
	PatchNone                      PatchPhase = "no-patch"
	PatchPendingReview             PatchPhase = "pending-review"
	PatchApprovedPendingRevalidate PatchPhase = "approved-pending-revalidate"
	PatchReverted                  PatchPhase = "reverted"
	PatchActive                    PatchPhase = "active"
)

// PatchState tracks the proposed code change. VersionID is set once the
// patch has been applied.
type PatchState struct {
	Phase     PatchPhase `json:"phase"`
	VersionID string     `json:"version_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Decision is the reviewer's verdict on a proposal
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionFollowUp Decision = "follow_up"
)

// AdvisorState is the llm block. It keeps artifact paths, flags and the
// structured parts of a proposal that later steps act on; rationale and
// reviewer text stay in the artifacts.
type AdvisorState struct {
	AnalysisRequestPath string `json:"analysis_request_path,omitempty"`
	EvidencePath        string `json:"evidence_path,omitempty"`
	ProposalPath        string `json:"proposal_path,omitempty"`
	HasProposal         bool   `json:"has_proposal"`
	ReviewRequired      bool   `json:"review_required"`

	ProposedRefinements []optimization.Refinement `json:"proposed_refinements,omitempty"`
	PatchProposal       *proposal.EAPatch         `json:"patch_proposal,omitempty"`

	Refinements      []optimization.Refinement `json:"refinements,omitempty"`
	RefinementCycles int                       `json:"refinement_cycles"`
	FeedbackPaths    []string                  `json:"feedback_paths,omitempty"`
	Decision         Decision                  `json:"decision,omitempty"`
}

// AdoptProposal records a validated proposal stored at path
func (a *AdvisorState) AdoptProposal(p proposal.Proposal, path string) {
	a.HasProposal = true
	a.ProposalPath = path
	a.ReviewRequired = p.ReviewRequired
	a.ProposedRefinements = p.RangeRefinements
	a.PatchProposal = nil
	if p.HasPatch() {
		patch := *p.EAPatch
		a.PatchProposal = &patch
	}
}

// ClearProposal forgets the current proposal
func (a *AdvisorState) ClearProposal() {
	a.HasProposal = false
	a.ProposalPath = ""
	a.ReviewRequired = false
	a.ProposedRefinements = nil
	a.PatchProposal = nil
}

// HasPatch reports whether the current proposal carries a code change
func (a *AdvisorState) HasPatch() bool {
	return a.PatchProposal != nil && a.PatchProposal.Diff != ""
}

// Parameter is an EA input found by extraction
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     string `json:"default"`
	Line        int    `json:"line,omitempty"`
	Optimizable bool   `json:"optimizable"`
}

// Candidate is a selected pass with its full backtest and score
type Candidate struct {
	Pass   backtest.Pass      `json:"pass"`
	Result *backtest.Result   `json:"result,omitempty"`
	Score  *scoring.Breakdown `json:"score,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Child is one symbol of the multi-pair step: an independent workflow in
// external mode, a single backtest of the best parameters in internal mode
type Child struct {
	Symbol     string            `json:"symbol"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Status     Status            `json:"status,omitempty"`
	Metrics    *backtest.Metrics `json:"metrics,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// State is the persisted document of one workflow run
type State struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	EAName    string    `json:"ea_name"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Config *ConfigResolution `json:"config,omitempty"`

	CurrentStep     string            `json:"current_step"`
	Steps           []StepRecord      `json:"steps"`
	Versions        []EAVersion       `json:"versions"`
	ActiveVersionID string            `json:"active_version_id"`
	FixAttempts     int               `json:"fix_attempts"`
	LastDiagnosis   []gates.Diagnosis `json:"last_diagnosis,omitempty"`

	Parameters  []Parameter                   `json:"parameters,omitempty"`
	UsageMap    map[string][]string           `json:"usage_map,omitempty"`
	Analysis    *proposal.ParamAnalysis       `json:"analysis,omitempty"`
	Pass1Ranges []optimization.ParameterRange `json:"pass1_ranges,omitempty"`
	Pass2Ranges []optimization.ParameterRange `json:"pass2_ranges,omitempty"`
	Advisor     AdvisorState                  `json:"llm"`
	Patch       PatchState                    `json:"patch"`

	Validation *backtest.Result `json:"validation,omitempty"`
	Pass1      []backtest.Pass  `json:"pass1,omitempty"`
	Pass2      []backtest.Pass  `json:"pass2,omitempty"`
	Pool       []backtest.Pass  `json:"pool,omitempty"`
	Selected   []int            `json:"selected,omitempty"`

	Candidates     []Candidate                 `json:"candidates,omitempty"`
	Best           *Candidate                  `json:"best,omitempty"`
	MonteCarlo     *montecarlo.Result          `json:"monte_carlo,omitempty"`
	StatPack       *stats.StatPack             `json:"stat_pack,omitempty"`
	Stress         []validation.ScenarioResult `json:"stress,omitempty"`
	ForwardWindows []validation.WindowResult   `json:"forward_windows,omitempty"`
	Degradation    *validation.Degradation     `json:"degradation,omitempty"`
	Children       []Child                     `json:"children,omitempty"`

	GoLiveScore float64        `json:"go_live_score"`
	FinalGates  *gates.Summary `json:"final_gates,omitempty"`
	ReportPaths []string       `json:"report_paths,omitempty"`
	Error       string         `json:"error,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// New creates a PENDING workflow whose baseline version is the EA at sourcePath
func New(eaName, sourcePath, symbol, timeframe string, now time.Time) State {
	now = now.UTC()
	s := State{
		ID:        uuid.NewString(),
		EAName:    eaName,
		Symbol:    symbol,
		Timeframe: timeframe,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Patch:     PatchState{Phase: PatchNone},
	}
	s.AppendVersion(EAVersion{Source: VersionBaseline, SourcePath: sourcePath, Approved: true, CreatedAt: now})
	return s
}

// Clone returns a deep copy. State only holds JSON-encodable values, so a
// round trip copies every nested slice and map.
func (s State) Clone() (State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return State{}, fmt.Errorf("failed to encode workflow %s: %w", s.ID, err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return State{}, fmt.Errorf("failed to decode workflow %s: %w", s.ID, err)
	}
	return out, nil
}

// SetStatus moves the workflow to another status
func (s *State) SetStatus(to Status) error {
	if !CanTransition(s.Status, to) {
		return wferrors.NewContractViolation("workflow", "set_status",
			fmt.Sprintf("illegal transition %s -> %s", s.Status, to))
	}
	s.Status = to
	return nil
}

// Fail marks the workflow FAILED with the error message. FAILED is reachable
// from every non-terminal status.
func (s *State) Fail(err error) {
	s.Status = StatusFailed
	if err != nil {
		s.Error = err.Error()
	}
}

// Warn appends a non-fatal warning
func (s *State) Warn(format string, args ...interface{}) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// Touch sets the update timestamp
func (s *State) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// Version returns the version with the given id
func (s *State) Version(id string) (EAVersion, bool) {
	for _, v := range s.Versions {
		if v.ID == id {
			return v, true
		}
	}
	return EAVersion{}, false
}

// ActiveVersion returns the version the next tool step runs against
func (s *State) ActiveVersion() (EAVersion, bool) {
	return s.Version(s.ActiveVersionID)
}

// SetCompiledPath records the compiler output for a version
func (s *State) SetCompiledPath(id, path string) {
	for i := range s.Versions {
		if s.Versions[i].ID == id {
			s.Versions[i].CompiledPath = path
			return
		}
	}
}

// AppendVersion numbers v, appends it and makes it active. Versions are never
// removed or rewritten.
func (s *State) AppendVersion(v EAVersion) EAVersion {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.Number = len(s.Versions) + 1
	s.Versions = append(s.Versions, v)
	s.ActiveVersionID = v.ID
	return v
}

// BaselineOf walks parent links from id to the baseline version it derives from
func (s *State) BaselineOf(id string) (EAVersion, bool) {
	v, ok := s.Version(id)
	for ok && v.Source != VersionBaseline {
		v, ok = s.Version(v.ParentID)
	}
	return v, ok
}

// RevertToBaseline reactivates the baseline the active version derives from
func (s *State) RevertToBaseline() (EAVersion, bool) {
	base, ok := s.BaselineOf(s.ActiveVersionID)
	if ok {
		s.ActiveVersionID = base.ID
	}
	return base, ok
}
