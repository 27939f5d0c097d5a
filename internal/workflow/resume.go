package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/proposal"
)

// Payload is the input that resumes a paused workflow. Each AWAITING status
// accepts exactly one payload kind.
type Payload interface {
	Awaits() Status
	Kind() string
}

// Payload kinds as used on the command line and in the HTTP API
const (
	KindConfig        = "config"
	KindParamAnalysis = "param_analysis"
	KindEAFix         = "ea_fix"
	KindReview        = "review"
	KindPassSelection = "pass_selection"
)

// ConfigResolution points the workflow at a terminal installation
type ConfigResolution struct {
	TerminalPath string `json:"terminal_path"`
	DataPath     string `json:"data_path,omitempty"`
}

func (ConfigResolution) Awaits() Status { return StatusAwaitingConfig }
func (ConfigResolution) Kind() string   { return KindConfig }

// ParamAnalysis carries the advisor's parameter analysis document
type ParamAnalysis struct {
	Raw json.RawMessage `json:"raw"`
}

func (ParamAnalysis) Awaits() Status { return StatusAwaitingParamAnalysis }
func (ParamAnalysis) Kind() string   { return KindParamAnalysis }

// EAFix supplies a corrected EA source
type EAFix struct {
	SourceRef string `json:"source_ref"`
	Note      string `json:"note,omitempty"`
}

func (EAFix) Awaits() Status { return StatusAwaitingEAFix }
func (EAFix) Kind() string   { return KindEAFix }

// Review is the verdict on the stored proposal. Proposal may replace the
// stored one.
type Review struct {
	Proposal json.RawMessage `json:"proposal,omitempty"`
	Decision Decision        `json:"decision"`
	Feedback string          `json:"feedback,omitempty"`

	// Where the proposal and feedback were stored before the review was
	// applied. Set by the caller, never decoded from a payload.
	ProposalPath string `json:"-"`
	FeedbackPath string `json:"-"`
}

func (Review) Awaits() Status { return StatusAwaitingPatchReview }
func (Review) Kind() string   { return KindReview }

// PassSelection picks candidates by their position in the selection pool
type PassSelection struct {
	PassIndexes []int `json:"pass_indexes"`
}

func (PassSelection) Awaits() Status { return StatusAwaitingStatsAnalysis }
func (PassSelection) Kind() string   { return KindPassSelection }

// ResumeOptions are the inputs Resume needs besides the state
type ResumeOptions struct {
	MaxRefinementCycles int
	// Now stamps records written by the resume; zero leaves timestamps alone
	Now time.Time
}

// DecodePayload decodes a payload document of the given kind
func DecodePayload(kind string, raw []byte) (Payload, error) {
	var p Payload
	switch kind {
	case KindConfig:
		var v ConfigResolution
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, payloadError(kind, err)
		}
		p = v
	case KindParamAnalysis:
		// the analysis document itself is the payload
		p = ParamAnalysis{Raw: json.RawMessage(append([]byte(nil), raw...))}
	case KindEAFix:
		var v EAFix
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, payloadError(kind, err)
		}
		p = v
	case KindReview:
		var v Review
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, payloadError(kind, err)
		}
		p = v
	case KindPassSelection:
		var v PassSelection
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, payloadError(kind, err)
		}
		p = v
	default:
		return nil, wferrors.NewContractViolation("workflow", "decode_payload",
			fmt.Sprintf("unknown payload kind %q", kind))
	}
	return p, nil
}

func payloadError(kind string, err error) error {
	s := &wferrors.SchemaError{Payload: kind}
	s.Add("$", "%v", err)
	return s.AsWorkflowError("workflow", "decode_payload")
}

// Resume applies a payload to a paused workflow and returns the next state.
// It performs no I/O. On any error the input state is returned unchanged.
func Resume(s State, p Payload, opts ResumeOptions) (State, error) {
	if p == nil {
		return s, wferrors.NewContractViolation("workflow", "resume", "nil payload")
	}
	if !s.Status.IsAwaiting() {
		return s, wferrors.NewContractViolation("workflow", "resume",
			fmt.Sprintf("workflow %s is %s and cannot be resumed", s.ID, s.Status)).
			WithContext("payload", p.Kind())
	}
	if p.Awaits() != s.Status {
		return s, wferrors.NewContractViolation("workflow", "resume",
			fmt.Sprintf("%s payload cannot resume a workflow in %s (expects %s)", p.Kind(), s.Status, p.Awaits())).
			WithContext("workflow_id", s.ID)
	}

	next, err := s.Clone()
	if err != nil {
		return s, err
	}

	switch v := p.(type) {
	case ConfigResolution:
		err = next.resumeConfig(v)
	case ParamAnalysis:
		err = next.resumeParamAnalysis(v, opts.Now)
	case EAFix:
		err = next.resumeEAFix(v, opts.Now)
	case Review:
		err = next.resumeReview(v, opts)
	case PassSelection:
		err = next.resumePassSelection(v, opts.Now)
	default:
		err = wferrors.NewContractViolation("workflow", "resume", fmt.Sprintf("unsupported payload %T", p))
	}
	if err != nil {
		return s, err
	}

	next.Status = StatusInProgress
	next.Error = ""
	if !opts.Now.IsZero() {
		next.Touch(opts.Now)
	}
	return next, nil
}

func (s *State) resumeConfig(p ConfigResolution) error {
	if strings.TrimSpace(p.TerminalPath) == "" {
		se := &wferrors.SchemaError{Payload: KindConfig}
		se.Add("terminal_path", "required")
		return se.AsWorkflowError("workflow", "resume")
	}
	s.Config = &p
	s.ClearSteps(StepLoad)
	return nil
}

func (s *State) resumeParamAnalysis(p ParamAnalysis, now time.Time) error {
	analysis, err := proposal.ParseParamAnalysis(p.Raw)
	if err != nil {
		return err
	}
	s.Analysis = &analysis
	s.Pass1Ranges = analysis.OptimizationRanges
	s.RecordStep(StepRecord{
		Name:       StepAnalyze,
		Passed:     true,
		StartedAt:  now,
		FinishedAt: now,
		Output:     p.Raw,
	})
	return nil
}

func (s *State) resumeEAFix(p EAFix, now time.Time) error {
	if strings.TrimSpace(p.SourceRef) == "" {
		se := &wferrors.SchemaError{Payload: KindEAFix}
		se.Add("source_ref", "required")
		return se.AsWorkflowError("workflow", "resume")
	}
	s.AppendVersion(EAVersion{
		Source:     VersionBaseline,
		SourcePath: p.SourceRef,
		ParentID:   s.ActiveVersionID,
		Approved:   true,
		Note:       p.Note,
		CreatedAt:  now,
	})
	// FixAttempts carries over; the budget spans every fix
	s.ClearSteps(StepCompile, StepExtract, StepValidate)
	s.LastDiagnosis = nil
	return nil
}

func (s *State) resumeReview(p Review, opts ResumeOptions) error {
	se := &wferrors.SchemaError{Payload: KindReview}
	switch p.Decision {
	case DecisionApprove, DecisionReject, DecisionFollowUp:
	default:
		se.Add("decision", "must be one of approve, reject, follow_up, got: %q", p.Decision)
	}
	if len(p.Proposal) == 0 && !s.Advisor.HasProposal {
		se.Add("proposal", "required when no proposal is stored")
	}
	if se.HasErrors() {
		return se.AsWorkflowError("workflow", "resume")
	}

	if len(p.Proposal) > 0 {
		prop, err := proposal.ParseProposal(p.Proposal)
		if err != nil {
			return err
		}
		s.Advisor.AdoptProposal(prop, p.ProposalPath)
		if prop.HasPatch() {
			s.Patch = PatchState{Phase: PatchPendingReview}
		} else {
			s.Patch = PatchState{Phase: PatchNone}
		}
	}

	decision := p.Decision
	if decision == DecisionFollowUp {
		if s.Advisor.RefinementCycles < opts.MaxRefinementCycles {
			s.Advisor.RefinementCycles++
			if p.FeedbackPath != "" {
				s.Advisor.FeedbackPaths = append(s.Advisor.FeedbackPaths, p.FeedbackPath)
			}
			s.Advisor.Decision = DecisionFollowUp
			s.ClearSteps(StepProposal, StepReview)
			return nil
		}
		s.Warn("refinement cycle limit %d reached; follow-up treated as reject", opts.MaxRefinementCycles)
		decision = DecisionReject
	}

	s.Advisor.Decision = decision
	switch decision {
	case DecisionApprove:
		s.Advisor.Refinements = s.Advisor.ProposedRefinements
		if s.Advisor.HasPatch() {
			s.Patch = PatchState{Phase: PatchApprovedPendingRevalidate}
		} else {
			s.Patch = PatchState{Phase: PatchNone}
		}
	case DecisionReject:
		s.Advisor.Refinements = nil
		s.Patch = PatchState{Phase: PatchNone, Reason: "rejected by reviewer"}
	}

	s.RecordStep(StepRecord{
		Name:       StepProposal,
		Passed:     true,
		StartedAt:  opts.Now,
		FinishedAt: opts.Now,
		Note:       string(decision),
	})
	s.ClearSteps(StepReview)
	return nil
}

func (s *State) resumePassSelection(p PassSelection, now time.Time) error {
	se := &wferrors.SchemaError{Payload: KindPassSelection}
	if len(p.PassIndexes) == 0 {
		se.Add("pass_indexes", "select at least one pass")
	}
	seen := make(map[int]bool, len(p.PassIndexes))
	for i, idx := range p.PassIndexes {
		at := fmt.Sprintf("pass_indexes[%d]", i)
		switch {
		case idx < 0 || idx >= len(s.Pool):
			se.Add(at, "no pass at position %d in a pool of %d", idx, len(s.Pool))
		case seen[idx]:
			se.Add(at, "duplicate position %d", idx)
		}
		seen[idx] = true
	}
	if se.HasErrors() {
		return se.AsWorkflowError("workflow", "resume")
	}

	s.Selected = append([]int(nil), p.PassIndexes...)
	s.RecordStep(StepRecord{
		Name:       StepSelect,
		Passed:     true,
		StartedAt:  now,
		FinishedAt: now,
		Note:       "manual selection",
	})
	return nil
}
