package proposal

import (
	"encoding/json"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/pkg/optimization"
)

// Param action kinds
const (
	ActionNarrowRange = "narrow_range"
	ActionFix         = "fix"
	ActionRemove      = "remove"
)

var validActions = map[string]bool{
	ActionNarrowRange: true,
	ActionFix:         true,
	ActionRemove:      true,
}

// ParamAction is one evidence-backed recommendation about an input
type ParamAction struct {
	Name      string   `json:"name"`
	Action    string   `json:"action"`
	Rationale string   `json:"rationale"`
	Evidence  []string `json:"evidence"`
}

// EAPatch is a unified diff against the active EA source
type EAPatch struct {
	Description string `json:"description"`
	Diff        string `json:"diff"`
}

// Proposal is the advisor's improvement proposal after Pass 1
type Proposal struct {
	ParamActions     []ParamAction             `json:"param_actions"`
	RangeRefinements []optimization.Refinement `json:"range_refinements"`
	EAPatch          *EAPatch                  `json:"ea_patch"`
	ExpectedImpact   []string                  `json:"expected_impact"`
	Risks            []string                  `json:"risks"`
	ReviewRequired   bool                      `json:"review_required"`
}

// HasPatch reports whether the proposal carries a code change
func (p *Proposal) HasPatch() bool {
	return p != nil && p.EAPatch != nil && p.EAPatch.Diff != ""
}

// IsEmpty reports whether the proposal changes nothing
func (p *Proposal) IsEmpty() bool {
	return p == nil || (len(p.ParamActions) == 0 && len(p.RangeRefinements) == 0 && !p.HasPatch())
}

// ParseProposal validates and decodes an advisor proposal
func ParseProposal(raw []byte) (Proposal, error) {
	s := &wferrors.SchemaError{Payload: "proposal"}
	doc := decode(raw, s)
	if doc != nil {
		validateProposal(doc, s)
	}
	if err := finish(s, "parse_proposal"); err != nil {
		return Proposal{}, err
	}

	var p Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		s.Add("$", "%v", err)
		return Proposal{}, finish(s, "parse_proposal")
	}
	return p, nil
}

func validateProposal(doc document, s *wferrors.SchemaError) {
	if actions, ok := requireArray(doc, "param_actions", s); ok {
		for i, item := range actions {
			obj, ok := item.(map[string]interface{})
			if !ok {
				s.Add(path("param_actions", i, ""), "must be an object")
				continue
			}
			requireString(obj, "name", path("param_actions", i, "name"), true, s)
			if action, ok := requireString(obj, "action", path("param_actions", i, "action"), true, s); ok && !validActions[action] {
				s.Add(path("param_actions", i, "action"), "must be one of narrow_range, fix, remove, got: %q", action)
			}
			requireString(obj, "rationale", path("param_actions", i, "rationale"), true, s)
			if ev, has := obj["evidence"]; !has {
				s.Add(path("param_actions", i, "evidence"), "required")
			} else {
				stringArray(ev, path("param_actions", i, "evidence"), true, s)
			}
		}
	}

	if refs, ok := requireArray(doc, "range_refinements", s); ok {
		for i, item := range refs {
			obj, ok := item.(map[string]interface{})
			if !ok {
				s.Add(path("range_refinements", i, ""), "must be an object")
				continue
			}
			requireString(obj, "name", path("range_refinements", i, "name"), true, s)
			sweep(obj, path("range_refinements", i, ""), s)
			if v, has := obj["reason"]; has {
				if _, isStr := v.(string); !isStr {
					s.Add(path("range_refinements", i, "reason"), "must be a string")
				}
			}
		}
	}

	if v, has := doc["ea_patch"]; has && v != nil {
		obj, ok := v.(map[string]interface{})
		if !ok {
			s.Add("ea_patch", "must be an object or null")
		} else {
			requireString(obj, "description", "ea_patch.description", false, s)
			requireString(obj, "diff", "ea_patch.diff", true, s)
		}
	}

	for _, key := range []string{"expected_impact", "risks"} {
		if v, has := doc[key]; !has {
			s.Add(key, "required")
		} else {
			stringArray(v, key, false, s)
		}
	}

	if _, has := doc["review_required"]; !has {
		s.Add("review_required", "required")
	} else if _, ok := doc["review_required"].(bool); !ok {
		s.Add("review_required", "must be a boolean")
	}
}
