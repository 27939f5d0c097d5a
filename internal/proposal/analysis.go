package proposal

import (
	"encoding/json"
	"fmt"
	"sort"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/pkg/optimization"
)

// ParamAnalysis is the advisor's reading of the EA inputs: loose values for
// the validation backtest and the Pass 1 sweep
type ParamAnalysis struct {
	WideValidationParams map[string]interface{}        `json:"wide_validation_params"`
	OptimizationRanges   []optimization.ParameterRange `json:"optimization_ranges"`
}

// WideParams renders the validation values as tester strings
func (a ParamAnalysis) WideParams() map[string]string {
	out := make(map[string]string, len(a.WideValidationParams))
	for k, v := range a.WideValidationParams {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// OptimizedNames lists the inputs swept in Pass 1
func (a ParamAnalysis) OptimizedNames() []string {
	var names []string
	for _, r := range a.OptimizationRanges {
		if r.Optimize {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names
}

// ParseParamAnalysis validates and decodes a parameter analysis. Every
// structural problem is reported with its JSON path.
func ParseParamAnalysis(raw []byte) (ParamAnalysis, error) {
	s := &wferrors.SchemaError{Payload: "param analysis"}
	doc := decode(raw, s)
	if doc != nil {
		validateAnalysis(doc, s)
	}
	if err := finish(s, "parse_param_analysis"); err != nil {
		return ParamAnalysis{}, err
	}

	var a ParamAnalysis
	if err := json.Unmarshal(raw, &a); err != nil {
		s.Add("$", "%v", err)
		return ParamAnalysis{}, finish(s, "parse_param_analysis")
	}
	return a, nil
}

func validateAnalysis(doc document, s *wferrors.SchemaError) {
	if v, ok := doc["wide_validation_params"]; !ok {
		s.Add("wide_validation_params", "required")
	} else if obj, ok := v.(map[string]interface{}); !ok {
		s.Add("wide_validation_params", "must be an object")
	} else {
		for k, val := range obj {
			switch val.(type) {
			case string, json.Number, bool:
			default:
				s.Add("wide_validation_params."+k, "must be a string, number or boolean")
			}
		}
	}

	ranges, ok := requireArray(doc, "optimization_ranges", s)
	if !ok {
		return
	}
	seen := make(map[string]bool)
	for i, item := range ranges {
		obj, ok := item.(map[string]interface{})
		if !ok {
			s.Add(path("optimization_ranges", i, ""), "must be an object")
			continue
		}
		if name, ok := requireString(obj, "name", path("optimization_ranges", i, "name"), true, s); ok {
			if seen[name] {
				s.Add(path("optimization_ranges", i, "name"), "duplicate parameter %q", name)
			}
			seen[name] = true
		}
		optimize, ok := requireBool(obj, "optimize", path("optimization_ranges", i, "optimize"), s)
		if !ok {
			continue
		}
		at := path("optimization_ranges", i, "")
		if optimize {
			sweep(obj, at, s)
			if _, has := obj["default"]; has {
				requireNumber(obj, "default", at+".default", s)
			}
		} else {
			requireNumber(obj, "default", at+".default", s)
		}
		for _, opt := range []string{"category", "rationale"} {
			if v, has := obj[opt]; has {
				if _, isStr := v.(string); !isStr {
					s.Add(at+"."+opt, "must be a string")
				}
			}
		}
	}
}
