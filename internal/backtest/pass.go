package backtest

import (
	"sort"
	"strings"
)

// ParamKey returns a canonical key for a parameter set: sorted name=value pairs
func ParamKey(params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
	}
	return b.String()
}

// MergeForward joins back-period passes with forward-period passes that share
// the same parameter set. Matched passes carry both halves and combined
// top-level metrics; unmatched back passes keep their metrics and no split.
func MergeForward(back, forward []Pass) []Pass {
	byKey := make(map[string]Pass, len(forward))
	for _, f := range forward {
		byKey[ParamKey(f.Params)] = f
	}

	out := make([]Pass, 0, len(back))
	for _, b := range back {
		merged := clonePass(b)
		if f, ok := byKey[ParamKey(b.Params)]; ok {
			backMetrics := b.Metrics
			forwardMetrics := f.Metrics
			merged.Back = &backMetrics
			merged.Forward = &forwardMetrics
			merged.Metrics = CombineMetrics(backMetrics, forwardMetrics)
		}
		out = append(out, merged)
	}
	return out
}

// SortByResult returns a copy ordered by result score descending, then by index
func SortByResult(passes []Pass) []Pass {
	out := append([]Pass(nil), passes...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Result != out[j].Result {
			return out[i].Result > out[j].Result
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// FilterPasses drops passes under the minimum trade count, ranks the rest by
// result and keeps at most max of them. The input slice is not modified.
func FilterPasses(passes []Pass, minTrades, max int) []Pass {
	kept := make([]Pass, 0, len(passes))
	for _, p := range passes {
		if p.TotalTrades < minTrades {
			continue
		}
		kept = append(kept, p)
	}
	kept = SortByResult(kept)
	if max > 0 && len(kept) > max {
		kept = kept[:max]
	}
	return kept
}

// TopN returns the n best passes by result
func TopN(passes []Pass, n int) []Pass {
	sorted := SortByResult(passes)
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// WithSource returns copies of passes tagged with the given source
func WithSource(passes []Pass, source PassSource) []Pass {
	out := make([]Pass, len(passes))
	for i, p := range passes {
		c := clonePass(p)
		c.Source = source
		out[i] = c
	}
	return out
}

func clonePass(p Pass) Pass {
	c := p
	if p.Params != nil {
		c.Params = make(map[string]string, len(p.Params))
		for k, v := range p.Params {
			c.Params[k] = v
		}
	}
	if p.Back != nil {
		b := *p.Back
		c.Back = &b
	}
	if p.Forward != nil {
		f := *p.Forward
		c.Forward = &f
	}
	return c
}
