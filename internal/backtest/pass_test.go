package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pass(index int, result float64, trades int, params map[string]string) Pass {
	return Pass{
		Index:   index,
		Source:  SourcePass1,
		Result:  result,
		Metrics: Metrics{Profit: result, ProfitFactor: 1.5, TotalTrades: trades},
		Params:  params,
	}
}

// TestParamKey_OrderIndependent tests that the key ignores map order
func TestParamKey_OrderIndependent(t *testing.T) {
	a := ParamKey(map[string]string{"b": "2", "a": "1"})
	b := ParamKey(map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, "a=1;b=2", a)
	assert.Equal(t, a, b)
}

// TestMergeForward_MatchesByParams tests joining back and forward passes
func TestMergeForward_MatchesByParams(t *testing.T) {
	back := []Pass{
		pass(1, 100, 40, map[string]string{"period": "10"}),
		pass(2, 90, 40, map[string]string{"period": "20"}),
	}
	forward := []Pass{
		pass(7, 20, 10, map[string]string{"period": "10"}),
	}

	merged := MergeForward(back, forward)
	require.Len(t, merged, 2)

	assert.True(t, merged[0].HasForwardSplit())
	assert.Equal(t, 100.0, merged[0].Back.Profit)
	assert.Equal(t, 20.0, merged[0].Forward.Profit)
	assert.Equal(t, 120.0, merged[0].Profit)
	assert.Equal(t, 50, merged[0].TotalTrades)

	assert.False(t, merged[1].HasForwardSplit())
	assert.Equal(t, 90.0, merged[1].Profit)

	// inputs untouched
	assert.Nil(t, back[0].Back)
	assert.Equal(t, 40, back[0].TotalTrades)
}

// TestFilterPasses_DropsThinAndCaps tests filtering by trades and the pass cap
func TestFilterPasses_DropsThinAndCaps(t *testing.T) {
	passes := []Pass{
		pass(1, 10, 5, nil),
		pass(2, 30, 20, nil),
		pass(3, 20, 20, nil),
		pass(4, 40, 20, nil),
	}

	out := FilterPasses(passes, 10, 2)
	require.Len(t, out, 2)
	assert.Equal(t, 4, out[0].Index)
	assert.Equal(t, 2, out[1].Index)
	assert.Equal(t, 1, passes[0].Index)
}

// TestSortByResult_TieBreaksOnIndex tests deterministic ordering of equal results
func TestSortByResult_TieBreaksOnIndex(t *testing.T) {
	out := SortByResult([]Pass{pass(5, 10, 20, nil), pass(2, 10, 20, nil)})
	assert.Equal(t, 2, out[0].Index)
	assert.Equal(t, 5, out[1].Index)
}

// TestWithSource_CopiesParams tests that tagging copies the parameter map
func TestWithSource_CopiesParams(t *testing.T) {
	orig := []Pass{pass(1, 1, 20, map[string]string{"x": "1"})}
	tagged := WithSource(orig, SourcePass2)
	tagged[0].Params["x"] = "2"

	assert.Equal(t, SourcePass2, tagged[0].Source)
	assert.Equal(t, "1", orig[0].Params["x"])
}

// TestPass_Float tests numeric and boolean parameter parsing
func TestPass_Float(t *testing.T) {
	p := pass(1, 1, 1, map[string]string{"lots": "0.10", "use_filter": "true", "mode": "fast"})

	v, ok := p.Float("lots")
	assert.True(t, ok)
	assert.Equal(t, 0.1, v)

	v, ok = p.Float("use_filter")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = p.Float("mode")
	assert.False(t, ok)
	_, ok = p.Float("missing")
	assert.False(t, ok)
}
