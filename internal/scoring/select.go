package scoring

import (
	"sort"

	"github.com/ducminhle1904/ea-stress/internal/backtest"
	"github.com/ducminhle1904/ea-stress/pkg/config"
)

// Candidate is a pass with its go-live score
type Candidate struct {
	Pass  backtest.Pass `json:"pass"`
	Score Breakdown     `json:"score"`
}

// ScoreAll scores every pass that carries a forward split. Passes without
// one cannot be scored and are returned separately, in input order.
func ScoreAll(passes []backtest.Pass, s config.ScoringSettings) (scored []Candidate, unscored []backtest.Pass) {
	for _, p := range passes {
		if !p.HasForwardSplit() {
			unscored = append(unscored, p)
			continue
		}
		b, err := Score(FromPass(p), s.Weights, s.Ranges)
		if err != nil {
			unscored = append(unscored, p)
			continue
		}
		scored = append(scored, Candidate{Pass: p, Score: b})
	}
	return scored, unscored
}

// Rank orders candidates for the selection mode. In score mode: higher score,
// then higher profit, then lower pass index. In profit mode the first two
// keys swap. Pass 2 wins a full tie with Pass 1. The input is not modified.
func Rank(cands []Candidate, mode string) []Candidate {
	out := append([]Candidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j], mode)
	})
	return out
}

func less(a, b Candidate, mode string) bool {
	first, second := a.Score.Total, a.Pass.Profit
	firstB, secondB := b.Score.Total, b.Pass.Profit
	if mode == config.SelectionModeProfit {
		first, second = second, first
		firstB, secondB = secondB, firstB
	}
	if first != firstB {
		return first > firstB
	}
	if second != secondB {
		return second > secondB
	}
	if a.Pass.Index != b.Pass.Index {
		return a.Pass.Index < b.Pass.Index
	}
	return a.Pass.Source == backtest.SourcePass2 && b.Pass.Source != backtest.SourcePass2
}

// SelectTop scores and ranks passes and keeps the best n
func SelectTop(passes []backtest.Pass, n int, s config.ScoringSettings) []Candidate {
	scored, _ := ScoreAll(passes, s)
	ranked := Rank(scored, s.SelectionMode)
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Best returns the top candidate, if any
func Best(passes []backtest.Pass, s config.ScoringSettings) (Candidate, bool) {
	top := SelectTop(passes, 1, s)
	if len(top) == 0 {
		return Candidate{}, false
	}
	return top[0], true
}
