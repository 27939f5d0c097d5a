package workflow

// Status is the lifecycle position of a workflow
type Status string

const (
	StatusPending               Status = "PENDING"
	StatusInProgress            Status = "IN_PROGRESS"
	StatusAwaitingConfig        Status = "AWAITING_CONFIG"
	StatusAwaitingParamAnalysis Status = "AWAITING_PARAM_ANALYSIS"
	StatusAwaitingEAFix         Status = "AWAITING_EA_FIX"
	StatusAwaitingPatchReview   Status = "AWAITING_PATCH_REVIEW"
	StatusAwaitingStatsAnalysis Status = "AWAITING_STATS_ANALYSIS"
	StatusCompleted             Status = "COMPLETED"
	StatusFailed                Status = "FAILED"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusAwaitingConfig,
	StatusAwaitingParamAnalysis,
	StatusAwaitingEAFix,
	StatusAwaitingPatchReview,
	StatusAwaitingStatsAnalysis,
	StatusCompleted,
	StatusFailed,
}

// IsAwaiting reports whether the workflow is paused for external input
func (s Status) IsAwaiting() bool {
	switch s {
	case StatusAwaitingConfig, StatusAwaitingParamAnalysis, StatusAwaitingEAFix,
		StatusAwaitingPatchReview, StatusAwaitingStatsAnalysis:
		return true
	}
	return false
}

// IsTerminal reports whether the workflow can no longer change
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusPending: {StatusInProgress, StatusFailed},
	StatusInProgress: {
		StatusAwaitingConfig, StatusAwaitingParamAnalysis, StatusAwaitingEAFix,
		StatusAwaitingPatchReview, StatusAwaitingStatsAnalysis,
		StatusCompleted, StatusFailed,
	},
	StatusAwaitingConfig:        {StatusInProgress, StatusFailed},
	StatusAwaitingParamAnalysis: {StatusInProgress, StatusFailed},
	StatusAwaitingEAFix:         {StatusInProgress, StatusFailed},
	StatusAwaitingPatchReview:   {StatusInProgress, StatusFailed},
	StatusAwaitingStatsAnalysis: {StatusInProgress, StatusFailed},
}

// CanTransition reports whether moving from one status to another is legal.
// Staying in place is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
