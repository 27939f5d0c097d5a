package gates

// Diagnosis explains a failed gate to whoever supplies the fix
type Diagnosis struct {
	Gate       string `json:"gate"`
	Cause      string `json:"cause"`
	Suggestion string `json:"suggestion"`
}

var diagnoses = map[string]Diagnosis{
	GateCompiled: {
		Cause:      "the EA source does not compile",
		Suggestion: "fix the reported compiler errors and resume with the corrected source",
	},
	GateParamsFound: {
		Cause:      "no input parameters were found in the EA",
		Suggestion: "expose tunable values as input variables",
	},
	GateMinTrades: {
		Cause:      "the EA generated too few trades over the test window",
		Suggestion: "check entry conditions and filters, or widen the validation parameters",
	},
	GateForwardSplit: {
		Cause:      "the tester run produced no forward-period results",
		Suggestion: "enable the forward split in the tester configuration and rerun",
	},
	GatePassesFound: {
		Cause:      "optimization produced no usable passes",
		Suggestion: "widen the optimization ranges or lower the minimum trade requirement",
	},
	GateProfitFactor: {
		Cause:      "gross profit does not cover gross loss by the required margin",
		Suggestion: "review exit logic and loss handling",
	},
	GateMaxDrawdown: {
		Cause:      "peak-to-trough equity drawdown exceeds the limit",
		Suggestion: "reduce position size or add a drawdown guard",
	},
	GateMCConfidence: {
		Cause:      "too few resampled trade orders end in profit",
		Suggestion: "results depend on trade ordering; gather more trades or reduce variance",
	},
	GateMCRuin: {
		Cause:      "too many resampled trade orders hit the ruin drawdown",
		Suggestion: "reduce risk per trade",
	},
	GateRegressionProfit: {
		Cause:      "the patched EA lost too much net profit against the baseline",
		Suggestion: "the patch was reverted; revise it or continue with the baseline",
	},
	GateRegressionPF: {
		Cause:      "the patched EA lost too much profit factor against the baseline",
		Suggestion: "the patch was reverted; revise it or continue with the baseline",
	},
	GateRegressionTrades: {
		Cause:      "the patched EA trades much less than the baseline",
		Suggestion: "the patch was reverted; check that filters did not over-restrict entries",
	},
}

// Diagnose maps a gate name to its likely cause
func Diagnose(gate string) Diagnosis {
	d, ok := diagnoses[gate]
	if !ok {
		return Diagnosis{Gate: gate, Cause: "gate failed", Suggestion: "inspect the step result"}
	}
	d.Gate = gate
	return d
}

// DiagnoseAll returns a diagnosis for every failed gate in the summary
func DiagnoseAll(s Summary) []Diagnosis {
	var out []Diagnosis
	for _, r := range s.Failed() {
		out = append(out, Diagnose(r.Name))
	}
	return out
}
