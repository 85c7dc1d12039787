package replay

import (
	"fmt"
	"sort"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/policy"
)

// unknownToolProbe never collides with a real tool name.
const unknownToolProbe = "__invariant_unknown_tool__"

// Check is one named invariant with a pass/fail verdict and any
// counterexamples.
type Check struct {
	ID              string   `json:"id"`
	Description     string   `json:"description"`
	Passed          bool     `json:"passed"`
	Counterexamples []string `json:"counterexamples,omitempty"`
}

// InvariantReport is the result of running the invariant prover.
type InvariantReport struct {
	RunID  string  `json:"run_id"`
	Status string  `json:"status"` // pass | fail
	Checks []Check `json:"checks"`
}

type checkFunc func(baseline, candidate *policy.LocalEvaluator) Check

var registry = map[string]struct {
	description string
	check       checkFunc
}{
	"no_write_privilege_escalation": {
		description: "candidate must not grant ALLOW where baseline denied or required approval for a write tool",
		check:       checkNoWritePrivilegeEscalation,
	},
	"unknown_tools_remain_denied": {
		description: "an unknown tool probe must be denied under both evaluators, with or without an approval token",
		check:       checkUnknownToolsRemainDenied,
	},
	"write_tools_require_approval": {
		description: "candidate write tools must not be ALLOW without a presented approval token",
		check:       checkWriteToolsRequireApproval,
	},
}

// EvaluatePolicyInvariants runs the named invariants (or all, sorted by
// id, if selected is empty) against baseline and candidate.
func EvaluatePolicyInvariants(runID string, baseline, candidate *policy.LocalEvaluator, selected []string) InvariantReport {
	ids := selected
	if len(ids) == 0 {
		for id := range registry {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	report := InvariantReport{RunID: runID, Status: "pass"}
	for _, id := range ids {
		entry, ok := registry[id]
		if !ok {
			continue
		}
		check := entry.check(baseline, candidate)
		check.ID = id
		check.Description = entry.description
		if !check.Passed {
			report.Status = "fail"
		}
		report.Checks = append(report.Checks, check)
	}
	return report
}

func writeToolUnion(baseline, candidate *policy.LocalEvaluator) []string {
	set := map[string]bool{}
	for _, t := range baseline.ToolsSnapshot().WriteTools {
		set[t] = true
	}
	for _, t := range candidate.ToolsSnapshot().WriteTools {
		set[t] = true
	}
	return stringKeys(set)
}

func stringKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func checkNoWritePrivilegeEscalation(baseline, candidate *policy.LocalEvaluator) Check {
	check := Check{Passed: true}
	for _, tool := range writeToolUnion(baseline, candidate) {
		for _, hasApproval := range []bool{false, true} {
			baselineDecision := baseline.EvaluateLocal(tool, "", "t", hasApproval)
			candidateDecision := candidate.EvaluateLocal(tool, "", "t", hasApproval)
			if candidateDecision.Action == policy.ActionAllow &&
				(baselineDecision.Action == policy.ActionDeny || baselineDecision.Action == policy.ActionRequireApproval) {
				check.Passed = false
				check.Counterexamples = append(check.Counterexamples, fmt.Sprintf("tool=%s approval=%v baseline=%s candidate=%s", tool, hasApproval, baselineDecision.Action, candidateDecision.Action))
			}
		}
	}
	return check
}

func checkUnknownToolsRemainDenied(baseline, candidate *policy.LocalEvaluator) Check {
	check := Check{Passed: true}
	for _, hasApproval := range []bool{false, true} {
		baselineDecision := baseline.EvaluateLocal(unknownToolProbe, "", "t", hasApproval)
		candidateDecision := candidate.EvaluateLocal(unknownToolProbe, "", "t", hasApproval)
		if baselineDecision.Action != policy.ActionDeny || candidateDecision.Action != policy.ActionDeny {
			check.Passed = false
			check.Counterexamples = append(check.Counterexamples, fmt.Sprintf("approval=%v baseline=%s candidate=%s", hasApproval, baselineDecision.Action, candidateDecision.Action))
		}
	}
	return check
}

func checkWriteToolsRequireApproval(_ *policy.LocalEvaluator, candidate *policy.LocalEvaluator) Check {
	check := Check{Passed: true}
	for _, tool := range candidate.ToolsSnapshot().WriteTools {
		decision := candidate.EvaluateLocal(tool, "", "", false)
		if decision.Action == policy.ActionAllow {
			check.Passed = false
			check.Counterexamples = append(check.Counterexamples, fmt.Sprintf("tool=%s allowed without approval", tool))
		}
	}
	return check
}
