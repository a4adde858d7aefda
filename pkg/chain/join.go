package chain

import "github.com/tarsy-chain/tarsy/pkg/models"

// deriveParentStatus applies spec.md §4.5's parent-status rule to a
// multi_agent/replica stage's joined children:
//
//   - completed if all children completed;
//   - failed if any child failed and no success is usable downstream;
//   - cancelled if any child is cancelled and no unrelated child completed;
//   - precedence on ties: cancelled > failed > completed.
//
// successPolicy modulates "no success is usable downstream": SuccessPolicyAny
// lets a single completed child win over sibling failures (this is this
// module's resolution of spec.md §8 testable property 5's "continue on
// failure" wording for fan-out joins — see DESIGN.md), while SuccessPolicyAll
// requires every child to complete for the parent to complete.
//
// parallelType carries one further special case, spec.md §9's third Open
// Question: for a replica stage, one success with the rest cancelled (not
// failed) still resolves the parent as completed, since a replica's siblings
// are redundant attempts at the same answer, not distinct required results.
func deriveParentStatus(parallelType models.ParallelType, successPolicy models.SuccessPolicy, children []*models.StageExecution) models.StageExecutionStatus {
	var completed, failed, cancelled int
	for _, c := range children {
		switch c.Status {
		case models.StageExecutionCompleted:
			completed++
		case models.StageExecutionFailed:
			failed++
		case models.StageExecutionCancelled:
			cancelled++
		}
	}

	if parallelType == models.ParallelReplica && completed > 0 && failed == 0 && cancelled > 0 {
		return models.StageExecutionCompleted
	}

	if successPolicy == models.SuccessPolicyAny && completed > 0 && cancelled == 0 {
		return models.StageExecutionCompleted
	}

	if cancelled > 0 && completed == 0 {
		return models.StageExecutionCancelled
	}

	if failed > 0 {
		return models.StageExecutionFailed
	}

	if cancelled > 0 {
		return models.StageExecutionCancelled
	}

	return models.StageExecutionCompleted
}

// effectiveSuccessPolicy normalizes an unset stage success_policy to "any",
// matching pkg/config's own documented default for config.SuccessPolicyAny.
func effectiveSuccessPolicy(p models.SuccessPolicy) models.SuccessPolicy {
	if p == "" {
		return models.SuccessPolicyAny
	}
	return p
}

// anyChildHasOutput reports whether at least one child produced a
// stage_output, regardless of the children's individual terminal statuses —
// spec.md §4.5: "a synthesis stage always runs as long as any upstream
// produced output."
func anyChildHasOutput(children []*models.StageExecution) bool {
	for _, c := range children {
		if c.StageOutput != nil && *c.StageOutput != "" {
			return true
		}
	}
	return false
}
