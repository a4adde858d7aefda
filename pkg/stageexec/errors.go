package stageexec

import "errors"

// ErrStageTimeout classifies an Outcome produced when a stage's deadline
// (min(remaining session budget, controller-specific cap), spec.md §4.4
// step 4) was exceeded before the controller returned. Outcome.Error
// still carries the structured, human-readable message spec.md §4.7
// defines; Cause lets callers classify the reason programmatically
// without parsing that string.
var ErrStageTimeout = errors.New("stageexec: stage execution deadline exceeded")
