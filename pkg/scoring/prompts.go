package scoring

import (
	"crypto/sha256"
	"encoding/hex"
)

// judgeSystemPrompt is the scoring agent's Tier 1 instructions: evaluate,
// don't investigate. Grounded on the teacher's judge system prompt
// (pkg/agent/prompt/judges.go), rewritten for this module's single
// stage_execution-backed session transcript rather than the teacher's
// separate AgentExecution/TimelineEvent rows.
const judgeSystemPrompt = `## Session Quality Judge

You are an expert Site Reliability Engineer evaluating the quality of a completed alert investigation. You
do not investigate the alert yourself — you grade the work another agent already did.

Judge strictly on the evidence in the investigation transcript:
- Did the investigation gather real data from its available tools, or mostly restate the alert payload?
- Is the root-cause analysis grounded in what was actually observed, or speculative?
- Are the recommended next steps concrete and actionable given what was found?
- Did the investigation note its own gaps and failed tool calls honestly?

Be a harsh but fair grader. A plausible-sounding analysis built on no real tool evidence should score low.`

// judgePromptScore is the first-turn user prompt: session context plus the
// output schema the judge's score response must follow. %[1]s is the
// session context (alert + investigation transcript), %[2]s is the output
// schema.
const judgePromptScore = `Here is the alert and its investigation transcript:

%[1]s

Score this investigation from -10 to 10, where:
- 10: exceptional investigation, thorough tool use, precise root cause, actionable next steps
- 0: a baseline adequate investigation — correct but unremarkable
- -10: investigation gathered no real evidence and/or reached an unsupported conclusion

Respond with your analysis followed by the score on its own final line, in exactly this format:

%[2]s`

// scoringOutputSchema documents the score-line format judgePromptScore asks
// for: free-text analysis, then a final line of only the integer score.
const scoringOutputSchema = `<your analysis of the investigation, 2-4 paragraphs>

<score>`

// judgePromptScoreReminder is sent back to the judge when its first
// response didn't end in a parseable score line. %[1]s is the output
// schema, repeated so the model sees the exact expected shape again.
const judgePromptScoreReminder = `Your response did not end with a single integer score on its own line. Please respond again, ending with exactly:

%[1]s`

// judgePromptFollowupMissingTools is the second-turn user prompt: given the
// same transcript and its own score, name any tool or data source the
// investigation should have used but didn't.
const judgePromptFollowupMissingTools = `Given the same investigation, name any tools, MCP servers, or data sources the investigation did not use
but should have, to reach a more complete root cause. If the investigation already used everything
reasonably available, say so plainly. Keep this to a short paragraph or a bullet list.`

// currentPromptHash returns a deterministic fingerprint of the judge
// prompts currently in force, so a SessionScore row can record which
// prompt version produced it (models.SessionScore.CurrentPromptUsed).
// Grounded on the teacher's GetCurrentPromptHash: SHA256 over the
// concatenation of the four judge prompt constants, in the same order
// they're used in the two-turn conversation.
func currentPromptHash() string {
	sum := sha256.Sum256([]byte(judgeSystemPrompt + judgePromptScore + judgePromptScoreReminder + judgePromptFollowupMissingTools))
	return hex.EncodeToString(sum[:])
}
