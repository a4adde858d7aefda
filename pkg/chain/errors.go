package chain

import "errors"

// ErrConfiguration classifies a chain-fatal configuration error: an unknown
// agent, LLM provider, or MCP server referenced by a chain/stage/agent
// config. Per spec.md §7, this is "fatal at chain" — the whole session
// fails, no further stages run.
var ErrConfiguration = errors.New("chain: configuration error")

// ErrSessionTimeout classifies a chain-fatal session deadline: the session's
// overall budget was exhausted before the chain finished running its
// stages. Distinct from stageexec.ErrStageTimeout, which is scoped to one
// stage's own deadline.
var ErrSessionTimeout = errors.New("chain: session deadline exceeded")

// ErrClaimLost is returned when the orchestrator's ownership hook reports
// that another pod now holds this session's claim — two pods disagreeing,
// per spec.md §7's "claim loss" fatal-at-chain kind. The orchestrator stops
// immediately without writing any further stage/session state, since it no
// longer knows if it is authoritative.
var ErrClaimLost = errors.New("chain: session claim lost")
