// Package sessionqueue implements the Session Queue / Claimer (C6): claiming
// pending sessions with pod identity, running them to completion via
// pkg/chain, and recovering orphaned sessions left behind by a crashed pod,
// per spec.md §4.6.
//
// Grounded on the teacher's pkg/queue package: WorkerPool/Worker's claim +
// heartbeat + terminal-status + graceful-shutdown shape (pool.go/worker.go)
// and the startup-vs-periodic orphan sweep split (orphan.go). Diverges from
// the teacher in two respects: the session executor here is always
// pkg/chain.Orchestrator rather than a pluggable SessionExecutor interface
// (the teacher's abstraction existed to swap a stub executor in tests; this
// package takes the same narrow-interface-for-testing approach but scoped to
// RunSession itself), and the orphan-sweep terminal status is "failed" (this
// system has no "timed_out" status distinct from "failed" — see
// pkg/models/session.go).
package sessionqueue

import (
	"context"
	"errors"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/chain"
	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/models"
)

// ErrAtCapacity indicates the pod-wide concurrent-session limit has been
// reached; the caller should back off and retry later.
var ErrAtCapacity = errors.New("sessionqueue: at capacity")

// sessionRunner is what pkg/chain.Orchestrator provides: run one session's
// chain to completion. Narrowed for testability.
type sessionRunner interface {
	RunSession(ctx context.Context, session *models.Session, chainCfg *config.ChainConfig, ownershipCheck func(ctx context.Context) (bool, error)) (*chain.Result, error)
}

// sessionStore is the subset of *store.SessionStore this package calls.
type sessionStore interface {
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	ClaimNext(ctx context.Context, podID string) (*models.Session, error)
	Heartbeat(ctx context.Context, sessionID string) error
	CountActive(ctx context.Context) (int, error)
	FindOrphans(ctx context.Context, cutoffUs int64) ([]*models.Session, error)
	FindOwnedBy(ctx context.Context, podID string) ([]*models.Session, error)
	SetTerminal(ctx context.Context, sessionID string, status models.SessionStatus, finalAnalysis, execSummary, errMsg *string) error
}

// stageExecutionStore is the subset of *store.StageExecutionStore needed to
// close out a session's in-flight rows when it is force-terminated out from
// under its chain (orphan sweep, graceful shutdown).
type stageExecutionStore interface {
	FailNonTerminalBySession(ctx context.Context, sessionID, errMsg string) error
}

// nowMicros returns the current time in microseconds since the epoch, like
// store.NowMicros — duplicated here (rather than imported) to keep this
// package's store dependency narrowed to the two interfaces above.
func nowMicros() int64 {
	return time.Now().UnixMicro()
}
